package messaging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&InboxRecord{}, &OutboxRecord{}))
	return db
}

func TestInbox_BeginCompleteBegin(t *testing.T) {
	db := newTestDB(t)
	inbox := NewInbox(db, zap.NewNop().Sugar())
	ctx := context.Background()

	ok, err := inbox.Begin(ctx, "StockReservedConsumer", "msg-1", "stock.reserved")
	assert.NoError(t, err)
	assert.True(t, ok, "first delivery should process")

	assert.NoError(t, inbox.Complete(ctx, "StockReservedConsumer", "msg-1"))

	ok, err = inbox.Begin(ctx, "StockReservedConsumer", "msg-1", "stock.reserved")
	assert.NoError(t, err)
	assert.False(t, ok, "processed message should be skipped")
}

func TestInbox_PendingRowIsRetried(t *testing.T) {
	db := newTestDB(t)
	inbox := NewInbox(db, zap.NewNop().Sugar())
	ctx := context.Background()

	ok, _ := inbox.Begin(ctx, "StockReservedConsumer", "msg-2", "stock.reserved")
	assert.True(t, ok)
	// no Complete: simulates a technical failure mid-handler

	ok, err := inbox.Begin(ctx, "StockReservedConsumer", "msg-2", "stock.reserved")
	assert.NoError(t, err)
	assert.True(t, ok, "pending message should be reprocessed on redelivery")
}

func TestInbox_ScopedPerConsumer(t *testing.T) {
	db := newTestDB(t)
	inbox := NewInbox(db, zap.NewNop().Sugar())
	ctx := context.Background()

	ok, _ := inbox.Begin(ctx, "ConsumerA", "msg-3", "order.created")
	assert.True(t, ok)
	_ = inbox.Complete(ctx, "ConsumerA", "msg-3")

	ok, err := inbox.Begin(ctx, "ConsumerB", "msg-3", "order.created")
	assert.NoError(t, err)
	assert.True(t, ok, "dedup is per consumer, not global")
}

func TestInbox_DoubleCompleteIsHarmless(t *testing.T) {
	db := newTestDB(t)
	inbox := NewInbox(db, zap.NewNop().Sugar())
	ctx := context.Background()

	ok, _ := inbox.Begin(ctx, "ConsumerA", "msg-4", "order.created")
	assert.True(t, ok)
	assert.NoError(t, inbox.Complete(ctx, "ConsumerA", "msg-4"))
	assert.NoError(t, inbox.Complete(ctx, "ConsumerA", "msg-4"))
}
