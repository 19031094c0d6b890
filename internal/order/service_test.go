package order

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/shopngo/fulfillment/internal/contracts"
	"github.com/shopngo/fulfillment/internal/errs"
	"github.com/shopngo/fulfillment/internal/messaging"
)

func newOrderDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&Order{}, &Item{},
		&messaging.OutboxRecord{}, &messaging.InboxRecord{},
	))
	return db
}

func countOutbox(t *testing.T, db *gorm.DB, routingKey string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&messaging.OutboxRecord{}).Where("routing_key = ?", routingKey).Count(&n).Error)
	return n
}

func createTestOrder(t *testing.T, svc *Service) *Order {
	t.Helper()
	o, err := svc.Create(context.Background(), CreateRequest{
		CustomerEmail: "a@b.com",
		Items:         []contracts.OrderItem{{ProductID: uuid.New(), Quantity: 2}},
	}, messaging.Metadata{CorrelationID: "corr-1"})
	require.NoError(t, err)
	return o
}

func TestCreate_PersistsOrderAndOutboxAtomically(t *testing.T) {
	db := newOrderDB(t)
	svc := NewService(db, zap.NewNop().Sugar())

	o := createTestOrder(t, svc)
	assert.Equal(t, StatusPendingStock, o.Status)

	var stored Order
	require.NoError(t, db.Preload("Items").First(&stored, "id = ?", o.ID).Error)
	assert.Len(t, stored.Items, 1)

	var rec messaging.OutboxRecord
	require.NoError(t, db.Where("routing_key = ?", contracts.RouteOrderCreated).First(&rec).Error)
	assert.Equal(t, "corr-1", rec.CorrelationID)
	assert.Contains(t, rec.Payload, o.ID.String())
	assert.Contains(t, rec.Payload, "a@b.com")
}

func TestCreate_InvalidRequestPersistsNothing(t *testing.T) {
	db := newOrderDB(t)
	svc := NewService(db, zap.NewNop().Sugar())

	_, err := svc.Create(context.Background(), CreateRequest{CustomerEmail: ""}, messaging.Metadata{})
	_, ok := errs.AsBusinessRule(err)
	require.True(t, ok)

	var orders int64
	_ = db.Model(&Order{}).Count(&orders).Error
	assert.Zero(t, orders)
	assert.Zero(t, countOutbox(t, db, contracts.RouteOrderCreated))
}

func TestConfirm(t *testing.T) {
	db := newOrderDB(t)
	svc := NewService(db, zap.NewNop().Sugar())
	o := createTestOrder(t, svc)

	require.NoError(t, svc.Confirm(context.Background(), o.ID, messaging.Metadata{}))

	stored, err := svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, stored.Status)
	assert.EqualValues(t, 1, countOutbox(t, db, contracts.RouteOrderConfirmed))

	// confirming twice is an invalid transition, not a silent success
	err = svc.Confirm(context.Background(), o.ID, messaging.Metadata{})
	bre, ok := errs.AsBusinessRule(err)
	require.True(t, ok)
	assert.Equal(t, errs.CodeOrderInvalidState, bre.Code)
	assert.EqualValues(t, 1, countOutbox(t, db, contracts.RouteOrderConfirmed))
}

func TestReject(t *testing.T) {
	db := newOrderDB(t)
	svc := NewService(db, zap.NewNop().Sugar())
	o := createTestOrder(t, svc)

	require.NoError(t, svc.Reject(context.Background(), o.ID,
		errs.CodeInsufficientStock, "Insufficient stock.", messaging.Metadata{}))

	stored, err := svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, stored.Status)
	require.NotNil(t, stored.RejectionReasonCode)
	assert.Equal(t, errs.CodeInsufficientStock, *stored.RejectionReasonCode)
	assert.EqualValues(t, 1, countOutbox(t, db, contracts.RouteOrderRejected))
}

func TestGet_NotFound(t *testing.T) {
	db := newOrderDB(t)
	svc := NewService(db, zap.NewNop().Sugar())

	_, err := svc.Get(context.Background(), uuid.New())
	bre, ok := errs.AsBusinessRule(err)
	require.True(t, ok)
	assert.Equal(t, errs.CodeOrderNotFound, bre.Code)
}

func TestConfirm_UnknownOrder(t *testing.T) {
	db := newOrderDB(t)
	svc := NewService(db, zap.NewNop().Sugar())

	err := svc.Confirm(context.Background(), uuid.New(), messaging.Metadata{})
	bre, ok := errs.AsBusinessRule(err)
	require.True(t, ok)
	assert.Equal(t, errs.CodeOrderNotFound, bre.Code)
}
