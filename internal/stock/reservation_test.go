package stock

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shopngo/fulfillment/internal/contracts"
	"github.com/shopngo/fulfillment/internal/errs"
	"github.com/shopngo/fulfillment/internal/messaging"
)

func TestBuildDemandLines_AggregatesAndSorts(t *testing.T) {
	a := uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001")
	b := uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000002")

	lines := BuildDemandLines([]contracts.OrderItem{
		{ProductID: b, Quantity: 1},
		{ProductID: a, Quantity: 2},
		{ProductID: b, Quantity: 3},
	})

	require.Len(t, lines, 2)
	assert.Equal(t, a, lines[0].ProductID)
	assert.Equal(t, 2, lines[0].Quantity)
	assert.Equal(t, b, lines[1].ProductID)
	assert.Equal(t, 4, lines[1].Quantity, "duplicate product lines aggregate")
}

func TestReservationStore_Reserve(t *testing.T) {
	db := newStockDB(t)
	store := NewReservationStore(db, zap.NewNop().Sugar())
	productID := uuid.New()
	seedInventory(t, db, productID, 10)
	orderID := uuid.New()

	result, err := store.Reserve(context.Background(), orderID,
		[]DemandLine{{ProductID: productID, Quantity: 4}}, true, messaging.Metadata{CorrelationID: orderID.String()})
	require.NoError(t, err)
	assert.Equal(t, ResultReserved, result.Outcome)

	var item InventoryItem
	require.NoError(t, db.Where("product_id = ?", productID).First(&item).Error)
	assert.Equal(t, 6, item.AvailableQuantity)
	assert.Equal(t, 1, item.Version)

	var outbox messaging.OutboxRecord
	require.NoError(t, db.Where("routing_key = ?", contracts.RouteStockReserved).First(&outbox).Error)
	assert.Equal(t, orderID.String(), outbox.CorrelationID)
}

func TestReservationStore_DuplicateOrderSkips(t *testing.T) {
	db := newStockDB(t)
	store := NewReservationStore(db, zap.NewNop().Sugar())
	productID := uuid.New()
	seedInventory(t, db, productID, 10)
	orderID := uuid.New()
	lines := []DemandLine{{ProductID: productID, Quantity: 4}}

	result, err := store.Reserve(context.Background(), orderID, lines, false, messaging.Metadata{})
	require.NoError(t, err)
	require.Equal(t, ResultReserved, result.Outcome)

	result, err = store.Reserve(context.Background(), orderID, lines, false, messaging.Metadata{})
	require.NoError(t, err)
	assert.Equal(t, ResultDuplicateSkip, result.Outcome)

	// stock consumed once, one reserved event
	var item InventoryItem
	_ = db.Where("product_id = ?", productID).First(&item).Error
	assert.Equal(t, 6, item.AvailableQuantity)
	var events int64
	_ = db.Model(&messaging.OutboxRecord{}).Where("routing_key = ?", contracts.RouteStockReserved).Count(&events).Error
	assert.EqualValues(t, 1, events)
}

func TestReservationStore_InsufficientStockRejects(t *testing.T) {
	db := newStockDB(t)
	store := NewReservationStore(db, zap.NewNop().Sugar())
	productID := uuid.New()
	seedInventory(t, db, productID, 3)

	result, err := store.Reserve(context.Background(), uuid.New(),
		[]DemandLine{{ProductID: productID, Quantity: 5}}, false, messaging.Metadata{})
	require.NoError(t, err)
	assert.Equal(t, ResultRejected, result.Outcome)
	assert.Equal(t, errs.CodeInsufficientStock, result.ErrorCode)

	var item InventoryItem
	_ = db.Where("product_id = ?", productID).First(&item).Error
	assert.Equal(t, 3, item.AvailableQuantity, "rejected reservation must not consume stock")
}

func TestReservationStore_UnknownProductRejects(t *testing.T) {
	db := newStockDB(t)
	store := NewReservationStore(db, zap.NewNop().Sugar())

	result, err := store.Reserve(context.Background(), uuid.New(),
		[]DemandLine{{ProductID: uuid.New(), Quantity: 1}}, false, messaging.Metadata{})
	require.NoError(t, err)
	assert.Equal(t, ResultRejected, result.Outcome)
	assert.Equal(t, errs.CodeProductNotFound, result.ErrorCode)
}

func TestReservationStore_RejectionRollsBackPartialDecrements(t *testing.T) {
	db := newStockDB(t)
	store := NewReservationStore(db, zap.NewNop().Sugar())
	plentiful := uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001")
	scarce := uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000002")
	seedInventory(t, db, plentiful, 10)
	seedInventory(t, db, scarce, 1)

	result, err := store.Reserve(context.Background(), uuid.New(), []DemandLine{
		{ProductID: plentiful, Quantity: 2},
		{ProductID: scarce, Quantity: 5},
	}, false, messaging.Metadata{})
	require.NoError(t, err)
	assert.Equal(t, ResultRejected, result.Outcome)

	// the first line's decrement was rolled back with the transaction
	var item InventoryItem
	_ = db.Where("product_id = ?", plentiful).First(&item).Error
	assert.Equal(t, 10, item.AvailableQuantity)

	var reservations int64
	_ = db.Model(&StockReservation{}).Count(&reservations).Error
	assert.Zero(t, reservations)
}
