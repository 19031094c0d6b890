package stock

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/shopngo/fulfillment/internal/config"
	"github.com/shopngo/fulfillment/internal/contracts"
	"github.com/shopngo/fulfillment/internal/errs"
	"github.com/shopngo/fulfillment/internal/messaging"
)

func newTestService(t *testing.T, db *gorm.DB, guardrail *Guardrail) *Service {
	t.Helper()
	log := zap.NewNop().Sugar()
	if guardrail == nil {
		guardrail = NewGuardrail(nil, config.GuardrailConfig{Enabled: false}, log)
	}
	selector := NewModeSelector(db, config.ConcurrencyConfig{Mode: "pessimistic"})
	return NewService(db, guardrail, selector, NewReservationStore(db, log), log)
}

func outboxPayloads(t *testing.T, db *gorm.DB, routingKey string) []string {
	t.Helper()
	var rows []messaging.OutboxRecord
	require.NoError(t, db.Where("routing_key = ?", routingKey).Find(&rows).Error)
	payloads := make([]string, 0, len(rows))
	for _, r := range rows {
		payloads = append(payloads, r.Payload)
	}
	return payloads
}

func TestSeedStock_Validation(t *testing.T) {
	db := newStockDB(t)
	svc := newTestService(t, db, nil)

	err := svc.SeedStock(context.Background(), nil)
	bre, ok := errs.AsBusinessRule(err)
	require.True(t, ok)
	assert.Equal(t, errs.CodeInvalidRequest, bre.Code)

	err = svc.SeedStock(context.Background(), []SeedItem{{ProductID: uuid.New(), Quantity: 0}})
	_, ok = errs.AsBusinessRule(err)
	assert.True(t, ok)
}

func TestSeedStock_CreatesAndTopsUp(t *testing.T) {
	db := newStockDB(t)
	svc := newTestService(t, db, nil)
	productID := uuid.New()

	require.NoError(t, svc.SeedStock(context.Background(), []SeedItem{{ProductID: productID, Quantity: 5}}))
	require.NoError(t, svc.SeedStock(context.Background(), []SeedItem{{ProductID: productID, Quantity: 3}}))

	var item InventoryItem
	require.NoError(t, db.Where("product_id = ?", productID).First(&item).Error)
	assert.Equal(t, 8, item.AvailableQuantity)
	assert.Equal(t, 1, item.Version, "top-up bumps the version")
}

func TestHandleOrderCreated_ReservesAndEmitsReserved(t *testing.T) {
	db := newStockDB(t)
	svc := newTestService(t, db, nil)
	productID := uuid.New()
	seedInventory(t, db, productID, 10)
	orderID := uuid.New()

	evt := contracts.OrderCreatedEvent{
		OrderID: orderID,
		Items:   []contracts.OrderItem{{ProductID: productID, Quantity: 4}},
	}
	require.NoError(t, svc.HandleOrderCreated(context.Background(), messaging.Metadata{}, evt))

	payloads := outboxPayloads(t, db, contracts.RouteStockReserved)
	require.Len(t, payloads, 1)
	assert.Contains(t, payloads[0], orderID.String())
	assert.Empty(t, outboxPayloads(t, db, contracts.RouteStockRejected))
}

func TestHandleOrderCreated_InsufficientStockEmitsRejected(t *testing.T) {
	db := newStockDB(t)
	svc := newTestService(t, db, nil)
	productID := uuid.New()
	seedInventory(t, db, productID, 2)

	evt := contracts.OrderCreatedEvent{
		OrderID: uuid.New(),
		Items:   []contracts.OrderItem{{ProductID: productID, Quantity: 5}},
	}
	require.NoError(t, svc.HandleOrderCreated(context.Background(), messaging.Metadata{}, evt))

	payloads := outboxPayloads(t, db, contracts.RouteStockRejected)
	require.Len(t, payloads, 1)
	assert.Contains(t, payloads[0], errs.CodeInsufficientStock)
	assert.Empty(t, outboxPayloads(t, db, contracts.RouteStockReserved))
}

func TestHandleOrderCreated_RedeliveryDoesNotDoubleEmit(t *testing.T) {
	db := newStockDB(t)
	svc := newTestService(t, db, nil)
	productID := uuid.New()
	seedInventory(t, db, productID, 10)

	evt := contracts.OrderCreatedEvent{
		OrderID: uuid.New(),
		Items:   []contracts.OrderItem{{ProductID: productID, Quantity: 4}},
	}
	require.NoError(t, svc.HandleOrderCreated(context.Background(), messaging.Metadata{}, evt))
	require.NoError(t, svc.HandleOrderCreated(context.Background(), messaging.Metadata{}, evt))

	assert.Len(t, outboxPayloads(t, db, contracts.RouteStockReserved), 1,
		"duplicate_skip must not emit a second reserved event")
	var item InventoryItem
	_ = db.Where("product_id = ?", productID).First(&item).Error
	assert.Equal(t, 6, item.AvailableQuantity)
}

func TestHandleOrderCreated_GuardrailFailClosedRejects(t *testing.T) {
	db := newStockDB(t)
	rdb, mock := redismock.NewClientMock()
	cfg := guardrailConfig()
	cfg.FailOpen = false
	guardrail := NewGuardrail(rdb, cfg, zap.NewNop().Sugar())
	svc := newTestService(t, db, guardrail)
	productID := uuid.New()
	seedInventory(t, db, productID, 10)

	inflightKey, _, _ := guardrailKeys(productID)
	mock.ExpectIncr(inflightKey).SetErr(errors.New("connection refused"))

	evt := contracts.OrderCreatedEvent{
		OrderID: uuid.New(),
		Items:   []contracts.OrderItem{{ProductID: productID, Quantity: 1}},
	}
	require.NoError(t, svc.HandleOrderCreated(context.Background(), messaging.Metadata{}, evt))

	payloads := outboxPayloads(t, db, contracts.RouteStockRejected)
	require.Len(t, payloads, 1)
	assert.Contains(t, payloads[0], errs.CodeStockGuardrailUnavailable)

	// nothing was consumed
	var item InventoryItem
	_ = db.Where("product_id = ?", productID).First(&item).Error
	assert.Equal(t, 10, item.AvailableQuantity)
}

func TestHandleOrderCreated_AdmissionLimitRejects(t *testing.T) {
	db := newStockDB(t)
	rdb, mock := redismock.NewClientMock()
	guardrail := NewGuardrail(rdb, guardrailConfig(), zap.NewNop().Sugar())
	svc := newTestService(t, db, guardrail)
	productID := uuid.New()
	seedInventory(t, db, productID, 10)

	inflightKey, _, _ := guardrailKeys(productID)
	mock.ExpectIncr(inflightKey).SetVal(33)
	mock.ExpectDecr(inflightKey).SetVal(32)

	evt := contracts.OrderCreatedEvent{
		OrderID: uuid.New(),
		Items:   []contracts.OrderItem{{ProductID: productID, Quantity: 1}},
	}
	require.NoError(t, svc.HandleOrderCreated(context.Background(), messaging.Metadata{}, evt))

	payloads := outboxPayloads(t, db, contracts.RouteStockRejected)
	require.Len(t, payloads, 1)
	assert.Contains(t, payloads[0], errs.CodeStockAdmissionLimited)
	assert.NoError(t, mock.ExpectationsWereMet())
}
