package order

import (
	"context"

	"go.uber.org/zap"

	"github.com/shopngo/fulfillment/internal/contracts"
	"github.com/shopngo/fulfillment/internal/messaging"
)

const ServiceName = "order-service"

// NewStockReservedConsumer confirms orders when stock reserves.
func NewStockReservedConsumer(inbox *messaging.Inbox, svc *Service, log *zap.SugaredLogger) *messaging.Consumer[contracts.StockReservedEvent] {
	return messaging.NewConsumer(
		messaging.ConsumerConfig{
			Service:    ServiceName,
			Name:       "StockReservedConsumer",
			RoutingKey: contracts.RouteStockReserved,
		},
		inbox,
		func(ctx context.Context, meta messaging.Metadata, evt contracts.StockReservedEvent) error {
			return svc.Confirm(ctx, evt.OrderID, meta)
		},
		log,
	)
}

// NewStockRejectedConsumer rejects orders when stock rejects.
func NewStockRejectedConsumer(inbox *messaging.Inbox, svc *Service, log *zap.SugaredLogger) *messaging.Consumer[contracts.StockRejectedEvent] {
	return messaging.NewConsumer(
		messaging.ConsumerConfig{
			Service:    ServiceName,
			Name:       "StockRejectedConsumer",
			RoutingKey: contracts.RouteStockRejected,
		},
		inbox,
		func(ctx context.Context, meta messaging.Metadata, evt contracts.StockRejectedEvent) error {
			return svc.Reject(ctx, evt.OrderID, evt.ReasonCode, evt.Reason, meta)
		},
		log,
	)
}
