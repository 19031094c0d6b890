package stock

import (
	"go.uber.org/zap"

	"github.com/shopngo/fulfillment/internal/contracts"
	"github.com/shopngo/fulfillment/internal/messaging"
)

const ServiceName = "stock-service"

// NewOrderCreatedConsumer binds the order.created handler into the pipeline.
func NewOrderCreatedConsumer(inbox *messaging.Inbox, svc *Service, log *zap.SugaredLogger) *messaging.Consumer[contracts.OrderCreatedEvent] {
	return messaging.NewConsumer(
		messaging.ConsumerConfig{
			Service:    ServiceName,
			Name:       "OrderCreatedConsumer",
			RoutingKey: contracts.RouteOrderCreated,
		},
		inbox,
		svc.HandleOrderCreated,
		log,
	)
}
