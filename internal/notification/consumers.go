package notification

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/shopngo/fulfillment/internal/contracts"
	"github.com/shopngo/fulfillment/internal/errs"
	"github.com/shopngo/fulfillment/internal/messaging"
)

const ServiceName = "notification-service"

// NewOrderConfirmedConsumer writes a delivery log for confirmed orders. A
// business-rule failure (bad channel or target) compensates with a Rejected
// log row and still completes the message.
func NewOrderConfirmedConsumer(db *gorm.DB, inbox *messaging.Inbox, dispatcher *Dispatcher, log *zap.SugaredLogger) *messaging.Consumer[contracts.OrderConfirmedEvent] {
	return messaging.NewConsumer(
		messaging.ConsumerConfig{
			Service:    ServiceName,
			Name:       "OrderConfirmedNotificationConsumer",
			RoutingKey: contracts.RouteOrderConfirmed,
		},
		inbox,
		func(ctx context.Context, meta messaging.Metadata, evt contracts.OrderConfirmedEvent) error {
			row, err := dispatcher.Dispatch(DispatchRequest{
				OrderID:  evt.OrderID,
				Channel:  evt.NotificationChannel,
				Target:   evt.NotificationTarget,
				Template: TemplateOrderConfirmed,
				Payload:  marshalPayload(evt),
			})
			if err != nil {
				return err
			}
			if err := db.WithContext(ctx).Create(row).Error; err != nil {
				return err
			}
			log.Infow("stored order confirmation notification", "orderId", evt.OrderID)
			return nil
		},
		log,
	).OnBusinessFailure(
		func(ctx context.Context, meta messaging.Metadata, evt contracts.OrderConfirmedEvent, bre *errs.BusinessRuleError) error {
			row := FailedLog(evt.OrderID, evt.NotificationTarget, evt.NotificationChannel,
				TemplateOrderConfirmed, marshalPayload(evt), bre.Code)
			if err := db.WithContext(ctx).Create(row).Error; err != nil {
				return err
			}
			log.Warnw("stored failed notification record",
				"orderId", evt.OrderID, "errorCode", bre.Code,
				"channel", evt.NotificationChannel, "target", evt.NotificationTarget)
			return nil
		},
	)
}

// NewOrderRejectedConsumer mirrors the confirmed consumer for rejections.
func NewOrderRejectedConsumer(db *gorm.DB, inbox *messaging.Inbox, dispatcher *Dispatcher, log *zap.SugaredLogger) *messaging.Consumer[contracts.OrderRejectedEvent] {
	return messaging.NewConsumer(
		messaging.ConsumerConfig{
			Service:    ServiceName,
			Name:       "OrderRejectedNotificationConsumer",
			RoutingKey: contracts.RouteOrderRejected,
		},
		inbox,
		func(ctx context.Context, meta messaging.Metadata, evt contracts.OrderRejectedEvent) error {
			row, err := dispatcher.Dispatch(DispatchRequest{
				OrderID:  evt.OrderID,
				Channel:  evt.NotificationChannel,
				Target:   evt.NotificationTarget,
				Template: TemplateOrderRejected,
				Payload:  marshalPayload(evt),
			})
			if err != nil {
				return err
			}
			if err := db.WithContext(ctx).Create(row).Error; err != nil {
				return err
			}
			log.Infow("stored order rejection notification", "orderId", evt.OrderID)
			return nil
		},
		log,
	).OnBusinessFailure(
		func(ctx context.Context, meta messaging.Metadata, evt contracts.OrderRejectedEvent, bre *errs.BusinessRuleError) error {
			row := FailedLog(evt.OrderID, evt.NotificationTarget, evt.NotificationChannel,
				TemplateOrderRejected, marshalPayload(evt), bre.Code)
			if err := db.WithContext(ctx).Create(row).Error; err != nil {
				return err
			}
			log.Warnw("stored failed notification record",
				"orderId", evt.OrderID, "errorCode", bre.Code,
				"channel", evt.NotificationChannel, "target", evt.NotificationTarget)
			return nil
		},
	)
}

func marshalPayload(evt any) string {
	payload, err := json.Marshal(evt)
	if err != nil {
		return "{}"
	}
	return string(payload)
}
