package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/shopngo/fulfillment/internal/contracts"
	"github.com/shopngo/fulfillment/internal/errs"
	"github.com/shopngo/fulfillment/internal/messaging"
	"github.com/shopngo/fulfillment/internal/metrics"
)

// Service owns the order lifecycle. Every state change and its event land in
// the same local transaction via the outbox.
type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewService(db *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{db: db, log: log}
}

type CreateRequest struct {
	CustomerEmail       string
	CustomerPhone       string
	NotificationChannel string
	Items               []contracts.OrderItem
}

// Create validates, persists a PendingStock order and enqueues order.created.
func (s *Service) Create(ctx context.Context, req CreateRequest, meta messaging.Metadata) (*Order, error) {
	o, err := New(req.CustomerEmail, req.CustomerPhone, req.NotificationChannel, req.Items)
	if err != nil {
		return nil, err
	}
	target, err := o.NotificationTarget()
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(o).Error; err != nil {
			return err
		}
		evt := contracts.OrderCreatedEvent{
			OrderID:             o.ID,
			CustomerEmail:       o.CustomerEmail,
			Items:               o.contractItems(),
			CreatedAt:           time.Now().UTC(),
			NotificationChannel: o.NotificationChannel,
			NotificationTarget:  target,
		}
		return messaging.Enqueue(tx, contracts.RouteOrderCreated, evt, meta)
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordOrderCreated()
	s.log.Infow("created order in PendingStock", "orderId", o.ID)
	return o, nil
}

// Confirm transitions the order to Confirmed and enqueues order.confirmed.
func (s *Service) Confirm(ctx context.Context, orderID uuid.UUID, meta messaging.Metadata) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := s.load(tx, orderID)
		if err != nil {
			return err
		}
		if err := o.MarkConfirmed(); err != nil {
			return err
		}
		target, err := o.NotificationTarget()
		if err != nil {
			return err
		}
		if err := tx.Model(o).
			Updates(map[string]interface{}{"status": o.Status, "updated_at": o.UpdatedAt}).Error; err != nil {
			return err
		}
		evt := contracts.OrderConfirmedEvent{
			OrderID:             o.ID,
			CustomerEmail:       o.CustomerEmail,
			ConfirmedAt:         time.Now().UTC(),
			NotificationChannel: o.NotificationChannel,
			NotificationTarget:  target,
		}
		return messaging.Enqueue(tx, contracts.RouteOrderConfirmed, evt, meta)
	})
	if err != nil {
		return err
	}

	metrics.RecordOrderFinalized("confirmed", "")
	s.log.Infow("confirmed order", "orderId", orderID)
	return nil
}

// Reject transitions the order to Rejected and enqueues order.rejected.
func (s *Service) Reject(ctx context.Context, orderID uuid.UUID, reasonCode, reason string, meta messaging.Metadata) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := s.load(tx, orderID)
		if err != nil {
			return err
		}
		if err := o.MarkRejected(reasonCode, reason); err != nil {
			return err
		}
		target, err := o.NotificationTarget()
		if err != nil {
			return err
		}
		if err := tx.Model(o).Updates(map[string]interface{}{
			"status":                o.Status,
			"rejection_reason_code": o.RejectionReasonCode,
			"rejection_reason":      o.RejectionReason,
			"updated_at":            o.UpdatedAt,
		}).Error; err != nil {
			return err
		}
		evt := contracts.OrderRejectedEvent{
			OrderID:             o.ID,
			CustomerEmail:       o.CustomerEmail,
			ReasonCode:          reasonCode,
			Reason:              reason,
			RejectedAt:          time.Now().UTC(),
			NotificationChannel: o.NotificationChannel,
			NotificationTarget:  target,
		}
		return messaging.Enqueue(tx, contracts.RouteOrderRejected, evt, meta)
	})
	if err != nil {
		return err
	}

	metrics.RecordOrderFinalized("rejected", reasonCode)
	s.log.Infow("rejected order", "orderId", orderID, "reasonCode", reasonCode)
	return nil
}

// Get loads an order with its items.
func (s *Service) Get(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	return s.load(s.db.WithContext(ctx), orderID)
}

func (s *Service) load(tx *gorm.DB, orderID uuid.UUID) (*Order, error) {
	var o Order
	if err := tx.Preload("Items").Where("id = ?", orderID).First(&o).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.BusinessRule(errs.CodeOrderNotFound, fmt.Sprintf("Order %s not found.", orderID))
		}
		return nil, err
	}
	return &o, nil
}
