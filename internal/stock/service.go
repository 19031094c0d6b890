package stock

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/shopngo/fulfillment/internal/contracts"
	"github.com/shopngo/fulfillment/internal/errs"
	"github.com/shopngo/fulfillment/internal/messaging"
	"github.com/shopngo/fulfillment/internal/metrics"
)

// Service owns the stock side of the saga: admission, mode selection,
// reservation, and exactly one terminal event per order (except on
// duplicate_skip, where the first attempt already emitted it).
type Service struct {
	db        *gorm.DB
	guardrail *Guardrail
	selector  *ModeSelector
	store     *ReservationStore
	log       *zap.SugaredLogger
}

func NewService(db *gorm.DB, guardrail *Guardrail, selector *ModeSelector, store *ReservationStore, log *zap.SugaredLogger) *Service {
	return &Service{db: db, guardrail: guardrail, selector: selector, store: store, log: log}
}

type SeedItem struct {
	ProductID uuid.UUID
	Quantity  int
}

// SeedStock upserts inventory quantities: new products are created, existing
// ones are topped up with a version bump.
func (s *Service) SeedStock(ctx context.Context, items []SeedItem) error {
	if len(items) == 0 {
		return errs.BusinessRule(errs.CodeInvalidRequest, "Seed request must contain items.")
	}
	for _, item := range items {
		if item.ProductID == uuid.Nil || item.Quantity <= 0 {
			return errs.BusinessRule(errs.CodeInvalidRequest, "All seed items must have a valid product and positive quantity.")
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, item := range items {
			res := tx.Model(&InventoryItem{}).
				Where("product_id = ?", item.ProductID).
				Updates(map[string]interface{}{
					"available_quantity": gorm.Expr("available_quantity + ?", item.Quantity),
					"version":            gorm.Expr("version + 1"),
					"updated_at":         time.Now().UTC(),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				if err := tx.Create(&InventoryItem{
					ProductID:         item.ProductID,
					AvailableQuantity: item.Quantity,
				}).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Infow("seeded stock", "items", len(items))
	return nil
}

// HandleOrderCreated is the order.created handler. Leases are acquired per
// distinct product in sorted order; the first denial aborts the whole order.
// Leases are always released, and the reservation metric is recorded exactly
// once per attempt.
func (s *Service) HandleOrderCreated(ctx context.Context, meta messaging.Metadata, evt contracts.OrderCreatedEvent) (err error) {
	start := time.Now()
	recorded := false
	record := func(result, errorCode string) {
		if !recorded {
			metrics.RecordStockReservation(result, errorCode, time.Since(start))
			recorded = true
		}
	}
	defer func() {
		if err != nil {
			record("technical_failure", "TECHNICAL_FAILURE")
		}
	}()

	var leases []*Lease
	defer func() {
		for _, l := range leases {
			l.Release(ctx)
		}
	}()

	for _, productID := range distinctOrderedProductIDs(evt.Items) {
		lease := s.guardrail.Acquire(ctx, productID)
		if lease.Allowed {
			leases = append(leases, lease)
			continue
		}

		errorCode, reason := mapGuardrailDenial(lease.Reason, productID)
		s.log.Warnw("guardrail denied product; rejecting order",
			"orderId", evt.OrderID, "productId", productID,
			"guardrailReason", lease.Reason, "errorCode", errorCode)
		if err := s.emitRejection(ctx, evt.OrderID, errorCode, reason, meta); err != nil {
			return err
		}
		record(ResultRejected, errorCode)
		return nil
	}

	mode, err := s.selector.Resolve(ctx, distinctOrderedProductIDs(evt.Items), leases)
	if err != nil {
		return err
	}
	s.log.Infow("handling order", "orderId", evt.OrderID, "concurrencyMode", mode)

	result, err := s.store.Reserve(ctx, evt.OrderID, BuildDemandLines(evt.Items), mode == ModePessimistic, meta)
	if err != nil {
		return err
	}

	if result.Outcome == ResultRejected {
		if err := s.emitRejection(ctx, evt.OrderID, result.ErrorCode, result.Reason, meta); err != nil {
			return err
		}
	}
	record(result.Outcome, result.ErrorCode)
	return nil
}

func (s *Service) emitRejection(ctx context.Context, orderID uuid.UUID, reasonCode, reason string, meta messaging.Metadata) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		evt := contracts.StockRejectedEvent{
			OrderID:    orderID,
			ReasonCode: reasonCode,
			Reason:     reason,
			RejectedAt: time.Now().UTC(),
		}
		return messaging.Enqueue(tx, contracts.RouteStockRejected, evt, meta)
	})
	if err != nil {
		return err
	}
	s.log.Infow("rejected stock for order", "orderId", orderID, "reasonCode", reasonCode)
	return nil
}

func mapGuardrailDenial(reason string, productID uuid.UUID) (string, string) {
	switch reason {
	case ReasonAdmissionLimited:
		return errs.CodeStockAdmissionLimited,
			"Stock guardrail admission limit reached for product " + productID.String() + "."
	case ReasonRedisUnavailable, ReasonRedisError:
		return errs.CodeStockGuardrailUnavailable,
			"Stock guardrail unavailable for product " + productID.String() + "."
	default:
		return errs.CodeStockGuardrailBlocked,
			"Stock guardrail blocked product " + productID.String() + "."
	}
}

func distinctOrderedProductIDs(items []contracts.OrderItem) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(items))
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a].String() < ids[b].String() })
	return ids
}
