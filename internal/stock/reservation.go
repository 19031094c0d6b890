package stock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shopngo/fulfillment/internal/contracts"
	"github.com/shopngo/fulfillment/internal/errs"
	"github.com/shopngo/fulfillment/internal/messaging"
)

// Reservation outcomes.
const (
	ResultReserved      = "reserved"
	ResultDuplicateSkip = "duplicate_skip"
	ResultRejected      = "rejected"
)

type DemandLine struct {
	ProductID uuid.UUID
	Quantity  int
}

type ReservationResult struct {
	Outcome   string
	ErrorCode string
	Reason    string
}

// BuildDemandLines aggregates quantities per distinct product and sorts by
// product id. The fixed lock/update order prevents lock-ordering deadlocks
// between concurrent orders that share products.
func BuildDemandLines(items []contracts.OrderItem) []DemandLine {
	byProduct := make(map[uuid.UUID]int, len(items))
	for _, item := range items {
		byProduct[item.ProductID] += item.Quantity
	}
	lines := make([]DemandLine, 0, len(byProduct))
	for id, qty := range byProduct {
		lines = append(lines, DemandLine{ProductID: id, Quantity: qty})
	}
	sort.Slice(lines, func(a, b int) bool {
		return lines[a].ProductID.String() < lines[b].ProductID.String()
	})
	return lines
}

// ReservationStore performs the inventory decrement under the chosen locking
// discipline and records the reservation idempotently per order.
type ReservationStore struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewReservationStore(db *gorm.DB, log *zap.SugaredLogger) *ReservationStore {
	return &ReservationStore{db: db, log: log}
}

var errRejected = errors.New("reservation rejected")

// Reserve decrements all demand lines or none inside one local transaction.
// An existing reservation for the order commits as duplicate_skip, which is
// the safety net that lets the consumer pipeline redeliver freely.
func (s *ReservationStore) Reserve(
	ctx context.Context,
	orderID uuid.UUID,
	lines []DemandLine,
	pessimistic bool,
	meta messaging.Metadata,
) (ReservationResult, error) {
	var result ReservationResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&StockReservation{}).Where("order_id = ?", orderID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			s.log.Infow("order already reserved; skipping", "orderId", orderID)
			result = ReservationResult{Outcome: ResultDuplicateSkip}
			return nil
		}

		if pessimistic {
			if err := s.lockInventoryRows(tx, lines); err != nil {
				return err
			}
		}

		rejection, err := s.consumeInventory(tx, lines)
		if err != nil {
			return err
		}
		if rejection != nil {
			result = *rejection
			// Roll back any decrements made so far in this transaction.
			return errRejected
		}

		reservation := StockReservation{ID: uuid.New(), OrderID: orderID}
		if err := tx.Create(&reservation).Error; err != nil {
			return err
		}
		evt := contracts.StockReservedEvent{OrderID: orderID, ReservedAt: time.Now().UTC()}
		if err := messaging.Enqueue(tx, contracts.RouteStockReserved, evt, meta); err != nil {
			return err
		}
		result = ReservationResult{Outcome: ResultReserved}
		return nil
	})
	if err != nil && !errors.Is(err, errRejected) {
		return ReservationResult{}, err
	}

	if result.Outcome == ResultReserved {
		mode := "optimistic"
		if pessimistic {
			mode = "pessimistic"
		}
		s.log.Infow("reserved stock", "orderId", orderID, "lockMode", mode)
	}
	return result, nil
}

// lockInventoryRows takes exclusive row locks in the lines' sorted order.
func (s *ReservationStore) lockInventoryRows(tx *gorm.DB, lines []DemandLine) error {
	if tx.Dialector.Name() != "postgres" {
		// sqlite (tests) has no FOR UPDATE; transactions serialize anyway.
		return nil
	}
	for _, line := range lines {
		var locked InventoryItem
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("product_id = ?", line.ProductID).
			First(&locked).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("lock inventory row %s: %w", line.ProductID, err)
		}
	}
	return nil
}

// consumeInventory applies the atomic conditional decrement per line. Zero
// rows affected means insufficient stock or a missing product; an existence
// check picks the error code.
func (s *ReservationStore) consumeInventory(tx *gorm.DB, lines []DemandLine) (*ReservationResult, error) {
	for _, line := range lines {
		res := tx.Model(&InventoryItem{}).
			Where("product_id = ? AND available_quantity >= ?", line.ProductID, line.Quantity).
			Updates(map[string]interface{}{
				"available_quantity": gorm.Expr("available_quantity - ?", line.Quantity),
				"version":            gorm.Expr("version + 1"),
				"updated_at":         time.Now().UTC(),
			})
		if res.Error != nil {
			return nil, fmt.Errorf("decrement inventory %s: %w", line.ProductID, res.Error)
		}
		if res.RowsAffected == 0 {
			var exists int64
			if err := tx.Model(&InventoryItem{}).Where("product_id = ?", line.ProductID).Count(&exists).Error; err != nil {
				return nil, err
			}
			if exists == 0 {
				return &ReservationResult{
					Outcome:   ResultRejected,
					ErrorCode: errs.CodeProductNotFound,
					Reason:    fmt.Sprintf("Product %s not found.", line.ProductID),
				}, nil
			}
			return &ReservationResult{
				Outcome:   ResultRejected,
				ErrorCode: errs.CodeInsufficientStock,
				Reason:    fmt.Sprintf("Insufficient stock for product %s.", line.ProductID),
			}, nil
		}
	}
	return nil, nil
}
