package stock

import (
	"time"

	"github.com/google/uuid"
)

// InventoryItem's Version is a monotonic concurrency token: every successful
// decrement bumps it, which is what the optimistic path compares against.
type InventoryItem struct {
	ProductID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	AvailableQuantity int       `gorm:"not null"`
	Version           int       `gorm:"not null;default:0"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime"`
}

func (InventoryItem) TableName() string { return "inventory_items" }

// StockReservation's unique OrderID is the idempotency marker for "this order
// already consumed inventory": a second attempt is a no-op, not an error.
type StockReservation struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	OrderID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	ReservedAt time.Time `gorm:"autoCreateTime"`
}

func (StockReservation) TableName() string { return "stock_reservations" }
