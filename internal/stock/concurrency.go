package stock

import (
	"context"
	"encoding/binary"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shopngo/fulfillment/internal/config"
)

type ConcurrencyMode string

const (
	ModePessimistic ConcurrencyMode = "pessimistic"
	ModeOptimistic  ConcurrencyMode = "optimistic"
	ModeHybrid      ConcurrencyMode = "hybrid"
)

// ModeSelector decides, per reservation attempt, whether inventory rows get
// exclusive locks or optimistic compare-and-decrement. Hybrid routes only
// demonstrably safe traffic (cold, plentiful-stock, canary-selected) to the
// cheaper optimistic path and falls back to pessimistic whenever the evidence
// is ambiguous or missing.
type ModeSelector struct {
	db  *gorm.DB
	cfg config.ConcurrencyConfig
}

func NewModeSelector(db *gorm.DB, cfg config.ConcurrencyConfig) *ModeSelector {
	return &ModeSelector{db: db, cfg: cfg}
}

func (s *ModeSelector) Resolve(ctx context.Context, productIDs []uuid.UUID, leases []*Lease) (ConcurrencyMode, error) {
	configured := parseMode(s.cfg.Mode)
	if configured != ModeHybrid {
		return configured, nil
	}

	hybrid := s.cfg.Hybrid
	canary := clamp(hybrid.CanaryPercent, 0, 100)
	if !hybrid.Enabled || canary == 0 {
		return ModePessimistic, nil
	}

	if hybrid.ConservativeOnGuardrailFailure {
		for _, l := range leases {
			if !l.MeasurementAvailable {
				return ModePessimistic, nil
			}
		}
	}
	for _, l := range leases {
		if l.IsHot {
			// Hot SKUs always get strict serialization.
			return ModePessimistic, nil
		}
	}

	// All-or-nothing canary per order: a single product outside the bucket
	// forces pessimistic, so one reservation never mixes locking modes.
	for _, id := range productIDs {
		if !inCanary(id, canary) {
			return ModePessimistic, nil
		}
	}

	if hybrid.LowStockThreshold > 0 {
		var lowStock int64
		err := s.db.WithContext(ctx).
			Model(&InventoryItem{}).
			Where("product_id IN ? AND available_quantity <= ?", productIDs, hybrid.LowStockThreshold).
			Count(&lowStock).Error
		if err != nil {
			return ModePessimistic, err
		}
		if lowStock > 0 {
			return ModePessimistic, nil
		}
	}

	return ModeOptimistic, nil
}

func parseMode(mode string) ConcurrencyMode {
	switch ConcurrencyMode(strings.ToLower(strings.TrimSpace(mode))) {
	case ModeOptimistic:
		return ModeOptimistic
	case ModeHybrid:
		return ModeHybrid
	default:
		return ModePessimistic
	}
}

// inCanary buckets a product deterministically: the same SKU always lands on
// the same side of the canary split, across all instances.
func inCanary(productID uuid.UUID, canaryPercent int) bool {
	if canaryPercent <= 0 {
		return false
	}
	if canaryPercent >= 100 {
		return true
	}
	hash := binary.LittleEndian.Uint32(productID[:4])
	return int(hash%100) < canaryPercent
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
