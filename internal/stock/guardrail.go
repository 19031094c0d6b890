package stock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shopngo/fulfillment/internal/config"
)

// Guardrail denial reasons.
const (
	ReasonAdmissionLimited = "admission_limited"
	ReasonRedisUnavailable = "redis_unavailable"
	ReasonRedisError       = "redis_error"
)

// Lease is the result of one admission attempt. MeasurementAvailable=false
// means the backing store could not be consulted (fail-open): the caller must
// treat hotness as unknown and behave conservatively.
type Lease struct {
	Allowed              bool
	IsHot                bool
	MeasurementAvailable bool
	Reason               string

	release func(ctx context.Context)
	once    sync.Once
}

// Release decrements the in-flight counter. Safe to call more than once.
func (l *Lease) Release(ctx context.Context) {
	l.once.Do(func() {
		if l.release != nil {
			l.release(ctx)
		}
	})
}

type guardrailSettings struct {
	keyPrefix   string
	maxInFlight int64
	inFlightTTL time.Duration
	hotWindow   time.Duration
	hotStateTTL time.Duration
	hotEnter    int64
	hotExit     int64
}

// Guardrail is the admission control in front of the reservation store. Its
// counters are shared across all stock-service instances and intentionally
// best-effort: TTLs self-heal counters leaked by crashed holders.
type Guardrail struct {
	enabled  bool
	failOpen bool
	rdb      *redis.Client
	settings guardrailSettings
	log      *zap.SugaredLogger
}

func NewGuardrail(rdb *redis.Client, cfg config.GuardrailConfig, log *zap.SugaredLogger) *Guardrail {
	s := guardrailSettings{
		keyPrefix:   cfg.KeyPrefix,
		maxInFlight: int64(cfg.MaxInFlightPerSKU),
		inFlightTTL: time.Duration(cfg.InFlightTTLSeconds) * time.Second,
		hotWindow:   time.Duration(cfg.HotSKUWindowSeconds) * time.Second,
		hotStateTTL: time.Duration(cfg.HotSKUTTLSeconds) * time.Second,
		hotEnter:    int64(cfg.HotSKUEnterThreshold),
		hotExit:     int64(cfg.HotSKUExitThreshold),
	}
	if s.keyPrefix == "" {
		s.keyPrefix = "shopngo:stock"
	}
	if s.maxInFlight <= 0 {
		s.maxInFlight = 32
	}
	if s.inFlightTTL <= 0 {
		s.inFlightTTL = 30 * time.Second
	}
	if s.hotWindow <= 0 {
		s.hotWindow = 60 * time.Second
	}
	if s.hotStateTTL <= 0 {
		s.hotStateTTL = 5 * time.Minute
	}
	if s.hotEnter <= 0 {
		s.hotEnter = 100
	}
	if s.hotExit <= 0 {
		s.hotExit = 60
	}
	if s.hotExit > s.hotEnter {
		s.hotExit = s.hotEnter
	}
	return &Guardrail{
		enabled:  cfg.Enabled,
		failOpen: cfg.FailOpen,
		rdb:      rdb,
		settings: s,
		log:      log,
	}
}

// Acquire admits or denies one reservation attempt for a SKU. Store errors
// never surface as errors: they resolve to an allow-lease with degraded
// measurement (fail-open) or a deny-lease (fail-closed), per configuration.
func (g *Guardrail) Acquire(ctx context.Context, productID uuid.UUID) *Lease {
	if !g.enabled {
		return &Lease{Allowed: true, MeasurementAvailable: true}
	}

	sku := productID.String()
	inflightKey := fmt.Sprintf("%s:inflight:%s", g.settings.keyPrefix, sku)
	windowKey := fmt.Sprintf("%s:hot:window:%s", g.settings.keyPrefix, sku)
	stateKey := fmt.Sprintf("%s:hot:state:%s", g.settings.keyPrefix, sku)

	inFlight, err := g.rdb.Incr(ctx, inflightKey).Result()
	if err != nil {
		g.log.Warnw("guardrail redis unreachable", "productId", sku, "err", err)
		return g.policyLease(ReasonRedisUnavailable)
	}
	if inFlight == 1 {
		// First holder sets the TTL so a crashed process self-expires.
		if err := g.rdb.Expire(ctx, inflightKey, g.settings.inFlightTTL).Err(); err != nil {
			g.releaseInFlight(ctx, inflightKey)
			return g.policyLease(ReasonRedisError)
		}
	}
	if inFlight > g.settings.maxInFlight {
		g.releaseInFlight(ctx, inflightKey)
		return &Lease{Allowed: false, MeasurementAvailable: true, Reason: ReasonAdmissionLimited}
	}

	windowCount, err := g.rdb.Incr(ctx, windowKey).Result()
	if err != nil {
		g.releaseInFlight(ctx, inflightKey)
		g.log.Warnw("guardrail window increment failed", "productId", sku, "err", err)
		return g.policyLease(ReasonRedisError)
	}
	if windowCount == 1 {
		if err := g.rdb.Expire(ctx, windowKey, g.settings.hotWindow).Err(); err != nil {
			g.releaseInFlight(ctx, inflightKey)
			return g.policyLease(ReasonRedisError)
		}
	}

	isHot, err := g.resolveHotState(ctx, stateKey, windowCount)
	if err != nil {
		g.releaseInFlight(ctx, inflightKey)
		g.log.Warnw("guardrail hot-state check failed", "productId", sku, "err", err)
		return g.policyLease(ReasonRedisError)
	}

	return &Lease{
		Allowed:              true,
		IsHot:                isHot,
		MeasurementAvailable: true,
		release: func(ctx context.Context) {
			g.releaseInFlight(ctx, inflightKey)
		},
	}
}

// resolveHotState applies hysteresis: enter hot at the enter threshold, stay
// hot until the window count drops to or below the exit threshold.
func (g *Guardrail) resolveHotState(ctx context.Context, stateKey string, windowCount int64) (bool, error) {
	if windowCount >= g.settings.hotEnter {
		if err := g.rdb.Set(ctx, stateKey, "1", g.settings.hotStateTTL).Err(); err != nil {
			return false, err
		}
		return true, nil
	}

	exists, err := g.rdb.Exists(ctx, stateKey).Result()
	if err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}
	if windowCount <= g.settings.hotExit {
		if err := g.rdb.Del(ctx, stateKey).Err(); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (g *Guardrail) releaseInFlight(ctx context.Context, inflightKey string) {
	remaining, err := g.rdb.Decr(ctx, inflightKey).Result()
	if err != nil {
		g.log.Warnw("guardrail in-flight release failed", "key", inflightKey, "err", err)
		return
	}
	if remaining <= 0 {
		if err := g.rdb.Del(ctx, inflightKey).Err(); err != nil {
			g.log.Warnw("guardrail in-flight key delete failed", "key", inflightKey, "err", err)
		}
	}
}

func (g *Guardrail) policyLease(reason string) *Lease {
	if g.failOpen {
		return &Lease{Allowed: true, MeasurementAvailable: false}
	}
	return &Lease{Allowed: false, MeasurementAvailable: false, Reason: reason}
}
