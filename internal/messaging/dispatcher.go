package messaging

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shopngo/fulfillment/internal/metrics"
)

// Publisher is the broker-side half of the outbox; implemented by
// broker.Publisher in production and by fakes in tests.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte, meta Metadata) error
}

type DispatcherOptions struct {
	PollInterval time.Duration
	BatchSize    int
}

// Dispatcher lifts undispatched outbox rows and publishes them. It is an
// explicitly owned component: construct it, run it under a context, and it
// drains cleanly when the context is cancelled.
type Dispatcher struct {
	service string
	db      *gorm.DB
	pub     Publisher
	opts    DispatcherOptions
	log     *zap.SugaredLogger
}

func NewDispatcher(service string, db *gorm.DB, pub Publisher, opts DispatcherOptions, log *zap.SugaredLogger) *Dispatcher {
	if opts.PollInterval <= 0 {
		log.Warnw("invalid outbox poll interval; falling back to 2s", "configured", opts.PollInterval)
		opts.PollInterval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		log.Warnw("invalid outbox batch size; falling back to 50", "configured", opts.BatchSize)
		opts.BatchSize = 50
	}
	return &Dispatcher{service: service, db: db, pub: pub, opts: opts, log: log}
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	d.log.Infow("outbox dispatcher started", "pollInterval", d.opts.PollInterval, "batchSize", d.opts.BatchSize)
	for {
		select {
		case <-ctx.Done():
			d.log.Info("outbox dispatcher stopped")
			return nil
		case <-ticker.C:
			if err := d.DispatchBatch(ctx); err != nil {
				d.log.Errorw("outbox dispatch cycle failed", "err", err)
			}
		}
	}
}

// DispatchBatch runs one cycle. Rows are selected with a locking read that
// skips rows held by concurrent dispatcher instances, so the dispatcher can
// scale horizontally without double-publish races. A publish failure records
// last_error and leaves the row pending; it does not block the rest of the
// batch. At-least-once: a crash between broker ack and commit re-publishes
// next cycle, and the downstream inbox absorbs the duplicate.
func (d *Dispatcher) DispatchBatch(ctx context.Context) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var batch []OutboxRecord
		q := tx.Where("dispatched_at IS NULL").Order("created_at").Limit(d.opts.BatchSize)
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.Find(&batch).Error; err != nil {
			return err
		}

		for i := range batch {
			rec := &batch[i]
			meta := Metadata{
				MessageID:     rec.MessageID,
				CorrelationID: rec.CorrelationID,
			}
			if rec.TraceParent != nil {
				meta.TraceParent = *rec.TraceParent
			}

			if err := d.pub.Publish(ctx, rec.RoutingKey, []byte(rec.Payload), meta); err != nil {
				metrics.RecordOutboxDispatch(d.service, rec.RoutingKey, "failure")
				d.log.Errorw("failed dispatching outbox record",
					"outboxId", rec.ID, "routingKey", rec.RoutingKey, "err", err)
				errMsg := err.Error()
				if len(errMsg) > 1000 {
					errMsg = errMsg[:1000]
				}
				if err := tx.Model(rec).Update("last_error", errMsg).Error; err != nil {
					return err
				}
				continue
			}

			now := time.Now().UTC()
			if err := tx.Model(rec).
				Updates(map[string]interface{}{"dispatched_at": &now, "last_error": nil}).Error; err != nil {
				return err
			}
			metrics.RecordOutboxDispatch(d.service, rec.RoutingKey, "success")
			d.log.Infow("dispatched outbox record",
				"outboxId", rec.ID, "messageId", rec.MessageID, "routingKey", rec.RoutingKey,
				"correlationId", rec.CorrelationID)
		}
		return nil
	})
}
