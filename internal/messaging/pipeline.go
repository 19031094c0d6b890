package messaging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shopngo/fulfillment/internal/errs"
	"github.com/shopngo/fulfillment/internal/metrics"
)

// Outcome is the terminal state of one delivery through the pipeline.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeDuplicateSkip    Outcome = "duplicate_skip"
	OutcomeBusinessRejected Outcome = "business_rejected"
	OutcomeTechnicalFailure Outcome = "technical_failure"
)

// Delivery is one inbound message as handed over by the broker subscriber.
type Delivery struct {
	RoutingKey string
	Payload    []byte
	Headers    map[string]string
	Attempt    int
}

// Header names used on the wire.
const (
	HeaderMessageID     = "message-id"
	HeaderCorrelationID = "correlation-id"
	HeaderTraceParent   = "traceparent"
)

// CorrelationKeyer is the explicit accessor every saga event implements so
// the pipeline can derive a stable fallback id without runtime inspection.
type CorrelationKeyer interface {
	CorrelationKey() string
}

// MessageConsumer is what the broker subscriber drives. A returned error
// always means technical failure; business rejections are absorbed here.
type MessageConsumer interface {
	Name() string
	RoutingKey() string
	Consume(ctx context.Context, d Delivery) (Outcome, error)
}

// ConsumerConfig identifies one consumer binding.
type ConsumerConfig struct {
	Service    string
	Name       string
	RoutingKey string
}

// Consumer wraps a typed handler with dedup, failure classification and
// metrics. Success and business rejection both complete the inbox row;
// technical failures leave it pending so redelivery retries.
type Consumer[T CorrelationKeyer] struct {
	cfg        ConsumerConfig
	inbox      *Inbox
	handle     func(ctx context.Context, meta Metadata, event T) error
	compensate func(ctx context.Context, meta Metadata, event T, bre *errs.BusinessRuleError) error
	log        *zap.SugaredLogger
}

func NewConsumer[T CorrelationKeyer](
	cfg ConsumerConfig,
	inbox *Inbox,
	handle func(ctx context.Context, meta Metadata, event T) error,
	log *zap.SugaredLogger,
) *Consumer[T] {
	return &Consumer[T]{cfg: cfg, inbox: inbox, handle: handle, log: log}
}

// OnBusinessFailure registers a compensating action run before the message is
// completed as business_rejected (e.g. persisting a rejected record).
func (c *Consumer[T]) OnBusinessFailure(
	f func(ctx context.Context, meta Metadata, event T, bre *errs.BusinessRuleError) error,
) *Consumer[T] {
	c.compensate = f
	return c
}

func (c *Consumer[T]) Name() string       { return c.cfg.Name }
func (c *Consumer[T]) RoutingKey() string { return c.cfg.RoutingKey }

func (c *Consumer[T]) Consume(ctx context.Context, d Delivery) (Outcome, error) {
	start := time.Now()

	var event T
	if err := json.Unmarshal(d.Payload, &event); err != nil {
		// Serialization faults are technical: retry, then dead-letter.
		c.record(OutcomeTechnicalFailure, "TECHNICAL_FAILURE", start)
		return OutcomeTechnicalFailure, fmt.Errorf("unmarshal %s payload: %w", d.RoutingKey, err)
	}

	meta := c.resolveMetadata(d, event)
	log := c.log.With(
		"consumer", c.cfg.Name,
		"routingKey", c.cfg.RoutingKey,
		"messageId", meta.MessageID,
		"correlationId", meta.CorrelationID,
		"attempt", d.Attempt,
	)

	shouldProcess, err := c.inbox.Begin(ctx, c.cfg.Name, meta.MessageID, c.cfg.RoutingKey)
	if err != nil {
		c.record(OutcomeTechnicalFailure, "TECHNICAL_FAILURE", start)
		return OutcomeTechnicalFailure, fmt.Errorf("inbox begin: %w", err)
	}
	if !shouldProcess {
		c.record(OutcomeDuplicateSkip, "", start)
		return OutcomeDuplicateSkip, nil
	}

	if err := c.handle(ctx, meta, event); err != nil {
		if bre, ok := errs.AsBusinessRule(err); ok {
			log.Warnw("business rule failure", "errorCode", bre.Code, "reason", bre.Message)
			if c.compensate != nil {
				if cerr := c.compensate(ctx, meta, event, bre); cerr != nil {
					c.record(OutcomeTechnicalFailure, "TECHNICAL_FAILURE", start)
					return OutcomeTechnicalFailure, fmt.Errorf("compensate after %s: %w", bre.Code, cerr)
				}
			}
			if cerr := c.inbox.Complete(ctx, c.cfg.Name, meta.MessageID); cerr != nil {
				c.record(OutcomeTechnicalFailure, "TECHNICAL_FAILURE", start)
				return OutcomeTechnicalFailure, fmt.Errorf("inbox complete: %w", cerr)
			}
			c.record(OutcomeBusinessRejected, bre.Code, start)
			return OutcomeBusinessRejected, nil
		}

		// Technical failure: inbox row stays pending so redelivery retries.
		log.Errorw("technical failure", "err", err)
		c.record(OutcomeTechnicalFailure, "TECHNICAL_FAILURE", start)
		return OutcomeTechnicalFailure, err
	}

	if err := c.inbox.Complete(ctx, c.cfg.Name, meta.MessageID); err != nil {
		c.record(OutcomeTechnicalFailure, "TECHNICAL_FAILURE", start)
		return OutcomeTechnicalFailure, fmt.Errorf("inbox complete: %w", err)
	}
	c.record(OutcomeSuccess, "", start)
	return OutcomeSuccess, nil
}

func (c *Consumer[T]) record(outcome Outcome, errorCode string, start time.Time) {
	metrics.RecordConsumerResult(c.cfg.Service, c.cfg.Name, c.cfg.RoutingKey,
		string(outcome), errorCode, time.Since(start))
}

// resolveMetadata derives a stable message id: broker header, then
// correlation header, then a deterministic id from the event's correlation
// key, then a content hash. Publishers and test harnesses do not always set a
// transport id, and redelivery must still be detected.
func (c *Consumer[T]) resolveMetadata(d Delivery, event T) Metadata {
	messageID := firstNonEmpty(
		d.Headers[HeaderMessageID],
		d.Headers[HeaderCorrelationID],
	)
	if messageID == "" {
		if key := event.CorrelationKey(); key != "" && key != uuid.Nil.String() {
			messageID = fmt.Sprintf("order:%s:%s", key, d.RoutingKey)
		} else {
			sum := sha256.Sum256(append([]byte(d.RoutingKey+":"), d.Payload...))
			messageID = "sha256:" + hex.EncodeToString(sum[:])
		}
	}

	correlationID := firstNonEmpty(
		d.Headers[HeaderCorrelationID],
		d.Headers[HeaderMessageID],
		event.CorrelationKey(),
	)
	if correlationID == "" || correlationID == uuid.Nil.String() {
		correlationID = messageID
	}

	return Metadata{
		MessageID:     messageID,
		CorrelationID: correlationID,
		TraceParent:   d.Headers[HeaderTraceParent],
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
