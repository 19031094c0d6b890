package broker

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shopngo/fulfillment/internal/messaging"
	"github.com/shopngo/fulfillment/internal/metrics"
)

// SubscriberOptions bound the handler pool and the retry budget. Kafka has no
// broker-native retry, so the subscriber owns it: a technical failure is
// retried in place with backoff, then the message is republished to
// "<topic>.dlq" and the offset committed.
type SubscriberOptions struct {
	Concurrency  int
	MaxRetries   int
	RetryBackoff time.Duration
}

type Subscriber struct {
	service  string
	reader   *kafka.Reader
	consumer messaging.MessageConsumer
	pub      *Publisher
	opts     SubscriberOptions
	log      *zap.SugaredLogger
}

func NewSubscriber(
	service string,
	brokers []string,
	consumer messaging.MessageConsumer,
	pub *Publisher,
	opts SubscriberOptions,
	log *zap.SugaredLogger,
) *Subscriber {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:       brokers,
		Topic:         consumer.RoutingKey(),
		GroupID:       service + "." + consumer.Name(),
		MinBytes:      1,
		MaxBytes:      10e6,
		QueueCapacity: opts.Concurrency * 8,
	})
	return &Subscriber{
		service:  service,
		reader:   reader,
		consumer: consumer,
		pub:      pub,
		opts:     opts,
		log:      log,
	}
}

// Run consumes until ctx is cancelled, then closes the reader.
func (s *Subscriber) Run(ctx context.Context) error {
	defer s.reader.Close()
	s.log.Infow("subscriber started",
		"consumer", s.consumer.Name(), "topic", s.consumer.RoutingKey(), "concurrency", s.opts.Concurrency)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.opts.Concurrency; i++ {
		g.Go(func() error { return s.consumeLoop(ctx) })
	}
	return g.Wait()
}

func (s *Subscriber) consumeLoop(ctx context.Context) error {
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.log.Infow("subscriber stopping", "consumer", s.consumer.Name())
				return nil
			}
			s.log.Errorw("fetch message failed", "consumer", s.consumer.Name(), "err", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		s.process(ctx, msg)

		if err := s.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			s.log.Errorw("commit failed", "consumer", s.consumer.Name(), "err", err)
		}
	}
}

// process drives one message to a terminal outcome. Only technical failures
// come back as errors from the pipeline; those burn the retry budget.
func (s *Subscriber) process(ctx context.Context, msg kafka.Message) {
	d := messaging.Delivery{
		RoutingKey: s.consumer.RoutingKey(),
		Payload:    msg.Value,
		Headers:    headerMap(msg.Headers),
	}

	for attempt := 0; ; attempt++ {
		d.Attempt = attempt
		_, err := s.consumer.Consume(ctx, d)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			// Shutdown mid-message: the inbox row is still pending, so the
			// redelivered copy will be retried safely.
			return
		}
		if attempt >= s.opts.MaxRetries {
			s.parkOnDLQ(ctx, msg, d)
			return
		}
		select {
		case <-time.After(s.opts.RetryBackoff):
		case <-ctx.Done():
			return
		}
	}
}

func (s *Subscriber) parkOnDLQ(ctx context.Context, msg kafka.Message, d messaging.Delivery) {
	meta := messaging.Metadata{
		MessageID:     d.Headers[messaging.HeaderMessageID],
		CorrelationID: d.Headers[messaging.HeaderCorrelationID],
		TraceParent:   d.Headers[messaging.HeaderTraceParent],
	}
	if err := s.pub.Publish(ctx, s.consumer.RoutingKey()+".dlq", msg.Value, meta); err != nil {
		s.log.Errorw("failed republishing to dead-letter topic",
			"consumer", s.consumer.Name(), "err", err)
		return
	}
	metrics.RecordDLQRepublish(s.service, s.consumer.Name(), s.consumer.RoutingKey())
	s.log.Warnw("message parked on dead-letter topic",
		"consumer", s.consumer.Name(), "topic", s.consumer.RoutingKey()+".dlq",
		"messageId", meta.MessageID)
}

func headerMap(headers []kafka.Header) map[string]string {
	m := make(map[string]string, len(headers))
	for _, h := range headers {
		m[h.Key] = string(h.Value)
	}
	return m
}
