package broker

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/shopngo/fulfillment/internal/messaging"
)

// Publisher writes events to topic-routed Kafka: the routing key is the topic.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
	}
}

// Publish sends one event. Message metadata rides in headers, never in the
// body, so payloads stay identical across transports.
func (p *Publisher) Publish(ctx context.Context, routingKey string, payload []byte, meta messaging.Metadata) error {
	msg := kafka.Message{
		Topic: routingKey,
		Key:   []byte(meta.CorrelationID),
		Value: payload,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: messaging.HeaderMessageID, Value: []byte(meta.MessageID)},
			{Key: messaging.HeaderCorrelationID, Value: []byte(meta.CorrelationID)},
		},
	}
	if meta.TraceParent != "" {
		msg.Headers = append(msg.Headers, kafka.Header{
			Key: messaging.HeaderTraceParent, Value: []byte(meta.TraceParent),
		})
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *Publisher) Close() error { return p.writer.Close() }
