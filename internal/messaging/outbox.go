package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Metadata travels with every message as transport headers, never as body
// fields. TraceParent is carried opaquely for external tracing.
type Metadata struct {
	MessageID     string
	CorrelationID string
	TraceParent   string
}

// OutboxRecord is written in the same local transaction as the domain
// mutation that produced the event; that is what makes "state changed" and
// "event will eventually publish" atomic.
type OutboxRecord struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	MessageID     string    `gorm:"size:200;not null;uniqueIndex"`
	RoutingKey    string    `gorm:"size:200;not null"`
	CorrelationID string    `gorm:"size:200;not null"`
	TraceParent   *string   `gorm:"size:200"`
	Payload       string    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	DispatchedAt  *time.Time
	LastError     *string `gorm:"size:1000"`
}

func (OutboxRecord) TableName() string { return "outbox_records" }

// Enqueue inserts an outbox row inside the caller's transaction. A fresh
// message id is minted per event; the correlation id and traceparent are
// inherited from the inbound context that caused the mutation.
func Enqueue(tx *gorm.DB, routingKey string, event any, meta Metadata) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal outbox payload for %s: %w", routingKey, err)
	}

	correlationID := meta.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	var traceParent *string
	if meta.TraceParent != "" {
		tp := meta.TraceParent
		traceParent = &tp
	}

	rec := OutboxRecord{
		ID:            uuid.New(),
		MessageID:     uuid.NewString(),
		RoutingKey:    routingKey,
		CorrelationID: correlationID,
		TraceParent:   traceParent,
		Payload:       string(payload),
	}
	return tx.Create(&rec).Error
}
