package messaging

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// InboxRecord is the per-consumer idempotency ledger. A row with a null
// ProcessedAt marks an in-flight or previously failed attempt; it is safe to
// redo because handlers are idempotent at the storage layer.
type InboxRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Consumer    string    `gorm:"size:200;not null;uniqueIndex:idx_inbox_consumer_message"`
	MessageID   string    `gorm:"size:200;not null;uniqueIndex:idx_inbox_consumer_message"`
	RoutingKey  string    `gorm:"size:200;not null"`
	ReceivedAt  time.Time `gorm:"autoCreateTime"`
	ProcessedAt *time.Time
}

func (InboxRecord) TableName() string { return "inbox_records" }

// Inbox gates handler execution on the inbox ledger.
type Inbox struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewInbox(db *gorm.DB, log *zap.SugaredLogger) *Inbox {
	return &Inbox{db: db, log: log}
}

// Begin reports whether the handler body should run for this delivery.
// Insert races between replicas resolve via the unique index: the loser sees
// a duplicate-key error and is told to skip, not to fail.
func (i *Inbox) Begin(ctx context.Context, consumer, messageID, routingKey string) (bool, error) {
	var existing InboxRecord
	err := i.db.WithContext(ctx).
		Where("consumer = ? AND message_id = ?", consumer, messageID).
		First(&existing).Error
	if err == nil {
		if existing.ProcessedAt != nil {
			i.log.Infow("skipping duplicate processed message", "consumer", consumer, "messageId", messageID)
			return false, nil
		}
		i.log.Infow("reprocessing previously failed message", "consumer", consumer, "messageId", messageID)
		return true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	rec := InboxRecord{
		ID:         uuid.New(),
		Consumer:   consumer,
		MessageID:  messageID,
		RoutingKey: routingKey,
	}
	if err := i.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			i.log.Infow("concurrent inbox insert detected; skipping duplicate delivery",
				"consumer", consumer, "messageId", messageID)
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Complete marks the message processed. Double-complete is harmless.
func (i *Inbox) Complete(ctx context.Context, consumer, messageID string) error {
	now := time.Now().UTC()
	return i.db.WithContext(ctx).
		Model(&InboxRecord{}).
		Where("consumer = ? AND message_id = ? AND processed_at IS NULL", consumer, messageID).
		Update("processed_at", &now).Error
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
