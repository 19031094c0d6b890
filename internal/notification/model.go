package notification

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shopngo/fulfillment/internal/contracts"
	"github.com/shopngo/fulfillment/internal/errs"
)

const (
	StatusSent     = "Sent"
	StatusRejected = "Rejected"
)

const (
	TemplateOrderConfirmed = "order-confirmed"
	TemplateOrderRejected  = "order-rejected"
)

var smsTargetPattern = regexp.MustCompile(`^\+?[1-9]\d{7,14}$`)

// Log is the append-only delivery audit trail; rows are never mutated.
type Log struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	OrderID   uuid.UUID `gorm:"type:uuid;not null;index"`
	Target    string    `gorm:"size:320;not null"`
	Channel   string    `gorm:"size:16;not null"`
	Template  string    `gorm:"size:64;not null"`
	Status    string    `gorm:"size:16;not null"`
	ErrorCode *string   `gorm:"size:64"`
	Payload   string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (Log) TableName() string { return "notification_logs" }

// NewLog validates and normalizes channel and target before recording a sent
// notification.
func NewLog(orderID uuid.UUID, target, channel, template, payload string) (*Log, error) {
	normalizedChannel, err := normalizeChannel(channel)
	if err != nil {
		return nil, err
	}
	normalizedTarget, err := normalizeTarget(normalizedChannel, target)
	if err != nil {
		return nil, err
	}
	return &Log{
		ID:       uuid.New(),
		OrderID:  orderID,
		Target:   normalizedTarget,
		Channel:  normalizedChannel,
		Template: template,
		Status:   StatusSent,
		Payload:  payload,
	}, nil
}

// FailedLog records a business-rule rejection. Channel and target are kept
// verbatim from the inbound event so the audit trail shows what was asked.
func FailedLog(orderID uuid.UUID, target, channel, template, payload, errorCode string) *Log {
	return &Log{
		ID:        uuid.New(),
		OrderID:   orderID,
		Target:    target,
		Channel:   channel,
		Template:  template,
		Status:    StatusRejected,
		ErrorCode: &errorCode,
		Payload:   payload,
	}
}

func normalizeChannel(channel string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(channel))
	if normalized == "" {
		return contracts.ChannelEmail, nil
	}
	switch normalized {
	case contracts.ChannelEmail, contracts.ChannelSMS:
		return normalized, nil
	default:
		return "", errs.BusinessRule(errs.CodeNotificationInvalidChannel,
			fmt.Sprintf("Notification channel '%s' is invalid.", channel))
	}
}

func normalizeTarget(channel, target string) (string, error) {
	normalized := strings.TrimSpace(target)
	if normalized == "" {
		return "", errs.BusinessRule(errs.CodeNotificationInvalidTarget, "Notification target is required.")
	}
	if channel == contracts.ChannelEmail {
		if !strings.Contains(normalized, "@") {
			return "", errs.BusinessRule(errs.CodeNotificationInvalidTarget, "Notification email target is invalid.")
		}
		return normalized, nil
	}
	if !smsTargetPattern.MatchString(normalized) {
		return "", errs.BusinessRule(errs.CodeNotificationInvalidTarget, "Notification sms target is invalid.")
	}
	return normalized, nil
}
