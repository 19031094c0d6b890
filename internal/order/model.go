package order

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shopngo/fulfillment/internal/contracts"
	"github.com/shopngo/fulfillment/internal/errs"
)

type Status string

const (
	StatusPendingStock Status = "PendingStock"
	StatusConfirmed    Status = "Confirmed"
	StatusRejected     Status = "Rejected"
)

var phonePattern = regexp.MustCompile(`^\+?[1-9]\d{7,14}$`)

type Order struct {
	ID                  uuid.UUID `gorm:"type:uuid;primaryKey"`
	CustomerEmail       string    `gorm:"size:320;not null"`
	CustomerPhone       *string   `gorm:"size:32"`
	NotificationChannel string    `gorm:"size:16;not null"`
	Status              Status    `gorm:"size:32;not null"`
	RejectionReasonCode *string   `gorm:"size:64"`
	RejectionReason     *string   `gorm:"size:1000"`
	Items               []Item    `gorm:"foreignKey:OrderID"`
	CreatedAt           time.Time `gorm:"autoCreateTime"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime"`
}

func (Order) TableName() string { return "orders" }

type Item struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	OrderID   uuid.UUID `gorm:"type:uuid;not null;index"`
	ProductID uuid.UUID `gorm:"type:uuid;not null"`
	Quantity  int       `gorm:"not null"`
}

func (Item) TableName() string { return "order_items" }

// New validates and builds a PendingStock order. All validation failures are
// business rule errors; nothing is persisted here.
func New(customerEmail, customerPhone, notificationChannel string, items []contracts.OrderItem) (*Order, error) {
	if strings.TrimSpace(customerEmail) == "" {
		return nil, errs.BusinessRule(errs.CodeInvalidRequest, "Customer email is required.")
	}
	if len(items) == 0 {
		return nil, errs.BusinessRule(errs.CodeInvalidRequest, "Order must contain at least one item.")
	}
	for _, item := range items {
		if item.ProductID == uuid.Nil || item.Quantity <= 0 {
			return nil, errs.BusinessRule(errs.CodeInvalidRequest, "All order items must have a valid product and positive quantity.")
		}
	}

	channel, err := normalizeChannel(notificationChannel)
	if err != nil {
		return nil, err
	}
	phone, err := normalizePhone(customerPhone)
	if err != nil {
		return nil, err
	}
	if channel == contracts.ChannelSMS && phone == nil {
		return nil, errs.BusinessRule(errs.CodeInvalidRequest, "Customer phone is required when notification channel is sms.")
	}

	o := &Order{
		ID:                  uuid.New(),
		CustomerEmail:       strings.TrimSpace(customerEmail),
		CustomerPhone:       phone,
		NotificationChannel: channel,
		Status:              StatusPendingStock,
	}
	for _, item := range items {
		o.Items = append(o.Items, Item{
			ID:        uuid.New(),
			OrderID:   o.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}
	return o, nil
}

// NotificationTarget derives the delivery address from the channel.
func (o *Order) NotificationTarget() (string, error) {
	switch o.NotificationChannel {
	case contracts.ChannelEmail:
		return o.CustomerEmail, nil
	case contracts.ChannelSMS:
		if o.CustomerPhone != nil && strings.TrimSpace(*o.CustomerPhone) != "" {
			return *o.CustomerPhone, nil
		}
		return "", errs.BusinessRule(errs.CodeInvalidRequest, "Customer phone is required for sms notifications.")
	default:
		return "", errs.BusinessRule(errs.CodeNotificationInvalidChannel,
			fmt.Sprintf("Unsupported notification channel '%s'.", o.NotificationChannel))
	}
}

// MarkConfirmed transitions PendingStock -> Confirmed; any other starting
// state is an invalid transition.
func (o *Order) MarkConfirmed() error {
	if err := o.ensurePending(); err != nil {
		return err
	}
	o.Status = StatusConfirmed
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkRejected transitions PendingStock -> Rejected with a reason.
func (o *Order) MarkRejected(reasonCode, reason string) error {
	if err := o.ensurePending(); err != nil {
		return err
	}
	o.Status = StatusRejected
	o.RejectionReasonCode = &reasonCode
	o.RejectionReason = &reason
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (o *Order) ensurePending() error {
	if o.Status != StatusPendingStock {
		return errs.BusinessRule(errs.CodeOrderInvalidState,
			fmt.Sprintf("Order %s is %s and cannot transition.", o.ID, o.Status))
	}
	return nil
}

func (o *Order) contractItems() []contracts.OrderItem {
	items := make([]contracts.OrderItem, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, contracts.OrderItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return items
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
			fmt.Sprintf("Unsupported notification channel '%s'.", channel))
	}
}

func normalizePhone(phone string) (*string, error) {
	normalized := strings.TrimSpace(phone)
	if normalized == "" {
		return nil, nil
	}
	if !phonePattern.MatchString(normalized) {
		return nil, errs.BusinessRule(errs.CodeInvalidRequest, "Customer phone format is invalid.")
	}
	return &normalized, nil
}
