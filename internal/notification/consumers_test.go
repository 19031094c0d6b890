package notification

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/shopngo/fulfillment/internal/contracts"
	"github.com/shopngo/fulfillment/internal/errs"
	"github.com/shopngo/fulfillment/internal/messaging"
)

func newNotificationDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Log{}, &messaging.InboxRecord{}))
	return db
}

func confirmedDelivery(t *testing.T, evt contracts.OrderConfirmedEvent, messageID string) messaging.Delivery {
	t.Helper()
	payload, err := json.Marshal(evt)
	require.NoError(t, err)
	headers := map[string]string{}
	if messageID != "" {
		headers[messaging.HeaderMessageID] = messageID
	}
	return messaging.Delivery{RoutingKey: contracts.RouteOrderConfirmed, Payload: payload, Headers: headers}
}

func TestOrderConfirmedConsumer_WritesOneLogRow(t *testing.T) {
	db := newNotificationDB(t)
	log := zap.NewNop().Sugar()
	inbox := messaging.NewInbox(db, log)
	c := NewOrderConfirmedConsumer(db, inbox, newTestDispatcher(), log)

	evt := contracts.OrderConfirmedEvent{
		OrderID:             uuid.New(),
		CustomerEmail:       "a@b.com",
		NotificationChannel: "email",
		NotificationTarget:  "a@b.com",
	}
	d := confirmedDelivery(t, evt, "msg-1")

	outcome, err := c.Consume(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, messaging.OutcomeSuccess, outcome)

	// redelivered copy is absorbed by the inbox
	outcome, err = c.Consume(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, messaging.OutcomeDuplicateSkip, outcome)

	var rows []Log
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1, "duplicate delivery must not duplicate the log")
	assert.Equal(t, StatusSent, rows[0].Status)
	assert.Equal(t, TemplateOrderConfirmed, rows[0].Template)
	assert.Equal(t, evt.OrderID, rows[0].OrderID)
}

func TestOrderConfirmedConsumer_InvalidChannelCompensates(t *testing.T) {
	db := newNotificationDB(t)
	log := zap.NewNop().Sugar()
	inbox := messaging.NewInbox(db, log)
	c := NewOrderConfirmedConsumer(db, inbox, newTestDispatcher(), log)

	evt := contracts.OrderConfirmedEvent{
		OrderID:             uuid.New(),
		CustomerEmail:       "a@b.com",
		NotificationChannel: "fax",
		NotificationTarget:  "555-0100",
	}
	outcome, err := c.Consume(context.Background(), confirmedDelivery(t, evt, "msg-2"))
	require.NoError(t, err, "business rejection completes the message")
	assert.Equal(t, messaging.OutcomeBusinessRejected, outcome)

	var rows []Log
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, StatusRejected, rows[0].Status)
	assert.Equal(t, "fax", rows[0].Channel, "rejected row keeps the channel verbatim")
	assert.Equal(t, "555-0100", rows[0].Target)
	require.NotNil(t, rows[0].ErrorCode)
	assert.Equal(t, errs.CodeNotificationInvalidChannel, *rows[0].ErrorCode)
}

func TestOrderRejectedConsumer_WritesRejectionTemplate(t *testing.T) {
	db := newNotificationDB(t)
	log := zap.NewNop().Sugar()
	inbox := messaging.NewInbox(db, log)
	c := NewOrderRejectedConsumer(db, inbox, newTestDispatcher(), log)

	evt := contracts.OrderRejectedEvent{
		OrderID:             uuid.New(),
		CustomerEmail:       "a@b.com",
		ReasonCode:          errs.CodeInsufficientStock,
		Reason:              "Insufficient stock.",
		NotificationChannel: "sms",
		NotificationTarget:  "+12025550123",
	}
	payload, err := json.Marshal(evt)
	require.NoError(t, err)

	outcome, err := c.Consume(context.Background(), messaging.Delivery{
		RoutingKey: contracts.RouteOrderRejected,
		Payload:    payload,
		Headers:    map[string]string{messaging.HeaderMessageID: "msg-3"},
	})
	require.NoError(t, err)
	assert.Equal(t, messaging.OutcomeSuccess, outcome)

	var row Log
	require.NoError(t, db.First(&row).Error)
	assert.Equal(t, TemplateOrderRejected, row.Template)
	assert.Equal(t, contracts.ChannelSMS, row.Channel)
	assert.Equal(t, "+12025550123", row.Target)
	assert.Contains(t, row.Payload, errs.CodeInsufficientStock)
}
