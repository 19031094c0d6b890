package notification

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shopngo/fulfillment/internal/contracts"
	"github.com/shopngo/fulfillment/internal/errs"
)

// DispatchRequest is everything a channel needs to deliver one notification.
type DispatchRequest struct {
	OrderID  uuid.UUID
	Channel  string
	Target   string
	Template string
	Payload  string
}

// ChannelHandler simulates an outbound delivery channel and produces the
// audit log row for it.
type ChannelHandler interface {
	Channel() string
	Send(req DispatchRequest) (*Log, error)
}

type EmailHandler struct {
	log *zap.SugaredLogger
}

func NewEmailHandler(log *zap.SugaredLogger) *EmailHandler { return &EmailHandler{log: log} }

func (h *EmailHandler) Channel() string { return contracts.ChannelEmail }

func (h *EmailHandler) Send(req DispatchRequest) (*Log, error) {
	row, err := NewLog(req.OrderID, req.Target, h.Channel(), req.Template, req.Payload)
	if err != nil {
		return nil, err
	}
	h.log.Infow("simulated email dispatch", "orderId", req.OrderID, "template", req.Template)
	return row, nil
}

type SMSHandler struct {
	log *zap.SugaredLogger
}

func NewSMSHandler(log *zap.SugaredLogger) *SMSHandler { return &SMSHandler{log: log} }

func (h *SMSHandler) Channel() string { return contracts.ChannelSMS }

func (h *SMSHandler) Send(req DispatchRequest) (*Log, error) {
	row, err := NewLog(req.OrderID, req.Target, h.Channel(), req.Template, req.Payload)
	if err != nil {
		return nil, err
	}
	h.log.Infow("simulated sms dispatch", "orderId", req.OrderID, "template", req.Template)
	return row, nil
}

// Dispatcher routes a request to the handler matching its channel.
type Dispatcher struct {
	handlers map[string]ChannelHandler
}

func NewDispatcher(handlers ...ChannelHandler) *Dispatcher {
	m := make(map[string]ChannelHandler, len(handlers))
	for _, h := range handlers {
		m[h.Channel()] = h
	}
	return &Dispatcher{handlers: m}
}

func (d *Dispatcher) Dispatch(req DispatchRequest) (*Log, error) {
	handler, ok := d.handlers[normalizeLookup(req.Channel)]
	if !ok {
		return nil, errs.BusinessRule(errs.CodeNotificationInvalidChannel,
			fmt.Sprintf("Notification channel '%s' is not supported.", req.Channel))
	}
	return handler.Send(req)
}

func normalizeLookup(channel string) string {
	return strings.ToLower(strings.TrimSpace(channel))
}
