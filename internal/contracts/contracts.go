package contracts

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys double as Kafka topic names.
const (
	RouteOrderCreated   = "order.created"
	RouteStockReserved  = "stock.reserved"
	RouteStockRejected  = "stock.rejected"
	RouteOrderConfirmed = "order.confirmed"
	RouteOrderRejected  = "order.rejected"
)

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

type OrderItem struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
}

type OrderCreatedEvent struct {
	OrderID             uuid.UUID   `json:"orderId"`
	CustomerEmail       string      `json:"customerEmail"`
	Items               []OrderItem `json:"items"`
	CreatedAt           time.Time   `json:"createdAt"`
	NotificationChannel string      `json:"notificationChannel"`
	NotificationTarget  string      `json:"notificationTarget"`
}

type StockReservedEvent struct {
	OrderID    uuid.UUID `json:"orderId"`
	ReservedAt time.Time `json:"reservedAt"`
}

type StockRejectedEvent struct {
	OrderID    uuid.UUID `json:"orderId"`
	ReasonCode string    `json:"reasonCode"`
	Reason     string    `json:"reason"`
	RejectedAt time.Time `json:"rejectedAt"`
}

type OrderConfirmedEvent struct {
	OrderID             uuid.UUID `json:"orderId"`
	CustomerEmail       string    `json:"customerEmail"`
	ConfirmedAt         time.Time `json:"confirmedAt"`
	NotificationChannel string    `json:"notificationChannel"`
	NotificationTarget  string    `json:"notificationTarget"`
}

type OrderRejectedEvent struct {
	OrderID             uuid.UUID `json:"orderId"`
	CustomerEmail       string    `json:"customerEmail"`
	ReasonCode          string    `json:"reasonCode"`
	Reason              string    `json:"reason"`
	RejectedAt          time.Time `json:"rejectedAt"`
	NotificationChannel string    `json:"notificationChannel"`
	NotificationTarget  string    `json:"notificationTarget"`
}

// CorrelationKey lets the consumer pipeline derive a stable fallback message
// id from the event itself when transport headers are missing. Every saga
// event carries its order id, so that is the key.

func (e OrderCreatedEvent) CorrelationKey() string   { return e.OrderID.String() }
func (e StockReservedEvent) CorrelationKey() string  { return e.OrderID.String() }
func (e StockRejectedEvent) CorrelationKey() string  { return e.OrderID.String() }
func (e OrderConfirmedEvent) CorrelationKey() string { return e.OrderID.String() }
func (e OrderRejectedEvent) CorrelationKey() string  { return e.OrderID.String() }
