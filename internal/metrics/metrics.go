package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	consumerResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_consumer_results_total",
		Help: "Terminal consumer pipeline outcomes per message.",
	}, []string{"service", "consumer", "routing_key", "result", "error_code"})

	consumerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fulfillment_consumer_duration_seconds",
		Help:    "Time from delivery to a terminal pipeline outcome.",
		Buckets: prometheus.DefBuckets,
	}, []string{"service", "consumer", "routing_key"})

	outboxDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_outbox_dispatch_total",
		Help: "Outbox rows published to the broker, by result.",
	}, []string{"service", "routing_key", "result"})

	dlqRepublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_dlq_republish_total",
		Help: "Messages parked on a dead-letter topic after the retry budget.",
	}, []string{"service", "consumer", "routing_key"})

	stockReservations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fulfillment_stock_reservation_duration_seconds",
		Help:    "Stock reservation attempts, by outcome.",
		Buckets: prometheus.DefBuckets,
	}, []string{"result", "error_code"})

	ordersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_orders_created_total",
		Help: "Orders accepted into PendingStock.",
	})

	ordersFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_orders_finalized_total",
		Help: "Orders reaching a terminal status.",
	}, []string{"status", "error_code"})
)

func RecordConsumerResult(service, consumer, routingKey, result, errorCode string, elapsed time.Duration) {
	consumerResults.WithLabelValues(service, consumer, routingKey, result, errorCode).Inc()
	consumerDuration.WithLabelValues(service, consumer, routingKey).Observe(elapsed.Seconds())
}

func RecordOutboxDispatch(service, routingKey, result string) {
	outboxDispatches.WithLabelValues(service, routingKey, result).Inc()
}

func RecordDLQRepublish(service, consumer, routingKey string) {
	dlqRepublishes.WithLabelValues(service, consumer, routingKey).Inc()
}

func RecordStockReservation(result, errorCode string, elapsed time.Duration) {
	stockReservations.WithLabelValues(result, errorCode).Observe(elapsed.Seconds())
}

func RecordOrderCreated() { ordersCreated.Inc() }

func RecordOrderFinalized(status, errorCode string) {
	ordersFinalized.WithLabelValues(status, errorCode).Inc()
}
