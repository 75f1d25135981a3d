package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutSessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_sessions_created_total",
		Help: "Total number of hosted checkout sessions created",
	})

	CheckoutSessionsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_sessions_failed_total",
		Help: "Total number of rejected or failed checkout session requests",
	}, []string{"reason"})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Payment provider webhook deliveries by event type and outcome",
	}, []string{"type", "result"})

	WebhookRedeliveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_redeliveries_total",
		Help: "Completed-session deliveries for a session that already has an order",
	})

	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of orders that could not be recorded",
	}, []string{"reason"})

	OrderLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_lookups_total",
		Help: "Order retrieval requests by outcome",
	}, []string{"result"})

	NotificationsSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Total number of order confirmation emails delivered",
	})

	NotificationsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifications_failed_total",
		Help: "Order confirmation emails abandoned after all attempts",
	})

	NotificationsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_dropped_total",
		Help: "Order confirmations that could not be queued",
	}, []string{"reason"})

	NotificationAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notification_attempts_total",
		Help: "Total number of email send attempts",
	})

	NotificationSendLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "notification_send_latency_seconds",
		Help:    "Latency of a single email send attempt",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
