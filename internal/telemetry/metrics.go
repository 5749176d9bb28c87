package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_http_requests_total",
		Help: "HTTP requests by method and status code.",
	}, []string{"method", "status"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "queue_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	TicketsJoined = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_tickets_joined_total",
		Help: "Tickets created per queue.",
	}, []string{"queue"})

	TicketsAdvanced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_tickets_advanced_total",
		Help: "Tickets moved to BEING_SERVED per queue.",
	}, []string{"queue"})

	TicketsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_tickets_completed_total",
		Help: "Tickets moved to COMPLETED per queue.",
	}, []string{"queue"})

	WaitingTickets = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_waiting_tickets",
		Help: "WAITING tickets per queue as of the last sweep.",
	}, []string{"queue"})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_notifications_sent_total",
		Help: "Notifications accepted by the dispatcher, by band.",
	}, []string{"band"})

	NotificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_notification_failures_total",
		Help: "Notifications the dispatcher rejected, by band.",
	}, []string{"band"})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "queue_sweep_duration_seconds",
		Help:    "Duration of notification sweeps.",
		Buckets: prometheus.DefBuckets,
	})
)
