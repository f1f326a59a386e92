package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	// Workflow outcomes by operation (submit, review, redeem) and outcome
	// (ok or an error code).
	Operations *prometheus.CounterVec
	// Workflow latency by operation.
	OperationLatency *prometheus.HistogramVec

	PointsAwarded  prometheus.Counter
	PointsRedeemed prometheus.Counter

	NotificationsEnqueued prometheus.Counter
	NotificationsDropped  prometheus.Counter
	// Delivery failures by sink (store, kafka).
	NotificationFailures *prometheus.CounterVec

	HTTPLatency *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "podari_workflow_operations_total",
			Help: "Workflow operations by operation and outcome",
		}, []string{"operation", "outcome"}),

		OperationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "podari_workflow_operation_duration_seconds",
			Help:    "Duration of workflow operations",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),

		PointsAwarded: f.NewCounter(prometheus.CounterOpts{
			Name: "podari_points_awarded_total",
			Help: "Points credited to donors on approval",
		}),

		PointsRedeemed: f.NewCounter(prometheus.CounterOpts{
			Name: "podari_points_redeemed_total",
			Help: "Points debited from redeemers",
		}),

		NotificationsEnqueued: f.NewCounter(prometheus.CounterOpts{
			Name: "podari_notifications_enqueued_total",
			Help: "Notifications accepted by the dispatcher",
		}),

		NotificationsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "podari_notifications_dropped_total",
			Help: "Notifications dropped because the queue was full or closed",
		}),

		NotificationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "podari_notifications_delivery_failures_total",
			Help: "Notification batches a sink failed to deliver",
		}, []string{"sink"}),

		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "podari_http_request_duration_seconds",
			Help:    "HTTP request duration by method, route pattern and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// ObserveOperation records a workflow operation's outcome and duration.
func (m *Metrics) ObserveOperation(operation, outcome string, d time.Duration) {
	if m != nil {
		m.Operations.WithLabelValues(operation, outcome).Inc()
		m.OperationLatency.WithLabelValues(operation).Observe(d.Seconds())
	}
}

func (m *Metrics) AddPointsAwarded(n int64) {
	if m != nil {
		m.PointsAwarded.Add(float64(n))
	}
}

func (m *Metrics) AddPointsRedeemed(n int64) {
	if m != nil {
		m.PointsRedeemed.Add(float64(n))
	}
}

func (m *Metrics) AddNotificationsEnqueued(n int) {
	if m != nil {
		m.NotificationsEnqueued.Add(float64(n))
	}
}

func (m *Metrics) AddNotificationsDropped(n int) {
	if m != nil {
		m.NotificationsDropped.Add(float64(n))
	}
}

func (m *Metrics) IncNotificationFailure(sink string) {
	if m != nil {
		m.NotificationFailures.WithLabelValues(sink).Inc()
	}
}

// ObserveHTTP records an HTTP request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m != nil {
		m.HTTPLatency.WithLabelValues(method, route, statusLabel(status)).Observe(d.Seconds())
	}
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
