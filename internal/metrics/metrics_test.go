package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveOperation("redeem", "ok", time.Millisecond)
	m.AddPointsAwarded(1)
	m.AddNotificationsDropped(1)
	m.IncNotificationFailure("store")
	m.ObserveHTTP("GET", "/api/items", 200, time.Millisecond)
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveOperation("redeem", "ok", time.Millisecond)
	m.ObserveOperation("redeem", "insufficient_balance", time.Millisecond)
	m.ObserveOperation("redeem", "ok", time.Millisecond)
	m.AddPointsAwarded(400)
	m.AddPointsRedeemed(600)
	m.AddNotificationsEnqueued(3)
	m.IncNotificationFailure("kafka")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Operations.WithLabelValues("redeem", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("redeem", "insufficient_balance")))
	assert.Equal(t, 400.0, testutil.ToFloat64(m.PointsAwarded))
	assert.Equal(t, 600.0, testutil.ToFloat64(m.PointsRedeemed))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.NotificationsEnqueued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationFailures.WithLabelValues("kafka")))
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "2xx", statusLabel(201))
	assert.Equal(t, "3xx", statusLabel(304))
	assert.Equal(t, "4xx", statusLabel(422))
	assert.Equal(t, "5xx", statusLabel(503))
}
