package notify

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/podari/internal/db"
	"github.com/erazemk/podari/internal/metrics"
	"github.com/erazemk/podari/internal/model"
	"github.com/erazemk/podari/internal/store"
)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]model.Notification
	err     error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(_ context.Context, batch []model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func note(userID int64) []model.Notification {
	return []model.Notification{{UserID: userID, Title: "t", Message: "m", Category: model.NotifyItemApproved}}
}

func TestDispatcherDeliversToAllSinks(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	d := NewDispatcher(8, nil, a, b)
	go d.Run(context.Background())

	d.Enqueue(context.Background(), note(1))
	d.Enqueue(context.Background(), note(2))
	d.Close()
	<-d.Done()

	assert.Equal(t, 2, a.count())
	assert.Equal(t, 2, b.count())
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	sink := &recordingSink{}
	d := NewDispatcher(1, m, sink)

	// No worker yet, so the second batch finds the queue full.
	d.Enqueue(context.Background(), note(1))
	d.Enqueue(context.Background(), note(2))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsEnqueued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsDropped))

	go d.Run(context.Background())
	d.Close()
	<-d.Done()
	assert.Equal(t, 1, sink.count())
}

func TestDispatcherDropsAfterClose(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(4, nil, sink)
	go d.Run(context.Background())
	d.Close()
	<-d.Done()

	assert.NotPanics(t, func() { d.Enqueue(context.Background(), note(1)) })
	assert.NotPanics(t, d.Close)
	assert.Equal(t, 0, sink.count())
}

func TestDispatcherDrainsOnCancel(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(8, nil, sink)
	for i := range 5 {
		d.Enqueue(context.Background(), note(int64(i)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))

	assert.Equal(t, 5, sink.count())
}

func TestDispatcherSinkFailureIsIsolated(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	bad := &recordingSink{err: errors.New("broker down")}
	good := &recordingSink{}
	d := NewDispatcher(4, m, bad, good)
	go d.Run(context.Background())

	d.Enqueue(context.Background(), note(1))
	d.Close()
	<-d.Done()

	assert.Equal(t, 1, good.count())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationFailures.WithLabelValues("recording")))
}

func TestStoreSink(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	u, err := store.CreateUser(ctx, database, "N", "n@example.com", "h", model.RoleContributor, "")
	require.NoError(t, err)

	sink := &StoreSink{DB: database}
	long := strings.Repeat("x", model.MaxNotificationMessage+50)
	require.NoError(t, sink.Deliver(ctx, []model.Notification{
		{UserID: u.ID, Title: "Item approved", Message: long, Category: model.NotifyItemApproved},
	}))

	list, err := store.ListNotifications(ctx, database, u.ID, true)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, list[0].Message, model.MaxNotificationMessage)
	assert.False(t, list[0].Read)

	// A batch with a dangling user fails as a whole.
	err = sink.Deliver(ctx, []model.Notification{
		{UserID: u.ID, Title: "a", Message: "m", Category: model.NotifyItemApproved},
		{UserID: 9999, Title: "b", Message: "m", Category: model.NotifyItemApproved},
	})
	assert.Error(t, err)
	list, _ = store.ListNotifications(ctx, database, u.ID, false)
	assert.Len(t, list, 1)
}

func TestKafkaSink(t *testing.T) {
	brokers := os.Getenv("PODARI_TEST_KAFKA_BROKERS")
	if brokers == "" {
		t.Skip("PODARI_TEST_KAFKA_BROKERS not set")
	}

	sink, err := NewKafkaSink(strings.Split(brokers, ","), "podari-test-notifications")
	require.NoError(t, err)
	t.Cleanup(sink.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	assert.NoError(t, sink.Deliver(ctx, note(42)))
}
