// Package notify delivers user notifications asynchronously. Delivery is best
// effort: a full queue drops the batch and sink failures are logged, never
// reported back to the operation that produced the notification.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/erazemk/podari/internal/metrics"
	"github.com/erazemk/podari/internal/model"
)

// Sink receives notification batches.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, batch []model.Notification) error
}

// DefaultQueueSize is the number of batches buffered before Enqueue drops.
const DefaultQueueSize = 256

// deliveryTimeout bounds a single batch delivery across all sinks.
const deliveryTimeout = 10 * time.Second

// Dispatcher queues notification batches and delivers them to every sink from
// a single worker goroutine started with Run.
type Dispatcher struct {
	queue   chan []model.Notification
	sinks   []Sink
	metrics *metrics.Metrics
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher creates a dispatcher. Call Run to start delivering.
func NewDispatcher(queueSize int, m *metrics.Metrics, sinks ...Sink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Dispatcher{
		queue:   make(chan []model.Notification, queueSize),
		sinks:   sinks,
		metrics: m,
		done:    make(chan struct{}),
	}
}

// Enqueue hands a batch to the worker without blocking. The batch is dropped
// if the queue is full or the dispatcher is closed.
func (d *Dispatcher) Enqueue(ctx context.Context, batch []model.Notification) {
	if len(batch) == 0 {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(ctx, batch, "dispatcher closed")
		return
	}

	select {
	case d.queue <- batch:
		d.metrics.AddNotificationsEnqueued(len(batch))
	default:
		d.drop(ctx, batch, "queue full")
	}
}

func (d *Dispatcher) drop(ctx context.Context, batch []model.Notification, reason string) {
	d.metrics.AddNotificationsDropped(len(batch))
	slog.WarnContext(ctx, "notifications dropped", "count", len(batch), "reason", reason)
}

// Run delivers queued batches until Close is called or ctx is done. Batches
// still buffered at that point are delivered before Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)

	for {
		select {
		case batch, ok := <-d.queue:
			if !ok {
				return nil
			}
			d.deliver(ctx, batch)
		case <-ctx.Done():
			d.Close()
			for batch := range d.queue {
				d.deliver(ctx, batch)
			}
			return nil
		}
	}
}

// Close stops accepting batches. Run drains the queue and returns.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
}

// Done is closed when Run has returned.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// deliver sends a batch to all sinks concurrently. Delivery outlives ctx
// cancellation so a shutdown still flushes the queue.
func (d *Dispatcher) deliver(ctx context.Context, batch []model.Notification) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
	defer cancel()

	var g errgroup.Group
	for _, sink := range d.sinks {
		g.Go(func() error {
			if err := sink.Deliver(ctx, batch); err != nil {
				d.metrics.IncNotificationFailure(sink.Name())
				slog.Error("notification delivery failed", "sink", sink.Name(), "count", len(batch), "error", err)
				return err
			}
			return nil
		})
	}
	_ = g.Wait()
}
