// Package eventbus is the in-process publish/subscribe hub that fans pipeline
// events out to sinks.
//
// Publishing never blocks the audio loop: each (event, handler) pair becomes a
// task on a bounded queue drained by a fixed pool of worker goroutines. When
// the queue is full the task is dropped and counted. Handlers are isolated
// from one another; an error or panic in one is logged and recorded without
// affecting the others.
//
// Handlers for different events may run concurrently and in any order. A
// handler that needs ordering must serialise internally.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/wakecmd/internal/event"
	"github.com/MrWong99/wakecmd/internal/observe"
)

// Sentinel errors.
var (
	// ErrBusClosed is returned by [Bus.Publish] after [Bus.Shutdown].
	ErrBusClosed = errors.New("eventbus: bus is closed")

	// ErrShutdownTimeout is returned by [Bus.Shutdown] when in-flight
	// handlers did not finish in time. The bus is closed regardless.
	ErrShutdownTimeout = errors.New("eventbus: shutdown timed out")
)

// Defaults applied by [New].
const (
	DefaultWorkers   = 4
	DefaultQueueSize = 256
)

// Handler consumes a single event. The context carries the publisher's
// values but is never cancelled by the publisher.
type Handler func(ctx context.Context, ev event.Event) error

// SubscriptionID identifies one registration returned by [Bus.Subscribe].
type SubscriptionID uint64

type subscription struct {
	id      SubscriptionID
	handler Handler
}

type task struct {
	ctx context.Context
	ev  event.Event
	sub subscription
}

// Option is a functional option for [New].
type Option func(*Bus)

// WithWorkers sets the number of worker goroutines. Values below 1 are ignored.
func WithWorkers(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithQueueSize sets the task queue capacity. Values below 1 are ignored.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bus) {
		if m != nil {
			b.metrics = m
		}
	}
}

// Bus is a bounded, asynchronous event dispatcher. All methods are safe for
// concurrent use.
type Bus struct {
	workers   int
	queueSize int
	metrics   *observe.Metrics

	mu     sync.RWMutex
	subs   map[event.Type][]subscription
	nextID atomic.Uint64

	// closeMu guards closed and the send side of tasks.
	closeMu sync.RWMutex
	closed  bool
	tasks   chan task
	wg      sync.WaitGroup

	dropped atomic.Uint64
}

// New creates a bus and starts its worker pool.
func New(opts ...Option) *Bus {
	b := &Bus{
		workers:   DefaultWorkers,
		queueSize: DefaultQueueSize,
		subs:      make(map[event.Type][]subscription),
	}
	for _, o := range opts {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	b.tasks = make(chan task, b.queueSize)
	b.wg.Add(b.workers)
	for range b.workers {
		go b.worker()
	}
	slog.Debug("event bus started", "workers", b.workers, "queue_size", b.queueSize)
	return b
}

// Subscribe registers h for events of type t and returns its id.
func (b *Bus) Subscribe(t event.Type, h Handler) SubscriptionID {
	id := SubscriptionID(b.nextID.Add(1))
	b.mu.Lock()
	b.subs[t] = append(b.subs[t], subscription{id: id, handler: h})
	b.mu.Unlock()
	slog.Debug("handler subscribed", "event_type", t, "subscription_id", id)
	return id
}

// Unsubscribe removes the registration id for type t. It reports whether the
// registration existed; an unknown id is logged and otherwise ignored.
func (b *Bus) Unsubscribe(t event.Type, id SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[t]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		// Copy so snapshots taken by concurrent publishers stay intact.
		next := make([]subscription, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		b.subs[t] = next
		slog.Debug("handler unsubscribed", "event_type", t, "subscription_id", id)
		return true
	}
	slog.Warn("unsubscribe: handler not found", "event_type", t, "subscription_id", id)
	return false
}

// SubscriberCount returns the number of handlers registered for t.
func (b *Bus) SubscriberCount(t event.Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[t])
}

// Dropped returns the number of handler tasks discarded because the queue was
// full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Publish enqueues ev for every handler subscribed to its type and returns
// without waiting for them. With no subscribers it does nothing. Returns
// [ErrBusClosed] after [Bus.Shutdown].
func (b *Bus) Publish(ctx context.Context, ev event.Event) error {
	if ev == nil {
		return errors.New("eventbus: nil event")
	}
	t := ev.Type()

	b.mu.RLock()
	handlers := b.subs[t]
	b.mu.RUnlock()

	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	if len(handlers) == 0 {
		slog.Debug("no subscribers", "event_type", t)
		return nil
	}

	b.metrics.RecordEventPublished(ctx, string(t))
	hctx := context.WithoutCancel(ctx)
	for _, s := range handlers {
		select {
		case b.tasks <- task{ctx: hctx, ev: ev, sub: s}:
		default:
			b.dropped.Add(1)
			b.metrics.RecordEventDropped(ctx, string(t), "queue_full")
			slog.Warn("event bus queue full, dropping delivery",
				"event_type", t, "event_id", ev.ID(), "subscription_id", s.id)
		}
	}
	return nil
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for tk := range b.tasks {
		b.run(tk)
	}
}

// run calls a single handler, converting a panic into a logged failure.
func (b *Bus) run(tk task) {
	t := tk.ev.Type()
	start := time.Now()
	defer func() {
		b.metrics.HandlerDuration.Record(tk.ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("event_type", string(t))))
		if r := recover(); r != nil {
			b.metrics.RecordHandlerFailure(tk.ctx, string(t), "panic")
			observe.Logger(tk.ctx).Error("event handler panicked",
				"event_type", t,
				"event_id", tk.ev.ID(),
				"subscription_id", tk.sub.id,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	if err := tk.sub.handler(tk.ctx, tk.ev); err != nil {
		b.metrics.RecordHandlerFailure(tk.ctx, string(t), "error")
		observe.Logger(tk.ctx).Error("event handler failed",
			"event_type", t,
			"event_id", tk.ev.ID(),
			"subscription_id", tk.sub.id,
			"err", err)
	}
}

// Shutdown stops accepting events and waits up to timeout for queued and
// running handlers to finish. A timeout of zero or less waits indefinitely.
// Returns an error wrapping [ErrShutdownTimeout] if the wait overran. Calls
// after the first return nil immediately.
func (b *Bus) Shutdown(timeout time.Duration) error {
	b.closeMu.Lock()
	if b.closed {
		b.closeMu.Unlock()
		return nil
	}
	b.closed = true
	close(b.tasks)
	b.closeMu.Unlock()

	slog.Info("shutting down event bus", "pending", len(b.tasks))

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	if timeout <= 0 {
		<-done
		slog.Info("event bus shutdown complete")
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		slog.Info("event bus shutdown complete")
		return nil
	case <-timer.C:
		slog.Warn("event bus shutdown timed out", "timeout", timeout, "pending", len(b.tasks))
		return fmt.Errorf("%w after %s", ErrShutdownTimeout, timeout)
	}
}
