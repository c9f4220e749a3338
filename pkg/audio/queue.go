package audio

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// OverflowPolicy decides what [Queue.Push] does when the queue is full.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest queued chunk to make room for the new one.
	// The producer never blocks. This keeps latency bounded for live capture.
	DropOldest OverflowPolicy = iota

	// BlockWithTimeout waits up to the configured timeout for space and drops
	// the new chunk if none frees up.
	BlockWithTimeout
)

// String returns the configuration name of the policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case BlockWithTimeout:
		return "block"
	default:
		return "unknown"
	}
}

const defaultBlockTimeout = 100 * time.Millisecond

// QueueOption configures a [Queue].
type QueueOption func(*Queue)

// WithBlockTimeout sets how long [BlockWithTimeout] waits for space.
// Defaults to 100 ms.
func WithBlockTimeout(d time.Duration) QueueOption {
	return func(q *Queue) {
		if d > 0 {
			q.blockTimeout = d
		}
	}
}

// WithDropHook registers fn to be called once for every chunk the queue
// discards. It is called from the producer goroutine.
func WithDropHook(fn func()) QueueOption {
	return func(q *Queue) { q.onDrop = fn }
}

// Queue is the bounded hand-off between a capture goroutine (producer) and
// the pipeline's processing loop (consumer). It is safe for one or more
// producers and consumers.
type Queue struct {
	ch           chan Chunk
	policy       OverflowPolicy
	blockTimeout time.Duration
	onDrop       func()

	dropped   atomic.Int64
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue returns a queue holding at most capacity chunks.
// A capacity below 1 is raised to 1.
func NewQueue(capacity int, policy OverflowPolicy, opts ...QueueOption) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue{
		ch:           make(chan Chunk, capacity),
		policy:       policy,
		blockTimeout: defaultBlockTimeout,
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Push offers c to the queue according to the overflow policy. It reports
// whether c was enqueued. Pushing to a closed queue returns false.
func (q *Queue) Push(c Chunk) bool {
	select {
	case <-q.done:
		return false
	default:
	}

	switch q.policy {
	case BlockWithTimeout:
		timer := time.NewTimer(q.blockTimeout)
		defer timer.Stop()
		select {
		case q.ch <- c:
			return true
		case <-q.done:
			return false
		case <-timer.C:
			q.drop()
			return false
		}
	default:
		for {
			select {
			case q.ch <- c:
				return true
			default:
			}
			select {
			case <-q.ch:
				q.drop()
			default:
			}
		}
	}
}

// pushIfRoom enqueues c only when space is free, bypassing the overflow
// policy. Used by producers that pace themselves on the consumer.
func (q *Queue) pushIfRoom(c Chunk) bool {
	select {
	case <-q.done:
		return false
	default:
	}
	select {
	case q.ch <- c:
		return true
	default:
		return false
	}
}

// Pop waits up to timeout for the next chunk. It returns ok=false when the
// timeout elapses with nothing queued, and io.EOF once the queue is closed
// and fully drained.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (Chunk, bool, error) {
	select {
	case c := <-q.ch:
		return c, true, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c := <-q.ch:
		return c, true, nil
	case <-q.done:
		// Closed: hand out whatever is still buffered before reporting EOF.
		select {
		case c := <-q.ch:
			return c, true, nil
		default:
			return Chunk{}, false, io.EOF
		}
	case <-timer.C:
		return Chunk{}, false, nil
	case <-ctx.Done():
		return Chunk{}, false, ctx.Err()
	}
}

// Close marks the end of the stream. Already queued chunks remain readable.
// Safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// Len returns the number of chunks currently queued.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// Dropped returns the total number of chunks discarded by the overflow
// policy.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

// Policy returns the queue's overflow policy.
func (q *Queue) Policy() OverflowPolicy { return q.policy }

func (q *Queue) drop() {
	q.dropped.Add(1)
	if q.onDrop != nil {
		q.onDrop()
	}
}
