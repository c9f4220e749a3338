package audio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Retry parameters for transient read failures in [ReaderSource].
const (
	defaultReadBackoff    = 100 * time.Millisecond
	defaultMaxReadBackoff = 2 * time.Second
)

// ReaderSource is a push source that captures raw little-endian 16-bit PCM
// from an io.Reader (typically stdin fed by arecord, sox or ffmpeg). A capture
// goroutine reads fixed-size chunks and pushes them into a bounded [Queue];
// the consumer drains the queue through [ReaderSource.NextChunk].
//
// Read errors other than io.EOF are logged and retried with exponential
// backoff. io.EOF ends the stream.
type ReaderSource struct {
	r            io.Reader
	format       Format
	chunkSamples int
	queue        *Queue

	backoff    time.Duration
	maxBackoff time.Duration

	startOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Compile-time interface assertions.
var (
	_ Source  = (*ReaderSource)(nil)
	_ Starter = (*ReaderSource)(nil)
)

// ReaderOption configures a [ReaderSource].
type ReaderOption func(*ReaderSource)

// WithReaderChunkSamples sets the number of samples per chunk.
func WithReaderChunkSamples(n int) ReaderOption {
	return func(s *ReaderSource) {
		if n > 0 {
			s.chunkSamples = n
		}
	}
}

// WithReadBackoff sets the initial and maximum retry delay after a failed
// read.
func WithReadBackoff(initial, limit time.Duration) ReaderOption {
	return func(s *ReaderSource) {
		if initial > 0 {
			s.backoff = initial
		}
		if limit > 0 {
			s.maxBackoff = limit
		}
	}
}

// NewReaderSource returns a push source reading PCM in the given format from
// r into q. The format describes the raw stream; it is not converted.
func NewReaderSource(r io.Reader, format Format, q *Queue, opts ...ReaderOption) *ReaderSource {
	s := &ReaderSource{
		r:            r,
		format:       format,
		chunkSamples: DefaultChunkSamples,
		queue:        q,
		backoff:      defaultReadBackoff,
		maxBackoff:   defaultMaxReadBackoff,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Format implements [Source].
func (s *ReaderSource) Format() Format { return s.format }

// Start implements [Starter]. Subsequent calls are no-ops.
func (s *ReaderSource) Start(ctx context.Context) error {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		s.wg.Add(1)
		go s.capture(ctx)
	})
	return nil
}

// NextChunk implements [Source] by draining the queue.
func (s *ReaderSource) NextChunk(ctx context.Context, timeout time.Duration) (Chunk, bool, error) {
	return s.queue.Pop(ctx, timeout)
}

// Close stops capture and closes the queue. It does not close the underlying
// reader; a capture goroutine blocked in Read exits once the read returns.
func (s *ReaderSource) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.queue.Close()
	return nil
}

func (s *ReaderSource) capture(ctx context.Context) {
	defer s.wg.Done()
	defer s.queue.Close()

	frameBytes := 2 * s.format.Channels
	buf := make([]byte, s.chunkSamples*frameBytes)
	backoff := s.backoff

	for {
		if ctx.Err() != nil {
			return
		}

		n, err := io.ReadFull(s.r, buf)
		if n >= frameBytes {
			whole := n - n%frameBytes
			s.queue.Push(Chunk{
				Samples:    BytesToSamples(buf[:whole]),
				SampleRate: s.format.SampleRate,
				Channels:   s.format.Channels,
				Captured:   time.Now(),
			})
		}

		switch {
		case err == nil:
			backoff = s.backoff
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			slog.Info("audio capture: end of stream")
			return
		default:
			slog.Warn("audio capture: read failed, retrying",
				"err", err,
				"backoff", backoff,
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, s.maxBackoff)
		}
	}
}
