package audio

import (
	"context"
	"math"
	"sync"
	"time"
)

// ToneSegment is one step of a [ToneSource] pattern: a sine burst of the
// given frequency, or silence when Hz is zero.
type ToneSegment struct {
	Hz        float64
	Amplitude int16
	Duration  time.Duration
}

// ToneSource is a push source that synthesises a repeating pattern of tone
// bursts and silence. A ticker delivers one chunk per chunk duration into a
// bounded [Queue], mimicking a live capture callback. It is used for smoke
// tests and demos without audio hardware.
type ToneSource struct {
	format       Format
	pattern      []ToneSegment
	chunkSamples int
	repeat       bool
	realtime     bool
	queue        *Queue

	startOnce sync.Once
	cancel    context.CancelFunc
}

// Compile-time interface assertions.
var (
	_ Source  = (*ToneSource)(nil)
	_ Starter = (*ToneSource)(nil)
)

// ToneOption configures a [ToneSource].
type ToneOption func(*ToneSource)

// WithRepeat loops the pattern until the source is closed.
func WithRepeat() ToneOption {
	return func(s *ToneSource) { s.repeat = true }
}

// WithFastForward disables real-time pacing so chunks are produced as fast as
// the queue accepts them.
func WithFastForward() ToneOption {
	return func(s *ToneSource) { s.realtime = false }
}

// WithToneChunkSamples sets the number of samples per chunk.
func WithToneChunkSamples(n int) ToneOption {
	return func(s *ToneSource) {
		if n > 0 {
			s.chunkSamples = n
		}
	}
}

// NewToneSource returns a mono tone generator at sampleRate.
func NewToneSource(sampleRate int, pattern []ToneSegment, q *Queue, opts ...ToneOption) *ToneSource {
	s := &ToneSource{
		format:       Format{SampleRate: sampleRate, Channels: 1},
		pattern:      pattern,
		chunkSamples: DefaultChunkSamples,
		realtime:     true,
		queue:        q,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Render returns the samples for one pass over the pattern.
func (s *ToneSource) Render() []int16 {
	var out []int16
	for _, seg := range s.pattern {
		n := int(seg.Duration * time.Duration(s.format.SampleRate) / time.Second)
		for i := range n {
			var v int16
			if seg.Hz > 0 {
				phase := 2 * math.Pi * seg.Hz * float64(i) / float64(s.format.SampleRate)
				v = int16(float64(seg.Amplitude) * math.Sin(phase))
			}
			out = append(out, v)
		}
	}
	return out
}

// Format implements [Source].
func (s *ToneSource) Format() Format { return s.format }

// Start implements [Starter].
func (s *ToneSource) Start(ctx context.Context) error {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		go s.run(ctx)
	})
	return nil
}

// NextChunk implements [Source].
func (s *ToneSource) NextChunk(ctx context.Context, timeout time.Duration) (Chunk, bool, error) {
	return s.queue.Pop(ctx, timeout)
}

// Close implements [Source].
func (s *ToneSource) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.queue.Close()
	return nil
}

func (s *ToneSource) run(ctx context.Context) {
	defer s.queue.Close()

	samples := s.Render()
	if len(samples) == 0 {
		return
	}
	period := time.Duration(s.chunkSamples) * time.Second / time.Duration(s.format.SampleRate)
	var tick <-chan time.Time
	if s.realtime {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		for pos := 0; pos < len(samples); pos += s.chunkSamples {
			if tick != nil {
				select {
				case <-ctx.Done():
					return
				case <-tick:
				}
			} else if ctx.Err() != nil {
				return
			}
			end := min(pos+s.chunkSamples, len(samples))
			c := Chunk{
				Samples:    samples[pos:end],
				SampleRate: s.format.SampleRate,
				Channels:   1,
				Captured:   time.Now(),
			}
			if !s.realtime {
				// Without pacing, wait for room instead of overflowing.
				for !s.queue.pushIfRoom(c) {
					select {
					case <-ctx.Done():
						return
					case <-time.After(time.Millisecond):
					}
				}
				continue
			}
			s.queue.Push(c)
		}
		if !s.repeat {
			return
		}
	}
}
