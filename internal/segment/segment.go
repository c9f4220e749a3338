// Package segment turns a stream of PCM chunks into discrete speech
// segments.
//
// The [Segmenter] cuts every chunk into fixed 30 ms frames and asks a
// [vad.Classifier] whether each frame contains speech. A segment opens on the
// first speech frame and closes once enough consecutive silence frames follow
// it, or when it reaches the configured maximum length. Segments shorter than
// the minimum are discarded.
//
// Only speech frames are kept: silence inside an utterance counts towards the
// end-of-speech threshold but is not part of the returned audio.
package segment

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/wakecmd/pkg/audio"
	"github.com/MrWong99/wakecmd/pkg/provider/vad"
)

// ErrInvalidConfiguration is returned by [New] when the configuration cannot
// be used.
var ErrInvalidConfiguration = errors.New("segment: invalid configuration")

// FrameMs is the fixed frame length in milliseconds.
const FrameMs = vad.DefaultFrameSizeMs

// Defaults applied by [New] for zero-valued [Config] fields.
const (
	DefaultSilenceMs     = 900
	DefaultMinSegmentMs  = 300
	DefaultMaxUtteranceS = 10
)

// NoMinSegment as [Config.MinSegmentMs] keeps every segment regardless of
// its length.
const NoMinSegment = -1

// DiscardReason explains why a finished run of speech produced no segment.
type DiscardReason string

// Discard reasons reported to the [WithDiscardHook] callback.
const (
	DiscardTooShort DiscardReason = "too_short"
)

// Config holds the segmentation parameters.
type Config struct {
	// SampleRate must be one of [vad.SupportedSampleRates].
	SampleRate int

	// SilenceMs is the silence run that ends an utterance. Defaults to 900.
	SilenceMs int

	// MinSegmentMs is the shortest segment worth keeping. Zero selects the
	// default of 300; [NoMinSegment] disables the filter.
	MinSegmentMs int

	// MaxUtteranceS caps an utterance; longer speech is force-split.
	// Defaults to 10.
	MaxUtteranceS int
}

// Segment is a completed run of speech.
type Segment struct {
	// Samples holds the concatenated speech frames (mono).
	Samples []int16

	// SampleRate is the rate of Samples in Hz.
	SampleRate int

	// Start is when the first speech frame was captured.
	Start time.Time

	// LastSpeech is when the last speech frame was captured.
	LastSpeech time.Time

	// DurationMs is len(Samples) in whole milliseconds.
	DurationMs int

	// Forced reports that the segment was cut at the maximum length rather
	// than ended by silence or flush.
	Forced bool
}

// Option configures a [Segmenter].
type Option func(*Segmenter)

// WithDiscardHook registers fn to be called whenever a run of speech is
// dropped. It runs synchronously on the caller's goroutine.
func WithDiscardHook(fn func(reason DiscardReason, durationMs int)) Option {
	return func(s *Segmenter) { s.onDiscard = fn }
}

// WithClock replaces time.Now for chunks that carry no capture time.
func WithClock(now func() time.Time) Option {
	return func(s *Segmenter) {
		if now != nil {
			s.now = now
		}
	}
}

// Segmenter is a two-state machine (idle, accumulating) fed frame by frame.
//
// A Segmenter is not safe for concurrent use; it is owned by a single
// processing loop.
type Segmenter struct {
	classifier vad.Classifier
	sampleRate int

	frameSamples  int
	silenceFrames int // frames of silence that end an utterance
	maxFrames     int // frames after which an utterance is force-ended
	minSegmentMs  int
	onDiscard     func(DiscardReason, int)
	now           func() time.Time

	// state
	frames     [][]int16
	silenceRun int
	start      time.Time
	lastSpeech time.Time
}

// New validates cfg and returns an idle Segmenter that classifies frames with
// cls. Zero-valued durations take the package defaults.
func New(cfg Config, cls vad.Classifier, opts ...Option) (*Segmenter, error) {
	if cls == nil {
		return nil, fmt.Errorf("%w: classifier must not be nil", ErrInvalidConfiguration)
	}
	if err := (vad.Config{SampleRate: cfg.SampleRate}).Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	if cfg.SilenceMs == 0 {
		cfg.SilenceMs = DefaultSilenceMs
	}
	minSegmentMs := cfg.MinSegmentMs
	switch minSegmentMs {
	case 0:
		minSegmentMs = DefaultMinSegmentMs
	case NoMinSegment:
		minSegmentMs = 0
	}
	if cfg.MaxUtteranceS == 0 {
		cfg.MaxUtteranceS = DefaultMaxUtteranceS
	}
	var errs []error
	if cfg.SilenceMs < FrameMs {
		errs = append(errs, fmt.Errorf("silence_ms %d must be at least one frame (%d ms)", cfg.SilenceMs, FrameMs))
	}
	if minSegmentMs < 0 {
		errs = append(errs, fmt.Errorf("min_segment_ms %d must be %d or non-negative", cfg.MinSegmentMs, NoMinSegment))
	}
	if cfg.MaxUtteranceS < 0 {
		errs = append(errs, fmt.Errorf("max_utterance_s %d must not be negative", cfg.MaxUtteranceS))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}

	s := &Segmenter{
		classifier:    cls,
		sampleRate:    cfg.SampleRate,
		frameSamples:  cfg.SampleRate * FrameMs / 1000,
		silenceFrames: cfg.SilenceMs / FrameMs,
		maxFrames:     cfg.MaxUtteranceS * 1000 / FrameMs,
		minSegmentMs:  minSegmentMs,
		now:           time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// FrameSamples returns the number of samples per frame.
func (s *Segmenter) FrameSamples() int { return s.frameSamples }

// Accumulating reports whether a segment is currently open.
func (s *Segmenter) Accumulating() bool { return len(s.frames) > 0 }

// ProcessChunk feeds one chunk of mono samples through the state machine and
// returns a segment if one completed. A trailing partial frame is dropped.
//
// At most one segment is returned per chunk: frames after an ending silence
// run in the same chunk are not examined.
func (s *Segmenter) ProcessChunk(chunk audio.Chunk) (Segment, bool) {
	base := chunk.Captured
	if base.IsZero() {
		base = s.now()
	}

	n := len(chunk.Samples) / s.frameSamples
	for i := range n {
		frame := chunk.Samples[i*s.frameSamples : (i+1)*s.frameSamples]
		at := base.Add(time.Duration(i*FrameMs) * time.Millisecond)

		if s.classifier.IsSpeech(frame, s.sampleRate) {
			s.onSpeech(frame, at)
			continue
		}
		if !s.Accumulating() {
			continue
		}
		s.silenceRun++
		if s.silenceRun >= s.silenceFrames {
			return s.end(false)
		}
	}

	if s.Accumulating() && s.maxFrames > 0 && len(s.frames) >= s.maxFrames {
		slog.Info("segmenter: max utterance length reached, forcing segment end",
			"frames", len(s.frames))
		return s.end(true)
	}
	return Segment{}, false
}

// Flush ends any open segment, applying the minimum-length rule. Calling it
// again, or on an idle segmenter, returns false.
func (s *Segmenter) Flush() (Segment, bool) {
	if !s.Accumulating() {
		return Segment{}, false
	}
	slog.Debug("segmenter: flushing pending segment")
	return s.end(false)
}

func (s *Segmenter) onSpeech(frame []int16, at time.Time) {
	if !s.Accumulating() {
		s.start = at
		slog.Debug("segmenter: speech detected, starting new segment")
	}
	// Frames alias the caller's chunk; copy so later reuse of the chunk
	// buffer cannot corrupt the segment.
	s.frames = append(s.frames, append([]int16(nil), frame...))
	s.lastSpeech = at
	s.silenceRun = 0
}

// end closes the open segment and resets state.
func (s *Segmenter) end(forced bool) (Segment, bool) {
	samples := make([]int16, 0, len(s.frames)*s.frameSamples)
	for _, f := range s.frames {
		samples = append(samples, f...)
	}
	seg := Segment{
		Samples:    samples,
		SampleRate: s.sampleRate,
		Start:      s.start,
		LastSpeech: s.lastSpeech,
		DurationMs: len(samples) * 1000 / s.sampleRate,
		Forced:     forced,
	}
	s.reset()

	if seg.DurationMs < s.minSegmentMs {
		slog.Debug("segmenter: segment too short, discarding", "duration_ms", seg.DurationMs)
		if s.onDiscard != nil {
			s.onDiscard(DiscardTooShort, seg.DurationMs)
		}
		return Segment{}, false
	}
	slog.Info("segmenter: speech segment completed",
		"duration_ms", seg.DurationMs,
		"frames", len(samples)/s.frameSamples,
		"forced", forced,
	)
	return seg, true
}

func (s *Segmenter) reset() {
	s.frames = nil
	s.silenceRun = 0
	s.start = time.Time{}
	s.lastSpeech = time.Time{}
}
