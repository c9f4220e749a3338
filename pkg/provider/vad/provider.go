// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector (e.g., an energy gate,
// WebRTC VAD or a neural model) and hands out [Classifier] values bound to a
// fixed frame size and sample rate. A classifier answers a single question
// per frame: speech or not. Smoothing across frames (hysteresis, minimum and
// maximum utterance length) is the segmenter's job, not the classifier's.
//
// IsSpeech is synchronous by design: it returns immediately with a decision,
// making it suitable for the single-threaded segmentation loop.
package vad

import (
	"errors"
	"fmt"
	"slices"
)

// ErrUnsupportedSampleRate is returned by [Config.Validate] and
// [Engine.NewClassifier] for sample rates outside [SupportedSampleRates].
var ErrUnsupportedSampleRate = errors.New("vad: unsupported sample rate")

// SupportedSampleRates lists the sample rates every classifier must accept.
var SupportedSampleRates = []int{8000, 16000, 32000, 48000}

// DefaultFrameSizeMs is the frame duration used by the segmenter.
const DefaultFrameSizeMs = 30

// Config holds the parameters for a classifier.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must be one of
	// [SupportedSampleRates].
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds.
	// Defaults to [DefaultFrameSizeMs] when zero.
	FrameSizeMs int

	// Aggressiveness ranges from 0 (least aggressive about filtering out
	// non-speech) to 3 (most aggressive), following the WebRTC VAD modes.
	Aggressiveness int
}

// Validate reports whether cfg is usable.
func (c Config) Validate() error {
	if !slices.Contains(SupportedSampleRates, c.SampleRate) {
		return fmt.Errorf("%w: %d Hz (supported: %v)", ErrUnsupportedSampleRate, c.SampleRate, SupportedSampleRates)
	}
	if c.FrameSizeMs < 0 {
		return fmt.Errorf("vad: frame size %d ms must not be negative", c.FrameSizeMs)
	}
	if c.Aggressiveness < 0 || c.Aggressiveness > 3 {
		return fmt.Errorf("vad: aggressiveness %d is out of range [0, 3]", c.Aggressiveness)
	}
	return nil
}

// FrameSamples returns the number of samples in one frame.
func (c Config) FrameSamples() int {
	ms := c.FrameSizeMs
	if ms == 0 {
		ms = DefaultFrameSizeMs
	}
	return c.SampleRate * ms / 1000
}

// Classifier labels a single audio frame as speech or silence.
//
// Implementations must accept exactly one frame of mono samples at the rate
// they were configured for. A Classifier is owned by one segmentation loop
// and need not be safe for concurrent use.
type Classifier interface {
	IsSpeech(frame []int16, sampleRate int) bool
}

// ClassifierFunc adapts an ordinary function to [Classifier].
type ClassifierFunc func(frame []int16, sampleRate int) bool

// IsSpeech implements [Classifier].
func (f ClassifierFunc) IsSpeech(frame []int16, sampleRate int) bool { return f(frame, sampleRate) }

// Engine is the factory for classifiers. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	// NewClassifier returns a classifier for cfg. Returns an error wrapping
	// [ErrUnsupportedSampleRate] or describing another invalid setting.
	NewClassifier(cfg Config) (Classifier, error)
}
