// Package energy provides a pure-Go VAD engine that classifies frames by
// their normalised RMS energy.
//
// The engine is stateless per frame: each call to IsSpeech looks only at the
// frame it is given. It is a reasonable default for close-talking
// microphones and clean recordings; noisy rooms need a model-based engine.
package energy

import (
	"fmt"
	"math"

	"github.com/MrWong99/wakecmd/pkg/provider/vad"
)

// thresholds maps aggressiveness 0..3 to the normalised RMS level (0..1) a
// frame must reach to count as speech.
var thresholds = [4]float64{0.006, 0.010, 0.015, 0.025}

// Option is a functional option for configuring an [Engine].
type Option func(*Engine)

// WithThreshold overrides the aggressiveness table with a fixed normalised
// RMS threshold in (0, 1].
func WithThreshold(level float64) Option {
	return func(e *Engine) {
		if level > 0 && level <= 1 {
			e.fixed = level
		}
	}
}

// Engine implements [vad.Engine].
type Engine struct {
	fixed float64
}

// Compile-time interface assertion.
var _ vad.Engine = (*Engine)(nil)

// New returns an energy VAD engine.
func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewClassifier implements [vad.Engine].
func (e *Engine) NewClassifier(cfg vad.Config) (vad.Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("energy: %w", err)
	}
	level := e.fixed
	if level == 0 {
		level = thresholds[cfg.Aggressiveness]
	}
	return &classifier{
		threshold:    level,
		sampleRate:   cfg.SampleRate,
		frameSamples: cfg.FrameSamples(),
	}, nil
}

type classifier struct {
	threshold    float64
	sampleRate   int
	frameSamples int
}

// IsSpeech implements [vad.Classifier]. Frames of the wrong length or rate
// are treated as silence.
func (c *classifier) IsSpeech(frame []int16, sampleRate int) bool {
	if sampleRate != c.sampleRate || len(frame) != c.frameSamples {
		return false
	}
	return RMS(frame) >= c.threshold
}

// RMS returns the root-mean-square level of samples normalised to [0, 1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
