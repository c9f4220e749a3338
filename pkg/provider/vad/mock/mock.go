// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that classifiers are created with the expected Config.
// Use Classifier to script per-frame decisions and inspect the frames that
// were submitted.
//
// Example:
//
//	cls := &mock.Classifier{Decisions: []bool{true, true, false}}
//	eng := &mock.Engine{Classifier: cls}
//	c, _ := eng.NewClassifier(cfg)
package mock

import (
	"sync"

	"github.com/MrWong99/wakecmd/pkg/provider/vad"
)

// NewClassifierCall records a single invocation of Engine.NewClassifier.
type NewClassifierCall struct {
	// Cfg is the Config passed to NewClassifier.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Classifier is returned by NewClassifier. If nil, a new default
	// Classifier (always silence) is returned.
	Classifier vad.Classifier

	// NewClassifierErr, if non-nil, is returned as the error from
	// NewClassifier.
	NewClassifierErr error

	// NewClassifierCalls records every call to NewClassifier in order.
	NewClassifierCalls []NewClassifierCall
}

// NewClassifier records the call and returns Classifier, NewClassifierErr.
func (e *Engine) NewClassifier(cfg vad.Config) (vad.Classifier, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewClassifierCalls = append(e.NewClassifierCalls, NewClassifierCall{Cfg: cfg})
	if e.NewClassifierErr != nil {
		return nil, e.NewClassifierErr
	}
	if e.Classifier != nil {
		return e.Classifier, nil
	}
	return &Classifier{}, nil
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// Classifier is a mock implementation of vad.Classifier.
//
// Decisions are consumed one per IsSpeech call. Once exhausted, Default is
// returned. When ByFirstSample is set, the decision is instead derived from
// the frame: a non-zero first sample means speech. This lets tests encode the
// decision directly in the audio they feed.
type Classifier struct {
	mu sync.Mutex

	// Decisions are returned in order, one per call.
	Decisions []bool

	// Default is returned after Decisions is exhausted.
	Default bool

	// ByFirstSample classifies frames by their first sample instead of the
	// Decisions script.
	ByFirstSample bool

	// --- Call records ---

	// Calls is the number of IsSpeech invocations.
	Calls int

	// FrameLens records the length of every frame passed to IsSpeech.
	FrameLens []int

	// SampleRates records the sample rate of every call.
	SampleRates []int
}

// IsSpeech implements vad.Classifier.
func (c *Classifier) IsSpeech(frame []int16, sampleRate int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.FrameLens = append(c.FrameLens, len(frame))
	c.SampleRates = append(c.SampleRates, sampleRate)
	idx := c.Calls
	c.Calls++

	if c.ByFirstSample {
		return len(frame) > 0 && frame[0] != 0
	}
	if idx < len(c.Decisions) {
		return c.Decisions[idx]
	}
	return c.Default
}

// Ensure Classifier implements vad.Classifier at compile time.
var _ vad.Classifier = (*Classifier)(nil)
