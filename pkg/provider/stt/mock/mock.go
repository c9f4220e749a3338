// Package mock provides test doubles for the stt package interfaces.
//
// Use Transcriber to feed controlled results and inspect which utterances
// were submitted for transcription.
//
// Example:
//
//	tr := &mock.Transcriber{Results: []stt.Result{{Text: "ai turn on the lights"}}}
//	res, _ := tr.Transcribe(ctx, samples, 16000)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/wakecmd/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Samples is a copy of the audio passed to Transcribe.
	Samples []int16
	// SampleRate is the sample rate passed to Transcribe.
	SampleRate int
}

// Transcriber is a mock implementation of stt.Transcriber.
//
// Results and Errs are consumed one per call, in order. When Results is
// exhausted, Default is returned. A non-nil entry in Errs at the call's index
// takes precedence over the result.
type Transcriber struct {
	mu sync.Mutex

	// Results are returned in order, one per call.
	Results []stt.Result

	// Errs are returned in order, one per call. Nil entries mean success.
	Errs []error

	// Default is returned once Results is exhausted.
	Default stt.Result

	// Delay, if positive, is slept before returning (honouring ctx).
	Delay time.Duration

	// Calls records every call to Transcribe in order.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the next scripted result.
func (t *Transcriber) Transcribe(ctx context.Context, samples []int16, sampleRate int) (stt.Result, error) {
	t.mu.Lock()
	idx := len(t.Calls)
	t.Calls = append(t.Calls, TranscribeCall{
		Samples:    append([]int16(nil), samples...),
		SampleRate: sampleRate,
	})
	var (
		res stt.Result
		err error
	)
	if idx < len(t.Errs) {
		err = t.Errs[idx]
	}
	if idx < len(t.Results) {
		res = t.Results[idx]
	} else {
		res = t.Default
	}
	delay := t.Delay
	t.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return stt.Result{}, ctx.Err()
		}
	}
	if err != nil {
		return stt.Result{}, err
	}
	return res, nil
}

// CallCount returns the number of Transcribe calls so far.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)
