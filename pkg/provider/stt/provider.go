// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// A transcriber wraps a recognition service (e.g., a local whisper.cpp server,
// the whisper.cpp library linked in-process, Deepgram or a hosted Whisper
// API) and turns one finished utterance into text. Transcription is batch
// oriented: the segmenter decides where an utterance ends and hands over the
// complete buffer, so backends never see partial audio.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrEmptyAudio is returned by transcribers that refuse a zero-length buffer.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Result is the outcome of transcribing a single utterance.
type Result struct {
	// Text is the transcribed speech, trimmed of surrounding whitespace. It
	// may be empty when nothing intelligible was recognised.
	Text string

	// Confidence is the backend's confidence in [0, 1], or nil when the
	// backend does not report one.
	Confidence *float64
}

// Transcriber is the abstraction over any STT backend.
type Transcriber interface {
	// Transcribe converts mono 16-bit PCM samples at sampleRate into text.
	//
	// An error means the backend failed; callers treat it as an empty
	// transcript. A successful call with empty Text means silence or noise.
	Transcribe(ctx context.Context, samples []int16, sampleRate int) (Result, error)
}

// TranscriberFunc adapts an ordinary function to [Transcriber].
type TranscriberFunc func(ctx context.Context, samples []int16, sampleRate int) (Result, error)

// Transcribe implements [Transcriber].
func (f TranscriberFunc) Transcribe(ctx context.Context, samples []int16, sampleRate int) (Result, error) {
	return f(ctx, samples, sampleRate)
}

// Float64 returns a pointer to v. It is a convenience for filling
// [Result.Confidence].
func Float64(v float64) *float64 { return &v }

// ConfidenceFromLogProb maps a whisper average log-probability (roughly -4
// for noise up to 0 for certain) onto [0, 1].
func ConfidenceFromLogProb(avg float64) float64 {
	return min(1, max(0, (avg+4)/4))
}

// MeanConfidence averages the per-segment log-probabilities of a whisper
// result into a single confidence. Returns nil when there are no segments.
func MeanConfidence(avgLogProbs []float64) *float64 {
	if len(avgLogProbs) == 0 {
		return nil
	}
	var sum float64
	for _, lp := range avgLogProbs {
		sum += ConfidenceFromLogProb(lp)
	}
	return Float64(sum / float64(len(avgLogProbs)))
}

// Mean returns the arithmetic mean of values, or nil when values is empty.
func Mean(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return Float64(sum / float64(len(values)))
}
