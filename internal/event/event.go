// Package event defines the typed events that flow from the pipeline to its
// sinks, and the newline-delimited JSON codec used to persist them.
//
// Every event embeds an [Envelope] carrying the type tag, an ISO-8601 UTC
// timestamp and a unique event identifier. The set of event types is closed:
// handlers switch on [Event.Type] (or a type switch on the concrete pointer)
// rather than inspecting arbitrary values.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type is the tag identifying the concrete kind of an [Event]. It is written
// to the wire as the "event_type" field.
type Type string

const (
	// TypeAudioSegment is published when the segmenter closes an utterance,
	// before transcription starts.
	TypeAudioSegment Type = "audio_segment"

	// TypeTranscriptionResult is published once per segment after
	// transcription, even when the transcript is empty.
	TypeTranscriptionResult Type = "transcription_result"

	// TypeCommandDetected is published when a transcript starts a command
	// with the configured wake word.
	TypeCommandDetected Type = "command_detected"
)

// Types lists every known event type in a stable order.
var Types = []Type{TypeAudioSegment, TypeTranscriptionResult, TypeCommandDetected}

// IsValid reports whether t is one of the known event types.
func (t Type) IsValid() bool {
	switch t {
	case TypeAudioSegment, TypeTranscriptionResult, TypeCommandDetected:
		return true
	}
	return false
}

// Event is implemented by every pipeline event. The interface is sealed: only
// types embedding [Envelope] satisfy it.
type Event interface {
	// Type returns the event's type tag.
	Type() Type

	// ID returns the unique identifier assigned at construction.
	ID() string

	// Timestamp returns the ISO-8601 creation timestamp.
	Timestamp() string

	envelope() Envelope
}

// Envelope holds the fields shared by every event.
type Envelope struct {
	EventType    Type   `json:"event_type"`
	TimestampISO string `json:"timestamp_iso"`
	EventID      string `json:"event_id"`
}

// Type implements [Event].
func (e Envelope) Type() Type { return e.EventType }

// ID implements [Event].
func (e Envelope) ID() string { return e.EventID }

// Timestamp implements [Event].
func (e Envelope) Timestamp() string { return e.TimestampISO }

func (e Envelope) envelope() Envelope { return e }

// now is replaced in tests that need deterministic timestamps.
var now = time.Now

func newEnvelope(t Type) Envelope {
	return Envelope{
		EventType:    t,
		TimestampISO: now().UTC().Format(time.RFC3339Nano),
		EventID:      uuid.NewString(),
	}
}

// AudioSegment describes a closed utterance. The samples themselves are never
// serialised; sinks only receive the metadata.
type AudioSegment struct {
	Envelope
	UtteranceID     string `json:"utterance_id"`
	AudioDurationMs int    `json:"audio_duration_ms"`
	SampleRate      int    `json:"sample_rate"`
	Channels        int    `json:"channels"`
	SampleCount     int    `json:"sample_count"`
}

// NewAudioSegment returns an [AudioSegment] with a fresh envelope.
func NewAudioSegment(utteranceID string, durationMs, sampleRate, channels, sampleCount int) *AudioSegment {
	return &AudioSegment{
		Envelope:        newEnvelope(TypeAudioSegment),
		UtteranceID:     utteranceID,
		AudioDurationMs: durationMs,
		SampleRate:      sampleRate,
		Channels:        channels,
		SampleCount:     sampleCount,
	}
}

// TranscriptionResult carries the transcript produced for one segment.
// Confidence is nil when the backend reports none or transcription failed.
type TranscriptionResult struct {
	Envelope
	Transcript      string   `json:"transcript"`
	Confidence      *float64 `json:"confidence"`
	AudioDurationMs int      `json:"audio_duration_ms"`
	UtteranceID     string   `json:"utterance_id"`
}

// NewTranscriptionResult returns a [TranscriptionResult] with a fresh envelope.
func NewTranscriptionResult(transcript string, confidence *float64, durationMs int, utteranceID string) *TranscriptionResult {
	return &TranscriptionResult{
		Envelope:        newEnvelope(TypeTranscriptionResult),
		Transcript:      transcript,
		Confidence:      confidence,
		AudioDurationMs: durationMs,
		UtteranceID:     utteranceID,
	}
}

// CommandDetected is derived from a [TranscriptionResult] whose transcript
// contained the wake word followed by non-empty command text. Both events
// share the same UtteranceID. WakeWord is the token as it appeared in the
// transcript, not the configured spelling.
type CommandDetected struct {
	Envelope
	RawTranscript   string   `json:"raw_transcript"`
	WakeWord        string   `json:"wake_word"`
	CommandText     string   `json:"command_text"`
	Confidence      *float64 `json:"confidence"`
	AudioDurationMs int      `json:"audio_duration_ms"`
	UtteranceID     string   `json:"utterance_id"`
}

// NewCommandDetected returns a [CommandDetected] with a fresh envelope.
func NewCommandDetected(raw, wakeWord, command string, confidence *float64, durationMs int, utteranceID string) *CommandDetected {
	return &CommandDetected{
		Envelope:        newEnvelope(TypeCommandDetected),
		RawTranscript:   raw,
		WakeWord:        wakeWord,
		CommandText:     command,
		Confidence:      confidence,
		AudioDurationMs: durationMs,
		UtteranceID:     utteranceID,
	}
}

// UtteranceID returns the utterance id carried by ev, or "" for event types
// that have none.
func UtteranceID(ev Event) string {
	switch e := ev.(type) {
	case *AudioSegment:
		return e.UtteranceID
	case *TranscriptionResult:
		return e.UtteranceID
	case *CommandDetected:
		return e.UtteranceID
	}
	return ""
}

// Compile-time interface assertions.
var (
	_ Event = (*AudioSegment)(nil)
	_ Event = (*TranscriptionResult)(nil)
	_ Event = (*CommandDetected)(nil)
)
