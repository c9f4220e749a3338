package event

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrUnknownEventType is returned by [Unmarshal] when the "event_type" tag is
// missing or not one of the known [Type] values.
var ErrUnknownEventType = errors.New("event: unknown event type")

// decoders maps every event type to the function that decodes its full
// payload. Dispatch is driven by the tag alone.
var decoders = map[Type]func([]byte) (Event, error){
	TypeAudioSegment:        decodeInto[AudioSegment],
	TypeTranscriptionResult: decodeInto[TranscriptionResult],
	TypeCommandDetected:     decodeInto[CommandDetected],
}

func decodeInto[T any, P interface {
	*T
	Event
}](data []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return P(&v), nil
}

// Marshal encodes ev as a single-line JSON object without a trailing newline.
func Marshal(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("event: marshal %s: %w", ev.Type(), err)
	}
	return data, nil
}

// Unmarshal decodes one JSON object produced by [Marshal] back into the
// concrete event type named by its "event_type" field.
func Unmarshal(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("event: decode envelope: %w", err)
	}
	dec, ok := decoders[env.EventType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.EventType)
	}
	ev, err := dec(data)
	if err != nil {
		return nil, fmt.Errorf("event: decode %s: %w", env.EventType, err)
	}
	return ev, nil
}

// WriteLine writes ev to w as one NDJSON line.
func WriteLine(w io.Writer, ev Event) error {
	data, err := Marshal(ev)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("event: write line: %w", err)
	}
	return nil
}

// ReadAll decodes every non-empty line from r. Decoding stops at the first
// malformed line and returns the events read so far alongside the error.
func ReadAll(r io.Reader) ([]Event, error) {
	var events []Event
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		ev, err := Unmarshal(b)
		if err != nil {
			return events, fmt.Errorf("event: line %d: %w", line, err)
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return events, fmt.Errorf("event: scan: %w", err)
	}
	return events, nil
}
