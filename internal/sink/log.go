package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/MrWong99/wakecmd/internal/event"
	"github.com/MrWong99/wakecmd/internal/observe"
)

var _ Sink = (*LogSink)(nil)

// LogSink prints one human-readable line per event. Commands get a short
// summary; other events are printed as their type tag and JSON body.
type LogSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLogSink returns a LogSink writing to w, or to stdout when w is nil.
func NewLogSink(w io.Writer) *LogSink {
	if w == nil {
		w = os.Stdout
	}
	return &LogSink{w: w}
}

// Name implements [Sink].
func (s *LogSink) Name() string { return "stdout" }

// Handle implements [Sink].
func (s *LogSink) Handle(ctx context.Context, ev event.Event) error {
	var line string
	if cmd, ok := ev.(*event.CommandDetected); ok {
		line = fmt.Sprintf("COMMAND DETECTED: '%s' (wake: '%s', confidence: %s)\n",
			cmd.CommandText, cmd.WakeWord, formatConfidence(cmd.Confidence))
	} else {
		data, err := event.Marshal(ev)
		if err != nil {
			return err
		}
		line = strings.ToUpper(string(ev.Type())) + ": " + string(data) + "\n"
	}

	s.mu.Lock()
	_, err := io.WriteString(s.w, line)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}

	observe.Logger(ctx).Debug("event printed",
		"event_type", ev.Type(),
		"event_id", ev.ID(),
		"utterance_id", event.UtteranceID(ev),
	)
	return nil
}

// Close implements [Sink]. The writer is owned by the caller.
func (s *LogSink) Close() error { return nil }
