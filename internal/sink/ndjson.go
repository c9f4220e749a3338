package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/MrWong99/wakecmd/internal/event"
	"github.com/MrWong99/wakecmd/internal/observe"
)

var _ Sink = (*NDJSONFileSink)(nil)

// NDJSONFileSink appends each event as one JSON line to a local file. The
// file is opened in append mode for every write, so it may be rotated or
// removed while the sink runs. Thread-safe for concurrent use.
type NDJSONFileSink struct {
	mu   sync.Mutex
	path string
}

// NewNDJSONFileSink creates a sink writing to path. The file is created on
// the first event if it does not exist.
func NewNDJSONFileSink(path string) *NDJSONFileSink {
	return &NDJSONFileSink{path: path}
}

// Name implements [Sink].
func (s *NDJSONFileSink) Name() string { return "ndjson_file" }

// Path returns the file the sink appends to.
func (s *NDJSONFileSink) Path() string { return s.path }

// Handle implements [Sink].
func (s *NDJSONFileSink) Handle(ctx context.Context, ev event.Event) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %q: %w", s.path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close %q: %w", s.path, cerr))
		}
	}()

	if err := event.WriteLine(f, ev); err != nil {
		return err
	}
	observe.Logger(ctx).Debug("event written", "path", s.path, "event_type", ev.Type())
	return nil
}

// Close implements [Sink].
func (s *NDJSONFileSink) Close() error { return nil }
