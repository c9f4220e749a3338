// Package sink delivers pipeline events to their destinations: the console,
// an NDJSON file, a downstream trigger, a remote websocket collector and
// (in the postgres sub-package) a database table.
//
// Sinks are plain event handlers. [Attach] subscribes a sink to the event
// bus for a set of event types and counts every delivery in metrics.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/wakecmd/internal/event"
	"github.com/MrWong99/wakecmd/internal/eventbus"
	"github.com/MrWong99/wakecmd/internal/observe"
)

// Sink receives events from the bus.
//
// Handle is invoked from bus worker goroutines and must be safe for
// concurrent use.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Handle delivers one event.
	Handle(ctx context.Context, ev event.Event) error

	// Close releases the sink's resources.
	Close() error
}

// Instrument wraps s as a bus handler that records each delivery in m.
// A nil m uses [observe.DefaultMetrics].
func Instrument(s Sink, m *observe.Metrics) eventbus.Handler {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	name := s.Name()
	return func(ctx context.Context, ev event.Event) error {
		if err := s.Handle(ctx, ev); err != nil {
			m.RecordSinkWrite(ctx, name, "error")
			return fmt.Errorf("sink %s: %w", name, err)
		}
		m.RecordSinkWrite(ctx, name, "ok")
		return nil
	}
}

// Attach subscribes s to every type in types and returns the subscription
// ids in the same order.
func Attach(b *eventbus.Bus, s Sink, types []event.Type, m *observe.Metrics) []eventbus.SubscriptionID {
	h := Instrument(s, m)
	ids := make([]eventbus.SubscriptionID, 0, len(types))
	for _, t := range types {
		ids = append(ids, b.Subscribe(t, h))
	}
	return ids
}

// CloseAll closes every sink and joins their errors.
func CloseAll(sinks ...Sink) error {
	var errs []error
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: close: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func formatConfidence(c *float64) string {
	if c == nil {
		return "none"
	}
	return fmt.Sprintf("%.2f", *c)
}
