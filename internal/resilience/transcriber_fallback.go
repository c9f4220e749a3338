package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/wakecmd/internal/observe"
	"github.com/MrWong99/wakecmd/pkg/provider/stt"
)

// TranscriberFallback implements [stt.Transcriber] by trying a primary backend
// and then each fallback, every one behind its own circuit breaker. Requests
// and failures are counted per backend.
type TranscriberFallback struct {
	group   *FallbackGroup[stt.Transcriber]
	metrics *observe.Metrics
}

// Compile-time interface assertion.
var _ stt.Transcriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a fallback chain with primary first. A nil
// metrics selects [observe.DefaultMetrics].
func NewTranscriberFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig, metrics *observe.Metrics) *TranscriberFallback {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if cfg.CircuitBreaker.IsFailure == nil {
		// A backend refusing empty input is a caller problem.
		cfg.CircuitBreaker.IsFailure = func(err error) bool {
			return defaultIsFailure(err) && !errors.Is(err, stt.ErrEmptyAudio)
		}
	}
	return &TranscriberFallback{
		group:   NewFallbackGroup(primary, primaryName, cfg),
		metrics: metrics,
	}
}

// AddFallback registers another backend tried after those already added.
func (f *TranscriberFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// Providers returns the backend names in the order they are tried.
func (f *TranscriberFallback) Providers() []string { return f.group.Names() }

// Transcribe implements [stt.Transcriber]. It returns the first successful
// result, or an error wrapping [ErrAllFailed].
func (f *TranscriberFallback) Transcribe(ctx context.Context, samples []int16, sampleRate int) (stt.Result, error) {
	return ExecuteWithResult(ctx, f.group, func(name string, t stt.Transcriber) (stt.Result, error) {
		res, err := t.Transcribe(ctx, samples, sampleRate)
		if err != nil {
			f.metrics.RecordProviderRequest(ctx, name, "stt", "error")
			f.metrics.RecordProviderError(ctx, name, "stt")
			return stt.Result{}, err
		}
		f.metrics.RecordProviderRequest(ctx, name, "stt", "ok")
		return res, nil
	})
}
