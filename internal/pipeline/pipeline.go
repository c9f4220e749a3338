// Package pipeline drives the listener: it pulls audio from a source, cuts
// it into speech segments, transcribes each segment, looks for the wake word
// and publishes the resulting events on the bus.
//
// A [Pipeline] moves through four states: Initialized, Running, Stopping and
// Stopped. All processing happens on one goroutine, so chunks are handled
// strictly in order. Stopping flushes the segmenter (the trailing utterance
// is still transcribed) and drains the event bus.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/wakecmd/internal/event"
	"github.com/MrWong99/wakecmd/internal/eventbus"
	"github.com/MrWong99/wakecmd/internal/health"
	"github.com/MrWong99/wakecmd/internal/observe"
	"github.com/MrWong99/wakecmd/internal/segment"
	"github.com/MrWong99/wakecmd/internal/wakeword"
	"github.com/MrWong99/wakecmd/pkg/audio"
	"github.com/MrWong99/wakecmd/pkg/provider/stt"
	"github.com/MrWong99/wakecmd/pkg/provider/vad"
)

// Sentinel errors.
var (
	// ErrInvalidConfiguration is returned by [New] for unusable settings or
	// missing components.
	ErrInvalidConfiguration = errors.New("pipeline: invalid configuration")

	// ErrNotInitialized is returned by [Pipeline.Start] when the pipeline
	// was already started or stopped.
	ErrNotInitialized = errors.New("pipeline: not in initialized state")
)

// Defaults applied by [New] for zero-valued [Config] fields.
const (
	DefaultChunkTimeout    = 100 * time.Millisecond
	DefaultDrainTimeout    = 5 * time.Second
	DefaultRetryBackoff    = 100 * time.Millisecond
	DefaultMaxRetryBackoff = 2 * time.Second
)

// State is the lifecycle state of a [Pipeline].
type State int32

const (
	StateInitialized State = iota
	StateRunning
	StateStopping
	StateStopped
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Config holds the pipeline tuning knobs.
type Config struct {
	// SampleRate is the rate segments are cut and transcribed at. Chunks of
	// any other format are converted to mono at this rate.
	SampleRate int

	// Segmenter configures utterance detection. Its SampleRate is taken from
	// the field above.
	Segmenter segment.Config

	// VADAggressiveness is passed to the VAD engine (0..3).
	VADAggressiveness int

	// ChunkTimeout bounds each wait for the next chunk, and therefore how
	// quickly Stop is noticed. Default: 100ms.
	ChunkTimeout time.Duration

	// DrainTimeout bounds the event bus drain during Stop. It does not limit
	// transcription of the trailing segment. Default: 5s.
	DrainTimeout time.Duration

	// RetryBackoff and MaxRetryBackoff bound the delay after a failed chunk
	// acquisition. The delay doubles per consecutive failure. Defaults:
	// 100ms and 2s.
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
}

// Components are the collaborators a pipeline drives. All fields are
// required.
type Components struct {
	Source      audio.Source
	VAD         vad.Engine
	Transcriber stt.Transcriber
	Extractor   *wakeword.Extractor
	Bus         *eventbus.Bus
}

// Option is a functional option for [New].
type Option func(*Pipeline)

// WithMetrics records pipeline metrics to m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithUtteranceIDs replaces [NewUtteranceID], for tests that need
// predictable ids.
func WithUtteranceIDs(fn func() string) Option {
	return func(p *Pipeline) { p.newID = fn }
}

// Pipeline is the segmentation, transcription and wake word loop. Start,
// Stop, Wait and State are safe for concurrent use.
type Pipeline struct {
	cfg         Config
	source      audio.Source
	transcriber stt.Transcriber
	extractor   *wakeword.Extractor
	bus         *eventbus.Bus
	segmenter   *segment.Segmenter
	conv        *audio.FormatConverter
	metrics     *observe.Metrics
	newID       func() string

	state atomic.Int32

	// mu guards the fields set by Start and read by the stop sequence.
	mu            sync.Mutex
	runCtx        context.Context
	cancelAcquire context.CancelFunc
	started       bool

	stopOnce sync.Once
	stopping chan struct{} // closed when Stop begins
	loopDone chan struct{} // closed when the processing loop returns
	stopped  chan struct{} // closed once Stopped is reached
	stopErr  error
}

// New validates cfg and wires the components into an Initialized pipeline.
// Configuration errors are reported here and wrap [ErrInvalidConfiguration].
func New(cfg Config, c Components, opts ...Option) (*Pipeline, error) {
	var errs []error
	if c.Source == nil {
		errs = append(errs, errors.New("source is required"))
	}
	if c.VAD == nil {
		errs = append(errs, errors.New("vad engine is required"))
	}
	if c.Transcriber == nil {
		errs = append(errs, errors.New("transcriber is required"))
	}
	if c.Extractor == nil {
		errs = append(errs, errors.New("wake word extractor is required"))
	}
	if c.Bus == nil {
		errs = append(errs, errors.New("event bus is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}

	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = DefaultChunkTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.MaxRetryBackoff <= 0 {
		cfg.MaxRetryBackoff = DefaultMaxRetryBackoff
	}
	cfg.MaxRetryBackoff = max(cfg.MaxRetryBackoff, cfg.RetryBackoff)

	cls, err := c.VAD.NewClassifier(vad.Config{
		SampleRate:     cfg.SampleRate,
		FrameSizeMs:    segment.FrameMs,
		Aggressiveness: cfg.VADAggressiveness,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: vad: %w", ErrInvalidConfiguration, err)
	}

	p := &Pipeline{
		cfg:         cfg,
		source:      c.Source,
		transcriber: c.Transcriber,
		extractor:   c.Extractor,
		bus:         c.Bus,
		conv:        &audio.FormatConverter{Target: audio.Format{SampleRate: cfg.SampleRate, Channels: 1}},
		newID:       NewUtteranceID,
		stopping:    make(chan struct{}),
		loopDone:    make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}

	segCfg := cfg.Segmenter
	segCfg.SampleRate = cfg.SampleRate
	p.segmenter, err = segment.New(segCfg, cls, segment.WithDiscardHook(p.onDiscard))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	return p, nil
}

// NewUtteranceID returns an id of the form utt_<unix-ms>_<8 hex chars>.
func NewUtteranceID() string {
	return fmt.Sprintf("utt_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State { return State(p.state.Load()) }

// Running reports whether the pipeline is in the Running state.
func (p *Pipeline) Running() bool { return p.State() == StateRunning }

// Checker returns a readiness check that passes while the pipeline runs.
func (p *Pipeline) Checker() health.Checker {
	return health.FuncChecker("pipeline", p.Running, func() string {
		return "pipeline is " + p.State().String()
	})
}

// Start moves the pipeline from Initialized to Running, starts push sources
// and launches the processing loop. The loop ends at end of stream, on
// [Pipeline.Stop] or when ctx is cancelled; in every case the pipeline then
// runs the stop sequence itself.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if !p.state.CompareAndSwap(int32(StateInitialized), int32(StateRunning)) {
		p.mu.Unlock()
		return fmt.Errorf("%w: state is %s", ErrNotInitialized, p.State())
	}
	acquireCtx, cancel := context.WithCancel(ctx)
	p.runCtx = ctx
	p.cancelAcquire = cancel

	if st, ok := p.source.(audio.Starter); ok {
		if err := st.Start(acquireCtx); err != nil {
			p.mu.Unlock()
			close(p.loopDone)
			_ = p.Stop(context.WithoutCancel(ctx))
			return fmt.Errorf("pipeline: start source: %w", err)
		}
	}

	p.started = true
	p.metrics.ActivePipelines.Add(ctx, 1)
	slog.Info("pipeline started",
		"sample_rate", p.cfg.SampleRate,
		"source", p.source.Format().String(),
	)

	go func() {
		p.loop(acquireCtx)
		close(p.loopDone)
		if err := p.Stop(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("pipeline stop after loop exit", "err", err)
		}
	}()
	p.mu.Unlock()
	return nil
}

// Stop ends processing and brings the pipeline to Stopped. It is idempotent,
// safe before Start and safe from any goroutine. The loop exits at the next
// chunk boundary; the segmenter is then flushed (a trailing segment is still
// transcribed and published) and the bus is drained.
//
// ctx bounds only how long Stop waits; the stop sequence keeps running if
// ctx ends first. A bus drain timeout is returned wrapped, but the pipeline
// still reaches Stopped.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		close(p.stopping)
		go p.shutdown()
	})
	select {
	case <-p.stopped:
		return p.stopErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the pipeline has reached Stopped and returns the stop
// sequence's error.
func (p *Pipeline) Wait() error {
	<-p.stopped
	return p.stopErr
}

func (p *Pipeline) shutdown() {
	defer close(p.stopped)

	if p.state.CompareAndSwap(int32(StateInitialized), int32(StateStopped)) {
		// Never started: release what New was handed.
		p.stopErr = errors.Join(p.closeSource(), p.drainBus())
		slog.Debug("pipeline stopped before start")
		return
	}

	p.state.Store(int32(StateStopping))
	slog.Info("pipeline stopping")

	p.mu.Lock()
	runCtx, cancelAcquire, started := p.runCtx, p.cancelAcquire, p.started
	p.mu.Unlock()

	cancelAcquire()
	<-p.loopDone

	srcErr := p.closeSource()

	// The trailing segment gets the same transcription budget as a live one.
	if seg, ok := p.segmenter.Flush(); ok {
		p.handleSegment(context.WithoutCancel(runCtx), seg, "flush")
	}

	busErr := p.drainBus()
	p.stopErr = errors.Join(srcErr, busErr)
	p.state.Store(int32(StateStopped))
	if started {
		p.metrics.ActivePipelines.Add(context.Background(), -1)
	}
	slog.Info("pipeline stopped")
}

func (p *Pipeline) closeSource() error {
	if err := p.source.Close(); err != nil {
		return fmt.Errorf("pipeline: close source: %w", err)
	}
	return nil
}

func (p *Pipeline) drainBus() error {
	if err := p.bus.Shutdown(p.cfg.DrainTimeout); err != nil {
		slog.Warn("event bus did not drain in time", "timeout", p.cfg.DrainTimeout, "err", err)
		return fmt.Errorf("pipeline: %w", err)
	}
	return nil
}

// loop is the single processing goroutine. It returns at end of stream or
// once ctx is cancelled (by Stop or by the caller).
func (p *Pipeline) loop(ctx context.Context) {
	backoff := p.cfg.RetryBackoff
	for {
		select {
		case <-p.stopping:
			return
		case <-ctx.Done():
			return
		default:
		}

		chunk, ok, err := p.source.NextChunk(ctx, p.cfg.ChunkTimeout)
		switch {
		case errors.Is(err, io.EOF):
			slog.Info("audio stream ended")
			return
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			slog.Warn("audio acquisition failed, retrying", "backoff", backoff, "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, p.cfg.MaxRetryBackoff)
			continue
		case !ok:
			continue
		}
		backoff = p.cfg.RetryBackoff
		p.processChunk(context.WithoutCancel(ctx), chunk)
	}
}

// processChunk runs one chunk through the segmenter. ctx is detached from
// Stop so a segment completed by this chunk is fully handled.
func (p *Pipeline) processChunk(ctx context.Context, chunk audio.Chunk) {
	p.metrics.ChunksProcessed.Add(ctx, 1)
	seg, ok := p.segmenter.ProcessChunk(p.conv.Convert(chunk))
	if !ok {
		return
	}
	reason := "silence"
	if seg.Forced {
		reason = "max_length"
	}
	p.handleSegment(ctx, seg, reason)
}

// handleSegment publishes the events for one completed segment: the
// audio_segment, then the transcription_result and, when the wake word is
// present, the command_detected. All three share one utterance id.
func (p *Pipeline) handleSegment(ctx context.Context, seg segment.Segment, reason string) {
	id := p.newID()
	ctx = observe.WithUtteranceID(ctx, id)
	log := observe.Logger(ctx)
	p.metrics.RecordSegment(ctx, "emitted", reason)
	p.metrics.SegmentDuration.Record(ctx, float64(seg.DurationMs)/1000)

	p.publish(ctx, event.NewAudioSegment(id, seg.DurationMs, seg.SampleRate, 1, len(seg.Samples)))

	text, confidence := p.transcribe(ctx, seg)
	p.publish(ctx, event.NewTranscriptionResult(text, confidence, seg.DurationMs, id))
	if text == "" {
		return
	}

	m, ok := p.extractor.Detect(text)
	if !ok {
		log.Debug("no wake word in transcript")
		return
	}
	p.metrics.RecordCommand(ctx, m.Phonetic)
	log.Info("command detected", "wake_word", m.WakeWord, "command", m.Command, "phonetic", m.Phonetic)
	p.publish(ctx, event.NewCommandDetected(text, m.WakeWord, m.Command, confidence, seg.DurationMs, id))
}

// transcribe runs the transcriber synchronously. A failure yields an empty
// transcript without confidence.
func (p *Pipeline) transcribe(ctx context.Context, seg segment.Segment) (string, *float64) {
	ctx, span := observe.StartSpan(ctx, "pipeline.transcribe", trace.WithAttributes(
		attribute.String("utterance_id", observe.UtteranceID(ctx)),
		attribute.Int("audio_duration_ms", seg.DurationMs),
	))
	defer span.End()

	start := time.Now()
	res, err := p.transcriber.Transcribe(ctx, seg.Samples, seg.SampleRate)
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.metrics.STTDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("status", status)))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transcription failed")
		observe.Logger(ctx).Error("transcription failed", "err", err)
		return "", nil
	}
	text := strings.TrimSpace(res.Text)
	observe.Logger(ctx).Info("transcribed segment", "transcript", text, "duration_ms", seg.DurationMs)
	return text, res.Confidence
}

func (p *Pipeline) publish(ctx context.Context, ev event.Event) {
	if err := p.bus.Publish(ctx, ev); err != nil {
		observe.Logger(ctx).Warn("event not published", "event_type", ev.Type(), "event_id", ev.ID(), "err", err)
	}
}

func (p *Pipeline) onDiscard(reason segment.DiscardReason, durationMs int) {
	p.metrics.RecordSegment(context.Background(), "discarded", string(reason))
	slog.Debug("segment discarded", "reason", reason, "duration_ms", durationMs)
}
