// Command wakecmd is the voice command listener. It segments an audio stream
// into utterances, transcribes them, extracts wake-word commands and fans the
// resulting events out to the configured sinks.
//
// Usage:
//
//	wakecmd [-config wakecmd.yaml] [-source stdin|file|tone] [-file in.wav]
//	        [-wake ai] [-silence-ms 900] [-max-utterance-s 10] [-log-level info]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/wakecmd/internal/config"
	"github.com/MrWong99/wakecmd/internal/event"
	"github.com/MrWong99/wakecmd/internal/eventbus"
	"github.com/MrWong99/wakecmd/internal/health"
	"github.com/MrWong99/wakecmd/internal/observe"
	"github.com/MrWong99/wakecmd/internal/pipeline"
	"github.com/MrWong99/wakecmd/internal/resilience"
	"github.com/MrWong99/wakecmd/internal/segment"
	"github.com/MrWong99/wakecmd/internal/sink"
	"github.com/MrWong99/wakecmd/internal/sink/postgres"
	"github.com/MrWong99/wakecmd/internal/wakeword"
	"github.com/MrWong99/wakecmd/pkg/audio"
	"github.com/MrWong99/wakecmd/pkg/provider/stt"
	"github.com/MrWong99/wakecmd/pkg/provider/stt/deepgram"
	"github.com/MrWong99/wakecmd/pkg/provider/stt/openai"
	"github.com/MrWong99/wakecmd/pkg/provider/stt/whisper"
	"github.com/MrWong99/wakecmd/pkg/provider/vad"
	"github.com/MrWong99/wakecmd/pkg/provider/vad/energy"
)

// version is overridden at build time via -ldflags.
var version = "dev"

const (
	stopTimeout = 15 * time.Second

	// defaultWhisperURL is where a local whisper.cpp server listens by default.
	defaultWhisperURL = "http://localhost:8080"

	// defaultAggressiveness is the VAD mode used when providers.vad sets none.
	defaultAggressiveness = 3
)

func main() {
	os.Exit(run())
}

// flags holds the command-line values. Only flags the user actually set are
// applied on top of the config file.
type flags struct {
	configPath   string
	source       string
	file         string
	wake         string
	silenceMs    int
	maxUtterance int
	logLevel     string
	listenAddr   string
	set          map[string]bool
}

func parseFlags(args []string) (*flags, error) {
	f := &flags{set: make(map[string]bool)}
	fs := flag.NewFlagSet("wakecmd", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "path to the YAML configuration file (optional)")
	fs.StringVar(&f.source, "source", "", "audio source: stdin, file or tone")
	fs.StringVar(&f.file, "file", "", "WAV file to read when -source=file")
	fs.StringVar(&f.wake, "wake", "", "wake word")
	fs.IntVar(&f.silenceMs, "silence-ms", 0, "silence that ends an utterance, in milliseconds")
	fs.IntVar(&f.maxUtterance, "max-utterance-s", 0, "maximum utterance length, in seconds")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error")
	fs.StringVar(&f.listenAddr, "listen", "", "health and metrics listen address (e.g. :9090)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	// A file without an explicit source implies file mode.
	if f.set["file"] && !f.set["source"] {
		f.source = string(config.SourceFile)
		f.set["source"] = true
	}
	return f, nil
}

// apply overrides cfg with every flag the user set.
func (f *flags) apply(cfg *config.Config) {
	if f.set["source"] {
		cfg.Audio.Source = config.SourceKind(f.source)
	}
	if f.set["file"] {
		cfg.Audio.File = f.file
	}
	if f.set["wake"] {
		cfg.WakeWord.Token = f.wake
	}
	if f.set["silence-ms"] {
		cfg.Segmenter.SilenceMs = f.silenceMs
	}
	if f.set["max-utterance-s"] {
		cfg.Segmenter.MaxUtteranceS = f.maxUtterance
	}
	if f.set["log-level"] {
		cfg.Server.LogLevel = config.LogLevel(f.logLevel)
	}
	if f.set["listen"] {
		cfg.Server.ListenAddr = f.listenAddr
	}
}

func run() int {
	fl, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	var level slog.LevelVar
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	// ── Config ────────────────────────────────────────────────────────────────
	// The extractor is created after the config is known; the watcher only
	// calls back from Run, which starts later.
	var extractor *wakeword.Extractor
	onChange := func(old, updated *config.Config) {
		applyReload(old, updated, &level, extractor)
	}

	var (
		cfg     *config.Config
		watcher *config.Watcher
	)
	if fl.configPath != "" {
		watcher, err = config.NewWatcher(fl.configPath, onChange, config.WithOverrides(fl.apply))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "wakecmd: config file not found: %s\n", fl.configPath)
				return 1
			}
			fmt.Fprintf(os.Stderr, "wakecmd: %v\n", err)
			return 1
		}
		cfg = watcher.Current()
	} else {
		cfg = config.Default()
		fl.apply(cfg)
		if err := config.Validate(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "wakecmd: invalid configuration:\n%v\n", err)
			return 1
		}
	}
	level.Set(slogLevel(cfg.Server.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.NewTelemetry(ctx, observe.TelemetryConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	telemetry.Install()
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := telemetry.Metrics

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	vadEngine, err := reg.CreateVAD(cfg.Providers.VAD)
	if err != nil {
		slog.Error("failed to create VAD provider", "err", err)
		return 1
	}
	transcriber, closers, err := buildTranscriber(reg, cfg.Providers, metrics)
	defer closeAll(closers)
	if err != nil {
		slog.Error("failed to create STT provider", "err", err)
		return 1
	}

	wwOpts := []wakeword.Option{wakeword.WithCaseSensitive(cfg.WakeWord.CaseSensitive)}
	if cfg.WakeWord.Phonetic > 0 {
		wwOpts = append(wwOpts, wakeword.WithPhonetic(cfg.WakeWord.Phonetic))
	}
	extractor, err = wakeword.New(cfg.WakeWord.Token, wwOpts...)
	if err != nil {
		slog.Error("invalid wake word", "err", err)
		return 1
	}

	source, err := buildSource(ctx, cfg.Audio, metrics)
	if err != nil {
		slog.Error("failed to open audio source", "source", cfg.Audio.Source, "err", err)
		return 1
	}

	// ── Event bus and sinks ───────────────────────────────────────────────────
	bus := eventbus.New(
		eventbus.WithWorkers(cfg.Bus.Workers),
		eventbus.WithQueueSize(cfg.Bus.QueueSize),
		eventbus.WithMetrics(metrics),
	)
	hh := health.New()

	sinks, err := buildSinks(ctx, cfg.Sinks, hh)
	defer func() {
		if err := sink.CloseAll(sinks...); err != nil {
			slog.Warn("error closing sinks", "err", err)
		}
	}()
	if err != nil {
		slog.Error("failed to create sinks", "err", err)
		_ = source.Close()
		return 1
	}
	types := make([]event.Type, len(cfg.Sinks.EventTypes))
	for i, t := range cfg.Sinks.EventTypes {
		types[i] = event.Type(t)
	}
	for _, s := range sinks {
		sink.Attach(bus, s, types, metrics)
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	p, err := pipeline.New(pipeline.Config{
		SampleRate: cfg.Audio.SampleRate,
		Segmenter: segment.Config{
			SampleRate:    cfg.Audio.SampleRate,
			SilenceMs:     cfg.Segmenter.SilenceMs,
			MinSegmentMs:  cfg.Segmenter.MinSegmentMs,
			MaxUtteranceS: cfg.Segmenter.MaxUtteranceS,
		},
		VADAggressiveness: cfg.Providers.VAD.OptionInt("aggressiveness", defaultAggressiveness),
		DrainTimeout:      cfg.Bus.ShutdownTimeout,
	}, pipeline.Components{
		Source:      source,
		VAD:         vadEngine,
		Transcriber: transcriber,
		Extractor:   extractor,
		Bus:         bus,
	}, pipeline.WithMetrics(metrics))
	if err != nil {
		slog.Error("failed to create pipeline", "err", err)
		_ = source.Close()
		_ = bus.Shutdown(cfg.Bus.ShutdownTimeout)
		return 1
	}
	hh.Add(p.Checker())

	printStartupSummary(cfg, transcriber, sinks)

	// ── Run ───────────────────────────────────────────────────────────────────
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)

	if err := p.Start(gctx); err != nil {
		slog.Error("failed to start pipeline", "err", err)
		return 1
	}

	// A file source ends the pipeline on its own; everything else follows.
	g.Go(func() error {
		err := p.Wait()
		cancelRun()
		if err != nil {
			slog.Warn("pipeline stopped with error", "err", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), stopTimeout)
		defer cancel()
		if err := p.Stop(sctx); err != nil && !errors.Is(err, eventbus.ErrShutdownTimeout) {
			return fmt.Errorf("stop pipeline: %w", err)
		}
		return nil
	})
	if cfg.Server.ListenAddr != "" {
		g.Go(func() error {
			return serveAdmin(gctx, cfg.Server.ListenAddr, hh, telemetry)
		})
	}
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	slog.Info("wakecmd listening", "source", cfg.Audio.Source, "wake_word", cfg.WakeWord.Token)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("wakecmd stopped with error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// applyReload pushes the hot-reloadable parts of a changed config into the
// running process and reports the rest.
func applyReload(old, updated *config.Config, level *slog.LevelVar, ex *wakeword.Extractor) {
	d := config.Diff(old, updated)
	if d.LogLevelChanged {
		level.Set(slogLevel(updated.Server.LogLevel))
		slog.Info("log level changed", "level", updated.Server.LogLevel)
	}
	if d.WakeWordChanged && ex != nil {
		ww := updated.WakeWord
		if err := ex.SetWakeWord(ww.Token, ww.CaseSensitive); err != nil {
			slog.Warn("wake word not updated", "err", err)
		} else {
			slog.Info("wake word changed", "wake_word", ww.Token, "case_sensitive", ww.CaseSensitive)
		}
		if ww.Phonetic != old.WakeWord.Phonetic {
			slog.Warn("config change requires restart", "sections", []string{"wake_word.phonetic"})
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config change requires restart", "sections", d.RestartRequired)
	}
}

// registerBuiltinProviders registers all built-in provider factories with reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterVAD("energy", func(e config.ProviderEntry) (vad.Engine, error) {
		var opts []energy.Option
		if th := e.OptionFloat("threshold", 0); th > 0 {
			opts = append(opts, energy.WithThreshold(th))
		}
		return energy.New(opts...), nil
	})

	reg.RegisterSTT("whisper", func(e config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if e.Model != "" {
			opts = append(opts, whisper.WithModel(e.Model))
		}
		if e.Language != "" {
			opts = append(opts, whisper.WithLanguage(e.Language))
		}
		baseURL := e.BaseURL
		if baseURL == "" {
			baseURL = defaultWhisperURL
		}
		return whisper.New(baseURL, opts...)
	})
	reg.RegisterSTT("whisper-native", func(e config.ProviderEntry) (stt.Transcriber, error) {
		modelPath := e.Model
		if p := optString(e.Options, "model_path"); p != "" {
			modelPath = p
		}
		var opts []whisper.NativeOption
		if e.Language != "" {
			opts = append(opts, whisper.WithNativeLanguage(e.Language))
		}
		return whisper.NewNative(modelPath, opts...)
	})
	reg.RegisterSTT("deepgram", func(e config.ProviderEntry) (stt.Transcriber, error) {
		var opts []deepgram.Option
		if e.Model != "" {
			opts = append(opts, deepgram.WithModel(e.Model))
		}
		if e.Language != "" {
			opts = append(opts, deepgram.WithLanguage(e.Language))
		}
		if kw := e.OptionStrings("keywords"); len(kw) > 0 {
			opts = append(opts, deepgram.WithKeywords(kw...))
		}
		if e.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(e.BaseURL))
		}
		return deepgram.New(e.APIKey, opts...)
	})
	reg.RegisterSTT("openai", func(e config.ProviderEntry) (stt.Transcriber, error) {
		var opts []openai.Option
		if e.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(e.BaseURL))
		}
		if e.Language != "" {
			opts = append(opts, openai.WithLanguage(e.Language))
		}
		if ms := e.OptionInt("timeout_ms", 0); ms > 0 {
			opts = append(opts, openai.WithTimeout(time.Duration(ms)*time.Millisecond))
		}
		return openai.New(e.APIKey, e.Model, opts...)
	})
}

// buildTranscriber creates the primary STT backend and its fallbacks behind
// a [resilience.TranscriberFallback]. Backends holding native resources are
// returned as closers even when a later backend fails to build.
func buildTranscriber(reg *config.Registry, pc config.ProvidersConfig, m *observe.Metrics) (*resilience.TranscriberFallback, []io.Closer, error) {
	var closers []io.Closer
	create := func(e config.ProviderEntry) (stt.Transcriber, error) {
		t, err := reg.CreateSTT(e)
		if err != nil {
			return nil, err
		}
		if c, ok := t.(io.Closer); ok {
			closers = append(closers, c)
		}
		return t, nil
	}

	primary, err := create(pc.STT)
	if err != nil {
		return nil, closers, err
	}
	fb := resilience.NewTranscriberFallback(primary, pc.STT.Name, resilience.FallbackConfig{}, m)
	for i, e := range pc.STTFallbacks {
		t, err := create(e)
		if err != nil {
			return nil, closers, fmt.Errorf("stt fallback %d (%s): %w", i, e.Name, err)
		}
		fb.AddFallback(e.Name, t)
	}
	return fb, closers, nil
}

// buildSource opens the configured audio source. Push sources share one
// bounded capture queue whose drops are counted in metrics.
func buildSource(ctx context.Context, ac config.AudioConfig, m *observe.Metrics) (audio.Source, error) {
	if ac.Source == config.SourceFile {
		return audio.OpenWAV(ac.File, ac.SampleRate, audio.WithChunkSamples(ac.ChunkSize))
	}

	policy := audio.DropOldest
	if ac.Overflow == config.OverflowBlock {
		policy = audio.BlockWithTimeout
	}
	q := audio.NewQueue(ac.QueueSize, policy,
		audio.WithBlockTimeout(ac.BlockTimeout),
		audio.WithDropHook(func() { m.RecordChunkDropped(ctx, policy.String()) }),
	)

	switch ac.Source {
	case config.SourceStdin:
		format := audio.Format{SampleRate: ac.SampleRate, Channels: ac.InputChannels}
		return audio.NewReaderSource(os.Stdin, format, q, audio.WithReaderChunkSamples(ac.ChunkSize)), nil
	case config.SourceTone:
		return audio.NewToneSource(ac.SampleRate, demoPattern(), q,
			audio.WithRepeat(),
			audio.WithToneChunkSamples(ac.ChunkSize),
		), nil
	default:
		return nil, fmt.Errorf("unknown audio source %q", ac.Source)
	}
}

// demoPattern alternates a short burst, a long burst and silence, producing
// one discarded and one emitted segment per loop.
func demoPattern() []audio.ToneSegment {
	return []audio.ToneSegment{
		{Hz: 440, Amplitude: 8000, Duration: 150 * time.Millisecond},
		{Duration: 1200 * time.Millisecond},
		{Hz: 220, Amplitude: 8000, Duration: 1500 * time.Millisecond},
		{Duration: 1500 * time.Millisecond},
	}
}

// buildSinks creates every enabled sink. The postgres sink also registers a
// readiness check with hh. On error the sinks created so far are returned so
// the caller can close them.
func buildSinks(ctx context.Context, sc config.SinksConfig, hh *health.Handler) ([]sink.Sink, error) {
	var sinks []sink.Sink
	if sc.Stdout {
		sinks = append(sinks, sink.NewLogSink(os.Stdout))
	}
	if sc.NDJSONPath != "" {
		sinks = append(sinks, sink.NewNDJSONFileSink(sc.NDJSONPath))
	}
	if sc.Trigger.Enabled || sc.Trigger.WebhookURL != "" {
		var opts []sink.TriggerOption
		if sc.Trigger.WebhookURL != "" {
			opts = append(opts, sink.WithWebhook(sc.Trigger.WebhookURL))
		}
		sinks = append(sinks, sink.NewTriggerSink(opts...))
	}
	if sc.PostgresDSN != "" {
		store, err := postgres.NewStore(ctx, sc.PostgresDSN)
		if err != nil {
			return sinks, err
		}
		hh.Add(health.PingChecker("postgres", store))
		sinks = append(sinks, store)
	}
	if sc.WebSocketURL != "" {
		ws := sink.NewWebSocketSink(sc.WebSocketURL)
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := ws.Connect(cctx); err != nil {
			slog.Warn("websocket sink not connected yet, will retry on next event", "url", sc.WebSocketURL, "err", err)
		}
		cancel()
		sinks = append(sinks, ws)
	}
	return sinks, nil
}

// serveAdmin serves health probes and the telemetry registry on addr until
// ctx is done.
func serveAdmin(ctx context.Context, addr string, hh *health.Handler, tel *observe.Telemetry) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           adminHandler(hh, tel),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("admin server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("admin server: %w", err)
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("admin server shutdown: %w", err)
	}
	return nil
}

func adminHandler(hh *health.Handler, tel *observe.Telemetry) http.Handler {
	mux := http.NewServeMux()
	hh.Register(mux)
	mux.Handle("GET /metrics", tel.MetricsHandler())
	return observe.Middleware(tel.Metrics)(mux)
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			slog.Warn("error closing provider", "err", err)
		}
	}
}

func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string from a provider options map.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key].(string)
	if !ok {
		return ""
	}
	return v
}

// printStartupSummary writes a human-readable overview to stderr so that
// stdout stays reserved for events.
func printStartupSummary(cfg *config.Config, t *resilience.TranscriberFallback, sinks []sink.Sink) {
	names := make([]string, len(sinks))
	for i, s := range sinks {
		names[i] = s.Name()
	}
	source := string(cfg.Audio.Source)
	if cfg.Audio.Source == config.SourceFile {
		source += " (" + cfg.Audio.File + ")"
	}
	listen := cfg.Server.ListenAddr
	if listen == "" {
		listen = "disabled"
	}

	w := os.Stderr
	fmt.Fprintln(w, "┌─────────────────────────────────────────┐")
	fmt.Fprintf(w, "│  wakecmd %-31s│\n", version)
	fmt.Fprintln(w, "├─────────────────────────────────────────┤")
	fmt.Fprintf(w, "│  Source:      %-26s│\n", source)
	fmt.Fprintf(w, "│  Sample rate: %-26d│\n", cfg.Audio.SampleRate)
	fmt.Fprintf(w, "│  Wake word:   %-26s│\n", cfg.WakeWord.Token)
	fmt.Fprintf(w, "│  VAD:         %-26s│\n", cfg.Providers.VAD.Name)
	fmt.Fprintf(w, "│  STT:         %-26s│\n", strings.Join(t.Providers(), " → "))
	fmt.Fprintf(w, "│  Sinks:       %-26s│\n", strings.Join(names, ", "))
	fmt.Fprintf(w, "│  Events:      %-26s│\n", strings.Join(cfg.Sinks.EventTypes, ", "))
	fmt.Fprintf(w, "│  Admin:       %-26s│\n", listen)
	fmt.Fprintln(w, "└─────────────────────────────────────────┘")
}
