package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/wakecmd/internal/event"
	"github.com/MrWong99/wakecmd/internal/segment"
	"github.com/MrWong99/wakecmd/pkg/provider/vad"
)

// Default values applied by [ApplyDefaults].
const (
	DefaultLogLevel        = LogInfo
	DefaultSource          = SourceStdin
	DefaultSampleRate      = 16000
	DefaultChunkSize       = 1024
	DefaultQueueSize       = 100
	DefaultOverflow        = OverflowDropOldest
	DefaultBlockTimeout    = 100 * time.Millisecond
	DefaultSilenceMs       = 900
	DefaultMinSegmentMs    = 300
	DefaultMaxUtteranceS   = 10
	DefaultWakeWord        = "ai"
	DefaultBusWorkers      = 4
	DefaultBusQueueSize    = 256
	DefaultShutdownTimeout = 5 * time.Second
	DefaultVAD             = "energy"
	DefaultSTT             = "whisper"
	DefaultNDJSONPath      = "events.log"
)

// ValidProviderNames lists known provider names per provider kind. Used by
// [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"vad": {"energy"},
	"stt": {"whisper", "whisper-native", "deepgram", "openai"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected. An empty document yields
// the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields of cfg. When no sink is configured
// at all, the stdout, NDJSON file and trigger sinks are enabled.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = DefaultLogLevel
	}

	a := &cfg.Audio
	if a.Source == "" {
		a.Source = DefaultSource
	}
	if a.SampleRate == 0 {
		a.SampleRate = DefaultSampleRate
	}
	if a.InputChannels == 0 {
		a.InputChannels = 1
	}
	if a.ChunkSize == 0 {
		a.ChunkSize = DefaultChunkSize
	}
	if a.QueueSize == 0 {
		a.QueueSize = DefaultQueueSize
	}
	if a.Overflow == "" {
		a.Overflow = DefaultOverflow
	}
	if a.BlockTimeout == 0 {
		a.BlockTimeout = DefaultBlockTimeout
	}

	s := &cfg.Segmenter
	if s.SilenceMs == 0 {
		s.SilenceMs = DefaultSilenceMs
	}
	if s.MinSegmentMs == 0 {
		s.MinSegmentMs = DefaultMinSegmentMs
	}
	if s.MaxUtteranceS == 0 {
		s.MaxUtteranceS = DefaultMaxUtteranceS
	}

	if cfg.WakeWord.Token == "" {
		cfg.WakeWord.Token = DefaultWakeWord
	}

	b := &cfg.Bus
	if b.Workers == 0 {
		b.Workers = DefaultBusWorkers
	}
	if b.QueueSize == 0 {
		b.QueueSize = DefaultBusQueueSize
	}
	if b.ShutdownTimeout == 0 {
		b.ShutdownTimeout = DefaultShutdownTimeout
	}

	if cfg.Providers.VAD.Name == "" {
		cfg.Providers.VAD.Name = DefaultVAD
	}
	if cfg.Providers.STT.Name == "" {
		cfg.Providers.STT.Name = DefaultSTT
	}

	sk := &cfg.Sinks
	if len(sk.EventTypes) == 0 {
		sk.EventTypes = []string{string(event.TypeCommandDetected)}
	}
	if !sk.anyEnabled() {
		sk.Stdout = true
		sk.NDJSONPath = DefaultNDJSONPath
		sk.Trigger.Enabled = true
	}
}

func (s SinksConfig) anyEnabled() bool {
	return s.Stdout || s.NDJSONPath != "" || s.Trigger.Enabled || s.Trigger.WebhookURL != "" ||
		s.PostgresDSN != "" || s.WebSocketURL != ""
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every failure found. Validate does not apply defaults.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		add("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel)
	}

	a := cfg.Audio
	if !a.Source.IsValid() {
		add("audio.source %q is invalid; valid values: file, stdin, tone", a.Source)
	}
	if a.Source == SourceFile && strings.TrimSpace(a.File) == "" {
		add("audio.file is required when audio.source is file")
	}
	if !slices.Contains(vad.SupportedSampleRates, a.SampleRate) {
		add("audio.sample_rate %d is unsupported; valid values: %v", a.SampleRate, vad.SupportedSampleRates)
	}
	if a.InputChannels < 1 {
		add("audio.input_channels must be at least 1, got %d", a.InputChannels)
	}
	if a.ChunkSize < 1 {
		add("audio.chunk_size must be positive, got %d", a.ChunkSize)
	}
	if a.QueueSize < 1 {
		add("audio.queue_size must be positive, got %d", a.QueueSize)
	}
	if !a.Overflow.IsValid() {
		add("audio.overflow %q is invalid; valid values: drop_oldest, block", a.Overflow)
	}
	if a.BlockTimeout < 0 {
		add("audio.block_timeout must not be negative")
	}

	s := cfg.Segmenter
	if s.SilenceMs < vad.DefaultFrameSizeMs {
		add("segmenter.silence_ms must be at least one frame (%d ms), got %d", vad.DefaultFrameSizeMs, s.SilenceMs)
	}
	if s.MinSegmentMs < segment.NoMinSegment {
		add("segmenter.min_segment_ms must be %d (keep all) or non-negative, got %d", segment.NoMinSegment, s.MinSegmentMs)
	}
	if s.MaxUtteranceS < 1 {
		add("segmenter.max_utterance_s must be positive, got %d", s.MaxUtteranceS)
	}

	if strings.TrimSpace(cfg.WakeWord.Token) == "" {
		add("wake_word.token is required")
	}
	if p := cfg.WakeWord.Phonetic; p < 0 || p > 1 {
		add("wake_word.phonetic %.2f is out of range [0, 1]", p)
	}

	if cfg.Bus.Workers < 1 {
		add("bus.workers must be positive, got %d", cfg.Bus.Workers)
	}
	if cfg.Bus.QueueSize < 1 {
		add("bus.queue_size must be positive, got %d", cfg.Bus.QueueSize)
	}
	if cfg.Bus.ShutdownTimeout < 0 {
		add("bus.shutdown_timeout must not be negative")
	}

	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			add("providers.stt_fallbacks[%d].name is required", i)
			continue
		}
		validateProviderName("stt", fb.Name)
	}

	for i, t := range cfg.Sinks.EventTypes {
		if !event.Type(t).IsValid() {
			add("sinks.event_types[%d] %q is invalid; valid values: %v", i, t, event.Types)
		}
	}
	if u := cfg.Sinks.WebSocketURL; u != "" {
		if err := checkURL(u, "ws", "wss"); err != nil {
			add("sinks.websocket_url: %w", err)
		}
	}
	if u := cfg.Sinks.Trigger.WebhookURL; u != "" {
		if err := checkURL(u, "http", "https"); err != nil {
			add("sinks.trigger.webhook_url: %w", err)
		}
	}

	return errors.Join(errs...)
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if !slices.Contains(schemes, u.Scheme) {
		return fmt.Errorf("scheme %q is not one of %v", u.Scheme, schemes)
	}
	if u.Host == "" {
		return errors.New("host is missing")
	}
	return nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
