// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry for the wakecmd listener.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SourceKind selects where audio comes from.
type SourceKind string

const (
	// SourceFile reads a PCM16 WAV file and ends at its last sample.
	SourceFile SourceKind = "file"

	// SourceStdin captures raw little-endian PCM16 from standard input.
	SourceStdin SourceKind = "stdin"

	// SourceTone generates a synthetic tone pattern, for demos without audio.
	SourceTone SourceKind = "tone"
)

// IsValid reports whether s is a recognised source kind.
func (s SourceKind) IsValid() bool {
	switch s {
	case SourceFile, SourceStdin, SourceTone:
		return true
	}
	return false
}

// Overflow selects the capture queue's backpressure policy.
type Overflow string

const (
	// OverflowDropOldest evicts the oldest queued chunk.
	OverflowDropOldest Overflow = "drop_oldest"

	// OverflowBlock waits up to audio.block_timeout, then drops the new chunk.
	OverflowBlock Overflow = "block"
)

// IsValid reports whether o is a recognised overflow policy.
func (o Overflow) IsValid() bool {
	return o == OverflowDropOldest || o == OverflowBlock
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Segmenter SegmenterConfig `yaml:"segmenter"`
	WakeWord  WakeWordConfig  `yaml:"wake_word"`
	Bus       BusConfig       `yaml:"bus"`
	Providers ProvidersConfig `yaml:"providers"`
	Sinks     SinksConfig     `yaml:"sinks"`
}

// ServerConfig holds the admin HTTP server and logging settings.
type ServerConfig struct {
	// ListenAddr is the address of the health and metrics server
	// (e.g., ":9090"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig selects and tunes the audio source.
type AudioConfig struct {
	// Source is one of file, stdin or tone.
	Source SourceKind `yaml:"source"`

	// File is the WAV path used when Source is file.
	File string `yaml:"file"`

	// SampleRate is the rate the pipeline segments at. Input of another rate
	// is resampled. Must be 8000, 16000, 32000 or 48000.
	SampleRate int `yaml:"sample_rate"`

	// InputChannels is the channel count of raw stdin input.
	InputChannels int `yaml:"input_channels"`

	// ChunkSize is the number of samples per chunk.
	ChunkSize int `yaml:"chunk_size"`

	// QueueSize is the capture queue capacity in chunks.
	QueueSize int `yaml:"queue_size"`

	// Overflow is the capture queue policy.
	Overflow Overflow `yaml:"overflow"`

	// BlockTimeout bounds the producer wait under the block policy.
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// SegmenterConfig tunes utterance detection. A MinSegmentMs of -1 keeps
// every segment.
type SegmenterConfig struct {
	SilenceMs     int `yaml:"silence_ms"`
	MinSegmentMs  int `yaml:"min_segment_ms"`
	MaxUtteranceS int `yaml:"max_utterance_s"`
}

// WakeWordConfig configures command extraction. Hot-reloadable.
type WakeWordConfig struct {
	Token         string `yaml:"token"`
	CaseSensitive bool   `yaml:"case_sensitive"`

	// Phonetic enables the sound-alike fallback when set above zero. The
	// value is the Jaro-Winkler threshold in (0, 1].
	Phonetic float64 `yaml:"phonetic"`
}

// BusConfig tunes the event bus worker pool.
type BusConfig struct {
	Workers         int           `yaml:"workers"`
	QueueSize       int           `yaml:"queue_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ProvidersConfig declares which backend to use for each stage. Each entry
// names an implementation registered in the [Registry].
type ProvidersConfig struct {
	VAD ProviderEntry `yaml:"vad"`
	STT ProviderEntry `yaml:"stt"`

	// STTFallbacks are tried in order when STT fails or its circuit is open.
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider
// kinds. Name selects the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "energy", "whisper").
	Name string `yaml:"name"`

	// APIKey authenticates against hosted backends.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the backend (e.g., "nova-2", or a
	// ggml model path for whisper-native).
	Model string `yaml:"model"`

	// Language is the BCP-47 language hint passed to STT backends.
	Language string `yaml:"language"`

	// Options holds backend-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// SinksConfig selects where events go. Every enabled sink subscribes to the
// event types in EventTypes.
type SinksConfig struct {
	// EventTypes lists the event types delivered to sinks. Defaults to
	// command_detected only.
	EventTypes []string `yaml:"event_types"`

	// Stdout logs every delivered event.
	Stdout bool `yaml:"stdout"`

	// NDJSONPath appends delivered events to a newline-delimited JSON file.
	NDJSONPath string `yaml:"ndjson_path"`

	// Trigger announces detected commands to downstream consumers.
	Trigger TriggerConfig `yaml:"trigger"`

	// PostgresDSN stores delivered events in PostgreSQL.
	PostgresDSN string `yaml:"postgres_dsn"`

	// WebSocketURL streams delivered events to a remote collector.
	WebSocketURL string `yaml:"websocket_url"`
}

// TriggerConfig configures the command trigger sink.
type TriggerConfig struct {
	Enabled bool `yaml:"enabled"`

	// WebhookURL, if set, receives each command as a JSON POST.
	WebhookURL string `yaml:"webhook_url"`
}
