// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry for the nbdlive voice assistant.
package config

import (
	"log/slog"
	"time"
)

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

// Slog maps l to the matching [slog.Level]. Unknown values map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Live     LiveConfig     `yaml:"live"`
	Audio    AudioConfig    `yaml:"audio"`
	Voice    VoiceConfig    `yaml:"voice"`
	Settings SettingsConfig `yaml:"settings"`
	Chat     ChatConfig     `yaml:"chat"`
}

// ServerConfig holds network and logging settings for the control API.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., "127.0.0.1:8089").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// TraceSampleRatio is the fraction of new traces recorded, in [0, 1].
	// Unset records every trace.
	TraceSampleRatio *float64 `yaml:"trace_sample_ratio"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProviderEntry is the configuration block of one live backend.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation ("gemini-live", "genai").
	Name string `yaml:"name"`

	// APIKey authenticates against the API. When empty, GEMINI_API_KEY or
	// API_KEY from the environment is used.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects the native-audio model.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the standard
	// fields, e.g. "transcription: true".
	Options map[string]any `yaml:"options"`
}

// LiveConfig selects the live backend and its failover chain.
type LiveConfig struct {
	ProviderEntry `yaml:",inline"`

	// Fallbacks are tried in order when the primary's handshake fails or its
	// circuit breaker is open.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// CircuitBreaker tunes the per-backend handshake breaker.
	CircuitBreaker BreakerConfig `yaml:"circuit_breaker"`
}

// BreakerConfig tunes a circuit breaker. Zero values use the breaker defaults.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// AudioConfig selects the audio backend and its formats.
type AudioConfig struct {
	// Backend names the registered audio backend. "system" uses the host's
	// default microphone and speaker.
	Backend string `yaml:"backend"`

	// CaptureRate is the rate the microphone is opened at. Frames are
	// resampled to 16 kHz before upload.
	CaptureRate int `yaml:"capture_rate"`

	// PlaybackRate is the rate of the speaker output context.
	PlaybackRate int `yaml:"playback_rate"`

	// FrameSize is the number of 16 kHz samples per uplink chunk.
	FrameSize int `yaml:"frame_size"`

	// OutputBuffer is the speaker device buffer length.
	OutputBuffer time.Duration `yaml:"output_buffer"`
}

// VoiceConfig holds the defaults used when no preference has been stored.
// Hot-reloadable.
type VoiceConfig struct {
	DefaultVoice    string `yaml:"default_voice"`
	DefaultLanguage string `yaml:"default_language"`

	// Autostart opens a voice session as soon as the process is ready.
	Autostart bool `yaml:"autostart"`
}

// SettingsConfig selects where user preferences are persisted.
type SettingsConfig struct {
	// Path is the YAML preferences file. Ignored when PostgresDSN is set.
	Path string `yaml:"path"`

	// PostgresDSN, when set, stores preferences in PostgreSQL.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ChatConfig configures the text chat and image endpoints. It reuses the live API key
// and base URL.
type ChatConfig struct {
	Disabled      bool   `yaml:"disabled"`
	FastModel     string `yaml:"fast_model"`
	ThinkingModel string `yaml:"thinking_model"`
	ImageModel    string `yaml:"image_model"`
}
