package config

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/netbdpro/nbdlive/internal/voice"
	"github.com/netbdpro/nbdlive/pkg/audio"
	"github.com/netbdpro/nbdlive/pkg/provider/live"
)

// ValidProviderNames lists known provider names per kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"live":  {"gemini-live", "genai"},
	"audio": {"system"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr   = "127.0.0.1:8089"
	DefaultLiveProvider = "gemini-live"
	DefaultAudioBackend = "system"
	DefaultOutputBuffer = 100 * time.Millisecond
)

// APIKeyEnvVars are consulted in order for a key when the config has none.
var APIKeyEnvVars = []string{"GEMINI_API_KEY", "API_KEY"}

// Load reads the YAML configuration file at path, fills defaults, resolves
// the API key from the environment and validates the result.
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
	ApplyEnv(cfg, os.Getenv)
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. The environment is not consulted.
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

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	cfg.Server.ListenAddr = cmp.Or(cfg.Server.ListenAddr, DefaultListenAddr)
	cfg.Server.LogLevel = cmp.Or(cfg.Server.LogLevel, LogInfo)
	cfg.Live.Name = cmp.Or(cfg.Live.Name, DefaultLiveProvider)
	cfg.Audio.Backend = cmp.Or(cfg.Audio.Backend, DefaultAudioBackend)
	cfg.Audio.CaptureRate = cmp.Or(cfg.Audio.CaptureRate, audio.CaptureSampleRate)
	cfg.Audio.PlaybackRate = cmp.Or(cfg.Audio.PlaybackRate, audio.PlaybackSampleRate)
	cfg.Audio.FrameSize = cmp.Or(cfg.Audio.FrameSize, audio.DefaultFrameSize)
	cfg.Audio.OutputBuffer = cmp.Or(cfg.Audio.OutputBuffer, DefaultOutputBuffer)
	cfg.Voice.DefaultVoice = cmp.Or(cfg.Voice.DefaultVoice, live.DefaultVoice)
	cfg.Voice.DefaultLanguage = cmp.Or(cfg.Voice.DefaultLanguage, voice.AutoDetect)
}

// ApplyEnv fills empty API keys of the live provider and its fallbacks from
// the first non-empty variable in [APIKeyEnvVars].
func ApplyEnv(cfg *Config, getenv func(string) string) {
	var key string
	for _, name := range APIKeyEnvVars {
		if key = getenv(name); key != "" {
			break
		}
	}
	if key == "" {
		return
	}
	cfg.Live.APIKey = cmp.Or(cfg.Live.APIKey, key)
	for i := range cfg.Live.Fallbacks {
		cfg.Live.Fallbacks[i].APIKey = cmp.Or(cfg.Live.Fallbacks[i].APIKey, key)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if r := cfg.Server.TraceSampleRatio; r != nil && (*r < 0 || *r > 1) {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %v must be between 0 and 1", *r))
	}

	// Live backends
	validateProviderName("live", cfg.Live.Name)
	for i, fb := range cfg.Live.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("live.fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("live", fb.Name)
	}
	if cfg.Live.CircuitBreaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("live.circuit_breaker.max_failures %d must not be negative", cfg.Live.CircuitBreaker.MaxFailures))
	}
	if cfg.Live.CircuitBreaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("live.circuit_breaker.reset_timeout %v must not be negative", cfg.Live.CircuitBreaker.ResetTimeout))
	}

	// Audio
	validateProviderName("audio", cfg.Audio.Backend)
	if cfg.Audio.CaptureRate < 8000 || cfg.Audio.CaptureRate > 192000 {
		errs = append(errs, fmt.Errorf("audio.capture_rate %d is out of range [8000, 192000]", cfg.Audio.CaptureRate))
	}
	if cfg.Audio.PlaybackRate < 8000 || cfg.Audio.PlaybackRate > 192000 {
		errs = append(errs, fmt.Errorf("audio.playback_rate %d is out of range [8000, 192000]", cfg.Audio.PlaybackRate))
	}
	if cfg.Audio.FrameSize < 160 || cfg.Audio.FrameSize > 16384 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d is out of range [160, 16384]", cfg.Audio.FrameSize))
	}
	if cfg.Audio.OutputBuffer < 0 {
		errs = append(errs, fmt.Errorf("audio.output_buffer %v must not be negative", cfg.Audio.OutputBuffer))
	}

	// Voice defaults
	if _, ok := live.LookupVoice(cfg.Voice.DefaultVoice); !ok {
		errs = append(errs, fmt.Errorf("voice.default_voice %q is not a known voice", cfg.Voice.DefaultVoice))
	}
	if !voice.KnownLanguage(cfg.Voice.DefaultLanguage) {
		errs = append(errs, fmt.Errorf("voice.default_language %q is not a known language", cfg.Voice.DefaultLanguage))
	}

	if cfg.Settings.Path != "" && cfg.Settings.PostgresDSN != "" {
		slog.Warn("settings.path is ignored because settings.postgres_dsn is set")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a custom registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// OptionBool reads a boolean from an entry's Options map.
func (e ProviderEntry) OptionBool(key string) bool {
	v, _ := e.Options[key].(bool)
	return v
}
