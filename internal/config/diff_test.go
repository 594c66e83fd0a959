package config_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/netbdpro/nbdlive/internal/config"
)

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, "live:\n  options:\n    transcription: true\n")
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged || d.VoiceDefaultsChanged || len(d.RestartRequired) != 0 {
		t.Errorf("Diff of identical configs = %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := mustLoad(t, "server:\n  log_level: info\n")
	next := mustLoad(t, "server:\n  log_level: debug\n")

	d := config.Diff(old, next)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("Diff = %+v, want log level change to debug", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestDiff_VoiceDefaults(t *testing.T) {
	t.Parallel()
	old := mustLoad(t, "")
	next := mustLoad(t, "voice:\n  default_voice: Kore\n")

	d := config.Diff(old, next)
	if !d.VoiceDefaultsChanged {
		t.Fatal("expected VoiceDefaultsChanged")
	}
	if d.NewDefaultVoice != "Kore" || d.NewDefaultLanguage != "Auto Detection" {
		t.Errorf("new defaults = %q / %q", d.NewDefaultVoice, d.NewDefaultLanguage)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"listen addr", "server:\n  listen_addr: ':9000'\n", "server"},
		{"tls", "server:\n  tls:\n    cert_file: c\n    key_file: k\n", "server"},
		{"trace sampling", "server:\n  trace_sample_ratio: 0.25\n", "server"},
		{"live model", "live:\n  model: other\n", "live"},
		{"live fallback", "live:\n  fallbacks:\n    - name: genai\n", "live"},
		{"live option", "live:\n  options:\n    transcription: false\n", "live"},
		{"breaker", "live:\n  circuit_breaker:\n    max_failures: 2\n", "live"},
		{"audio", "audio:\n  capture_rate: 48000\n", "audio"},
		{"settings", "settings:\n  path: other.yaml\n", "settings"},
		{"chat", "chat:\n  disabled: true\n", "chat"},
	}
	base := mustLoad(t, "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := config.Diff(base, mustLoad(t, tt.yaml))
			if !slices.Contains(d.RestartRequired, tt.want) {
				t.Errorf("RestartRequired = %v, want it to contain %q", d.RestartRequired, tt.want)
			}
		})
	}
}
