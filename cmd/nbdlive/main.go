// Command nbdlive runs the NBD AI voice assistant: a Gemini Live session
// between the host microphone and speaker, controlled over a local HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/netbdpro/nbdlive/internal/app"
	"github.com/netbdpro/nbdlive/internal/config"
	"github.com/netbdpro/nbdlive/internal/observe"
	"github.com/netbdpro/nbdlive/internal/voice"
	"github.com/netbdpro/nbdlive/pkg/audio/device"
	"github.com/netbdpro/nbdlive/pkg/provider/live"
	"github.com/netbdpro/nbdlive/pkg/provider/live/gemini"
	"github.com/netbdpro/nbdlive/pkg/provider/live/genai"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	autostart := flag.Bool("autostart", false, "open a voice session as soon as the server is ready")
	flag.Parse()

	cfg, watch, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nbdlive: %v\n", err)
		return 1
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Slog())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("nbdlive starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)
	if cfg.Live.APIKey == "" {
		slog.Warn("no API key configured; set " + strings.Join(config.APIKeyEnvVars, " or ") + ", live.api_key, or a custom key in settings")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := observe.Setup(ctx, observe.TelemetryConfig{
		ServiceVersion: version,
		SampleRatio:    cfg.Server.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	reg := config.NewRegistry()
	registerBuiltins(reg)

	opts := []app.Option{
		app.WithLevelVar(level),
		app.WithAutostart(*autostart),
		app.WithMetrics(tel.Metrics()),
		app.WithTracerProvider(tel.TracerProvider()),
		app.WithMetricsHandler(tel.Handler()),
	}
	if watch {
		opts = append(opts, app.WithConfigPath(*configPath))
	}
	application, err := app.New(ctx, cfg, reg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// loadConfig reads path. A missing file is not fatal: the built-in defaults
// are used and hot reload is off.
func loadConfig(path string) (*config.Config, bool, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}
	fmt.Fprintf(os.Stderr, "nbdlive: config file %q not found, using defaults (see configs/example.yaml)\n", path)
	cfg, err = config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		return nil, false, err
	}
	config.ApplyEnv(cfg, os.Getenv)
	return cfg, false, nil
}

// registerBuiltins wires the built-in live providers and audio backend into reg.
func registerBuiltins(reg *config.Registry) {
	reg.RegisterLive("gemini-live", func(entry config.ProviderEntry) (live.Provider, error) {
		var opts []gemini.Option
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		opts = append(opts, gemini.WithTranscription(entry.OptionBool("transcription")))
		return gemini.New(entry.APIKey, opts...), nil
	})

	reg.RegisterLive("genai", func(entry config.ProviderEntry) (live.Provider, error) {
		var opts []genai.Option
		if entry.Model != "" {
			opts = append(opts, genai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, genai.WithBaseURL(entry.BaseURL))
		}
		opts = append(opts, genai.WithTranscription(entry.OptionBool("transcription")))
		return genai.New(entry.APIKey, opts...), nil
	})

	reg.RegisterAudio("system", func(c config.AudioConfig) (voice.AudioDevices, error) {
		return device.NewSystem(
			device.WithCaptureRate(c.CaptureRate),
			device.WithPlaybackRate(c.PlaybackRate),
			device.WithOutputBuffer(c.OutputBuffer),
		), nil
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

func printStartupSummary(cfg *config.Config) {
	fallbacks := make([]string, len(cfg.Live.Fallbacks))
	for i, f := range cfg.Live.Fallbacks {
		fallbacks[i] = f.Name
	}
	store := "memory"
	switch {
	case cfg.Settings.PostgresDSN != "":
		store = "postgres"
	case cfg.Settings.Path != "":
		store = cfg.Settings.Path
	}
	chat := "enabled"
	if cfg.Chat.Disabled {
		chat = "disabled"
	}

	fmt.Println("nbdlive startup summary")
	fmt.Printf("  live provider : %s / %s\n", cfg.Live.Name, orDefault(cfg.Live.Model))
	fmt.Printf("  fallbacks     : %s\n", orDefault(strings.Join(fallbacks, ", ")))
	fmt.Printf("  audio backend : %s (capture %d Hz, playback %d Hz)\n", cfg.Audio.Backend, cfg.Audio.CaptureRate, cfg.Audio.PlaybackRate)
	fmt.Printf("  voice         : %s, %s\n", cfg.Voice.DefaultVoice, cfg.Voice.DefaultLanguage)
	fmt.Printf("  settings      : %s\n", store)
	fmt.Printf("  chat          : %s\n", chat)
	fmt.Printf("  listen addr   : %s\n", cfg.Server.ListenAddr)
}

func orDefault(s string) string {
	if s == "" {
		return "(default)"
	}
	return s
}
