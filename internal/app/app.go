// Package app wires the nbdlive subsystems into a running service.
//
// The App owns the full lifecycle: New builds the live backend chain, the
// audio devices, the preference store, the voice controller and the chat
// service; Run serves the control API and follows config changes until the
// context ends; Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithLiveProvider,
// WithAudioDevices, etc.). When an option is not provided, New creates the
// real implementation from the config and registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/netbdpro/nbdlive/internal/chat"
	"github.com/netbdpro/nbdlive/internal/config"
	"github.com/netbdpro/nbdlive/internal/health"
	"github.com/netbdpro/nbdlive/internal/observe"
	"github.com/netbdpro/nbdlive/internal/resilience"
	"github.com/netbdpro/nbdlive/internal/settings"
	"github.com/netbdpro/nbdlive/internal/voice"
	"github.com/netbdpro/nbdlive/pkg/provider/live"
)

// shutdownTimeout bounds the graceful HTTP shutdown inside Run.
const shutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	level    *slog.LevelVar
	metrics  *observe.Metrics
	tracing  trace.TracerProvider
	scrape   http.Handler
	provider live.Provider
	breakers func() map[string]resilience.State
	devices  voice.AudioDevices
	store    settings.Store
	factory  chat.GeneratorFactory

	ctrl     *voice.Controller
	sessions *SessionManager
	chat     *chat.Service
	health   *health.Handler
	handler  http.Handler

	configPath string
	reloadOpts []config.WatcherOption
	autostart  bool

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLiveProvider injects the live backend instead of building the
// failover chain from config.
func WithLiveProvider(p live.Provider) Option {
	return func(a *App) { a.provider = p }
}

// WithAudioDevices injects the microphone and speaker source.
func WithAudioDevices(d voice.AudioDevices) Option {
	return func(a *App) { a.devices = d }
}

// WithSettingsStore injects the preference store instead of opening one from
// config. The App does not close an injected store.
func WithSettingsStore(s settings.Store) Option {
	return func(a *App) { a.store = s }
}

// WithChatFactory replaces the Gemini client factory of the chat service.
func WithChatFactory(f chat.GeneratorFactory) Option {
	return func(a *App) { a.factory = f }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTracerProvider sets the provider for request spans and everything
// started under them. Default: the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(a *App) { a.tracing = tp }
}

// WithMetricsHandler sets the handler behind GET /metrics. Default: the
// default Prometheus registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.scrape = h }
}

// WithLevelVar hands the App the level of the process logger so config
// reloads can change verbosity.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithConfigPath enables hot reload of the config file at path. opts tune
// the file watcher.
func WithConfigPath(path string, opts ...config.WatcherOption) Option {
	return func(a *App) {
		a.configPath = path
		a.reloadOpts = opts
	}
}

// WithAutostart opens a voice session as soon as Run starts. The config's
// voice.autostart has the same effect.
func WithAutostart(on bool) Option {
	return func(a *App) { a.autostart = on }
}

// New creates an App. reg resolves the live backends and the audio backend
// named in cfg unless they are injected.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.scrape == nil {
		a.scrape = promhttp.Handler()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(cfg.Server.LogLevel.Slog())
	}
	a.autostart = a.autostart || cfg.Voice.Autostart

	if err := a.initLive(reg); err != nil {
		return nil, err
	}
	if err := a.initAudio(reg); err != nil {
		return nil, err
	}
	if err := a.initSettings(ctx); err != nil {
		return nil, err
	}

	a.ctrl = voice.New(a.provider, a.devices,
		voice.WithMetrics(a.metrics),
		voice.WithFrameSize(cfg.Audio.FrameSize),
		voice.WithProviderName(cfg.Live.Name),
	)
	a.sessions = NewSessionManager(SessionManagerConfig{
		Controller: a.ctrl,
		Store:      a.store,
		Defaults:   settings.Preferences{Voice: cfg.Voice.DefaultVoice, Language: cfg.Voice.DefaultLanguage},
		Model:      cfg.Live.Model,
	})

	if !cfg.Chat.Disabled {
		if a.factory == nil {
			a.factory = chat.GenAIFactory(cfg.Live.BaseURL)
		}
		a.chat = chat.New(a.factory, cfg.Live.APIKey,
			chat.WithModels(cfg.Chat.FastModel, cfg.Chat.ThinkingModel),
			chat.WithImageModel(cfg.Chat.ImageModel),
			chat.WithMetrics(a.metrics),
		)
	}

	a.initHealth()

	mux := http.NewServeMux()
	a.routes(mux)
	var mwOpts []observe.MiddlewareOption
	if a.tracing != nil {
		mwOpts = append(mwOpts, observe.WithTracerProvider(a.tracing))
	}
	a.handler = observe.Middleware(a.metrics, mwOpts...)(mux)
	return a, nil
}

// initLive builds the primary backend and its fallbacks behind per-backend
// circuit breakers.
func (a *App) initLive(reg *config.Registry) error {
	if a.provider != nil {
		return nil
	}
	primary, err := reg.CreateLive(a.cfg.Live.ProviderEntry)
	if err != nil {
		return fmt.Errorf("app: create live provider %q: %w", a.cfg.Live.Name, err)
	}
	fb := resilience.NewLiveFallback(primary, a.cfg.Live.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  a.cfg.Live.CircuitBreaker.MaxFailures,
			ResetTimeout: a.cfg.Live.CircuitBreaker.ResetTimeout,
		},
	})
	for _, e := range a.cfg.Live.Fallbacks {
		p, err := reg.CreateLive(e)
		if err != nil {
			return fmt.Errorf("app: create live fallback %q: %w", e.Name, err)
		}
		fb.AddFallback(e.Name, p)
		slog.Info("live fallback registered", "name", e.Name, "model", e.Model)
	}
	a.provider = fb
	a.breakers = fb.BreakerStates
	return nil
}

func (a *App) initAudio(reg *config.Registry) error {
	if a.devices != nil {
		return nil
	}
	d, err := reg.CreateAudio(a.cfg.Audio)
	if err != nil {
		return fmt.Errorf("app: create audio backend %q: %w", a.cfg.Audio.Backend, err)
	}
	a.devices = d
	return nil
}

func (a *App) initSettings(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	s, err := settings.Open(ctx, a.cfg.Settings.Path, a.cfg.Settings.PostgresDSN)
	if err != nil {
		return fmt.Errorf("app: open settings: %w", err)
	}
	a.store = s
	a.closers = append(a.closers, s.Close)
	return nil
}

func (a *App) initHealth() {
	checkers := []health.Checker{{
		Name: "settings",
		Check: func(ctx context.Context) error {
			_, _, err := a.store.Get(ctx, settings.KeyVoice)
			return err
		},
	}}
	if a.breakers != nil {
		checkers = append(checkers, health.BreakerChecker("live", a.breakers))
	}
	a.health = health.New(checkers...)
}

// Handler returns the instrumented control API.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions exposes the voice session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Run serves the control API and blocks until ctx is cancelled or the
// server fails. It returns ctx.Err() after a clean stop.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("control API listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyConfig, a.reloadOpts...)
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	if a.autostart {
		g.Go(func() error {
			if _, err := a.sessions.Start(gctx); err != nil {
				slog.Warn("autostart failed", "err", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// applyConfig is the watcher callback. It applies the hot-reloadable parts
// and reports the rest.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.Slog())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.VoiceDefaultsChanged {
		a.sessions.SetDefaults(d.NewDefaultVoice, d.NewDefaultLanguage)
		slog.Info("voice defaults changed", "voice", d.NewDefaultVoice, "language", d.NewDefaultLanguage)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that need a restart", "sections", d.RestartRequired)
	}
}

// Shutdown stops the voice session and runs the closers in order. It
// respects the context deadline: if ctx expires before all closers finish,
// the rest are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		a.sessions.Stop()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
