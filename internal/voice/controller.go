// Package voice supervises a single real-time voice session: microphone
// capture, the uplink to a remote live model, and gapless playback of the
// model's spoken reply with barge-in.
//
// A [Controller] owns at most one open session. [Controller.Start] acquires
// the microphone, the speaker output and the remote session in that order and
// rolls everything back if any step fails. [Controller.Stop], a remote error
// and an unsolicited remote close all run the same teardown: stop the
// playback queue, close the remote session, release the microphone, close
// the output. There is no automatic reconnect.
//
// This package is internal because it encapsulates application-private voice
// pipeline logic and is not intended for import by external code.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/netbdpro/nbdlive/internal/observe"
	"github.com/netbdpro/nbdlive/pkg/audio"
	"github.com/netbdpro/nbdlive/pkg/audio/capture"
	"github.com/netbdpro/nbdlive/pkg/audio/playback"
	"github.com/netbdpro/nbdlive/pkg/provider/live"
)

var (
	// ErrStartFailed wraps every fatal error returned by [Controller.Start].
	ErrStartFailed = errors.New("voice: start failed")

	// ErrOutputUnavailable is wrapped when the speaker output cannot be opened.
	ErrOutputUnavailable = errors.New("voice: audio output unavailable")

	// ErrRemoteClosed is recorded as the last error when the remote side
	// closes the session without reporting a cause.
	ErrRemoteClosed = errors.New("voice: remote closed the session")
)

// State is the lifecycle state of a [Controller].
type State int

const (
	// StateIdle means no session has been started, or the last Start failed.
	StateIdle State = iota

	// StateConnecting covers device acquisition and the remote handshake.
	StateConnecting

	// StateOpen means audio flows in both directions.
	StateOpen

	// StateInterrupted is the transient state while queued playback is being
	// cut after the model reported a barge-in.
	StateInterrupted

	// StateClosed means the last session was torn down.
	StateClosed
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateInterrupted:
		return "interrupted"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Active reports whether the state holds or is acquiring a session.
func (s State) Active() bool {
	return s == StateConnecting || s == StateOpen || s == StateInterrupted
}

// Settings are the per-session preferences passed explicitly to Start.
type Settings struct {
	// Voice is the prebuilt voice ID. Empty selects [live.DefaultVoice].
	Voice string

	// Language is an entry of [Languages]. Empty means [AutoDetect].
	Language string

	// APIKey, when set, takes priority over the provider's configured key.
	APIKey string

	// Model, when set, overrides the provider's default model.
	Model string
}

// AudioDevices hands out the platform microphone and speaker output.
type AudioDevices interface {
	// Microphone returns a capture source. It is opened by the controller.
	Microphone() capture.Source

	// Speaker opens a fresh output for one session.
	Speaker() (playback.Output, error)
}

// Teardown reasons recorded in metrics and logs.
const (
	reasonStop        = "stop"
	reasonRemoteClose = "remote_close"
	reasonRemoteError = "remote_error"
)

// Option is a functional option for configuring a [Controller].
type Option func(*Controller)

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithFrameSize sets the number of microphone samples per uplink chunk.
func WithFrameSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.frameSize = n
		}
	}
}

// WithProviderName sets the provider label used in metrics.
func WithProviderName(name string) Option {
	return func(c *Controller) {
		if name != "" {
			c.providerName = name
		}
	}
}

// Controller drives the voice session lifecycle. It is safe for concurrent
// use.
type Controller struct {
	provider     live.Provider
	devices      AudioDevices
	metrics      *observe.Metrics
	frameSize    int
	providerName string

	mu      sync.Mutex
	state   State
	gen     uint64
	cancel  context.CancelFunc
	run     *run
	lastErr error

	// released is closed once the previous attempt has given back every
	// device. The next Start waits on it before acquiring the microphone.
	released chan struct{}
}

// New creates a Controller that opens sessions on provider and acquires
// audio hardware from devices.
func New(provider live.Provider, devices AudioDevices, opts ...Option) *Controller {
	released := make(chan struct{})
	close(released)
	c := &Controller{
		provider:     provider,
		devices:      devices,
		metrics:      observe.DefaultMetrics(),
		frameSize:    audio.DefaultFrameSize,
		providerName: "live",
		released:     released,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// run holds the resources of one open session.
type run struct {
	gen      uint64
	settings Settings
	unit     *capture.Unit
	out      playback.Output
	queue    *playback.Queue
	session  live.Session

	uplinkDone   chan struct{}
	downlinkDone chan struct{}
	released     chan struct{}
}

// Start opens a voice session. It is a no-op returning nil while a session
// is connecting or open. On failure every acquired resource is released,
// the state returns to [StateIdle] and the returned error wraps
// [ErrStartFailed] together with the cause.
//
// ctx bounds device acquisition and the handshake only; the session itself
// runs until [Controller.Stop] or the remote side ends it.
func (c *Controller) Start(ctx context.Context, s Settings) error {
	c.mu.Lock()
	if c.state.Active() {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	gen := c.gen
	c.state = StateConnecting
	c.lastErr = nil
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	prev := c.released
	released := make(chan struct{})
	c.released = released
	c.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "voice.start",
		trace.WithAttributes(
			attribute.String("voice", s.Voice),
			attribute.String("language", s.Language),
		))
	defer span.End()

	// Stop cancels runCtx; that must also abort an in-flight handshake.
	connectCtx, stopConnect := context.WithCancel(ctx)
	defer stopConnect()
	defer context.AfterFunc(runCtx, stopConnect)()

	r, frames, err := c.open(connectCtx, runCtx, prev, s)

	c.mu.Lock()
	if c.gen != gen {
		// Stopped while connecting; Stop has already moved to Closed.
		c.mu.Unlock()
		if r != nil {
			r.teardown()
		}
		close(released)
		cancel()
		if err == nil {
			err = context.Canceled
		}
		span.SetStatus(codes.Error, "stopped while connecting")
		return fmt.Errorf("%w: %w", ErrStartFailed, err)
	}
	if err != nil {
		c.state = StateIdle
		c.cancel = nil
		c.lastErr = err
		c.mu.Unlock()
		close(released)
		cancel()
		c.metrics.RecordSessionStart(ctx, false)
		observe.Fail(span, err)
		observe.Logger(ctx).Warn("voice: start failed", "err", err)
		return fmt.Errorf("%w: %w", ErrStartFailed, err)
	}
	r.gen = gen
	r.settings = s
	r.released = released
	c.run = r
	c.state = StateOpen
	go c.uplink(runCtx, r, frames)
	go c.downlink(runCtx, r)
	c.mu.Unlock()

	c.metrics.RecordSessionStart(ctx, true)
	observe.Logger(ctx).Info("voice: session open",
		"voice", s.Voice, "language", s.Language, "model", s.Model)
	return nil
}

// open acquires the microphone, the speaker output and the remote session.
// On error everything acquired so far has been released again.
func (c *Controller) open(connectCtx, runCtx context.Context, prev <-chan struct{}, s Settings) (*run, <-chan audio.Frame, error) {
	select {
	case <-prev:
	case <-connectCtx.Done():
		return nil, nil, connectCtx.Err()
	}

	unit := capture.New(c.devices.Microphone(), capture.WithFrameSize(c.frameSize))
	frames, err := unit.Start(runCtx)
	if err != nil {
		return nil, nil, err
	}

	out, err := c.devices.Speaker()
	if err != nil {
		_ = unit.Close()
		return nil, nil, fmt.Errorf("%w: %w", ErrOutputUnavailable, err)
	}

	voice := s.Voice
	if voice == "" {
		voice = live.DefaultVoice
	}
	start := time.Now()
	session, err := c.provider.Connect(connectCtx, live.SessionConfig{
		Model:        s.Model,
		Voice:        voice,
		Instructions: Instruction(s.Language),
		APIKey:       s.APIKey,
	})
	if err != nil {
		c.metrics.RecordProviderError(connectCtx, c.providerName, "connect")
		_ = unit.Close()
		_ = out.Close()
		return nil, nil, fmt.Errorf("voice: connect: %w", err)
	}
	c.metrics.HandshakeDuration.Record(connectCtx, time.Since(start).Seconds())
	c.metrics.RecordProviderRequest(connectCtx, c.providerName, "connect", "ok")

	return &run{
		unit:         unit,
		out:          out,
		queue:        playback.NewQueue(out),
		session:      session,
		uplinkDone:   make(chan struct{}),
		downlinkDone: make(chan struct{}),
	}, frames, nil
}

// Stop tears the current session down and waits until the microphone and
// output are released. While connecting, it waits for the pending Start to
// roll back whatever it acquired. Safe to call at any time and more than
// once.
func (c *Controller) Stop() {
	r, released := c.end(0, reasonStop, nil)
	if r != nil {
		<-r.downlinkDone
	}
	if released != nil {
		<-released
	}
}

// end moves the controller to Closed and tears r down. When gen is non-zero
// it only acts if that session is still current. It returns the torn-down
// run (nil while still connecting) and the channel closed once the attempt
// has released its devices, or nil, nil when there was nothing to do.
func (c *Controller) end(gen uint64, reason string, cause error) (*run, <-chan struct{}) {
	c.mu.Lock()
	if gen != 0 && gen != c.gen {
		c.mu.Unlock()
		return nil, nil
	}
	if !c.state.Active() {
		c.mu.Unlock()
		return nil, nil
	}
	c.gen++
	c.state = StateClosed
	if cause != nil {
		c.lastErr = cause
	}
	cancel := c.cancel
	c.cancel = nil
	r := c.run
	c.run = nil
	released := c.released
	c.mu.Unlock()

	if r == nil {
		// Connecting: Start notices the generation change, rolls back and
		// closes released.
		cancel()
		return nil, released
	}

	r.teardown()
	cancel()
	<-r.uplinkDone
	close(r.released)

	ctx := context.Background()
	c.metrics.RecordSessionEnd(ctx, reason)
	log := slog.With("reason", reason)
	if cause != nil {
		log.Warn("voice: session ended", "err", cause)
	} else {
		log.Info("voice: session ended")
	}
	return r, released
}

// teardown releases the session resources in a fixed order.
func (r *run) teardown() {
	r.queue.Stop()
	if err := r.session.Close(); err != nil {
		slog.Debug("voice: close session", "err", err)
	}
	if err := r.unit.Close(); err != nil {
		slog.Debug("voice: close microphone", "err", err)
	}
	if err := r.out.Close(); err != nil {
		slog.Debug("voice: close output", "err", err)
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Volume returns the RMS level of the latest microphone frame, or 0 when no
// session is open.
func (c *Controller) Volume() float64 {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()
	if r == nil {
		return 0
	}
	return r.unit.Volume()
}

// Pending returns the number of reply buffers scheduled or playing.
func (c *Controller) Pending() int {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()
	if r == nil {
		return 0
	}
	return r.queue.Pending()
}

// LastError returns the cause of the last failed Start or remote teardown.
// It is cleared by the next Start.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Current returns the settings of the open session and whether one is open.
func (c *Controller) Current() (Settings, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return Settings{}, false
	}
	return c.run.settings, true
}

// setInterrupted flips between Open and Interrupted for the session gen.
func (c *Controller) setInterrupted(gen uint64, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	switch {
	case on && c.state == StateOpen:
		c.state = StateInterrupted
	case !on && c.state == StateInterrupted:
		c.state = StateOpen
	}
}
