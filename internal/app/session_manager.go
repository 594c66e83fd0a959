package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/netbdpro/nbdlive/internal/settings"
	"github.com/netbdpro/nbdlive/internal/voice"
)

// ErrSessionActive is returned when voice or language are changed while a
// voice session is connecting or open.
var ErrSessionActive = errors.New("app: voice session active")

// SessionInfo holds metadata about the current voice session.
type SessionInfo struct {
	// SessionID is a timestamp-derived identifier used in logs.
	SessionID string `json:"session_id"`

	Voice     string    `json:"voice"`
	Language  string    `json:"language"`
	StartedAt time.Time `json:"started_at"`
}

// Status is a snapshot of the voice subsystem.
type Status struct {
	State     string       `json:"state"`
	Volume    float64      `json:"volume"`
	Pending   int          `json:"pending"`
	LastError string       `json:"last_error,omitempty"`
	Session   *SessionInfo `json:"session,omitempty"`
}

// PreferencesUpdate is a partial change of the stored preferences. Nil
// fields are left untouched; an empty APIKey clears the custom key.
type PreferencesUpdate struct {
	Voice    *string `json:"voice"`
	Language *string `json:"language"`
	APIKey   *string `json:"api_key"`
}

// SessionManager binds the stored preferences to the voice controller. It
// resolves the settings for each session and refuses preference changes
// that would not apply to a running one. All exported methods are safe for
// concurrent use.
type SessionManager struct {
	ctrl  *voice.Controller
	store settings.Store
	model string
	now   func() time.Time

	// startMu serialises Start and UpdatePreferences so a preference change
	// cannot land between a session reading its settings and going active.
	startMu sync.Mutex

	mu       sync.Mutex
	defaults settings.Preferences
	info     SessionInfo
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Controller *voice.Controller
	Store      settings.Store

	// Defaults fill preferences that were never stored.
	Defaults settings.Preferences

	// Model overrides the live backend's default model when set.
	Model string
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	return &SessionManager{
		ctrl:     cfg.Controller,
		store:    cfg.Store,
		model:    cfg.Model,
		defaults: cfg.Defaults,
		now:      time.Now,
	}
}

// Start opens a voice session with the stored preferences. While a session
// is already connecting or open it returns the current session unchanged.
func (sm *SessionManager) Start(ctx context.Context) (SessionInfo, error) {
	sm.startMu.Lock()
	defer sm.startMu.Unlock()

	if sm.ctrl.State().Active() {
		return sm.Info(), nil
	}

	prefs, err := sm.Preferences(ctx)
	if err != nil {
		return SessionInfo{}, err
	}
	s := prefs.Session()
	s.Model = sm.model

	now := sm.now().UTC()
	info := SessionInfo{
		SessionID: "session-" + now.Format("20060102T150405Z"),
		Voice:     s.Voice,
		Language:  s.Language,
		StartedAt: now,
	}

	sm.mu.Lock()
	if !sm.ctrl.State().Active() {
		sm.info = SessionInfo{}
	}
	sm.mu.Unlock()

	if err := sm.ctrl.Start(ctx, s); err != nil {
		return SessionInfo{}, err
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if cur, ok := sm.ctrl.Current(); ok && cur == s && sm.info.SessionID == "" {
		sm.info = info
		slog.Info("voice session started", "session_id", info.SessionID, "voice", info.Voice, "language", info.Language)
	}
	return sm.info, nil
}

// Stop ends the current voice session, if any.
func (sm *SessionManager) Stop() {
	sm.ctrl.Stop()
	sm.mu.Lock()
	if sm.info.SessionID != "" {
		slog.Info("voice session stopped", "session_id", sm.info.SessionID)
	}
	sm.info = SessionInfo{}
	sm.mu.Unlock()
}

// Info returns the metadata of the running session, or the zero value.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !sm.ctrl.State().Active() {
		sm.info = SessionInfo{}
	}
	return sm.info
}

// Status returns a snapshot for the status endpoint.
func (sm *SessionManager) Status() Status {
	st := Status{
		State:   sm.ctrl.State().String(),
		Volume:  sm.ctrl.Volume(),
		Pending: sm.ctrl.Pending(),
	}
	if err := sm.ctrl.LastError(); err != nil {
		st.LastError = err.Error()
	}
	if info := sm.Info(); info.SessionID != "" {
		st.Session = &info
	}
	return st
}

// Preferences loads the stored preferences, filling unset keys from the
// current defaults.
func (sm *SessionManager) Preferences(ctx context.Context) (settings.Preferences, error) {
	sm.mu.Lock()
	defaults := sm.defaults
	sm.mu.Unlock()
	return settings.Load(ctx, sm.store, defaults)
}

// UpdatePreferences applies u and persists the result. Changing voice or
// language fails with [ErrSessionActive] while a session is active; the API
// key may change at any time and applies to the next session. A call made
// while Start is connecting waits for the outcome.
func (sm *SessionManager) UpdatePreferences(ctx context.Context, u PreferencesUpdate) (settings.Preferences, error) {
	sm.startMu.Lock()
	defer sm.startMu.Unlock()

	p, err := sm.Preferences(ctx)
	if err != nil {
		return settings.Preferences{}, err
	}
	next := p
	if u.Voice != nil {
		next.Voice = *u.Voice
	}
	if u.Language != nil {
		next.Language = *u.Language
	}
	if u.APIKey != nil {
		next.APIKey = *u.APIKey
	}

	if (next.Voice != p.Voice || next.Language != p.Language) && sm.ctrl.State().Active() {
		return settings.Preferences{}, ErrSessionActive
	}
	if err := settings.Save(ctx, sm.store, next); err != nil {
		return settings.Preferences{}, err
	}
	return next, nil
}

// SetDefaults replaces the fallback voice and language used for keys that
// were never stored.
func (sm *SessionManager) SetDefaults(voiceID, language string) {
	sm.mu.Lock()
	sm.defaults.Voice = voiceID
	sm.defaults.Language = language
	sm.mu.Unlock()
}

// CustomAPIKey returns the user's stored API key, or "" when none is set.
func (sm *SessionManager) CustomAPIKey(ctx context.Context) (string, error) {
	p, err := sm.Preferences(ctx)
	if err != nil {
		return "", fmt.Errorf("app: load api key: %w", err)
	}
	return p.APIKey, nil
}
