// Package settings persists user preferences outside the voice subsystem:
// the preferred prebuilt voice, the language preference and an optional
// custom API key.
//
// Preferences live in a small key/value [Store]. A YAML file is the default
// backend; [PostgresStore] is used when a DSN is configured.
package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/netbdpro/nbdlive/internal/voice"
	"github.com/netbdpro/nbdlive/pkg/provider/live"
)

// Well-known preference keys.
const (
	KeyVoice    = "preferred_voice"
	KeyLanguage = "language"
	KeyAPIKey   = "custom_api_key"
)

// ErrInvalid is wrapped by [Preferences.Validate] errors.
var ErrInvalid = errors.New("settings: invalid preferences")

// Store is a string key/value store. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the value stored under key. ok is false when the key has
	// never been set.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Close releases the backend.
	Close() error
}

// Preferences is the typed view of the stored keys.
type Preferences struct {
	Voice    string `json:"voice" yaml:"voice"`
	Language string `json:"language" yaml:"language"`
	APIKey   string `json:"-" yaml:"-"`
}

// Defaults returns the preferences used for keys that were never stored.
func Defaults() Preferences {
	return Preferences{Voice: live.DefaultVoice, Language: voice.AutoDetect}
}

// Validate reports every problem with p.
func (p Preferences) Validate() error {
	var errs []error
	if _, ok := live.LookupVoice(p.Voice); !ok {
		errs = append(errs, fmt.Errorf("%w: unknown voice %q", ErrInvalid, p.Voice))
	}
	if !voice.KnownLanguage(p.Language) {
		errs = append(errs, fmt.Errorf("%w: unknown language %q", ErrInvalid, p.Language))
	}
	return errors.Join(errs...)
}

// Session converts p into the settings passed to a voice session.
func (p Preferences) Session() voice.Settings {
	return voice.Settings{Voice: p.Voice, Language: p.Language, APIKey: p.APIKey}
}

// Load reads the preferences from s, filling unset keys from defaults.
func Load(ctx context.Context, s Store, defaults Preferences) (Preferences, error) {
	p := defaults
	for _, f := range []struct {
		key string
		dst *string
	}{
		{KeyVoice, &p.Voice},
		{KeyLanguage, &p.Language},
		{KeyAPIKey, &p.APIKey},
	} {
		v, ok, err := s.Get(ctx, f.key)
		if err != nil {
			return Preferences{}, fmt.Errorf("settings: load %s: %w", f.key, err)
		}
		if ok {
			*f.dst = v
		}
	}
	return p, nil
}

// Save validates p and writes every key to s.
func Save(ctx context.Context, s Store, p Preferences) error {
	if err := p.Validate(); err != nil {
		return err
	}
	for _, kv := range [][2]string{
		{KeyVoice, p.Voice},
		{KeyLanguage, p.Language},
		{KeyAPIKey, p.APIKey},
	} {
		if err := s.Set(ctx, kv[0], kv[1]); err != nil {
			return fmt.Errorf("settings: save %s: %w", kv[0], err)
		}
	}
	return nil
}

// Open returns the backend selected by configuration: PostgreSQL when dsn is
// set, otherwise the YAML file at path, otherwise an in-memory store.
func Open(ctx context.Context, path, dsn string) (Store, error) {
	switch {
	case dsn != "":
		return OpenPostgres(ctx, dsn)
	case path != "":
		return OpenFile(path)
	default:
		return NewMemStore(nil), nil
	}
}
