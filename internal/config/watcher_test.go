package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/netbdpro/nbdlive/internal/config"
)

const watchedYAML = `
server:
  log_level: info
live:
  name: gemini-live
voice:
  default_voice: Zephyr
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// rewrite replaces the file and moves its mtime forward so the change is
// seen even on filesystems with coarse timestamps.
func rewrite(t *testing.T, path, content string) {
	t.Helper()
	writeFile(t, path, content)
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

type change struct{ old, new *config.Config }

func watch(t *testing.T, content string, opts ...config.WatcherOption) (*config.Watcher, string, *[]change) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nbdlive.yaml")
	writeFile(t, path, content)
	var changes []change
	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		changes = append(changes, change{old, new})
	}, opts...)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	return w, path, &changes
}

func TestWatcher_Reload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		next        string
		wantChanged bool
		wantErr     bool
		wantVoice   string
	}{
		{
			name:        "voice and level",
			next:        "server:\n  log_level: debug\nvoice:\n  default_voice: Puck\n  default_language: Bengali\n",
			wantChanged: true,
			wantVoice:   "Puck",
		},
		{
			name:      "same content",
			next:      watchedYAML,
			wantVoice: "Zephyr",
		},
		{
			name:      "invalid level keeps last good",
			next:      "server:\n  log_level: bananas\n",
			wantErr:   true,
			wantVoice: "Zephyr",
		},
		{
			name:      "unknown key keeps last good",
			next:      "voice:\n  default_voise: Puck\n",
			wantErr:   true,
			wantVoice: "Zephyr",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w, path, changes := watch(t, watchedYAML)
			rewrite(t, path, tt.next)

			changed, err := w.Reload()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Reload() err = %v, wantErr %v", err, tt.wantErr)
			}
			if changed != tt.wantChanged {
				t.Errorf("changed = %v, want %v", changed, tt.wantChanged)
			}
			if got := w.Current().Voice.DefaultVoice; got != tt.wantVoice {
				t.Errorf("current voice = %q, want %q", got, tt.wantVoice)
			}
			if want := 0; tt.wantChanged {
				want = 1
				if len(*changes) != want {
					t.Fatalf("callback ran %d times, want %d", len(*changes), want)
				}
				d := config.Diff((*changes)[0].old, (*changes)[0].new)
				if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
					t.Errorf("diff = %+v, want level change to debug", d)
				}
				if !d.VoiceDefaultsChanged || d.NewDefaultLanguage != "Bengali" {
					t.Errorf("diff = %+v, want voice defaults change to Bengali", d)
				}
			} else if len(*changes) != want {
				t.Errorf("callback ran %d times, want none", len(*changes))
			}
		})
	}
}

func TestWatcher_AppliesEnvOnReload(t *testing.T) {
	t.Parallel()
	env := func(name string) string {
		if name == "GEMINI_API_KEY" {
			return "from-env"
		}
		return ""
	}
	w, path, _ := watch(t, watchedYAML, config.WithEnv(env))
	if got := w.Current().Live.APIKey; got != "from-env" {
		t.Fatalf("initial key = %q, want from-env", got)
	}

	rewrite(t, path, "server:\n  log_level: warn\n")
	if _, err := w.Reload(); err != nil {
		t.Fatal(err)
	}
	if got := w.Current().Live.APIKey; got != "from-env" {
		t.Errorf("key after reload = %q, want from-env", got)
	}
}

func TestWatcher_TouchIsNotAChange(t *testing.T) {
	t.Parallel()
	w, path, changes := watch(t, watchedYAML)
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	if changed, err := w.Reload(); err != nil || changed {
		t.Errorf("Reload() = %v, %v after touch", changed, err)
	}
	if len(*changes) != 0 {
		t.Errorf("callback ran %d times", len(*changes))
	}
}

func TestWatcher_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatal("NewWatcher on a missing file succeeded")
	}

	w, path, _ := watch(t, watchedYAML)
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Reload(); err == nil {
		t.Error("Reload of a removed file succeeded")
	}
	if w.Current() == nil {
		t.Error("removed file dropped the current config")
	}
}

func TestWatcher_RunPollsUntilCancelled(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nbdlive.yaml")
	writeFile(t, path, watchedYAML)

	seen := make(chan string, 1)
	w, err := config.NewWatcher(path, func(_, new *config.Config) {
		seen <- new.Voice.DefaultVoice
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	rewrite(t, path, "voice:\n  default_voice: Kore\n")
	select {
	case v := <-seen:
		if v != "Kore" {
			t.Errorf("reloaded voice = %q, want Kore", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("change not picked up")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
