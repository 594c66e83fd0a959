package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

// backends builds a group over named endpoints, primary first.
func backends(maxFailures int, names ...string) *FallbackGroup[string] {
	fg := NewFallbackGroup(names[0], names[0], FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: maxFailures, ResetTimeout: time.Hour},
	})
	for _, n := range names[1:] {
		fg.AddFallback(n, n)
	}
	return fg
}

func TestExecuteWithResult(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		failing   []string
		want      string
		wantCalls []string
		wantErr   bool
	}{
		{name: "primary answers", want: "gemini-live", wantCalls: []string{"gemini-live"}},
		{name: "fails over in order", failing: []string{"gemini-live"}, want: "genai", wantCalls: []string{"gemini-live", "genai"}},
		{name: "skips to last", failing: []string{"gemini-live", "genai"}, want: "staging", wantCalls: []string{"gemini-live", "genai", "staging"}},
		{name: "all fail", failing: []string{"gemini-live", "genai", "staging"}, wantCalls: []string{"gemini-live", "genai", "staging"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fg := backends(3, "gemini-live", "genai", "staging")

			var calls []string
			got, err := ExecuteWithResult(context.Background(), fg, func(name string) (string, error) {
				calls = append(calls, name)
				if slices.Contains(tt.failing, name) {
					return "", errTest
				}
				return name, nil
			})
			if !slices.Equal(calls, tt.wantCalls) {
				t.Errorf("calls = %v, want %v", calls, tt.wantCalls)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
					t.Fatalf("err = %v, want ErrAllFailed wrapping the last error", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("got %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

func TestExecuteWithResult_OpenBreakerIsSkipped(t *testing.T) {
	t.Parallel()
	fg := backends(2, "gemini-live", "genai")

	primaryDown := func(name string) (string, error) {
		if name == "gemini-live" {
			return "", errTest
		}
		return name, nil
	}
	for range 2 {
		_, _ = ExecuteWithResult(context.Background(), fg, primaryDown)
	}

	var calls []string
	got, err := ExecuteWithResult(context.Background(), fg, func(name string) (string, error) {
		calls = append(calls, name)
		return name, nil
	})
	if err != nil || got != "genai" {
		t.Fatalf("got %q, %v; want genai", got, err)
	}
	if !slices.Equal(calls, []string{"genai"}) {
		t.Errorf("calls = %v, want the open primary skipped", calls)
	}

	states := fg.States()
	if states["gemini-live"] != StateOpen || states["genai"] != StateClosed {
		t.Errorf("States() = %v", states)
	}
}

func TestExecuteWithResult_AllOpenWrapsCircuitOpen(t *testing.T) {
	t.Parallel()
	fg := backends(1, "gemini-live")

	_, _ = ExecuteWithResult(context.Background(), fg, func(string) (int, error) { return 0, errTest })
	_, err := ExecuteWithResult(context.Background(), fg, func(string) (int, error) {
		t.Error("fn called through an open breaker")
		return 0, nil
	})
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping ErrCircuitOpen", err)
	}
}

func TestExecuteWithResult_StopsWhenContextDone(t *testing.T) {
	t.Parallel()
	fg := backends(3, "gemini-live", "genai")

	ctx, cancel := context.WithCancel(context.Background())
	var calls []string
	_, err := ExecuteWithResult(ctx, fg, func(name string) (string, error) {
		calls = append(calls, name)
		cancel()
		return "", errTest
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(calls) != 1 {
		t.Fatalf("calls = %v, want only the primary", calls)
	}
}
