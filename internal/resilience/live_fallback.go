package resilience

import (
	"context"

	"github.com/netbdpro/nbdlive/pkg/provider/live"
)

// LiveFallback implements [live.Provider] with a circuit breaker around each
// backend's handshake and failover to the next backend. Only Connect is
// protected; an established session is never migrated.
type LiveFallback struct {
	group *FallbackGroup[live.Provider]
}

// Compile-time interface assertion.
var _ live.Provider = (*LiveFallback)(nil)

// NewLiveFallback creates a [LiveFallback] with primary as the preferred backend.
func NewLiveFallback(primary live.Provider, primaryName string, cfg FallbackConfig) *LiveFallback {
	return &LiveFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional live provider as a fallback.
func (f *LiveFallback) AddFallback(name string, provider live.Provider) {
	f.group.AddFallback(name, provider)
}

// Connect opens a session on the first healthy backend.
func (f *LiveFallback) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	return ExecuteWithResult(ctx, f.group, func(p live.Provider) (live.Session, error) {
		return p.Connect(ctx, cfg)
	})
}

// Capabilities returns the capabilities of the primary. This does not
// participate in failover because capabilities are static metadata.
func (f *LiveFallback) Capabilities() live.Capabilities {
	return f.group.entries[0].value.Capabilities()
}

// BreakerStates reports the breaker state per backend, for readiness checks.
func (f *LiveFallback) BreakerStates() map[string]State {
	return f.group.States()
}
