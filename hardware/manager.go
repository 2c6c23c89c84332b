package hardware

import (
	"context"

	dynexp "github.com/dynexp-go/core"
)

// Manager owns every HardwareAdapter in the graph (§4.6).
type Manager struct {
	*dynexp.Manager[*Adapter]
}

// NewManager constructs an empty hardware Manager.
func NewManager() *Manager {
	return &Manager{Manager: dynexp.NewManager[*Adapter]()}
}

// Startup calls EnsureReadyState on every adapter concurrently, continuing
// past individual failures and returning the first error encountered.
func (m *Manager) Startup(ctx context.Context) error {
	return m.Manager.Startup(ctx, nil)
}

// Shutdown stops every adapter's worker and closes its channel,
// continuing past individual failures.
func (m *Manager) Shutdown() error {
	return m.Manager.Shutdown(func(a *Adapter) error {
		return a.Shutdown()
	})
}

// AllConnected reports whether every managed adapter currently reports a
// connected channel.
func (m *Manager) AllConnected() bool {
	ok := true
	for _, id := range m.IDs() {
		a, found := m.GetResource(id)
		if !found {
			continue
		}
		if !a.Connected() {
			ok = false
		}
	}
	return ok
}
