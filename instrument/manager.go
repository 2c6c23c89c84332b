package instrument

import (
	"context"

	dynexp "github.com/dynexp-go/core"
)

// Manager owns every Instrument in the graph (§4.6).
type Manager struct {
	*dynexp.Manager[*Instrument]
}

// NewManager constructs an empty instrument Manager.
func NewManager() *Manager {
	return &Manager{Manager: dynexp.NewManager[*Instrument]()}
}

// Startup launches every managed instrument's worker goroutine concurrently.
func (m *Manager) Startup(ctx context.Context) error {
	return m.Manager.Startup(ctx, nil)
}

// TerminateAll stops every managed instrument's worker goroutine, waiting
// up to ctx's deadline for each in turn.
func (m *Manager) TerminateAll(ctx context.Context) error {
	return m.Manager.Shutdown(func(inst *Instrument) error {
		return inst.Terminate(ctx)
	})
}

// GetNumRunningInstruments counts instruments whose worker goroutine is
// currently alive.
func (m *Manager) GetNumRunningInstruments() int {
	return len(m.Filter(func(inst *Instrument) bool { return inst.running.Load() }))
}

// AllInitialized reports whether every managed instrument is ready and
// free of a stored exception.
func (m *Manager) AllInitialized() bool {
	for _, id := range m.IDs() {
		inst, ok := m.GetResource(id)
		if !ok {
			continue
		}
		if !inst.IsReady() {
			return false
		}
	}
	return true
}
