package module

import (
	"context"

	dynexp "github.com/dynexp-go/core"
)

// WindowStateful is implemented by modules that persist GUI window
// geometry; restored from original_source/'s module/window lineage,
// scoped here to an opaque blob the core never interprets.
type WindowStateful interface {
	SaveWindowState() ([]byte, error)
	RestoreWindowState([]byte) error
}

var _ WindowStateful = (*Module)(nil)

// Manager owns every Module in the graph (§4.6).
type Manager struct {
	*dynexp.Manager[*Module]
}

// NewManager constructs an empty module Manager.
func NewManager() *Manager {
	return &Manager{Manager: dynexp.NewManager[*Module]()}
}

// Startup launches every managed module's worker goroutine concurrently.
func (m *Manager) Startup(ctx context.Context) error {
	return m.Manager.Startup(ctx, nil)
}

// TerminateAll stops every managed module's worker goroutine.
func (m *Manager) TerminateAll(ctx context.Context) error {
	return m.Manager.Shutdown(func(mod *Module) error {
		return mod.Terminate(ctx)
	})
}

// GetNumRunningModules counts modules whose worker goroutine is alive.
func (m *Manager) GetNumRunningModules() int {
	return len(m.Filter(func(mod *Module) bool { return mod.running.Load() }))
}

// SaveWindowState collects window state from every managed module that has
// a non-empty blob to persist (i.e. was constructed with WithWindowState),
// keyed by ItemID. *Module implements WindowStateful unconditionally, via
// the hooks WithWindowState registers; a module with no hook set
// contributes nothing.
func (m *Manager) SaveWindowState() map[dynexp.ItemID][]byte {
	out := make(map[dynexp.ItemID][]byte)
	for _, id := range m.IDs() {
		mod, ok := m.GetResource(id)
		if !ok {
			continue
		}
		blob, err := mod.SaveWindowState()
		if err != nil || len(blob) == 0 {
			continue
		}
		out[id] = blob
	}
	return out
}

// RestoreWindowState hands each blob back to its module.
func (m *Manager) RestoreWindowState(state map[dynexp.ItemID][]byte) {
	for id, blob := range state {
		mod, ok := m.GetResource(id)
		if !ok {
			continue
		}
		_ = mod.RestoreWindowState(blob)
	}
}
