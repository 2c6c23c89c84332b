package dynexp

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dynexp-go/core/errs"
	"golang.org/x/sync/errgroup"
)

// Manager is a category-typed, ID-keyed map of objects it strongly owns.
// hardware.Manager, instrument.Manager, and module.Manager each wrap one
// Manager[T] instantiated for their own Object subtype, adding
// category-specific bulk operations on top (§4.6).
type Manager[T Object] struct {
	mu     sync.RWMutex
	items  map[ItemID]T
	nextID ItemID
}

// NewManager constructs an empty Manager.
func NewManager[T Object]() *Manager[T] {
	return &Manager[T]{items: make(map[ItemID]T)}
}

// InsertResource emplaces obj, either under the given id (project load) or
// the manager's next auto-assigned id (id == ItemIDInvalid). The next-ID
// counter always advances past whatever id was used.
func (m *Manager[T]) InsertResource(obj T, id ItemID) ItemID {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == ItemIDInvalid {
		m.nextID++
		id = m.nextID
	} else if id > m.nextID {
		m.nextID = id
	}
	m.items[id] = obj
	return id
}

// GetResource looks up an object by id.
func (m *Manager[T]) GetResource(id ItemID) (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.items[id]
	return obj, ok
}

// ShareResource returns the same shared handle as GetResource; Manager
// objects are always shared-ownership in this Go implementation (there is
// no unique_ptr-style exclusive variant), so this is an alias kept for
// parity with the platform's ShareResource/GetResource distinction.
func (m *Manager[T]) ShareResource(id ItemID) (T, bool) {
	return m.GetResource(id)
}

// ExtractResource removes and returns obj, transferring ownership out of
// the manager without running any shutdown logic.
func (m *Manager[T]) ExtractResource(id ItemID) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.items[id]
	if ok {
		delete(m.items, id)
	}
	return obj, ok
}

// RemoveResource blocks until the object's use-count is zero (or timeout
// elapses, raising errs.Timeout), then erases it.
func (m *Manager[T]) RemoveResource(id ItemID, timeout time.Duration) error {
	m.mu.RLock()
	obj, ok := m.items[id]
	m.mu.RUnlock()
	if !ok {
		return errs.New(errs.NotFound, errs.SeverityError, "no such resource")
	}

	if err := obj.BlockIfUnused(timeout); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.items, id)
	m.mu.Unlock()
	return nil
}

// IDs returns every managed ItemID in ascending order.
func (m *Manager[T]) IDs() []ItemID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]ItemID, 0, len(m.items))
	for id := range m.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Filter returns the IDs of every managed object matching pred.
func (m *Manager[T]) Filter(pred func(T) bool) []ItemID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ItemID
	for id, obj := range m.items {
		if pred(obj) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// GetFailedResourceIDs returns the IDs of every object currently holding an
// exception. When onlyInUse is true, objects with a zero use-count are
// excluded.
func (m *Manager[T]) GetFailedResourceIDs(onlyInUse bool) []ItemID {
	return m.Filter(func(obj T) bool {
		if obj.GetException(0) == nil {
			return false
		}
		if onlyInUse && obj.UseCount() == 0 {
			return false
		}
		return true
	})
}

// ResetFailedResources resets (force) every failed object, aggregating
// errors the same way Startup does: iteration continues past per-object
// failures, and the first failure is re-raised once every object has been
// attempted.
func (m *Manager[T]) ResetFailedResources() error {
	ids := m.GetFailedResourceIDs(false)
	var firstErr error
	for _, id := range ids {
		obj, ok := m.GetResource(id)
		if !ok {
			continue
		}
		if err := obj.Reset(true); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ClearResourcesWarnings clears the warning on every managed object.
func (m *Manager[T]) ClearResourcesWarnings() {
	m.mu.RLock()
	objs := make([]T, 0, len(m.items))
	for _, obj := range m.items {
		objs = append(objs, obj)
	}
	m.mu.RUnlock()
	for _, obj := range objs {
		obj.ClearWarning()
	}
}

// Startup calls EnsureReadyState on every managed object for which
// shouldAutoStart returns true; a nil shouldAutoStart starts every object,
// which is what the category managers pass. Iteration continues past per-object
// failures; the first failure is captured and re-raised once the whole
// cohort has been attempted, so a transient fault on one object doesn't
// abort startup of the rest.
func (m *Manager[T]) Startup(ctx context.Context, shouldAutoStart func(T) bool) error {
	m.mu.RLock()
	objs := make([]T, 0, len(m.items))
	for _, obj := range m.items {
		objs = append(objs, obj)
	}
	m.mu.RUnlock()

	errOnce := make([]error, len(objs))
	grp, _ := errgroup.WithContext(ctx)
	for i, obj := range objs {
		i, obj := i, obj
		if shouldAutoStart != nil && !shouldAutoStart(obj) {
			continue
		}
		grp.Go(func() error {
			if err := obj.EnsureReadyState(true); err != nil {
				errOnce[i] = err
			}
			return nil
		})
	}
	_ = grp.Wait()

	for _, err := range errOnce {
		if err != nil {
			return err
		}
	}
	return nil
}

// Shutdown invokes terminate on every managed object, aggregating errors
// the same way Startup does.
func (m *Manager[T]) Shutdown(terminate func(T) error) error {
	m.mu.RLock()
	objs := make([]T, 0, len(m.items))
	for _, obj := range m.items {
		objs = append(objs, obj)
	}
	m.mu.RUnlock()

	var firstErr error
	for _, obj := range objs {
		if terminate == nil {
			continue
		}
		if err := terminate(obj); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PrepareReset terminates every managed object in preparation for the
// manager itself being destroyed or cleared.
func (m *Manager[T]) PrepareReset(terminate func(T) error) error {
	return m.Shutdown(terminate)
}

// Reset clears the manager's contents entirely. Callers must have already
// called PrepareReset/Shutdown.
func (m *Manager[T]) Reset() {
	m.mu.Lock()
	m.items = make(map[ItemID]T)
	m.mu.Unlock()
}

// Len reports how many objects the manager owns.
func (m *Manager[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
