// Package dynexp implements the object/runtime substrate of a laboratory
// measurement platform's core: the typed object model, the per-object
// execution discipline, and the resource managers that bind them together.
// Concrete hardware adapters, instruments, and modules live in the
// hardware, instrument, and module subpackages; this package defines the
// shared Object/Params/Library contracts they all build on.
package dynexp

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dynexp-go/core/errs"
	"github.com/dynexp-go/core/syncutil"
)

// ItemID identifies an Object within its owning manager. The zero value
// means "unset". IDs are assigned monotonically per manager.
type ItemID uint64

// ItemIDInvalid is the unset sentinel.
const ItemIDInvalid ItemID = 0

func (id ItemID) String() string {
	if id == ItemIDInvalid {
		return "ItemID(unset)"
	}
	return fmt.Sprintf("ItemID(%d)", uint64(id))
}

// ThreadID identifies the owning goroutine/thread of an Object, recorded at
// construction time. It is the analogue of a std::thread::id: used only for
// bookkeeping/assertions, never for scheduling decisions.
type ThreadID int64

// State is the coarse-grained status the object observer interface
// reports for an Object.
type State uint8

const (
	StateReady State = iota
	StateRunning
	StatePaused
	StateWarning
	StateError
	StateNotConnected
	StateNotResponding
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "Ready"
	case StateRunning:
		return "Running"
	case StatePaused:
		return "Paused"
	case StateWarning:
		return "Warning"
	case StateError:
		return "Error"
	case StateNotConnected:
		return "NotConnected"
	case StateNotResponding:
		return "NotResponding"
	default:
		return "Unknown"
	}
}

// LinkParameter describes one ObjectLink field for the observer interface.
type LinkParameter struct {
	Title   string
	Targets []ItemID
}

// ObserverView is the read-only snapshot the UI collaborator polls.
type ObserverView struct {
	ID             ItemID
	Name           string
	Category       string
	ObjectName     string
	State          State
	Tooltip        string
	NetworkAddress *string
	Links          []LinkParameter
}

// Reporter receives every exception an object's worker thread captures, so
// a process-wide event log (internal/corelog.Sink) can record it the
// moment it happens (§6), rather than only when a caller later polls
// GetException/Observe. internal/corelog.Sink satisfies this interface
// via its ReportException method.
type Reporter interface {
	ReportException(e *errs.Exception)
}

// Runnable is an Object that owns a dedicated worker goroutine (an
// instrument or a module), per the object observer interface's
// per-runnable fields (§6): whether its worker loop is currently running,
// whether it is paused (e.g. waiting on a linked object to become ready),
// and if so why.
type Runnable interface {
	Object
	IsRunning() bool
	IsPaused() bool
	GetReasonWhyPaused() string
}

// Object is any managed entity in the graph: a hardware adapter, an
// instrument, or a module.
type Object interface {
	GetID() ItemID
	GetName() string
	GetCategory() string
	GetObjectName() string
	SetObjectName(name string)

	OwnerThread() ThreadID

	EnsureReadyState(isAutoStartup bool) error
	IsReady() bool
	Reset(force bool) error

	GetException(timeout time.Duration) *errs.Exception
	GetWarning() *errs.Exception
	SetWarning(w *errs.Exception)
	ClearWarning()

	UseCount() int64
	IncUseCount()
	DecUseCount()
	BlockIfUnused(timeout time.Duration) error

	Observe(timeout time.Duration) ObserverView

	// ConfigParams returns the object's persistable configuration.
	ConfigParams() *Params
}

// ObjectBase implements the bookkeeping shared by every concrete Object:
// identity, owning thread, warning/exception state, and use-count. Concrete
// types (hardware.Adapter, instrument.Instrument, module.Module) embed it.
type ObjectBase struct {
	id          ItemID
	category    string
	name        string
	objectName  atomic.Value // string
	ownerThread ThreadID

	lock      *syncutil.RecursiveLock
	exception *errs.Exception
	warning   *errs.Exception
	params    *Params

	// reporter, if set via SetReporter, is notified of every exception
	// SetException captures (§6).
	reporter Reporter

	useCount atomic.Int64

	// ResetFunc is invoked by Reset after use-count and state checks pass.
	// Concrete types set this during construction.
	ResetFunc func() error
	// EnsureReadyFunc is invoked by EnsureReadyState to perform the
	// concrete type's startup behavior (opening a channel, launching a
	// worker goroutine, ...).
	EnsureReadyFunc func(isAutoStartup bool) error
	// IsReadyFunc reports the concrete type's readiness, independent of
	// exception/warning state.
	IsReadyFunc func() bool
	// ObserveFunc lets a concrete type contribute extra observer fields
	// (tooltip, network address, links) on top of the base snapshot.
	ObserveFunc func(base ObserverView) ObserverView
}

// NewObjectBase constructs the embeddable base for a concrete Object.
func NewObjectBase(id ItemID, category, name string, owner ThreadID, params *Params) ObjectBase {
	b := ObjectBase{
		id:          id,
		category:    category,
		name:        name,
		ownerThread: owner,
		lock:        syncutil.NewRecursiveLock(),
		params:      params,
	}
	b.objectName.Store("")
	return b
}

// ConfigParams returns the object's persistable configuration.
func (b *ObjectBase) ConfigParams() *Params { return b.params }

func (b *ObjectBase) GetID() ItemID          { return b.id }
func (b *ObjectBase) GetCategory() string    { return b.category }
func (b *ObjectBase) GetName() string        { return b.name }
func (b *ObjectBase) OwnerThread() ThreadID  { return b.ownerThread }
func (b *ObjectBase) GetObjectName() string  { return b.objectName.Load().(string) }
func (b *ObjectBase) SetObjectName(n string) { b.objectName.Store(n) }

func (b *ObjectBase) UseCount() int64 { return b.useCount.Load() }
func (b *ObjectBase) IncUseCount()    { b.useCount.Add(1) }
func (b *ObjectBase) DecUseCount()    { b.useCount.Add(-1) }

// BlockIfUnused blocks until the use-count reaches zero or timeout elapses.
func (b *ObjectBase) BlockIfUnused(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for b.useCount.Load() != 0 {
		if time.Now().After(deadline) {
			return errs.TimeoutErr("object still in use")
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

// EnsureReadyState transitions the object towards ready-to-use, or fails
// with its stored exception. Idempotent.
func (b *ObjectBase) EnsureReadyState(isAutoStartup bool) error {
	guard, err := b.lock.AcquireLock(syncutil.DefaultTimeout)
	if err != nil {
		return err
	}
	exception := b.exception
	guard.Release()

	if exception != nil {
		return exception
	}
	if b.EnsureReadyFunc == nil {
		return nil
	}
	return b.EnsureReadyFunc(isAutoStartup)
}

// IsReady reports whether the object is usable right now.
func (b *ObjectBase) IsReady() bool {
	guard, err := b.lock.AcquireLock(syncutil.ShortTimeout)
	if err != nil {
		return false
	}
	hasException := b.exception != nil
	guard.Release()
	if hasException {
		return false
	}
	if b.IsReadyFunc == nil {
		return true
	}
	return b.IsReadyFunc()
}

// Reset requires use-count zero (unless force), clears exception/warning,
// and invokes the concrete type's ResetFunc.
func (b *ObjectBase) Reset(force bool) error {
	if !force {
		if b.useCount.Load() != 0 {
			return errs.New(errs.InvalidState, errs.SeverityError, "object is in use")
		}
	}

	guard, err := b.lock.AcquireLock(syncutil.DefaultTimeout)
	if err != nil {
		return err
	}
	b.exception = nil
	b.warning = nil
	guard.Release()

	if b.ResetFunc != nil {
		return b.ResetFunc()
	}
	return nil
}

// GetException returns the object's stored fatal exception, if any. If the
// object's lock is not acquired within timeout it returns a new Timeout
// exception instead, which is not stored.
func (b *ObjectBase) GetException(timeout time.Duration) *errs.Exception {
	guard, err := b.lock.AcquireLock(timeout)
	if err != nil {
		return errs.TimeoutErr("timed out reading exception state")
	}
	defer guard.Release()
	return b.exception
}

// SetException stores the object's fatal exception (worker-thread entry
// point; see the propagation policy in §7), and reports it to the
// registered Reporter, if any.
func (b *ObjectBase) SetException(e *errs.Exception) {
	guard, err := b.lock.AcquireLock(syncutil.DefaultTimeout)
	if err != nil {
		return
	}
	b.exception = e
	reporter := b.reporter
	guard.Release()

	if e != nil && reporter != nil {
		reporter.ReportException(e)
	}
}

// SetReporter registers the Reporter (e.g. internal/corelog.Sink) this
// object notifies whenever a worker thread captures an exception via
// SetException.
func (b *ObjectBase) SetReporter(r Reporter) {
	guard, err := b.lock.AcquireLock(syncutil.DefaultTimeout)
	if err != nil {
		return
	}
	defer guard.Release()
	b.reporter = r
}

// GetWarning returns the object's current recoverable-condition warning.
func (b *ObjectBase) GetWarning() *errs.Exception {
	guard, err := b.lock.AcquireLock(syncutil.ShortTimeout)
	if err != nil {
		return nil
	}
	defer guard.Release()
	return b.warning
}

// SetWarning records a recoverable-condition warning.
func (b *ObjectBase) SetWarning(w *errs.Exception) {
	guard, err := b.lock.AcquireLock(syncutil.DefaultTimeout)
	if err != nil {
		return
	}
	defer guard.Release()
	b.warning = w
}

// SetWarningMessage is SetWarning for callers that have a message and a
// code rather than a ready-made exception (§4.2).
func (b *ObjectBase) SetWarningMessage(message string, code errs.Code) {
	b.SetWarning(errs.New(code, errs.SeverityWarning, message))
}

// ClearWarning clears any recorded warning.
func (b *ObjectBase) ClearWarning() {
	b.SetWarning(nil)
}

// Observe returns the read-only snapshot for the object observer interface.
// Acquiring the object's lock respects timeout; on timeout the returned
// view reports StateNotResponding rather than blocking the caller.
func (b *ObjectBase) Observe(timeout time.Duration) ObserverView {
	guard, err := b.lock.AcquireLock(timeout)
	if err != nil {
		return ObserverView{
			ID:         b.id,
			Name:       b.name,
			Category:   b.category,
			ObjectName: b.GetObjectName(),
			State:      StateNotResponding,
		}
	}
	exception := b.exception
	warning := b.warning
	guard.Release()

	view := ObserverView{
		ID:         b.id,
		Name:       b.name,
		Category:   b.category,
		ObjectName: b.GetObjectName(),
	}
	switch {
	case exception != nil:
		view.State = StateError
		view.Tooltip = exception.Error()
	case warning != nil:
		view.State = StateWarning
		view.Tooltip = warning.Error()
	case b.IsReadyFunc != nil && !b.IsReadyFunc():
		view.State = StateNotConnected
	default:
		view.State = StateReady
	}
	if b.ObserveFunc != nil {
		view = b.ObserveFunc(view)
	}
	return view
}

// Lock exposes the object's own RecursiveLock to embedding types that need
// to guard additional fields under the same lock (the "logical const"
// contract: acquiring this lock to enqueue work does not count as mutating
// the object itself).
func (b *ObjectBase) Lock() *syncutil.RecursiveLock { return b.lock }

var _ Object = (*ObjectBase)(nil)
