package module

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	dynexp "github.com/dynexp-go/core"
	"github.com/dynexp-go/core/errs"
	"github.com/dynexp-go/core/syncutil"
)

// DefaultMainLoopInterval is how often an idle module's ModuleMainLoop
// step runs (§4.5), mirroring instrument.DefaultUpdateInterval.
const DefaultMainLoopInterval = 100 * time.Millisecond

// LinkedReadyPause is how long the worker sleeps between re-checks of
// linked-object readiness while paused for that reason (§4.5: "sleep
// 100 ms; continue").
const LinkedReadyPause = 100 * time.Millisecond

// EnterFunc/ExitFunc let a concrete module type hook worker startup/
// shutdown without overriding the whole loop.
type EnterFunc func(ctx context.Context, m *Module) error
type ExitFunc func(ctx context.Context, m *Module) error

// MainLoopFunc is ModuleMainLoop (§4.5): the module's periodic step. A
// non-nil return terminates the module's worker loop, matching "result !=
// OK: break".
type MainLoopFunc func(ctx context.Context, m *Module) error

// PauseFunc/ResumeFunc are OnPause/OnResume (§4.5), invoked when the
// module transitions into/out of a linked-object-readiness pause.
type PauseFunc func(ctx context.Context, m *Module)
type ResumeFunc func(ctx context.Context, m *Module)

// LinkedReadyFunc reports whether every object a Module links is
// currently ready, and if not, a human-readable reason. A nil func means
// the module has no linked-object dependency and is always considered
// ready.
type LinkedReadyFunc func() (ready bool, reason string)

// SaveWindowStateFunc/RestoreWindowStateFunc back a module's WindowStateful
// conformance (see manager.go); a module with no GUI window has no need to
// set either.
type SaveWindowStateFunc func() ([]byte, error)
type RestoreWindowStateFunc func([]byte) error

// Module is the event-driven, one-goroutine-per-object runtime described
// in §4.5: a FIFO of Events drained by a dedicated worker goroutine, a
// periodic ModuleMainLoop step, automatic pause while linked objects are
// not ready, and a bounded consecutive-failure warning escalation.
type Module struct {
	dynexp.ObjectBase

	Data *Data

	onEnter    EnterFunc
	onExit     ExitFunc
	onMainLoop MainLoopFunc
	onPause    PauseFunc
	onResume   ResumeFunc
	linkedUp   LinkedReadyFunc

	onSaveWindowState    SaveWindowStateFunc
	onRestoreWindowState RestoreWindowStateFunc

	mainLoopInterval time.Duration

	running     atomic.Bool
	terminating atomic.Bool
	// exiting is set by Terminate before the teardown event is queued; a
	// termination request overrides both pause gates so a paused module
	// can still run its teardown (the loop checks exit before readiness).
	exiting atomic.Bool
	// manualPause is driven by the public Pause/Resume API; notReadyPause
	// is driven automatically by the loop's linked-object readiness check.
	// A module is effectively paused while either is set (§4.5).
	manualPause   atomic.Bool
	notReadyPause atomic.Bool
	reasonPaused  atomic.Value // string

	stopCh  chan struct{}
	wake    *syncutil.OneToOneNotifier
	ready   *syncutil.OneToOneNotifier
	initErr atomic.Pointer[errs.Exception]

	subMu         sync.Mutex
	subscriptions []func()
}

// Option configures a Module at construction time.
type Option func(*Module)

// WithEnter registers a hook run once when the worker starts.
func WithEnter(f EnterFunc) Option { return func(m *Module) { m.onEnter = f } }

// WithExit registers a hook run once when the worker stops.
func WithExit(f ExitFunc) Option { return func(m *Module) { m.onExit = f } }

// WithMainLoop registers the periodic ModuleMainLoop body.
func WithMainLoop(f MainLoopFunc) Option { return func(m *Module) { m.onMainLoop = f } }

// WithMainLoopInterval overrides DefaultMainLoopInterval. A zero or
// negative interval means "run every iteration" (§4.5's interval == ∞).
func WithMainLoopInterval(d time.Duration) Option {
	return func(m *Module) { m.mainLoopInterval = d }
}

// WithOnPause registers the hook run once when the module pauses because
// a linked object stopped being ready.
func WithOnPause(f PauseFunc) Option { return func(m *Module) { m.onPause = f } }

// WithOnResume registers the hook run once when the module resumes after
// its linked objects become ready again.
func WithOnResume(f ResumeFunc) Option { return func(m *Module) { m.onResume = f } }

// WithLinkedReadyCheck registers the predicate the worker loop polls to
// decide whether to auto-pause for unready linked objects.
func WithLinkedReadyCheck(f LinkedReadyFunc) Option { return func(m *Module) { m.linkedUp = f } }

// WithReporter registers the Reporter (e.g. internal/corelog.Sink) notified
// whenever this module's worker thread captures an exception (§6).
func WithReporter(r dynexp.Reporter) Option {
	return func(m *Module) { m.SetReporter(r) }
}

// WithWindowState registers the save/restore pair a module with a GUI
// window uses to persist its geometry (see manager.go's WindowStateful).
func WithWindowState(save SaveWindowStateFunc, restore RestoreWindowStateFunc) Option {
	return func(m *Module) {
		m.onSaveWindowState = save
		m.onRestoreWindowState = restore
	}
}

// SaveWindowState implements WindowStateful by delegating to the hook
// registered via WithWindowState. Returns (nil, nil) for a module with no
// window state to persist.
func (m *Module) SaveWindowState() ([]byte, error) {
	if m.onSaveWindowState == nil {
		return nil, nil
	}
	return m.onSaveWindowState()
}

// RestoreWindowState implements WindowStateful by delegating to the hook
// registered via WithWindowState. A no-op for a module with no window
// state hook registered.
func (m *Module) RestoreWindowState(blob []byte) error {
	if m.onRestoreWindowState == nil {
		return nil
	}
	return m.onRestoreWindowState(blob)
}

// New constructs a Module.
func New(id dynexp.ItemID, category, name string, owner dynexp.ThreadID, params *dynexp.Params, opts ...Option) *Module {
	m := &Module{
		ObjectBase:       dynexp.NewObjectBase(id, category, name, owner, params),
		Data:             NewData(),
		mainLoopInterval: DefaultMainLoopInterval,
		wake:             syncutil.NewOneToOneNotifier(),
		ready:            syncutil.NewOneToOneNotifier(),
	}
	m.reasonPaused.Store("")
	for _, opt := range opts {
		opt(m)
	}
	m.EnsureReadyFunc = m.ensureReady
	m.IsReadyFunc = m.running.Load
	m.ResetFunc = m.reset
	return m
}

func (m *Module) ensureReady(isAutoStartup bool) error {
	if m.running.Load() {
		return nil
	}
	if m.terminating.Load() {
		return errs.New(errs.InvalidState, errs.SeverityError, "module was terminated; Reset it before restarting")
	}

	// OnInit is enqueued as the module's first Event before the worker
	// starts (§4.5 "on start: enqueue OnInit event"), so an init failure
	// gets the same warning/streak treatment as every other event rather
	// than a side channel of its own.
	m.Data.pushSelf(func(c context.Context, mod *Module) error {
		defer mod.ready.Notify()
		if mod.onEnter == nil {
			return nil
		}
		if err := mod.onEnter(c, mod); err != nil {
			mod.initErr.Store(errs.Forward(err))
			return err
		}
		return nil
	})

	m.stopCh = make(chan struct{})
	go m.loop()
	m.ready.WaitTimeout(syncutil.DefaultTimeout)
	if e := m.initErr.Load(); e != nil {
		return e
	}
	return nil
}

func (m *Module) reset() error {
	if m.running.Load() {
		m.Terminate(context.Background())
	}
	m.initErr.Store(nil)
	m.terminating.Store(false)
	m.exiting.Store(false)
	m.Data.reopen()
	return nil
}

// EnqueueEvent appends ev to the module's FIFO and wakes the worker. Events
// enqueued while the module is paused are retained, not dropped, and run
// in order once the module resumes (§9 Open Question 1). Once Terminate
// has closed the queue, further events are rejected (§4.5).
func (m *Module) EnqueueEvent(ev Event) error {
	if !m.Data.push(ev) {
		return errs.New(errs.InvalidState, errs.SeverityWarning, "module event queue is closed")
	}
	m.wake.Notify()
	return nil
}

// MakeAndEnqueueEvent is the idiomatic call site for framework code and
// InterModuleEvent handlers alike: wrap a plain function as an Event and
// enqueue it on m.
func MakeAndEnqueueEvent(m *Module, fn func(ctx context.Context, m *Module) error) error {
	return m.EnqueueEvent(Event(fn))
}

// Pause suspends event processing; already-queued and newly enqueued
// events remain queued until Resume.
func (m *Module) Pause() { m.manualPause.Store(true) }

// Resume lifts a pause, waking the worker to drain anything queued while
// paused.
func (m *Module) Resume() {
	m.manualPause.Store(false)
	m.wake.Notify()
}

// IsRunning reports whether the module's worker goroutine is active.
func (m *Module) IsRunning() bool { return m.running.Load() }

// IsPaused reports whether the module is currently paused, either
// manually (Pause/Resume) or automatically because a linked object is not
// ready (§4.5).
func (m *Module) IsPaused() bool {
	return m.manualPause.Load() || m.notReadyPause.Load()
}

// GetReasonWhyPaused reports why the module auto-paused on an unready
// linked object; a module paused only manually reports "paused", and one
// that is not paused reports "" (§6).
func (m *Module) GetReasonWhyPaused() string {
	if v, _ := m.reasonPaused.Load().(string); v != "" {
		return v
	}
	if m.manualPause.Load() {
		return "paused"
	}
	return ""
}

var _ dynexp.Runnable = (*Module)(nil)

// Terminate stops the worker goroutine, running onExit first if set.
func (m *Module) Terminate(ctx context.Context) error {
	if !m.running.Load() {
		return nil
	}
	if !m.terminating.CompareAndSwap(false, true) {
		return nil
	}
	m.exiting.Store(true)
	// OnExit runs first, with the module's subscriptions still live, so an
	// explicit Deregister inside it takes effect; the framework's blanket
	// OnDeregisterEvents follows as a separate event, a safety net for
	// whatever OnExit forgot (§4.5).
	done := make(chan struct{})
	m.Data.pushSelf(func(c context.Context, mod *Module) error {
		if mod.onExit == nil {
			return nil
		}
		return mod.onExit(c, mod)
	})
	m.Data.pushSelf(func(c context.Context, mod *Module) error {
		defer close(done)
		OnDeregisterEvents(mod)
		return nil
	})
	m.Data.closeQueue()
	m.wake.Notify()

	select {
	case <-done:
	case <-ctx.Done():
	}
	close(m.stopCh)
	return nil
}

// addSubscription records an InterModuleEvent unregister func so the
// framework can guarantee full deregistration even if a module's own
// OnExit forgets to call it (§4.5).
func (m *Module) addSubscription(unregister func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subscriptions = append(m.subscriptions, unregister)
}

// OnDeregisterEvents walks m's recorded subscriptions and unregisters
// every one of them.
func OnDeregisterEvents(m *Module) {
	m.subMu.Lock()
	subs := m.subscriptions
	m.subscriptions = nil
	m.subMu.Unlock()

	for _, unregister := range subs {
		unregister()
	}
}

func (m *Module) loop() {
	m.running.Store(true)
	defer m.running.Store(false)

	ctx := context.Background()

	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		// Linked-object readiness gate (§4.5): pause/resume is driven
		// automatically here, independent of the manual Pause/Resume API.
		// A termination request overrides the gate so a paused module can
		// still reach its teardown event.
		if m.linkedUp != nil && !m.exiting.Load() {
			if ready, reason := m.linkedUp(); !ready {
				if !m.notReadyPause.Load() {
					m.notReadyPause.Store(true)
					if m.onPause != nil {
						m.onPause(ctx, m)
					}
				}
				m.reasonPaused.Store(reason)
				time.Sleep(LinkedReadyPause)
				continue
			}
			if m.notReadyPause.Load() {
				m.notReadyPause.Store(false)
				m.reasonPaused.Store("")
				if m.onResume != nil {
					m.onResume(ctx, m)
				}
			}
		}

		if m.manualPause.Load() && !m.exiting.Load() {
			// Events enqueued while paused are retained, not dropped
			// (§9 Open Question 1), so only the draining halts here.
			m.wake.WaitTimeout(LinkedReadyPause)
			continue
		}

		drainedAny := false
		for {
			ev, ok := m.Data.pop()
			if !ok {
				break
			}
			drainedAny = true

			err := ev(ctx, m)
			if err != nil {
				warn := errs.Forward(err)
				m.SetWarning(warn)
				if m.Data.recordOutcome(true) {
					m.ObjectBase.SetException(errs.New(errs.InternalCore, errs.SeverityFatal,
						"module exceeded consecutive event failure limit"))
					return
				}
			} else {
				m.Data.recordOutcome(false)
			}
		}

		interval := m.mainLoopInterval
		if !m.exiting.Load() && (interval <= 0 || m.Data.sinceLoopStep() >= interval) {
			if m.onMainLoop != nil {
				if err := m.onMainLoop(ctx, m); err != nil {
					m.ObjectBase.SetException(errs.Forward(err))
					return
				}
			}
			m.Data.touchLoopStep()
		}

		if drainedAny {
			continue
		}
		m.wake.WaitTimeout(interval)
	}
}
