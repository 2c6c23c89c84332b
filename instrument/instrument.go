package instrument

import (
	"context"
	"sync/atomic"
	"time"

	dynexp "github.com/dynexp-go/core"
	"github.com/dynexp-go/core/errs"
	"github.com/dynexp-go/core/syncutil"
)

// DefaultUpdateInterval is how often an idle instrument enqueues its own
// UpdateTask (§4.4).
const DefaultUpdateInterval = 100 * time.Millisecond

// InitFunc/ExitFunc let a concrete instrument type hook the framework's
// InitTask/ExitTask without overriding the whole worker loop.
type InitFunc func(ctx context.Context, inst *Instrument) error
type ExitFunc func(ctx context.Context, inst *Instrument) error
type UpdateFunc func(ctx context.Context, inst *Instrument) error

// Instrument is the worker-goroutine-per-object runtime described in §4.4:
// a queue of tasks drained by one dedicated goroutine, which also
// periodically enqueues its own UpdateTask while idle.
type Instrument struct {
	dynexp.ObjectBase

	Data *Data

	updateInterval time.Duration
	onInit         InitFunc
	onExit         ExitFunc
	onUpdate       UpdateFunc

	running     atomic.Bool
	terminating atomic.Bool
	stopCh      chan struct{}
	wake        *syncutil.OneToOneNotifier
	initErr     atomic.Pointer[errs.Exception]
	ready       *syncutil.OneToOneNotifier
}

// Option configures an Instrument at construction time.
type Option func(*Instrument)

// WithUpdateInterval overrides DefaultUpdateInterval.
func WithUpdateInterval(d time.Duration) Option {
	return func(i *Instrument) { i.updateInterval = d }
}

// WithInit registers an InitTask hook run once when the worker starts.
func WithInit(f InitFunc) Option { return func(i *Instrument) { i.onInit = f } }

// WithExit registers an ExitTask hook run once when the worker stops.
func WithExit(f ExitFunc) Option { return func(i *Instrument) { i.onExit = f } }

// WithUpdate registers the periodic UpdateTask body.
func WithUpdate(f UpdateFunc) Option { return func(i *Instrument) { i.onUpdate = f } }

// WithReporter registers the Reporter (e.g. internal/corelog.Sink) notified
// whenever this instrument's worker thread captures an exception (§6).
func WithReporter(r dynexp.Reporter) Option {
	return func(i *Instrument) { i.SetReporter(r) }
}

// New constructs an Instrument. Concrete instrument types embed *Instrument
// (or compose one) and register their own Library entry around New.
func New(id dynexp.ItemID, category, name string, owner dynexp.ThreadID, params *dynexp.Params, opts ...Option) *Instrument {
	inst := &Instrument{
		ObjectBase:     dynexp.NewObjectBase(id, category, name, owner, params),
		Data:           NewData(0),
		updateInterval: DefaultUpdateInterval,
		wake:           syncutil.NewOneToOneNotifier(),
		ready:          syncutil.NewOneToOneNotifier(),
	}
	for _, opt := range opts {
		opt(inst)
	}
	inst.EnsureReadyFunc = inst.ensureReady
	inst.IsReadyFunc = inst.running.Load
	inst.ResetFunc = inst.reset
	return inst
}

func (i *Instrument) ensureReady(isAutoStartup bool) error {
	if i.running.Load() {
		return nil
	}
	if i.terminating.Load() {
		return errs.New(errs.InvalidState, errs.SeverityError, "instrument was terminated; Reset it before restarting")
	}
	i.stopCh = make(chan struct{})
	go i.loop()

	initTask := newFrameworkTask(KindInit, func(ctx context.Context, inst *Instrument) error {
		if inst.onInit == nil {
			return nil
		}
		return inst.onInit(ctx, inst)
	})
	// The init task notifies ready itself once it reaches a terminal state
	// (Finished/Failed in runTask, Aborted here), never before: otherwise a
	// waiter could observe EnsureReadyState succeed before init even ran.
	initTask.onAbort = func() { i.ready.Notify() }
	i.EnqueueTask(initTask)
	i.ready.WaitTimeout(syncutil.DefaultTimeout)

	if e := i.initErr.Load(); e != nil {
		return e
	}
	return nil
}

func (i *Instrument) reset() error {
	if i.running.Load() {
		i.Terminate(context.Background())
	}
	i.initErr.Store(nil)
	i.terminating.Store(false)
	i.Data.Queue.reopen()
	return nil
}

// EnqueueTask appends a task at the back of the instrument's queue and
// wakes the worker loop.
func (i *Instrument) EnqueueTask(t *Task) error {
	if err := i.Data.Queue.Push(t); err != nil {
		return err
	}
	i.wake.Notify()
	return nil
}

// EnqueuePriorityTask inserts t ahead of every Waiting task, but behind an
// already-Locked/Running front task (§4.4, §9).
func (i *Instrument) EnqueuePriorityTask(t *Task) error {
	if err := i.Data.Queue.PushPriority(t); err != nil {
		return err
	}
	i.wake.Notify()
	return nil
}

// Terminate follows §4.4's shutdown sequence: ask an in-flight front task
// to abort, discard non-front pending work, enqueue the ExitTask, close
// the queue to further outside enqueues, then wait for the worker to stop
// (or ctx to expire).
func (i *Instrument) Terminate(ctx context.Context) error {
	if !i.running.Load() {
		return nil
	}
	if !i.terminating.CompareAndSwap(false, true) {
		return nil
	}
	i.Data.Queue.RequestAbortInFlight()
	i.Data.Queue.DiscardWaiting()

	done := make(chan struct{})
	_ = i.Data.Queue.Push(newFrameworkTask(KindExit, func(c context.Context, inst *Instrument) error {
		defer close(done)
		if inst.onExit == nil {
			return nil
		}
		return inst.onExit(c, inst)
	}))
	i.Data.Queue.Close()
	i.wake.Notify()

	select {
	case <-done:
	case <-ctx.Done():
	}
	close(i.stopCh)
	return nil
}

func (i *Instrument) loop() {
	i.running.Store(true)
	defer func() {
		i.Data.Queue.AbortAll()
		i.Data.markClosed()
		i.running.Store(false)
	}()

	for {
		select {
		case <-i.stopCh:
			return
		default:
		}

		task, ok := i.Data.Queue.Pop()
		if ok {
			i.runTask(task)
			if task.Kind() == KindExit {
				return
			}
			continue
		}

		if i.Data.sinceLastUpdate() >= i.updateInterval {
			_ = i.Data.Queue.pushSelf(newFrameworkTask(KindUpdate, func(ctx context.Context, inst *Instrument) error {
				if inst.onUpdate == nil {
					return nil
				}
				return inst.onUpdate(ctx, inst)
			}))
			i.Data.touchUpdateTime()
			continue
		}

		i.wake.WaitTimeout(i.updateInterval)
	}
}

// IsRunning reports whether the instrument's worker goroutine is active.
func (i *Instrument) IsRunning() bool { return i.running.Load() }

// IsPaused always reports false: an instrument's worker never pauses on a
// dependency the way a module's does (§4.4 has no pause state). Present
// for Runnable conformance (§6 object observer interface).
func (i *Instrument) IsPaused() bool { return false }

// GetReasonWhyPaused is always empty; see IsPaused.
func (i *Instrument) GetReasonWhyPaused() string { return "" }

var _ dynexp.Runnable = (*Instrument)(nil)

func (i *Instrument) runTask(t *Task) {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel.Store(&cancel)
	if t.IsAborting() {
		cancel()
	}

	t.state = TaskRunning
	err := t.run(ctx, i)
	cancel()

	switch {
	case t.IsAborting():
		// A cooperative abort is a deliberate teardown, not a failure: the
		// task lands on Aborted and nothing propagates onto the instrument.
		t.state = TaskAborted
	case err != nil:
		t.state = TaskFailed
		t.exception = errs.Forward(err)
	default:
		t.state = TaskFinished
	}

	// The callback fires before the exception propagates onto the
	// instrument, so ClearError can suppress that propagation (§4.4).
	ec := t.fireCallback()
	if t.state == TaskFailed && t.exception != nil && !ec.cleared {
		i.ObjectBase.SetException(t.exception)
		if t.kind == KindInit {
			i.initErr.Store(t.exception)
		}
	}
	if t.kind == KindInit {
		i.ready.Notify()
	}

	i.Data.recordFinished(t)
	i.Data.Queue.RemoveFront()
}

// AsSyncTask enqueues fn as a task and yields until its terminal callback
// fires (§5 Suspension points), returning whatever error the task
// completed with. A callback-suppressed error (ClearError) and a clean
// Finished both surface as nil.
func (i *Instrument) AsSyncTask(ctx context.Context, fn RunFunc) error {
	done := make(chan struct{})
	var result *ExceptionContainer
	t := NewTask(fn, WithCallback(func(state TaskState, ec *ExceptionContainer) {
		result = ec
		close(done)
	}))
	if err := i.EnqueueTask(t); err != nil {
		return err
	}

	select {
	case <-done:
	case <-ctx.Done():
		return errs.Forward(ctx.Err())
	}

	if result == nil || result.cleared {
		return nil
	}
	if exc := result.Exception(); exc != nil {
		return exc
	}
	return nil
}
