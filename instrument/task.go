// Package instrument implements the instrument runtime substrate: the
// task state machine, per-instrument worker goroutine, and the latch used
// to synchronize module code against a cohort of instruments (§4.4).
package instrument

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dynexp-go/core/errs"
)

// TaskState is a task's position in its state machine:
// Waiting -> Locked -> Running -> {Finished, Failed, Aborted}, plus
// Waiting -> Aborted.
type TaskState uint8

const (
	TaskWaiting TaskState = iota
	TaskLocked
	TaskRunning
	TaskFinished
	TaskFailed
	TaskAborted
)

func (s TaskState) String() string {
	switch s {
	case TaskWaiting:
		return "Waiting"
	case TaskLocked:
		return "Locked"
	case TaskRunning:
		return "Running"
	case TaskFinished:
		return "Finished"
	case TaskFailed:
		return "Failed"
	case TaskAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// TaskKind tags who originated a task. Queue placement ignores it; the
// instrument loop uses it to signal readiness after a KindInit task and to
// stop after a KindExit task.
type TaskKind uint8

const (
	KindUser TaskKind = iota
	KindInit
	KindExit
	KindUpdate
	KindArriveAtLatch
)

// RunFunc is the work a Task performs once it transitions to Running.
type RunFunc func(ctx context.Context, inst *Instrument) error

// ExceptionContainer carries the exception (if any) a task's terminal
// callback is invoked with (§4.4). A task that failed normally
// propagates its exception onto the owning Instrument once the
// callback returns; a callback that calls ClearError suppresses that
// propagation, taking responsibility for the error itself.
type ExceptionContainer struct {
	exc     *errs.Exception
	cleared bool
}

// Exception returns the captured exception, or nil if the task finished
// without one.
func (ec *ExceptionContainer) Exception() *errs.Exception {
	if ec == nil {
		return nil
	}
	return ec.exc
}

// ClearError marks the exception as handled, suppressing its propagation
// onto the owning Instrument.
func (ec *ExceptionContainer) ClearError() {
	if ec == nil {
		return
	}
	ec.cleared = true
}

// CallbackFunc is a task's terminal callback: invoked exactly once, when
// the task reaches Finished, Failed, or Aborted, with state reflecting
// which. For Aborted tasks ec is always empty, whether the task was
// discarded while Waiting or stopped after observing a cooperative abort.
type CallbackFunc func(state TaskState, ec *ExceptionContainer)

// TaskOption configures a Task at construction.
type TaskOption func(*Task)

// WithCallback attaches a terminal callback to a task, invoked exactly
// once across the task's lifetime regardless of which terminal state it
// reaches, including when the task is aborted while still Waiting (§8).
func WithCallback(cb CallbackFunc) TaskOption {
	return func(t *Task) { t.callback = cb }
}

// Task is one unit of work submitted to an Instrument's queue.
type Task struct {
	kind  TaskKind
	state TaskState
	run   RunFunc

	// onAbort, if set, runs when the task is discarded from Waiting without
	// ever running (e.g. ArriveAtLatchTask must still release its waiter).
	onAbort func()

	// callback, if set, is this task's terminal callback (§4.4, §8).
	callback     CallbackFunc
	callbackOnce sync.Once

	// exception holds whatever error the task's run returned, forwarded as
	// an *errs.Exception; nil for a task that finished cleanly or was
	// aborted before running.
	exception *errs.Exception

	// keep marks a task for retention on Data.Finished once it reaches a
	// terminal state; the default is to let the task be dropped so the
	// history doesn't grow unbounded for routine work (§3's
	// "FinishedTasks ... only for tasks asking to be retained").
	keep bool

	// aborting is the cooperative cancellation flag (§5): a Running task is
	// expected to poll IsAborting (or its run context) between hardware
	// steps; the machinery never forcibly stops it.
	aborting atomic.Bool
	cancel   atomic.Pointer[context.CancelFunc]
}

// NewTask builds a plain user task around run.
func NewTask(run RunFunc, opts ...TaskOption) *Task {
	t := &Task{kind: KindUser, run: run}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewKeptTask builds a user task that is retained on the instrument's
// FinishedTasks history once it completes, rather than discarded.
func NewKeptTask(run RunFunc, opts ...TaskOption) *Task {
	t := &Task{kind: KindUser, run: run, keep: true}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func newFrameworkTask(kind TaskKind, run RunFunc) *Task {
	return &Task{kind: kind, run: run}
}

// State returns the task's current state.
func (t *Task) State() TaskState { return t.state }

// Kind returns the task's origin tag.
func (t *Task) Kind() TaskKind { return t.kind }

// KeepFinished reports whether this task asked to be retained on the
// instrument's FinishedTasks history after it completes.
func (t *Task) KeepFinished() bool { return t.keep }

// Exception returns the exception the task's run returned, if any. Set
// only once the task has reached Failed.
func (t *Task) Exception() *errs.Exception { return t.exception }

// Abort requests cooperative cancellation: it sets the flag IsAborting
// reports and cancels the context a Running task's RunFunc received. A
// task that is still Waiting when its queue is torn down transitions to
// Aborted without ever running; a task already Running decides for itself
// when to stop.
func (t *Task) Abort() {
	t.aborting.Store(true)
	if c := t.cancel.Load(); c != nil {
		(*c)()
	}
}

// IsAborting reports whether Abort has been requested.
func (t *Task) IsAborting() bool { return t.aborting.Load() }

// fireCallback invokes the task's terminal callback exactly once, per
// §8's "invoked exactly once across its lifetime" invariant. Safe to call
// from abort() and from the worker loop's terminal-state handling alike.
func (t *Task) fireCallback() *ExceptionContainer {
	ec := &ExceptionContainer{exc: t.exception}
	t.callbackOnce.Do(func() {
		if t.callback != nil {
			t.callback(t.state, ec)
		}
	})
	return ec
}

func (t *Task) abort() {
	t.state = TaskAborted
	if t.onAbort != nil {
		t.onAbort()
	}
	t.fireCallback()
}
