package instrument

import (
	"context"
	"errors"
	"testing"
	"time"

	dynexp "github.com/dynexp-go/core"
	"github.com/dynexp-go/core/errs"
)

func newTestInstrument(t *testing.T, opts ...Option) *Instrument {
	t.Helper()
	inst := New(1, "Instrument", "test-instrument", 0, dynexp.NewParams(), opts...)
	if err := inst.EnsureReadyState(true); err != nil {
		t.Fatalf("EnsureReadyState: %v", err)
	}
	t.Cleanup(func() { inst.Terminate(context.Background()) })
	return inst
}

// TestTaskOrderingFIFO exercises seed scenario 2: tasks run in submission
// order.
func TestTaskOrderingFIFO(t *testing.T) {
	inst := newTestInstrument(t)

	var order []int
	done := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		i := i
		_ = inst.EnqueueTask(NewTask(func(ctx context.Context, in *Instrument) error {
			order = append(order, i)
			done <- struct{}{}
			return nil
		}))
	}
	for i := 0; i < 3; i++ {
		<-done
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
}

// TestTaskFailurePropagatesException verifies that a task returning an
// error stores an exception on the instrument and marks the task Failed,
// without crashing the worker loop.
func TestTaskFailurePropagatesException(t *testing.T) {
	inst := newTestInstrument(t)

	done := make(chan struct{})
	_ = inst.EnqueueTask(NewTask(func(ctx context.Context, in *Instrument) error {
		defer close(done)
		return errors.New("boom")
	}))
	<-done

	time.Sleep(20 * time.Millisecond)
	if exc := inst.GetException(100 * time.Millisecond); exc == nil {
		t.Fatalf("expected an exception to be recorded after task failure")
	}

	// The instrument must still be able to run subsequent tasks.
	ok := make(chan struct{})
	_ = inst.EnqueueTask(NewTask(func(ctx context.Context, in *Instrument) error {
		close(ok)
		return nil
	}))
	select {
	case <-ok:
	case <-time.After(time.Second):
		t.Fatalf("instrument loop stalled after a task failure")
	}
}

// TestAbortBeforeRun verifies a task still Waiting in the queue when the
// queue is aborted transitions straight to Aborted without ever running.
func TestAbortBeforeRun(t *testing.T) {
	q := NewTaskQueue(4)

	ran := false
	abortedCalled := false
	task := &Task{kind: KindUser, run: func(ctx context.Context, inst *Instrument) error {
		ran = true
		return nil
	}, onAbort: func() { abortedCalled = true }}

	if err := q.Push(task); err != nil {
		t.Fatalf("Push: %v", err)
	}
	q.AbortAll()

	if ran {
		t.Fatalf("aborted task must never run")
	}
	if !abortedCalled {
		t.Fatalf("expected onAbort to run")
	}
	if task.State() != TaskAborted {
		t.Fatalf("expected state Aborted, got %v", task.State())
	}
	if q.Len() != 0 {
		t.Fatalf("expected queue to be emptied, len=%d", q.Len())
	}
}

// TestNewTaskCallbackFiresOnAbort exercises seed scenario 3 through the
// public API: a task built with NewTask and WithCallback, still Waiting
// when the queue is aborted, gets its callback invoked exactly once with
// state Aborted and an empty ExceptionContainer.
func TestNewTaskCallbackFiresOnAbort(t *testing.T) {
	q := NewTaskQueue(4)

	var calls int
	var gotState TaskState
	var gotExc *errs.Exception
	task := NewTask(func(ctx context.Context, inst *Instrument) error {
		t.Fatalf("aborted task must never run")
		return nil
	}, WithCallback(func(state TaskState, ec *ExceptionContainer) {
		calls++
		gotState = state
		gotExc = ec.Exception()
	}))

	if err := q.Push(task); err != nil {
		t.Fatalf("Push: %v", err)
	}
	q.AbortAll()

	if calls != 1 {
		t.Fatalf("expected callback to fire exactly once, fired %d times", calls)
	}
	if gotState != TaskAborted {
		t.Fatalf("expected callback state Aborted, got %v", gotState)
	}
	if gotExc != nil {
		t.Fatalf("expected an empty ExceptionContainer, got %v", gotExc)
	}
	if task.State() != TaskAborted {
		t.Fatalf("expected task state Aborted, got %v", task.State())
	}
}

// TestNewTaskCallbackClearErrorSuppressesException verifies a callback
// that calls ClearError prevents the task's exception from propagating
// onto the owning instrument (§4.4).
func TestNewTaskCallbackClearErrorSuppressesException(t *testing.T) {
	inst := newTestInstrument(t)

	done := make(chan struct{})
	var gotState TaskState
	_ = inst.EnqueueTask(NewTask(func(ctx context.Context, in *Instrument) error {
		return errors.New("boom")
	}, WithCallback(func(state TaskState, ec *ExceptionContainer) {
		gotState = state
		ec.ClearError()
		close(done)
	})))
	<-done

	time.Sleep(20 * time.Millisecond)
	if gotState != TaskFailed {
		t.Fatalf("expected callback state Failed, got %v", gotState)
	}
	if exc := inst.GetException(100 * time.Millisecond); exc != nil {
		t.Fatalf("expected ClearError to suppress propagation, got %v", exc)
	}
}

// TestAsSyncTaskReturnsTaskError verifies AsSyncTask yields until the
// task's callback fires and surfaces its error.
func TestAsSyncTaskReturnsTaskError(t *testing.T) {
	inst := newTestInstrument(t)

	err := inst.AsSyncTask(context.Background(), func(ctx context.Context, in *Instrument) error {
		return errors.New("boom")
	})
	if err == nil {
		t.Fatalf("expected AsSyncTask to surface the task's error")
	}

	if err := inst.AsSyncTask(context.Background(), func(ctx context.Context, in *Instrument) error {
		return nil
	}); err != nil {
		t.Fatalf("expected AsSyncTask to return nil on success, got %v", err)
	}
}

// TestFinishedTasksOnlyRetainsKeptTasks verifies routine tasks are dropped
// once terminal, while a task built with NewKeptTask survives on the
// instrument's FinishedTasks history (§3).
func TestFinishedTasksOnlyRetainsKeptTasks(t *testing.T) {
	inst := newTestInstrument(t)

	done := make(chan struct{})
	_ = inst.EnqueueTask(NewTask(func(ctx context.Context, in *Instrument) error { return nil }))
	_ = inst.EnqueueTask(NewKeptTask(func(ctx context.Context, in *Instrument) error {
		defer close(done)
		return nil
	}))
	<-done
	time.Sleep(20 * time.Millisecond)

	guard, err := inst.Data.Lock().AcquireLock(time.Second)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	finished := append([]*Task(nil), inst.Data.Finished...)
	guard.Release()
	if len(finished) != 1 {
		t.Fatalf("expected exactly 1 retained task, got %d", len(finished))
	}
	if !finished[0].KeepFinished() {
		t.Fatalf("expected the retained task to report KeepFinished() == true")
	}
}

// TestCloseQueueRejectsOutsideEnqueues verifies a closed queue rejects
// Push/PushPriority with an InvalidState exception, while the worker's own
// pushSelf path stays open for shutdown work.
func TestCloseQueueRejectsOutsideEnqueues(t *testing.T) {
	q := NewTaskQueue(4)
	q.Close()

	noop := func(ctx context.Context, in *Instrument) error { return nil }
	if err := q.Push(NewTask(noop)); err == nil {
		t.Fatalf("expected Push on a closed queue to fail")
	} else if exc, ok := err.(*errs.Exception); !ok || exc.Code != errs.InvalidState {
		t.Fatalf("expected InvalidState, got %v", err)
	}
	if err := q.PushPriority(NewTask(noop)); err == nil {
		t.Fatalf("expected PushPriority on a closed queue to fail")
	}

	if err := q.pushSelf(newFrameworkTask(KindExit, noop)); err != nil {
		t.Fatalf("pushSelf must bypass the closed flag during shutdown: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected exactly the self-enqueued task, len=%d", q.Len())
	}
}

// TestTerminateClosesQueue verifies §4.4's shutdown sequence is observable
// from the outside: after Terminate, further enqueues are rejected.
func TestTerminateClosesQueue(t *testing.T) {
	inst := New(1, "Instrument", "closing", 0, dynexp.NewParams())
	if err := inst.EnsureReadyState(true); err != nil {
		t.Fatalf("EnsureReadyState: %v", err)
	}
	if err := inst.Terminate(context.Background()); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	err := inst.EnqueueTask(NewTask(func(ctx context.Context, in *Instrument) error { return nil }))
	if err == nil {
		t.Fatalf("expected enqueue after Terminate to be rejected")
	}
}

// TestRunningTaskObservesCooperativeAbort verifies Terminate asks an
// in-flight task to stop via its abort flag and run context rather than
// forcing it, and that the task lands on Aborted without failing the
// instrument.
func TestRunningTaskObservesCooperativeAbort(t *testing.T) {
	inst := New(1, "Instrument", "abortable", 0, dynexp.NewParams())
	if err := inst.EnsureReadyState(true); err != nil {
		t.Fatalf("EnsureReadyState: %v", err)
	}

	started := make(chan struct{})
	var sawAbort bool
	task := NewTask(func(ctx context.Context, in *Instrument) error {
		close(started)
		select {
		case <-ctx.Done():
			sawAbort = true
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})
	_ = inst.EnqueueTask(task)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := inst.Terminate(ctx); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	if !sawAbort {
		t.Fatalf("expected the running task to observe its cancelled context")
	}
	if !task.IsAborting() {
		t.Fatalf("expected IsAborting to report true after Terminate")
	}
	if task.State() != TaskAborted {
		t.Fatalf("expected the task to land on Aborted, got %v", task.State())
	}
	if exc := inst.GetException(100 * time.Millisecond); exc != nil {
		t.Fatalf("a cooperative abort must not fail the instrument, got %v", exc)
	}
}

// TestEnqueuePriorityTaskRespectsLockedFront verifies a priority task is
// inserted behind an already-Locked front task, never ahead of it.
func TestEnqueuePriorityTaskRespectsLockedFront(t *testing.T) {
	q := NewTaskQueue(4)

	front := NewTask(func(ctx context.Context, in *Instrument) error { return nil })
	_ = q.Push(front)
	popped, ok := q.Pop()
	if !ok || popped != front {
		t.Fatalf("expected to pop the front task")
	}
	if front.State() != TaskLocked {
		t.Fatalf("expected front task to be Locked")
	}

	priority := NewTask(func(ctx context.Context, in *Instrument) error { return nil })
	if err := q.PushPriority(priority); err != nil {
		t.Fatalf("PushPriority: %v", err)
	}

	if q.tasks[0] != front {
		t.Fatalf("locked front task must stay first")
	}
	if q.tasks[1] != priority {
		t.Fatalf("priority task must be inserted right behind the locked front task")
	}
}
