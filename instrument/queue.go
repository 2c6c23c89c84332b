package instrument

import (
	"github.com/dynexp-go/core/errs"
	"github.com/dynexp-go/core/syncutil"
)

// DefaultQueueCapacity bounds a TaskQueue's Waiting region (§4.4, §3).
const DefaultQueueCapacity = 256

// TaskQueue is the FIFO of tasks belonging to one Instrument. The front
// entry may be Locked or Running while later entries remain Waiting;
// Pop only ever promotes the front entry, and only while it is Waiting.
type TaskQueue struct {
	lock     *syncutil.RecursiveLock
	tasks    []*Task
	capacity int

	// closed rejects further outside enqueues (§3: "CloseQueue() rejects
	// all further non-self enqueues"); the owning instrument's worker
	// still enqueues via pushSelf during shutdown.
	closed bool
}

// NewTaskQueue constructs an empty TaskQueue with the given Waiting-region
// capacity (DefaultQueueCapacity if cap <= 0).
func NewTaskQueue(capacity int) *TaskQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &TaskQueue{lock: syncutil.NewRecursiveLock(), capacity: capacity}
}

// Push enqueues t at the back of the queue.
func (q *TaskQueue) Push(t *Task) error {
	guard, err := q.lock.AcquireLock(syncutil.DefaultTimeout)
	if err != nil {
		return err
	}
	defer guard.Release()

	if q.closed {
		return errs.New(errs.InvalidState, errs.SeverityWarning, "instrument task queue is closed")
	}
	if q.waitingLocked() >= q.capacity {
		return errs.New(errs.Overflow, errs.SeverityWarning, "instrument task queue is full")
	}
	q.tasks = append(q.tasks, t)
	return nil
}

// pushSelf appends t regardless of the closed flag: the instrument's own
// worker goroutine may still enqueue during shutdown (§3).
func (q *TaskQueue) pushSelf(t *Task) error {
	guard, err := q.lock.AcquireLock(syncutil.DefaultTimeout)
	if err != nil {
		return err
	}
	defer guard.Release()
	q.tasks = append(q.tasks, t)
	return nil
}

// PushPriority enqueues t ahead of every other Waiting task, but behind an
// already-Locked or Running front task: priority tasks never preempt work
// already under way (resolves the front-of-queue Open Question).
func (q *TaskQueue) PushPriority(t *Task) error {
	guard, err := q.lock.AcquireLock(syncutil.DefaultTimeout)
	if err != nil {
		return err
	}
	defer guard.Release()

	if q.closed {
		return errs.New(errs.InvalidState, errs.SeverityWarning, "instrument task queue is closed")
	}
	if q.waitingLocked() >= q.capacity {
		return errs.New(errs.Overflow, errs.SeverityWarning, "instrument task queue is full")
	}
	if len(q.tasks) > 0 && q.tasks[0].State() != TaskWaiting {
		q.tasks = append(q.tasks[:1], append([]*Task{t}, q.tasks[1:]...)...)
	} else {
		q.tasks = append([]*Task{t}, q.tasks...)
	}
	return nil
}

func (q *TaskQueue) waitingLocked() int {
	n := 0
	for _, t := range q.tasks {
		if t.State() == TaskWaiting {
			n++
		}
	}
	return n
}

// Pop promotes the front task from Waiting to Locked and returns it. It
// returns false if the queue is empty or the front task is already
// Locked/Running (still in flight).
func (q *TaskQueue) Pop() (*Task, bool) {
	guard, err := q.lock.AcquireLock(syncutil.DefaultTimeout)
	if err != nil {
		return nil, false
	}
	defer guard.Release()

	if len(q.tasks) == 0 {
		return nil, false
	}
	front := q.tasks[0]
	if front.State() != TaskWaiting {
		return nil, false
	}
	front.state = TaskLocked
	return front, true
}

// RemoveFront drops the front task once it has reached a terminal state.
func (q *TaskQueue) RemoveFront() {
	guard, err := q.lock.AcquireLock(syncutil.DefaultTimeout)
	if err != nil {
		return
	}
	defer guard.Release()

	if len(q.tasks) == 0 {
		return
	}
	q.tasks = q.tasks[1:]
}

// Close marks the queue closed: every further Push/PushPriority call is
// rejected with an InvalidState exception. The owning worker goroutine may
// still enqueue via pushSelf (§3).
func (q *TaskQueue) Close() {
	guard, err := q.lock.AcquireLock(syncutil.DefaultTimeout)
	if err != nil {
		return
	}
	defer guard.Release()
	q.closed = true
}

// Closed reports whether Close has been called.
func (q *TaskQueue) Closed() bool {
	guard, err := q.lock.AcquireLock(syncutil.ShortTimeout)
	if err != nil {
		return false
	}
	defer guard.Release()
	return q.closed
}

// RequestAbortInFlight sets the cooperative abort flag on a front task
// that is already Locked or Running. Waiting tasks are left untouched; a
// task that never left Waiting is torn down via DiscardWaiting instead.
func (q *TaskQueue) RequestAbortInFlight() {
	guard, err := q.lock.AcquireLock(syncutil.DefaultTimeout)
	if err != nil {
		return
	}
	defer guard.Release()
	if len(q.tasks) > 0 && q.tasks[0].State() != TaskWaiting {
		q.tasks[0].Abort()
	}
}

// DiscardWaiting aborts and removes every Waiting task, keeping only an
// in-flight (Locked/Running) front entry for the worker to finish out.
// Used on the termination path: non-front work is discarded, the front
// task is asked to abort cooperatively (§4.4).
func (q *TaskQueue) DiscardWaiting() {
	guard, err := q.lock.AcquireLock(syncutil.DefaultTimeout)
	if err != nil {
		return
	}
	defer guard.Release()

	var keep []*Task
	for idx, t := range q.tasks {
		if idx == 0 && t.State() != TaskWaiting {
			keep = append(keep, t)
			continue
		}
		if t.State() == TaskWaiting {
			t.abort()
		}
	}
	q.tasks = keep
}

// AbortAll transitions every currently Waiting task to Aborted (running
// their onAbort hooks) and empties the queue. Used when an instrument is
// torn down with work still pending.
func (q *TaskQueue) AbortAll() {
	guard, err := q.lock.AcquireLock(syncutil.DefaultTimeout)
	if err != nil {
		return
	}
	defer guard.Release()

	for _, t := range q.tasks {
		if t.State() == TaskWaiting {
			t.abort()
		}
	}
	q.tasks = nil
}

// reopen clears the closed flag and any leftover entries so a Reset
// instrument can relaunch its worker against a fresh queue.
func (q *TaskQueue) reopen() {
	guard, err := q.lock.AcquireLock(syncutil.DefaultTimeout)
	if err != nil {
		return
	}
	defer guard.Release()
	q.closed = false
	q.tasks = nil
}

// Len reports the current queue length, including in-flight entries.
func (q *TaskQueue) Len() int {
	guard, err := q.lock.AcquireLock(syncutil.DefaultTimeout)
	if err != nil {
		return 0
	}
	defer guard.Release()
	return len(q.tasks)
}
