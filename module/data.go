// Package module implements the module runtime substrate: the
// event-driven worker loop, pause/resume semantics, and the generic
// inter-module publish/subscribe mechanism (§4.5).
package module

import (
	"context"
	"time"

	"github.com/dynexp-go/core/syncutil"
)

// Event is one unit of work enqueued onto a Module's event FIFO.
type Event func(ctx context.Context, m *Module) error

// WarningStreakLimit is the number of consecutive failed events after
// which a module's accumulated warnings escalate to a stored fatal
// exception. Deliberately a fixed package constant, not configurable per
// module (§9 Open Question 2): see DESIGN.md for the rationale.
const WarningStreakLimit = 10

// Data is a Module's shared lockable data block: its event FIFO plus the
// consecutive-failure streak counter that feeds the warning-escalation
// rule above.
type Data struct {
	lock *syncutil.RecursiveLock

	events []Event
	// closed drops further outside enqueues once the module's termination
	// event is queued; the teardown events already queued still run.
	closed bool

	failureStreak int
	lastLoopStep  time.Time
}

// NewData constructs an empty Data block.
func NewData() *Data {
	return &Data{lock: syncutil.NewRecursiveLock()}
}

// Lock exposes Data's own RecursiveLock.
func (d *Data) Lock() *syncutil.RecursiveLock { return d.lock }

// push appends ev to the back of the FIFO, reporting whether it was
// accepted (a closed queue rejects further enqueues).
func (d *Data) push(ev Event) bool {
	guard, err := d.lock.AcquireLock(syncutil.DefaultTimeout)
	if err != nil {
		return false
	}
	defer guard.Release()
	if d.closed {
		return false
	}
	d.events = append(d.events, ev)
	return true
}

// pushSelf appends ev regardless of the closed flag; the module's own
// teardown path may still enqueue during shutdown.
func (d *Data) pushSelf(ev Event) {
	guard, err := d.lock.AcquireLock(syncutil.DefaultTimeout)
	if err != nil {
		return
	}
	defer guard.Release()
	d.events = append(d.events, ev)
}

// closeQueue rejects all further outside enqueues.
func (d *Data) closeQueue() {
	guard, err := d.lock.AcquireLock(syncutil.DefaultTimeout)
	if err != nil {
		return
	}
	defer guard.Release()
	d.closed = true
}

// reopen clears the closed flag and any leftover events so a Reset module
// can relaunch its worker against a fresh FIFO.
func (d *Data) reopen() {
	guard, err := d.lock.AcquireLock(syncutil.DefaultTimeout)
	if err != nil {
		return
	}
	defer guard.Release()
	d.closed = false
	d.events = nil
	d.failureStreak = 0
}

// pop removes and returns the front event, if any.
func (d *Data) pop() (Event, bool) {
	guard, err := d.lock.AcquireLock(syncutil.DefaultTimeout)
	if err != nil {
		return nil, false
	}
	defer guard.Release()
	if len(d.events) == 0 {
		return nil, false
	}
	ev := d.events[0]
	d.events = d.events[1:]
	return ev, true
}

// Pending reports how many events are currently queued.
func (d *Data) Pending() int {
	guard, err := d.lock.AcquireLock(syncutil.ShortTimeout)
	if err != nil {
		return 0
	}
	defer guard.Release()
	return len(d.events)
}

// recordOutcome updates the consecutive-failure streak and reports
// whether the streak just reached WarningStreakLimit.
func (d *Data) recordOutcome(failed bool) (escalate bool) {
	guard, err := d.lock.AcquireLock(syncutil.DefaultTimeout)
	if err != nil {
		return false
	}
	defer guard.Release()

	if !failed {
		d.failureStreak = 0
		return false
	}
	d.failureStreak++
	return d.failureStreak >= WarningStreakLimit
}

func (d *Data) touchLoopStep() {
	guard, err := d.lock.AcquireLock(syncutil.DefaultTimeout)
	if err != nil {
		return
	}
	defer guard.Release()
	d.lastLoopStep = time.Now()
}

func (d *Data) sinceLoopStep() time.Duration {
	guard, err := d.lock.AcquireLock(syncutil.ShortTimeout)
	if err != nil {
		return 0
	}
	defer guard.Release()
	if d.lastLoopStep.IsZero() {
		return time.Hour
	}
	return time.Since(d.lastLoopStep)
}
