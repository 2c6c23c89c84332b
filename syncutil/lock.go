package syncutil

import (
	"sync"
	"time"

	"github.com/dynexp-go/core/errs"
)

// DefaultTimeout is the default budget for acquiring a data-block lock.
const DefaultTimeout = 1 * time.Second

// ShortTimeout is the budget UI-style observers should use so a busy object
// is reported as "not responding" rather than blocking the caller.
const ShortTimeout = 10 * time.Millisecond

// HardwareTimeout is the budget for hardware critical sections.
const HardwareTimeout = 100 * time.Millisecond

// RecursiveLock is a recursive mutex with timeout-bearing acquisition. All
// cross-goroutine state access in the core goes through a RecursiveLock.
type RecursiveLock struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner int64
	held  bool
	depth int
}

// NewRecursiveLock constructs a ready-to-use RecursiveLock.
func NewRecursiveLock() *RecursiveLock {
	l := &RecursiveLock{owner: -1}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Guard releases its RecursiveLock exactly once, on Release.
type Guard struct {
	lock *RecursiveLock
}

// Release unlocks the guarded RecursiveLock. Calling Release more than once
// is a no-op.
func (g *Guard) Release() {
	if g == nil || g.lock == nil {
		return
	}
	g.lock.unlock()
	g.lock = nil
}

// AcquireLock blocks until the lock is acquired or timeout elapses, in which
// case it returns an errs.Timeout exception. Reentrant acquisition by the
// same goroutine always succeeds immediately.
func (l *RecursiveLock) AcquireLock(timeout time.Duration) (*Guard, error) {
	gid := goroutineID()

	l.mu.Lock()
	if l.held && l.owner == gid {
		l.depth++
		l.mu.Unlock()
		return &Guard{lock: l}, nil
	}

	deadline := time.Now().Add(timeout)
	for l.held {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			l.mu.Unlock()
			return nil, errs.TimeoutErr("timed out acquiring recursive lock")
		}
		if !l.waitWithTimeout(remaining) {
			l.mu.Unlock()
			return nil, errs.TimeoutErr("timed out acquiring recursive lock")
		}
	}
	l.held = true
	l.owner = gid
	l.depth = 1
	l.mu.Unlock()
	return &Guard{lock: l}, nil
}

// waitWithTimeout waits on the condvar for at most d, returning false if it
// timed out. l.mu must be held on entry and is held again on return.
func (l *RecursiveLock) waitWithTimeout(d time.Duration) bool {
	done := make(chan struct{})
	timer := time.AfterFunc(d, func() {
		l.mu.Lock()
		close(done)
		l.cond.Broadcast()
		l.mu.Unlock()
	})
	defer timer.Stop()

	l.cond.Wait()

	select {
	case <-done:
		return false
	default:
		return true
	}
}

func (l *RecursiveLock) unlock() {
	l.mu.Lock()
	l.depth--
	if l.depth == 0 {
		l.held = false
		l.owner = -1
		l.cond.Broadcast()
	}
	l.mu.Unlock()
}
