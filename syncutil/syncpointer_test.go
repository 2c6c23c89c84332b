package syncutil

import (
	"testing"
	"time"

	"github.com/dynexp-go/core/errs"
)

type baseBlock interface{ base() }
type derivedBlock struct{ value int }

func (*derivedBlock) base() {}

func lockedPointer(t *testing.T, l *RecursiveLock, ptr baseBlock) *SynchronizedPointer[baseBlock] {
	t.Helper()
	guard, err := l.AcquireLock(time.Second)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	return NewSynchronizedPointer(ptr, guard)
}

// TestCastPreservesHeldLock verifies the cast hands the lock to the new
// wrapper without ever releasing it: the lock stays held until the cast
// result is released.
func TestCastPreservesHeldLock(t *testing.T) {
	l := NewRecursiveLock()
	sp := lockedPointer(t, l, &derivedBlock{value: 7})

	cast, err := CastSynchronizedPointer[*derivedBlock](sp)
	if err != nil {
		t.Fatalf("CastSynchronizedPointer: %v", err)
	}
	if cast.Get().value != 7 {
		t.Fatalf("cast pointer lost its pointee, got %d", cast.Get().value)
	}

	// The lock must still be held by this goroutine's original acquisition:
	// another goroutine times out trying to take it.
	timedOut := make(chan error, 1)
	go func() {
		_, err := l.AcquireLock(20 * time.Millisecond)
		timedOut <- err
	}()
	if err := <-timedOut; !errs.IsTimeout(err) {
		t.Fatalf("expected the lock to remain held across the cast, got %v", err)
	}

	cast.Release()

	acquired := make(chan struct{})
	go func() {
		guard, err := l.AcquireLock(time.Second)
		if err == nil {
			guard.Release()
			close(acquired)
		}
	}()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("lock never released after the cast wrapper was")
	}
}

func TestCastWrongTypeFailsWithTypeError(t *testing.T) {
	l := NewRecursiveLock()
	sp := lockedPointer(t, l, &derivedBlock{})

	type otherBlock struct{ baseBlock }
	_, err := CastSynchronizedPointer[*otherBlock](sp)
	exc, ok := err.(*errs.Exception)
	if !ok || exc.Code != errs.TypeError {
		t.Fatalf("expected a TypeError exception, got %v", err)
	}

	// A failed cast must not consume the source.
	sp.Release()
}

func TestCastMovedFromFailsWithInvalidArg(t *testing.T) {
	l := NewRecursiveLock()
	sp := lockedPointer(t, l, &derivedBlock{})

	cast, err := CastSynchronizedPointer[*derivedBlock](sp)
	if err != nil {
		t.Fatalf("CastSynchronizedPointer: %v", err)
	}
	defer cast.Release()

	_, err = CastSynchronizedPointer[*derivedBlock](sp)
	exc, ok := err.(*errs.Exception)
	if !ok || exc.Code != errs.InvalidArg {
		t.Fatalf("expected an InvalidArg exception on a moved-from source, got %v", err)
	}
}

func TestMovedFromGetPanics(t *testing.T) {
	l := NewRecursiveLock()
	sp := lockedPointer(t, l, &derivedBlock{})
	sp.Release()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected Get on a released wrapper to panic")
		}
	}()
	sp.Get()
}
