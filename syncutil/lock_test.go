package syncutil

import (
	"sync"
	"testing"
	"time"

	"github.com/dynexp-go/core/errs"
)

func TestRecursiveLockReentrantAcquire(t *testing.T) {
	l := NewRecursiveLock()

	outer, err := l.AcquireLock(time.Second)
	if err != nil {
		t.Fatalf("outer AcquireLock: %v", err)
	}
	inner, err := l.AcquireLock(time.Second)
	if err != nil {
		t.Fatalf("reentrant AcquireLock must succeed immediately: %v", err)
	}
	inner.Release()
	outer.Release()

	// Once fully released, another goroutine must be able to acquire.
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
		t.Fatalf("lock still held after releasing every guard")
	}
}

func TestRecursiveLockTimesOutWhileHeldElsewhere(t *testing.T) {
	l := NewRecursiveLock()

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		guard, err := l.AcquireLock(time.Second)
		if err != nil {
			t.Errorf("AcquireLock: %v", err)
			close(held)
			return
		}
		close(held)
		<-release
		guard.Release()
	}()
	<-held

	_, err := l.AcquireLock(20 * time.Millisecond)
	if !errs.IsTimeout(err) {
		t.Fatalf("expected a Timeout exception, got %v", err)
	}

	close(release)
	<-done
}

func TestRecursiveLockGuardReleaseIsIdempotent(t *testing.T) {
	l := NewRecursiveLock()
	guard, err := l.AcquireLock(time.Second)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	guard.Release()
	guard.Release()

	again, err := l.AcquireLock(20 * time.Millisecond)
	if err != nil {
		t.Fatalf("double Release must not deadlock or over-release: %v", err)
	}
	again.Release()
}

func TestRecursiveLockSerializesAcrossGoroutines(t *testing.T) {
	l := NewRecursiveLock()
	var counter int

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 100; n++ {
				guard, err := l.AcquireLock(time.Second)
				if err != nil {
					t.Errorf("AcquireLock: %v", err)
					return
				}
				counter++
				guard.Release()
			}
		}()
	}
	wg.Wait()

	if counter != 800 {
		t.Fatalf("expected 800 serialized increments, got %d", counter)
	}
}
