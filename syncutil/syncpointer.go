package syncutil

import "github.com/dynexp-go/core/errs"

// SynchronizedPointer is a scoped, borrow-like handle combining a pointer
// and a held lock. It is move-only: once Release or CastSynchronizedPointer
// consumes it, further use panics, the same way a moved-from C++ object
// must not be touched again. Construction happens via NewSynchronizedPointer
// once the caller already holds guard (typically the result of
// RecursiveLock.AcquireLock).
type SynchronizedPointer[T any] struct {
	ptr   T
	guard *Guard
	moved bool
}

// NewSynchronizedPointer wraps ptr together with the Guard that protects it.
func NewSynchronizedPointer[T any](ptr T, guard *Guard) *SynchronizedPointer[T] {
	return &SynchronizedPointer[T]{ptr: ptr, guard: guard}
}

// Get returns the guarded pointer. Panics if the wrapper has already been
// released or cast away.
func (s *SynchronizedPointer[T]) Get() T {
	if s == nil || s.moved {
		panic("syncutil: use of moved-from SynchronizedPointer")
	}
	return s.ptr
}

// Release unlocks the underlying guard. Safe to call multiple times.
func (s *SynchronizedPointer[T]) Release() {
	if s == nil || s.moved {
		return
	}
	s.guard.Release()
	s.guard = nil
	s.moved = true
}

// CastSynchronizedPointer converts a SynchronizedPointer[T] into a
// SynchronizedPointer[U] by moving the held lock into the new wrapper,
// preserving the "locked while cast" invariant: the lock is never released
// and reacquired, only handed off. Fails with errs.TypeError if ptr does not
// hold a U, and errs.InvalidArg if s is nil or already moved-from.
func CastSynchronizedPointer[U any, T any](s *SynchronizedPointer[T]) (*SynchronizedPointer[U], error) {
	if s == nil || s.moved {
		return nil, errs.New(errs.InvalidArg, errs.SeverityError, "cast of empty or moved-from SynchronizedPointer")
	}
	u, ok := any(s.ptr).(U)
	if !ok {
		return nil, errs.New(errs.TypeError, errs.SeverityError, "SynchronizedPointer does not hold the requested type")
	}
	out := &SynchronizedPointer[U]{ptr: u, guard: s.guard}
	s.guard = nil
	s.moved = true
	return out, nil
}
