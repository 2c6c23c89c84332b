// Package devicelock provides the single process-wide "device-address"
// lock some hardware adapter families need because their vendor API is
// stateful at process scope (§5, §9). It must always be acquired after the
// adapter's own per-instance lock, never before.
package devicelock

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Global is the single non-reentrant, process-wide vendor-API lock.
var Global = semaphore.NewWeighted(1)

// Acquire blocks until Global is free or ctx is done.
func Acquire(ctx context.Context) error {
	return Global.Acquire(ctx, 1)
}

// Release releases Global. Must only be called after a successful Acquire.
func Release() {
	Global.Release(1)
}
