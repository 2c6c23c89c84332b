package module

import (
	"context"
	"errors"
	"testing"
	"time"

	dynexp "github.com/dynexp-go/core"
)

type producerArgs struct {
	Value int
}

func TestInterModuleEventIdentityKeyed(t *testing.T) {
	evt := NewInterModuleEvent[Module, producerArgs]()

	producerA := New(1, "Module", "producer-a", 0, dynexp.NewParams())
	producerB := New(2, "Module", "producer-b", 0, dynexp.NewParams())

	var gotA, gotB int
	evt.Register(producerA, func(args producerArgs) { gotA = args.Value })
	evt.Register(producerB, func(args producerArgs) { gotB = args.Value })

	evt.Invoke(producerA, producerArgs{Value: 7})

	if gotA != 7 {
		t.Fatalf("expected subscriber of producerA to fire, got gotA=%d", gotA)
	}
	if gotB != 0 {
		t.Fatalf("producerB's subscriber must not fire for producerA's event, got gotB=%d", gotB)
	}
}

func TestInterModuleEventDeregister(t *testing.T) {
	evt := NewInterModuleEvent[Module, producerArgs]()
	producer := New(1, "Module", "producer", 0, dynexp.NewParams())

	calls := 0
	unregister := evt.Register(producer, func(args producerArgs) { calls++ })
	evt.Invoke(producer, producerArgs{Value: 1})
	unregister()
	evt.Invoke(producer, producerArgs{Value: 2})

	if calls != 1 {
		t.Fatalf("expected exactly 1 call before deregistration, got %d", calls)
	}
}

func TestOnDeregisterEventsClearsSubscriptions(t *testing.T) {
	evt := NewInterModuleEvent[Module, producerArgs]()
	producer := New(1, "Module", "producer", 0, dynexp.NewParams())
	subscriber := New(2, "Module", "subscriber", 0, dynexp.NewParams())

	calls := 0
	evt.RegisterOn(producer, subscriber, func(args producerArgs) { calls++ })

	OnDeregisterEvents(subscriber)
	evt.Invoke(producer, producerArgs{Value: 1})

	if calls != 0 {
		t.Fatalf("expected OnDeregisterEvents to have removed the subscription, got %d calls", calls)
	}
}

// TestModuleInitRunsAsQueuedEvent verifies OnInit is delivered through the
// module's own event queue: a failing init surfaces from EnsureReadyState
// and, like any other event failure, leaves a warning on the module.
func TestModuleInitRunsAsQueuedEvent(t *testing.T) {
	m := New(1, "Module", "init-fail", 0, dynexp.NewParams(), WithEnter(func(ctx context.Context, mod *Module) error {
		return errors.New("init boom")
	}))

	if err := m.EnsureReadyState(true); err == nil {
		t.Fatalf("expected EnsureReadyState to surface the init event's error")
	}
	defer m.Terminate(context.Background())

	deadline := time.Now().Add(time.Second)
	for m.GetWarning() == nil {
		if time.Now().After(deadline) {
			t.Fatalf("expected the failed init event to record a warning like any other event failure")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestTerminateClosesEventQueue verifies a terminated module rejects
// further event enqueues (§4.5's "close queue").
func TestTerminateClosesEventQueue(t *testing.T) {
	m := New(1, "Module", "closing", 0, dynexp.NewParams())
	if err := m.EnsureReadyState(true); err != nil {
		t.Fatalf("EnsureReadyState: %v", err)
	}
	if err := m.Terminate(context.Background()); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	err := m.EnqueueEvent(func(ctx context.Context, mod *Module) error { return nil })
	if err == nil {
		t.Fatalf("expected EnqueueEvent after Terminate to be rejected")
	}
}

// TestTerminateRunsExitBeforeDeregistration verifies OnExit executes while
// the module's subscriptions are still live — the framework's blanket
// OnDeregisterEvents is a safety net that runs after it, not before.
func TestTerminateRunsExitBeforeDeregistration(t *testing.T) {
	evt := NewInterModuleEvent[Module, producerArgs]()
	producer := New(1, "Module", "producer", 0, dynexp.NewParams())

	var subsAtExit int
	m := New(2, "Module", "orderly", 0, dynexp.NewParams(), WithExit(func(ctx context.Context, mod *Module) error {
		mod.subMu.Lock()
		subsAtExit = len(mod.subscriptions)
		mod.subMu.Unlock()
		return nil
	}))
	if err := m.EnsureReadyState(true); err != nil {
		t.Fatalf("EnsureReadyState: %v", err)
	}

	calls := 0
	evt.RegisterOn(producer, m, func(args producerArgs) { calls++ })

	if err := m.Terminate(context.Background()); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	if subsAtExit != 1 {
		t.Fatalf("expected OnExit to run with the subscription still live, saw %d", subsAtExit)
	}
	evt.Invoke(producer, producerArgs{Value: 1})
	if calls != 0 {
		t.Fatalf("expected the framework pass to have deregistered the handler after OnExit, got %d calls", calls)
	}
}

// TestTerminateCompletesWhilePaused verifies a termination request takes
// precedence over the pause gates: the loop checks exit before readiness,
// so even a paused module runs its teardown promptly.
func TestTerminateCompletesWhilePaused(t *testing.T) {
	m := New(1, "Module", "paused-teardown", 0, dynexp.NewParams())
	if err := m.EnsureReadyState(true); err != nil {
		t.Fatalf("EnsureReadyState: %v", err)
	}
	m.Pause()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Terminate(ctx); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatalf("Terminate timed out instead of overriding the pause")
	}

	deadline := time.Now().Add(time.Second)
	for m.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatalf("worker goroutine still running after Terminate")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestModulePauseRetainsQueuedEvents(t *testing.T) {
	m := New(1, "Module", "pausable", 0, dynexp.NewParams())
	if err := m.EnsureReadyState(true); err != nil {
		t.Fatalf("EnsureReadyState: %v", err)
	}
	defer m.Terminate(context.Background())

	m.Pause()

	ran := make(chan struct{}, 1)
	m.EnqueueEvent(func(ctx context.Context, mod *Module) error {
		ran <- struct{}{}
		return nil
	})

	select {
	case <-ran:
		t.Fatalf("event must not run while paused")
	case <-time.After(50 * time.Millisecond):
	}

	m.Resume()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatalf("expected the retained event to run after resume")
	}
}
