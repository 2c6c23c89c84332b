package instrument

import (
	"context"
	"testing"
	"time"

	dynexp "github.com/dynexp-go/core"
)

func TestInstrumentEnsureReadyRunsInitTask(t *testing.T) {
	initRan := make(chan struct{})
	inst := New(1, "Instrument", "init-test", 0, dynexp.NewParams(), WithInit(func(ctx context.Context, in *Instrument) error {
		close(initRan)
		return nil
	}))
	if err := inst.EnsureReadyState(true); err != nil {
		t.Fatalf("EnsureReadyState: %v", err)
	}
	defer inst.Terminate(context.Background())

	select {
	case <-initRan:
	case <-time.After(time.Second):
		t.Fatalf("InitTask never ran")
	}
	if !inst.IsReady() {
		t.Fatalf("expected instrument to report ready after a successful init")
	}
}

func TestInstrumentEnsureReadyFailsOnInitError(t *testing.T) {
	inst := New(1, "Instrument", "init-fail", 0, dynexp.NewParams(), WithInit(func(ctx context.Context, in *Instrument) error {
		return errInitFailure
	}))
	err := inst.EnsureReadyState(true)
	if err == nil {
		t.Fatalf("expected EnsureReadyState to surface the init error")
	}
	defer inst.Terminate(context.Background())
}

func TestInstrumentPeriodicUpdateRuns(t *testing.T) {
	ticks := make(chan struct{}, 8)
	inst := New(1, "Instrument", "update-test", 0, dynexp.NewParams(),
		WithUpdateInterval(10*time.Millisecond),
		WithUpdate(func(ctx context.Context, in *Instrument) error {
			select {
			case ticks <- struct{}{}:
			default:
			}
			return nil
		}),
	)
	if err := inst.EnsureReadyState(true); err != nil {
		t.Fatalf("EnsureReadyState: %v", err)
	}
	defer inst.Terminate(context.Background())

	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatalf("expected at least one periodic UpdateTask to run")
	}
}

func TestInstrumentTerminateRunsExitTask(t *testing.T) {
	exitRan := make(chan struct{})
	inst := New(1, "Instrument", "exit-test", 0, dynexp.NewParams(), WithExit(func(ctx context.Context, in *Instrument) error {
		close(exitRan)
		return nil
	}))
	if err := inst.EnsureReadyState(true); err != nil {
		t.Fatalf("EnsureReadyState: %v", err)
	}

	if err := inst.Terminate(context.Background()); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	select {
	case <-exitRan:
	case <-time.After(time.Second):
		t.Fatalf("ExitTask never ran")
	}
}

type stubError string

func (e stubError) Error() string { return string(e) }

const errInitFailure = stubError("init failed")
