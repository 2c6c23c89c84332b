package hardware

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	dynexp "github.com/dynexp-go/core"
	"github.com/dynexp-go/core/syncutil"
)

func newLoopbackAdapter(t *testing.T) (*Adapter, *LoopbackChannel) {
	t.Helper()
	ch := NewLoopbackChannel()
	params := NewParams()
	a := NewAdapter(1, "HardwareAdapter", "test-adapter", 0, params, func() (Channel, error) {
		return ch, nil
	})
	if err := a.EnsureReadyState(true); err != nil {
		t.Fatalf("EnsureReadyState: %v", err)
	}
	if !a.Connected() {
		t.Fatalf("adapter did not reach connected state")
	}
	return a, ch
}

// TestAdapterLineAssembly exercises seed scenario 5: a line delivered across
// two separate chunks is only surfaced once the terminator arrives.
func TestAdapterLineAssembly(t *testing.T) {
	a, ch := newLoopbackAdapter(t)

	ch.Feed([]byte("partial-"))
	a.worker.post(request{kind: reqRead})
	time.Sleep(50 * time.Millisecond)

	if line, err := a.ReadLine(); err != nil || line != "" {
		t.Fatalf("expected no complete line yet, got %q, err=%v", line, err)
	}

	ch.Feed([]byte("line\n"))
	a.worker.post(request{kind: reqRead})
	time.Sleep(50 * time.Millisecond)

	line, err := a.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if line != "partial-line" {
		t.Fatalf("expected assembled line %q, got %q", "partial-line", line)
	}
}

// TestAdapterReadLineLeavesRemainder verifies a second buffered line survives
// the first ReadLine call.
func TestAdapterReadLineLeavesRemainder(t *testing.T) {
	a, ch := newLoopbackAdapter(t)

	ch.Feed([]byte("first\nsecond\n"))
	a.worker.post(request{kind: reqRead})
	time.Sleep(50 * time.Millisecond)

	first, err := a.ReadLine()
	if err != nil || first != "first" {
		t.Fatalf("first line = %q, err=%v", first, err)
	}
	second, err := a.ReadLine()
	if err != nil || second != "second" {
		t.Fatalf("second line = %q, err=%v", second, err)
	}
}

// TestAdapterBufferCapWarns verifies the accumulating read buffer stops
// growing and surfaces a warning once it would exceed MaxBufferSize, rather
// than failing the adapter outright.
func TestAdapterBufferCapWarns(t *testing.T) {
	a, _ := newLoopbackAdapter(t)

	oversized := make([]byte, MaxBufferSize+1)
	a.onDataRead(oversized)

	if w := a.GetWarning(); w == nil {
		t.Fatalf("expected a warning after an oversized read")
	}
	if got, err := a.Read(); err != nil || got != "" {
		t.Fatalf("expected buffer to remain empty after overflow, got %q, err=%v", got, err)
	}
}

// TestAdapterWaitForLinePollsUntilDelivery exercises WaitForLine's retry
// loop against data that arrives after a short delay.
func TestAdapterWaitForLinePollsUntilDelivery(t *testing.T) {
	a, ch := newLoopbackAdapter(t)

	go func() {
		time.Sleep(30 * time.Millisecond)
		ch.Feed([]byte("delayed\n"))
		a.worker.post(request{kind: reqRead})
	}()

	line, err := a.WaitForLine(20, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForLine: %v", err)
	}
	if line != "delayed" {
		t.Fatalf("expected %q, got %q", "delayed", line)
	}
}

func TestAdapterObserveReportsNotConnectedBeforeReady(t *testing.T) {
	ch := NewLoopbackChannel()
	params := NewParams()
	a := NewAdapter(2, "HardwareAdapter", "unconnected", 0, params, func() (Channel, error) {
		return ch, nil
	})

	view := a.Observe(syncutil.DefaultTimeout)
	if view.State != dynexp.StateNotConnected {
		t.Fatalf("expected StateNotConnected before EnsureReadyState, got %v", view.State)
	}
}

// TestAdapterObserveReportsSessionAddressOnceConnected verifies a connected
// adapter surfaces a non-empty NetworkAddress (its connection session
// token) to the object observer interface, and that the token changes
// across a reconnect.
func TestAdapterObserveReportsSessionAddressOnceConnected(t *testing.T) {
	a, _ := newLoopbackAdapter(t)

	view := a.Observe(syncutil.DefaultTimeout)
	if view.NetworkAddress == nil || *view.NetworkAddress == "" {
		t.Fatalf("expected a non-empty session address once connected")
	}
	first := *view.NetworkAddress

	if err := a.Reset(true); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := a.EnsureReadyState(true); err != nil {
		t.Fatalf("EnsureReadyState after reset: %v", err)
	}

	second := *a.Observe(syncutil.DefaultTimeout).NetworkAddress
	if second == first {
		t.Fatalf("expected a new session address after reconnecting, got the same %q twice", first)
	}
}

// TestAdapterWithGlobalLockSharesProcessWideLock verifies two
// globally-locked adapters never run their open handlers concurrently.
func TestAdapterWithGlobalLockSharesProcessWideLock(t *testing.T) {
	var active int32
	var maxActive int32
	openFunc := func() (Channel, error) {
		cur := atomic.AddInt32(&active, 1)
		if cur > atomic.LoadInt32(&maxActive) {
			atomic.StoreInt32(&maxActive, cur)
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return NewLoopbackChannel(), nil
	}

	a1 := NewAdapterWithGlobalLock(10, "HardwareAdapter", "global-1", 0, NewParams(), openFunc)
	a2 := NewAdapterWithGlobalLock(11, "HardwareAdapter", "global-2", 0, NewParams(), openFunc)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = a1.EnsureReadyState(true) }()
	go func() { defer wg.Done(); _ = a2.EnsureReadyState(true) }()
	wg.Wait()

	if maxActive > 1 {
		t.Fatalf("expected globally-locked adapters never to open concurrently, saw %d at once", maxActive)
	}
}
