package instrument

import (
	"context"
	"sync"
)

// WaitForInstruments blocks until every given instrument has processed an
// ArriveAtLatchTask (or ctx expires). Each instrument gets its own latch
// task so instruments with deep backlogs don't stall the others (§4.4).
func WaitForInstruments(ctx context.Context, instruments ...*Instrument) error {
	if len(instruments) == 0 {
		return nil
	}
	var wg sync.WaitGroup
	wg.Add(len(instruments))

	for _, inst := range instruments {
		t := &Task{kind: KindArriveAtLatch}
		t.run = func(ctx context.Context, _ *Instrument) error {
			wg.Done()
			return nil
		}
		t.onAbort = func() { wg.Done() }
		if err := inst.EnqueueTask(t); err != nil {
			wg.Done()
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
