package hardware

import (
	"context"
	"sync"

	"github.com/dynexp-go/core/errs"
	"github.com/dynexp-go/core/internal/devicelock"
)

// requestKind enumerates the asynchronous messages the adapter posts to its
// Worker goroutine (§4.3).
type requestKind uint8

const (
	reqOpen requestKind = iota
	reqClose
	reqReset
	reqClear
	reqFlush
	reqRead
	reqWrite
	reqWriteTerminator
)

type request struct {
	kind requestKind
	data string
}

// Worker owns the one goroutine permitted to call into the underlying
// Channel. It exchanges asynchronous requests/acknowledgments with its
// Adapter: open/close/reset/clear/flush/read/write(str)/write-terminator
// out, channel-opened/channel-closed/data-read(bytes)/exception(e) back.
type Worker struct {
	adapter *Adapter
	open    func() (Channel, error)
	channel Channel

	requests chan request
	done     chan struct{}

	// globalLock is set for vendor families whose API is stateful at
	// process scope (§5, §9): the worker acquires devicelock.Global
	// around open/close, always after the adapter's own per-instance
	// lock has already done its job via the request channel serializing
	// access to this single worker goroutine.
	globalLock bool

	startOnce sync.Once
	stopOnce  sync.Once
}

func newWorker(adapter *Adapter, open func() (Channel, error)) *Worker {
	return &Worker{
		adapter:  adapter,
		open:     open,
		requests: make(chan request, 32),
		done:     make(chan struct{}),
	}
}

// start launches the worker's loop goroutine exactly once; repeated
// EnsureReadyState calls across a reset/reopen cycle must not accumulate
// extra goroutines racing on the same request channel.
func (w *Worker) start() {
	w.startOnce.Do(func() { go w.loop() })
}

// stop shuts the loop goroutine down for good; the loop closes the
// underlying channel on its way out. Safe to call more than once.
func (w *Worker) stop() {
	w.stopOnce.Do(func() {
		select {
		case w.requests <- request{kind: reqClose}:
		default:
		}
		close(w.done)
	})
}

func (w *Worker) post(r request) {
	select {
	case w.requests <- r:
	case <-w.done:
	}
}

func (w *Worker) loop() {
	for {
		select {
		case <-w.done:
			if w.channel != nil {
				_ = w.channel.Close()
			}
			return
		case req := <-w.requests:
			w.handle(req)
		}
	}
}

func (w *Worker) handle(req request) {
	switch req.kind {
	case reqOpen:
		if w.globalLock {
			if err := devicelock.Acquire(context.Background()); err != nil {
				w.adapter.onWorkerException(errs.New(errs.Network, errs.SeverityFatal, "failed to acquire global device lock: "+err.Error()))
				return
			}
			defer devicelock.Release()
		}
		ch, err := w.open()
		if err != nil {
			w.adapter.onWorkerException(errs.New(errs.Serial, errs.SeverityFatal, "failed to open channel: "+err.Error()))
			return
		}
		w.channel = ch
		w.adapter.onChannelOpened()
	case reqClose:
		if w.globalLock {
			if err := devicelock.Acquire(context.Background()); err == nil {
				defer devicelock.Release()
			}
		}
		if w.channel != nil {
			_ = w.channel.Close()
			w.channel = nil
		}
		w.adapter.onChannelClosed()
	case reqReset:
		if w.channel != nil {
			_ = w.channel.Clear()
		}
		w.adapter.onChannelClosed()
	case reqClear:
		if w.channel == nil {
			return
		}
		if err := w.channel.Clear(); err != nil {
			w.adapter.onWorkerException(errs.New(errs.Serial, errs.SeverityError, "clear failed: "+err.Error()))
		}
	case reqFlush:
		if w.channel == nil {
			return
		}
		if err := w.channel.Flush(); err != nil {
			w.adapter.onWorkerException(errs.New(errs.Serial, errs.SeverityError, "flush failed: "+err.Error()))
			return
		}
		w.drainRead()
	case reqRead:
		w.drainRead()
	case reqWrite:
		w.write(req.data + w.adapter.terminatorString())
	case reqWriteTerminator:
		w.write(w.adapter.terminatorString())
	}
}

func (w *Worker) write(s string) {
	if w.channel == nil {
		w.adapter.onWorkerException(errs.New(errs.Serial, errs.SeverityError, "channel not open"))
		return
	}
	if _, err := w.channel.Write([]byte(s)); err != nil {
		w.adapter.onWorkerException(errs.New(errs.Serial, errs.SeverityError, "write failed: "+err.Error()))
	}
}

func (w *Worker) drainRead() {
	if w.channel == nil {
		return
	}
	buf := make([]byte, 4096)
	for {
		n, err := w.channel.Read(buf)
		if n > 0 {
			w.adapter.onDataRead(buf[:n])
		}
		if err != nil || n == 0 {
			return
		}
	}
}
