package hardware

import (
	"bytes"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	dynexp "github.com/dynexp-go/core"
	"github.com/dynexp-go/core/errs"
	"github.com/dynexp-go/core/syncutil"
	"github.com/google/uuid"
)

// LineEnding selects the terminator appended to every write and scanned for
// on read.
type LineEnding uint8

const (
	LineEndingNone LineEnding = iota
	LineEndingNUL
	LineEndingLF
	LineEndingCRLF
	LineEndingCR
)

func (le LineEnding) String() string {
	switch le {
	case LineEndingNUL:
		return "\x00"
	case LineEndingLF:
		return "\n"
	case LineEndingCRLF:
		return "\r\n"
	case LineEndingCR:
		return "\r"
	default:
		return ""
	}
}

// MaxBufferSize is the cap on the accumulating read buffer (§4.3, §8).
const MaxBufferSize = 100 * 1024 * 1024 // 100 MiB

// Adapter is the leaf object wrapping a physical channel.
type Adapter struct {
	dynexp.ObjectBase

	lineEnding LineEnding

	// connected and sessionID are written by the Worker goroutine
	// (onChannelOpened/onChannelClosed) and read from the adapter's
	// caller goroutine (IsReadyFunc, observe, Connected, ensureReady);
	// connected is atomic and sessionID is guarded by sessionMu so both
	// sides of that handoff are synchronized.
	connected atomic.Bool
	sessionMu sync.Mutex
	// sessionID identifies one open-to-close span of the underlying
	// channel; it is surfaced to the object observer interface as
	// NetworkAddress so a reconnect is visibly a new session, not a stale
	// address lingering from a prior one.
	sessionID uuid.UUID

	bufLock   *syncutil.RecursiveLock
	buf       bytes.Buffer
	lineReady *syncutil.OneToOneNotifier
	ready     *syncutil.OneToOneNotifier

	worker *Worker
}

// Params for an Adapter: just the line-ending policy. Concrete vendor
// adapters embed *Params and register additional fields (address, baud
// rate, ...) alongside LineEnding.
type Params struct {
	*dynexp.Params
	LineEnding *dynexp.Field
}

// NewParams constructs the default parameter set for a hardware adapter.
func NewParams() *Params {
	p := dynexp.NewParams()
	le := p.Register(&dynexp.Field{
		Key:     "LineEnding",
		Label:   "Line ending",
		Kind:    dynexp.FieldKindEnum,
		Default: "LF",
		Allowed: []string{"None", "NUL", "LF", "CRLF", "CR"},
	})
	return &Params{Params: p, LineEnding: le}
}

// NewAdapter constructs an Adapter that opens its Channel via open.
func NewAdapter(id dynexp.ItemID, category, name string, owner dynexp.ThreadID, params *Params, open func() (Channel, error)) *Adapter {
	lineEnding := lineEndingFromString(params.LineEnding.Value().(string))

	a := &Adapter{
		ObjectBase: dynexp.NewObjectBase(id, category, name, owner, params.Params),
		lineEnding: lineEnding,
		bufLock:    syncutil.NewRecursiveLock(),
		lineReady:  syncutil.NewOneToOneNotifier(),
		ready:      syncutil.NewOneToOneNotifier(),
	}
	a.worker = newWorker(a, open)
	a.EnsureReadyFunc = a.ensureReady
	a.IsReadyFunc = a.connected.Load
	a.ResetFunc = a.reset
	a.ObserveFunc = a.observe
	return a
}

// NewAdapterWithGlobalLock is NewAdapter for vendor families whose API is
// stateful at process scope (§5, §9): open/close on this adapter serialize
// against every other globally-locked adapter in the process via
// internal/devicelock, acquired after this adapter's own per-instance
// synchronization, never before.
func NewAdapterWithGlobalLock(id dynexp.ItemID, category, name string, owner dynexp.ThreadID, params *Params, open func() (Channel, error)) *Adapter {
	a := NewAdapter(id, category, name, owner, params, open)
	a.worker.globalLock = true
	return a
}

// observe contributes the adapter's session address to the base observer
// snapshot (§6 object observer interface).
func (a *Adapter) observe(base dynexp.ObserverView) dynexp.ObserverView {
	if a.connected.Load() {
		addr := a.currentSessionID().String()
		base.NetworkAddress = &addr
	}
	return base
}

func (a *Adapter) currentSessionID() uuid.UUID {
	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()
	return a.sessionID
}

func (a *Adapter) setSessionID(id uuid.UUID) {
	a.sessionMu.Lock()
	a.sessionID = id
	a.sessionMu.Unlock()
}

func lineEndingFromString(s string) LineEnding {
	switch s {
	case "NUL":
		return LineEndingNUL
	case "LF":
		return LineEndingLF
	case "CRLF":
		return LineEndingCRLF
	case "CR":
		return LineEndingCR
	default:
		return LineEndingNone
	}
}

func (a *Adapter) terminatorString() string { return a.lineEnding.String() }

func (a *Adapter) ensureReady(isAutoStartup bool) error {
	if a.connected.Load() {
		return nil
	}
	a.worker.start()
	a.worker.post(request{kind: reqOpen})
	// A wakeup left pending by an earlier close or reset does not mean the
	// channel opened, so keep waiting until it has, an exception is stored,
	// or the time budget runs out.
	deadline := time.Now().Add(syncutil.DefaultTimeout)
	for !a.connected.Load() {
		remaining := time.Until(deadline)
		if remaining > 0 {
			a.ready.WaitTimeout(remaining)
		}
		if a.connected.Load() {
			break
		}
		if exc := a.GetException(0); exc != nil {
			return exc
		}
		if remaining <= 0 {
			return errs.New(errs.Network, errs.SeverityError, "adapter did not become ready in time")
		}
	}
	return nil
}

func (a *Adapter) reset() error {
	a.worker.post(request{kind: reqReset})
	a.connected.Store(false)
	return nil
}

// onChannelOpened is called by the Worker goroutine once Channel.Open
// succeeds.
func (a *Adapter) onChannelOpened() {
	a.setSessionID(uuid.New())
	a.connected.Store(true)
	a.ready.Notify()
}

// onChannelClosed is called by the Worker goroutine after a close/reset.
func (a *Adapter) onChannelClosed() {
	a.connected.Store(false)
	a.ready.Notify()
}

// onWorkerException stores a pending exception; the next adapter call
// observes it, rethrows, and clears it (§4.3).
func (a *Adapter) onWorkerException(e *errs.Exception) {
	a.SetException(e)
	a.ready.Notify()
	a.lineReady.Notify()
}

// onDataRead appends bytes read by the Worker to the accumulating buffer,
// respecting the 100 MiB cap.
func (a *Adapter) onDataRead(data []byte) {
	guard, err := a.bufLock.AcquireLock(syncutil.HardwareTimeout)
	if err != nil {
		return
	}
	defer guard.Release()

	if a.buf.Len()+len(data) > MaxBufferSize {
		a.SetWarningMessage("read buffer would exceed cap; further reads suppressed", errs.Overflow)
		return
	}
	a.buf.Write(data)
	a.lineReady.Notify()
}

// takeAndClearException returns and clears any pending worker exception.
func (a *Adapter) takeAndClearException() error {
	exc := a.GetException(syncutil.ShortTimeout)
	if exc == nil {
		return nil
	}
	a.SetException(nil)
	return exc
}

// Write sends s to the channel, followed by the configured terminator.
func (a *Adapter) Write(s string) error {
	if err := a.takeAndClearException(); err != nil {
		return err
	}
	a.worker.post(request{kind: reqWrite, data: s})
	return nil
}

// WriteLine writes only the configured terminator.
func (a *Adapter) WriteLine() error {
	if err := a.takeAndClearException(); err != nil {
		return err
	}
	a.worker.post(request{kind: reqWriteTerminator})
	return nil
}

// Read drains from the underlying channel into the internal buffer, then
// returns the full current contents of the buffer.
func (a *Adapter) Read() (string, error) {
	if err := a.takeAndClearException(); err != nil {
		return "", err
	}
	a.worker.post(request{kind: reqRead})
	a.lineReady.WaitTimeout(syncutil.HardwareTimeout)
	if err := a.takeAndClearException(); err != nil {
		return "", err
	}

	guard, err := a.bufLock.AcquireLock(syncutil.HardwareTimeout)
	if err != nil {
		return "", err
	}
	defer guard.Release()
	return a.buf.String(), nil
}

// ReadLine returns the oldest complete line (delimited by the configured
// terminator) and removes it from the buffer; returns "" if no complete
// line is currently buffered.
func (a *Adapter) ReadLine() (string, error) {
	if err := a.takeAndClearException(); err != nil {
		return "", err
	}
	term := a.lineEnding.String()
	if term == "" {
		return "", nil
	}

	guard, err := a.bufLock.AcquireLock(syncutil.HardwareTimeout)
	if err != nil {
		return "", err
	}
	defer guard.Release()

	content := a.buf.String()
	idx := strings.Index(content, term)
	if idx < 0 {
		return "", nil
	}
	line := content[:idx]
	rest := content[idx+len(term):]
	a.buf.Reset()
	a.buf.WriteString(rest)
	return line, nil
}

// ReadAll drains and returns all buffered bytes; the buffer is emptied.
func (a *Adapter) ReadAll() (string, error) {
	if err := a.takeAndClearException(); err != nil {
		return "", err
	}
	a.worker.post(request{kind: reqRead})
	a.lineReady.WaitTimeout(syncutil.HardwareTimeout)
	if err := a.takeAndClearException(); err != nil {
		return "", err
	}

	guard, err := a.bufLock.AcquireLock(syncutil.HardwareTimeout)
	if err != nil {
		return "", err
	}
	defer guard.Release()
	s := a.buf.String()
	a.buf.Reset()
	return s, nil
}

// WaitForLine polls ReadLine up to tries times, sleeping delay in between,
// returning the first non-empty line observed.
func (a *Adapter) WaitForLine(tries int, delay time.Duration) (string, error) {
	for i := 0; i < tries; i++ {
		line, err := a.ReadLine()
		if err != nil {
			return "", err
		}
		if line != "" {
			return line, nil
		}
		time.Sleep(delay)
	}
	return "", nil
}

// Clear empties the read buffer and the channel's internal buffers.
func (a *Adapter) Clear() error {
	if err := a.takeAndClearException(); err != nil {
		return err
	}
	guard, err := a.bufLock.AcquireLock(syncutil.HardwareTimeout)
	if err != nil {
		return err
	}
	a.buf.Reset()
	guard.Release()

	a.worker.post(request{kind: reqClear})
	return nil
}

// Flush flushes the channel and drains once.
func (a *Adapter) Flush() error {
	if err := a.takeAndClearException(); err != nil {
		return err
	}
	a.worker.post(request{kind: reqFlush})
	return nil
}

// Connected reports the adapter's current connection state.
func (a *Adapter) Connected() bool { return a.connected.Load() }

// Shutdown stops the adapter's worker goroutine for good and closes the
// underlying channel. Unlike Reset, a shut-down adapter cannot be
// reopened; this is the manager's end-of-life path, not a reconnect.
func (a *Adapter) Shutdown() error {
	a.worker.stop()
	a.connected.Store(false)
	return nil
}
