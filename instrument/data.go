package instrument

import (
	"time"

	"github.com/dynexp-go/core/errs"
	"github.com/dynexp-go/core/syncutil"
)

// Status is the instrument's coarse operating status, distinct from
// dynexp.State: it reflects what the instrument is doing, not whether the
// object as a whole is ready/connected.
type Status uint8

const (
	StatusIdle Status = iota
	StatusRunning
	StatusWarning
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusRunning:
		return "Running"
	case StatusWarning:
		return "Warning"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Data is the instrument's shared lockable data block: a generic readout
// "channel", the task queue, the finished-task history, and bookkeeping an
// owning user task reads/writes under the same lock as the channel values
// it derives from (§3, §4.4).
type Data struct {
	lock *syncutil.RecursiveLock

	channel map[string]any
	status  Status

	Queue    *TaskQueue
	Finished []*Task

	closed     bool
	lastUpdate time.Time
	exception  *errs.Exception
}

// NewData constructs an empty Data block with a queue of the given
// capacity (DefaultQueueCapacity if cap <= 0).
func NewData(queueCapacity int) *Data {
	return &Data{
		lock:    syncutil.NewRecursiveLock(),
		channel: make(map[string]any),
		Queue:   NewTaskQueue(queueCapacity),
	}
}

// Lock exposes Data's own RecursiveLock for compound read/write sequences.
func (d *Data) Lock() *syncutil.RecursiveLock { return d.lock }

// Set stores a readout value under key.
func (d *Data) Set(key string, value any) {
	guard, err := d.lock.AcquireLock(syncutil.DefaultTimeout)
	if err != nil {
		return
	}
	defer guard.Release()
	d.channel[key] = value
}

// Get retrieves a readout value.
func (d *Data) Get(key string) (any, bool) {
	guard, err := d.lock.AcquireLock(syncutil.DefaultTimeout)
	if err != nil {
		return nil, false
	}
	defer guard.Release()
	v, ok := d.channel[key]
	return v, ok
}

// Status returns the instrument's current Status.
func (d *Data) Status() Status {
	guard, err := d.lock.AcquireLock(syncutil.ShortTimeout)
	if err != nil {
		return StatusError
	}
	defer guard.Release()
	return d.status
}

// SetStatus updates the instrument's current Status.
func (d *Data) SetStatus(s Status) {
	guard, err := d.lock.AcquireLock(syncutil.DefaultTimeout)
	if err != nil {
		return
	}
	defer guard.Release()
	d.status = s
}

// recordFinished appends a completed task to the (unbounded) history, but
// only when the task asked to be retained; routine tasks are simply
// dropped once terminal so the history doesn't grow without bound.
func (d *Data) recordFinished(t *Task) {
	if !t.KeepFinished() {
		return
	}
	guard, err := d.lock.AcquireLock(syncutil.DefaultTimeout)
	if err != nil {
		return
	}
	defer guard.Release()
	d.Finished = append(d.Finished, t)
}

func (d *Data) touchUpdateTime() {
	guard, err := d.lock.AcquireLock(syncutil.DefaultTimeout)
	if err != nil {
		return
	}
	defer guard.Release()
	d.lastUpdate = time.Now()
}

func (d *Data) sinceLastUpdate() time.Duration {
	guard, err := d.lock.AcquireLock(syncutil.ShortTimeout)
	if err != nil {
		return 0
	}
	defer guard.Release()
	if d.lastUpdate.IsZero() {
		return time.Hour
	}
	return time.Since(d.lastUpdate)
}

func (d *Data) markClosed() {
	guard, err := d.lock.AcquireLock(syncutil.DefaultTimeout)
	if err != nil {
		return
	}
	defer guard.Release()
	d.closed = true
}

// Closed reports whether the instrument's worker has shut down.
func (d *Data) Closed() bool {
	guard, err := d.lock.AcquireLock(syncutil.ShortTimeout)
	if err != nil {
		return false
	}
	defer guard.Release()
	return d.closed
}
