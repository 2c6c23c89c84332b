// Package hardware implements HardwareAdapter, the leaf object wrapping a
// physical channel, and the abstract serial-communication contract every
// concrete adapter variant implements against it (§4.3).
package hardware

import (
	"bytes"
	"io"
	"sync"
)

// Channel is the abstract serial-communication contract: anything that can
// be written to, read from, flushed, and cleared. Concrete vendor drivers
// (serial port, TCP socket, vendor SDK) are out of scope for the core (§1);
// only this contract, plus a LoopbackChannel exercising it end-to-end, is
// specified here.
type Channel interface {
	io.Writer
	io.Reader
	Flush() error
	Clear() error
	Close() error
}

// LoopbackChannel is an in-memory Channel, backed by a byte buffer, used to
// exercise the adapter/worker protocol in tests without real I/O.
type LoopbackChannel struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

// NewLoopbackChannel constructs an empty, open LoopbackChannel.
func NewLoopbackChannel() *LoopbackChannel {
	return &LoopbackChannel{}
}

// Feed injects bytes as if they had arrived from the physical channel,
// available to the next Read call.
func (c *LoopbackChannel) Feed(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Write(p)
}

func (c *LoopbackChannel) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, io.ErrClosedPipe
	}
	// A loopback channel echoes nothing; writes are simply accepted.
	return len(p), nil
}

func (c *LoopbackChannel) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buf.Len() == 0 {
		if c.closed {
			return 0, io.EOF
		}
		return 0, nil
	}
	return c.buf.Read(p)
}

func (c *LoopbackChannel) Flush() error { return nil }

func (c *LoopbackChannel) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Reset()
	return nil
}

func (c *LoopbackChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
