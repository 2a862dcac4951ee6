//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Fault-injecting conn wrapper and liveness tracking.
//

// Package faultconn wraps simulated connections with fault injection
// and liveness tracking.
//
// The [Wrap] function associates a [net.Conn] with a [*Handle]. The
// handle reports whether the owner has released the connection, which
// is what the connection registry polls to garbage collect connection
// identities, and doubles as the control surface for injecting faults
// into the wrapped connection.
package faultconn

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbmk-project/connsim/simclock"
)

// Handle tracks liveness and fault state for a wrapped [*Conn].
//
// The zero value is ready to use. A [*Handle] is safe for concurrent
// use by multiple goroutines.
type Handle struct {
	// dropped becomes true when the conn is closed.
	dropped atomic.Bool

	// latency is the injected per-operation delay in nanoseconds.
	latency atomic.Int64

	// partitioned is true while the conn is partitioned.
	partitioned atomic.Bool
}

// IsDropped returns whether the wrapped conn has been closed by
// its owner. Liveness is tracked via explicit close, so callers
// must close connections they no longer use.
func (h *Handle) IsDropped() bool {
	return h.dropped.Load()
}

// Partition starts failing every I/O operation on the wrapped
// conn with [ENETDOWN] until [*Handle.Heal] is called.
func (h *Handle) Partition() {
	h.partitioned.Store(true)
}

// Heal removes a partition injected by [*Handle.Partition].
func (h *Handle) Heal() {
	h.partitioned.Store(false)
}

// SetLatency injects a delay before each I/O operation on the
// wrapped conn. The delay runs on the clock the conn was wrapped
// with, so with a manual clock it only elapses when the test
// driver advances the time. A nonpositive value removes the delay.
func (h *Handle) SetLatency(d time.Duration) {
	h.latency.Store(int64(d))
}

// Conn is a [net.Conn] that injects the faults configured on the
// associated [*Handle].
//
// The zero value is invalid; construct using [Wrap].
type Conn struct {
	// clock is the time source for injected latency.
	clock simclock.Clock

	// closeOnce ensures we close just once.
	closeOnce sync.Once

	// conn is the wrapped conn.
	conn net.Conn

	// handle is the associated handle.
	handle *Handle
}

// Ensure [*Conn] implements [net.Conn].
var _ net.Conn = &Conn{}

// Wrap wraps a [net.Conn] and returns the wrapped conn along with
// the [*Handle] controlling its fault state and reporting liveness.
//
// A nil clock means [simclock.System].
func Wrap(clock simclock.Clock, conn net.Conn) (*Conn, *Handle) {
	if clock == nil {
		clock = simclock.System{}
	}
	handle := &Handle{}
	return &Conn{clock: clock, conn: conn, handle: handle}, handle
}

// Handle returns the [*Handle] associated with this conn.
func (c *Conn) Handle() *Handle {
	return c.handle
}

// injectFault applies the faults configured on the handle. It
// returns a non-nil error when the operation must fail.
func (c *Conn) injectFault() error {
	if c.handle.dropped.Load() {
		return net.ErrClosed
	}
	if c.handle.partitioned.Load() {
		return ENETDOWN
	}
	if d := time.Duration(c.handle.latency.Load()); d > 0 {
		if err := c.clock.Sleep(context.Background(), d); err != nil {
			return err
		}
	}
	return nil
}

// Read implements [net.Conn].
func (c *Conn) Read(buf []byte) (int, error) {
	if err := c.injectFault(); err != nil {
		return 0, err
	}
	return c.conn.Read(buf)
}

// Write implements [net.Conn].
func (c *Conn) Write(data []byte) (int, error) {
	if err := c.injectFault(); err != nil {
		return 0, err
	}
	return c.conn.Write(data)
}

// Close implements [net.Conn]. Closing marks the handle as dropped,
// which makes the connection identity eligible for garbage collection
// once the peer conn is also closed.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.handle.dropped.Store(true)
		c.conn.Close()
	})
	return nil
}

// LocalAddr implements [net.Conn].
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr implements [net.Conn].
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetDeadline implements [net.Conn].
func (c *Conn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// SetReadDeadline implements [net.Conn].
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline implements [net.Conn].
func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}
