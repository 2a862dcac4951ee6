//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Linked in-memory socket pairs.
//

// Package simsock creates linked in-memory socket pairs for network
// simulations. A pair behaves like the two ends of an established
// TCP connection: bytes written to one half become readable from the
// other, deadlines work as documented by [net.Conn], and closing one
// half makes the peer observe EOF on read and a connection reset on
// write. There are no real sockets involved.
package simsock

import (
	"bytes"
	"io"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"
)

// Half is one endpoint of a linked socket pair.
//
// The zero value is invalid; construct using [Pair].
type Half struct {
	// buf holds bytes received but not yet read.
	buf bytes.Buffer

	// eofOnce ensures we close just once.
	eofOnce sync.Once

	// laddr is the local address.
	laddr netip.AddrPort

	// localEOF unblocks pending I/O when this half is closed.
	localEOF chan struct{}

	// raddr is the remote address.
	raddr netip.AddrPort

	// rd is the deadline for read operations.
	rd *deadline

	// recv is the channel this half reads from.
	recv chan []byte

	// remoteEOF is closed when the peer half is closed.
	remoteEOF chan struct{}

	// rlock serializes access to buf.
	rlock sync.Mutex

	// send is the channel this half writes to.
	send chan []byte

	// wd is the deadline for write operations.
	wd *deadline
}

// Ensure [*Half] implements [net.Conn].
var _ net.Conn = &Half{}

// Pair creates two linked stream endpoints. The first return value
// is the client half (local address laddr, remote address raddr) and
// the second is the server half with the addresses swapped.
func Pair(laddr, raddr netip.AddrPort) (*Half, *Half) {
	var (
		fwd  = make(chan []byte)
		rev  = make(chan []byte)
		ceof = make(chan struct{})
		seof = make(chan struct{})
	)
	client := &Half{
		laddr:     laddr,
		localEOF:  ceof,
		raddr:     raddr,
		rd:        newDeadline(),
		recv:      rev,
		remoteEOF: seof,
		send:      fwd,
		wd:        newDeadline(),
	}
	server := &Half{
		laddr:     raddr,
		localEOF:  seof,
		raddr:     laddr,
		rd:        newDeadline(),
		recv:      fwd,
		remoteEOF: ceof,
		send:      rev,
		wd:        newDeadline(),
	}
	return client, server
}

// Read implements [net.Conn].
//
// The following errors are possible:
//
// 1. [net.ErrClosed] if this half has been closed;
//
// 2. [io.EOF] if the peer half has been closed and there is
// no buffered data left to read;
//
// 3. [os.ErrDeadlineExceeded] if the read deadline is exceeded.
func (sh *Half) Read(buf []byte) (int, error) {
	for {
		// serve buffered data first so that data received before
		// the peer closed is not lost
		sh.rlock.Lock()
		count, _ := sh.buf.Read(buf)
		sh.rlock.Unlock()
		if count > 0 {
			return count, nil
		}

		select {
		case data := <-sh.recv:
			sh.rlock.Lock()
			sh.buf.Write(data)
			sh.rlock.Unlock()

		case <-sh.localEOF:
			return 0, net.ErrClosed

		case <-sh.remoteEOF:
			return 0, io.EOF

		case <-sh.rd.Wait():
			return 0, os.ErrDeadlineExceeded
		}
	}
}

// Write implements [net.Conn].
//
// We copy the payload to avoid issues with buffer pools, which
// occur, for example, when using the [crypto/tls] package.
//
// The following errors are possible:
//
// 1. [net.ErrClosed] if this half has been closed;
//
// 2. [ECONNRESET] if the peer half has been closed;
//
// 3. [os.ErrDeadlineExceeded] if the write deadline is exceeded.
func (sh *Half) Write(data []byte) (int, error) {
	// As documented, copy the payload.
	data = append([]byte{}, data...)
	select {
	case sh.send <- data:
		return len(data), nil
	case <-sh.localEOF:
		return 0, net.ErrClosed
	case <-sh.remoteEOF:
		return 0, ECONNRESET
	case <-sh.wd.Wait():
		return 0, os.ErrDeadlineExceeded
	}
}

// Close closes this half terminating any pending I/O. The peer half
// observes [io.EOF] on read and [ECONNRESET] on write.
func (sh *Half) Close() error {
	sh.eofOnce.Do(func() {
		close(sh.localEOF)
	})
	return nil
}

// LocalAddr implements [net.Conn].
func (sh *Half) LocalAddr() net.Addr {
	return &Addr{sh.laddr}
}

// RemoteAddr implements [net.Conn].
func (sh *Half) RemoteAddr() net.Addr {
	return &Addr{sh.raddr}
}

// SetDeadline implements [net.Conn].
func (sh *Half) SetDeadline(t time.Time) error {
	sh.SetReadDeadline(t)
	sh.SetWriteDeadline(t)
	return nil
}

// SetReadDeadline implements [net.Conn].
func (sh *Half) SetReadDeadline(t time.Time) error {
	sh.rd.Set(t)
	return nil
}

// SetWriteDeadline implements [net.Conn].
func (sh *Half) SetWriteDeadline(t time.Time) error {
	sh.wd.Set(t)
	return nil
}
