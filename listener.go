//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Listener consuming an endpoint backlog.
//

package connsim

import (
	"context"
	"net"
	"net/netip"
	"sync"

	"github.com/rbmk-project/connsim/simsock"
)

// Listener consumes the backlog of a bound endpoint. At most one
// listener owns an endpoint's backlog at any time.
//
// The zero value is invalid; construct using [*Registry.Listen].
type Listener struct {
	// addr is the bound address.
	addr netip.AddrPort

	// closeOnce ensures we close just once.
	closeOnce sync.Once

	// ep is the bound endpoint.
	ep *endpoint

	// reg is the owning registry.
	reg *Registry
}

// Ensure [*Listener] implements [net.Listener].
var _ net.Listener = &Listener{}

// Accept implements [net.Listener]. It suspends until a connection
// is enqueued by a handshake, the listener is closed, or the
// registry is closed.
func (l *Listener) Accept() (net.Conn, error) {
	return l.AcceptContext(context.Background())
}

// AcceptContext is like [*Listener.Accept] but also unblocks with
// ctx.Err() when the context is done.
func (l *Listener) AcceptContext(ctx context.Context) (net.Conn, error) {
	// Serve an already-queued connection even when racing with
	// listener shutdown observers.
	select {
	case conn := <-l.ep.backlog:
		return conn, nil
	default:
	}
	select {
	case conn := <-l.ep.backlog:
		return conn, nil
	case <-l.ep.done:
		return nil, net.ErrClosed
	case <-l.reg.eof:
		return nil, ENETDOWN
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Addr implements [net.Listener].
func (l *Listener) Addr() net.Addr {
	return &simsock.Addr{AddrPort: l.addr}
}

// Close implements [net.Listener]. Closing drops the receiving half
// of the backlog: pending and future handshakes targeting this
// address are refused. The endpoint stays bound, so a second listen
// on the same address keeps failing with [EADDRINUSE].
func (l *Listener) Close() error {
	l.closeOnce.Do(l.ep.shutdown)
	return nil
}
