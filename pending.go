//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Pending connection handshake.
//

package connsim

import (
	"context"
	"log/slog"
	"net"

	"github.com/rbmk-project/common/errclass"
	"github.com/rbmk-project/connsim/faultconn"
)

// PendingConn is a connection whose registry bookkeeping is complete
// but whose handshake has not run yet. Drive the handshake by calling
// [*PendingConn.Establish] exactly once.
type PendingConn struct {
	// client is the half to hand to the connecting caller.
	client *faultconn.Conn

	// ep is the destination endpoint.
	ep *endpoint

	// err is the bookkeeping error, if any.
	err error

	// pair identifies the registered connection.
	pair addrPair

	// reg is the owning registry.
	reg *Registry

	// server is the half to enqueue into the backlog.
	server *faultconn.Conn
}

// Establish completes the handshake by delivering the server half of
// the socket pair to the destination backlog and returning the client
// half to the caller.
//
// The following errors are possible:
//
// 1. the bookkeeping error recorded by [*Registry.Connect], if any;
//
// 2. [ECONNREFUSED] if nobody is consuming the destination backlog:
// either the backlog of a never-bound endpoint is already full, or
// the listener has been closed;
//
// 3. [ENETDOWN] if the registry is closed while waiting;
//
// 4. ctx.Err() if the context is done while waiting.
//
// On every failure both halves of the socket pair are released, so a
// later garbage collection pass reclaims the connection identity and
// its ephemeral port.
func (pc *PendingConn) Establish(ctx context.Context) (net.Conn, error) {
	if pc.err != nil {
		return nil, pc.complete(pc.err)
	}
	select {
	case <-pc.reg.eof:
		pc.abort()
		return nil, pc.complete(ENETDOWN)
	default:
	}
	if pc.ep.isDone() {
		pc.abort()
		return nil, pc.complete(ECONNREFUSED)
	}

	// Fast path: a backlog slot is available right away.
	select {
	case pc.ep.backlog <- pc.server:
		return pc.enqueued()
	default:
	}

	// The backlog is full. When no listener ever claimed the
	// endpoint nobody will drain it, so this is a refusal rather
	// than a reason to suspend.
	if !pc.ep.isBound(pc.reg) {
		pc.abort()
		return nil, pc.complete(ECONNREFUSED)
	}

	// Suspend until the listener drains the backlog or goes away.
	select {
	case pc.ep.backlog <- pc.server:
		return pc.enqueued()
	case <-pc.ep.done:
		pc.abort()
		return nil, pc.complete(ECONNREFUSED)
	case <-pc.reg.eof:
		pc.abort()
		return nil, pc.complete(ENETDOWN)
	case <-ctx.Done():
		pc.abort()
		return nil, pc.complete(ctx.Err())
	}
}

// enqueued completes a successful enqueue. A delivery racing with
// listener shutdown is void: the shutdown drain is going to release
// the enqueued server half, so we refuse the connection.
func (pc *PendingConn) enqueued() (net.Conn, error) {
	if pc.ep.isDone() {
		pc.abort()
		return nil, pc.complete(ECONNREFUSED)
	}
	return pc.client, pc.complete(nil)
}

// abort releases both socket halves so that both liveness handles
// report dropped and the identity becomes garbage.
func (pc *PendingConn) abort() {
	pc.client.Close()
	pc.server.Close()
}

// complete logs the handshake outcome and returns err unchanged.
func (pc *PendingConn) complete(err error) error {
	if pc.reg.Logger != nil {
		pc.reg.Logger.Info("connsimEstablish",
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
			slog.String("localAddr", pc.pair.src.String()),
			slog.String("remoteAddr", pc.pair.dst.String()),
		)
	}
	return err
}
