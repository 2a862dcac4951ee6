//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Endpoint binding state.
//

package connsim

import (
	"sync"

	"github.com/rbmk-project/connsim/faultconn"
)

// backlogSize is the capacity of an endpoint backlog: there is room
// for a single accepted-but-unclaimed connection.
const backlogSize = 1

// endpoint is the binding state of a destination address.
//
// An endpoint starts unbound when created by a connect that beats
// the server's listen call, and becomes bound when a [*Listener]
// claims the backlog. The unbound-to-bound transition happens at
// most once; binding an already-bound endpoint fails.
type endpoint struct {
	// backlog queues server-side conns awaiting accept.
	backlog chan *faultconn.Conn

	// bound records whether a listener claimed the backlog. This
	// field is guarded by the Registry mu lock.
	bound bool

	// done is closed when the bound listener is closed, at which
	// point further handshakes are refused.
	done chan struct{}

	// doneOnce ensures we close done just once.
	doneOnce sync.Once
}

// newEndpoint creates an [*endpoint] with a fresh backlog.
func newEndpoint(bound bool) *endpoint {
	return &endpoint{
		backlog: make(chan *faultconn.Conn, backlogSize),
		bound:   bound,
		done:    make(chan struct{}),
	}
}

// isBound returns whether a listener claimed the backlog.
func (ep *endpoint) isBound(r *Registry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ep.bound
}

// isDone returns whether the bound listener has been closed.
func (ep *endpoint) isDone() bool {
	select {
	case <-ep.done:
		return true
	default:
		return false
	}
}

// shutdown marks the endpoint as no longer consuming connections
// and releases any conn still queued in the backlog.
func (ep *endpoint) shutdown() {
	ep.doneOnce.Do(func() {
		close(ep.done)
		for {
			select {
			case conn := <-ep.backlog:
				conn.Close()
			default:
				return
			}
		}
	})
}
