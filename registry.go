//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Connection registry.
//

package connsim

import (
	"log/slog"
	"net/netip"
	"sync"

	"github.com/rbmk-project/connsim/faultconn"
	"github.com/rbmk-project/connsim/simclock"
	"github.com/rbmk-project/connsim/simsock"
)

// addrPair identifies a logical connection by its source and
// destination addresses. The liveness handles associated with a
// connection are deliberately not part of the identity, so duplicate
// detection and garbage collection only ever compare addresses.
type addrPair struct {
	// src is the source address.
	src netip.AddrPort

	// dst is the destination address.
	dst netip.AddrPort
}

// connEntry holds the two wrapped halves of a registered connection.
type connEntry struct {
	// client is the half returned to the connecting caller.
	client *faultconn.Conn

	// server is the half delivered to the listener backlog.
	server *faultconn.Conn
}

// dropped returns whether both halves have been released.
func (ce *connEntry) dropped() bool {
	return ce.client.Handle().IsDropped() && ce.server.Handle().IsDropped()
}

// Registry owns the connection identities and the listening
// endpoints of a simulated network.
//
// The zero value is invalid; construct using [NewRegistry]. Create
// one registry per simulated environment and share it among all the
// simulated participants.
type Registry struct {
	// Logger is the optional structured logger for emitting
	// diagnostic events. If this field is nil, we will not be
	// emitting structured logs. Set it before using the registry.
	Logger *slog.Logger

	// clock is the time source handed to wrapped sockets.
	clock simclock.Clock

	// conns contains the live connection identities. At most one
	// entry exists per (source, destination) address pair.
	conns map[addrPair]*connEntry

	// endpoints contains the per-address binding state. Entries are
	// created lazily by Connect or Listen and persist until the
	// registry is closed.
	endpoints map[netip.AddrPort]*endpoint

	// eof unblocks pending handshakes and accepts when closed.
	eof chan struct{}

	// eofOnce ensures we close just once.
	eofOnce sync.Once

	// mu protects conns and endpoints.
	mu sync.Mutex
}

// NewRegistry creates a new [*Registry] using the given clock as
// the time source for fault injection. A nil clock means
// [simclock.System].
func NewRegistry(clock simclock.Clock) *Registry {
	if clock == nil {
		clock = simclock.System{}
	}
	return &Registry{
		clock:     clock,
		conns:     make(map[addrPair]*connEntry),
		endpoints: make(map[netip.AddrPort]*endpoint),
		eof:       make(chan struct{}),
	}
}

// Connect starts establishing a connection from the given source IP
// to the given destination address.
//
// The registry bookkeeping (garbage collection, ephemeral port
// allocation, identity registration, endpoint resolution) runs
// synchronously before Connect returns, so back-to-back calls observe
// a serialized view of port and endpoint state. The handshake itself
// only happens when the returned [*PendingConn] is driven via
// [*PendingConn.Establish].
//
// Bookkeeping errors are embedded in the returned [*PendingConn]:
//
// 1. [EADDRNOTAVAIL] if every ephemeral port of src is taken;
//
// 2. [EADDRINUSE] if a live identity with the same source and
// destination addresses already exists.
func (r *Registry) Connect(src netip.Addr, dst netip.AddrPort) *PendingConn {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gcDroppedLocked()

	port, err := r.unusedPortLocked(src)
	if err != nil {
		return &PendingConn{err: err, reg: r}
	}
	srcAddr := netip.AddrPortFrom(src, port)
	pair := addrPair{src: srcAddr, dst: dst}

	client, server, err := r.registerLocked(pair)
	if err != nil {
		return &PendingConn{err: err, pair: pair, reg: r}
	}

	// Resolve the destination endpoint, creating an unbound one
	// when the connect beats the server's listen call.
	ep := r.endpoints[dst]
	if ep == nil {
		ep = newEndpoint(false)
		r.endpoints[dst] = ep
	}

	if r.Logger != nil {
		r.Logger.Info("connsimConnect",
			slog.String("localAddr", srcAddr.String()),
			slog.String("remoteAddr", dst.String()),
		)
	}
	return &PendingConn{
		client: client,
		ep:     ep,
		pair:   pair,
		reg:    r,
		server: server,
	}
}

// registerLocked registers a new connection identity and creates the
// wrapped socket pair for it. It fails with [EADDRINUSE] when a live
// identity for the same address pair already exists. This is nearly
// impossible after fresh port allocation but it is a correctness
// guard, not dead code.
//
// The caller must hold the mu lock.
func (r *Registry) registerLocked(pair addrPair) (client, server *faultconn.Conn, err error) {
	if _, found := r.conns[pair]; found {
		return nil, nil, EADDRINUSE
	}
	rawClient, rawServer := simsock.Pair(pair.src, pair.dst)
	client, _ = faultconn.Wrap(r.clock, rawClient)
	server, _ = faultconn.Wrap(r.clock, rawServer)
	r.conns[pair] = &connEntry{client: client, server: server}
	return client, server, nil
}

// Listen binds a [*Listener] to the given address.
//
// The following errors are possible:
//
// 1. [EADDRINUSE] if a listener is already bound to the address.
//
// When connections to the address queued up before the listen call,
// the returned listener accepts them.
func (r *Registry) Listen(bind netip.AddrPort) (*Listener, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gcDroppedLocked()
	return r.listenLocked(bind)
}

// listenLocked implements [*Registry.Listen].
//
// The caller must hold the mu lock.
func (r *Registry) listenLocked(bind netip.AddrPort) (*Listener, error) {
	ep := r.endpoints[bind]
	switch {
	case ep == nil:
		// The listener socket pre-exists the first inbound attempt.
		ep = newEndpoint(true)
		r.endpoints[bind] = ep

	case !ep.bound:
		// Claim the backlog created by an earlier connect. This
		// transition happens at most once per address.
		ep.bound = true

	default:
		return nil, EADDRINUSE
	}

	if r.Logger != nil {
		r.Logger.Info("connsimListen",
			slog.String("localAddr", bind.String()),
		)
	}
	return &Listener{addr: bind, ep: ep, reg: r}, nil
}

// ListenEphemeral binds a [*Listener] to an ephemeral port of the
// given IP address, or fails with [EADDRNOTAVAIL] when every port in
// the ephemeral range is taken.
func (r *Registry) ListenEphemeral(ip netip.Addr) (*Listener, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gcDroppedLocked()

	occupied := r.occupiedPortsLocked(ip)
	for bound := range r.endpoints {
		if bound.Addr() == ip {
			occupied[bound.Port()] = true
		}
	}
	for port := lastEphemeralPort; port >= firstEphemeralPort; port-- {
		if !occupied[uint16(port)] {
			return r.listenLocked(netip.AddrPortFrom(ip, uint16(port)))
		}
	}
	return nil, EADDRNOTAVAIL
}

// Ephemeral port range. The allocator scans downward from the top
// and fails instead of wrapping when the range is exhausted.
const (
	firstEphemeralPort = 49152
	lastEphemeralPort  = 65535
)

// occupiedPortsLocked returns the set of source ports used by live
// connection identities originating from the given IP address.
//
// The caller must hold the mu lock.
func (r *Registry) occupiedPortsLocked(ip netip.Addr) map[uint16]bool {
	occupied := make(map[uint16]bool)
	for pair := range r.conns {
		if pair.src.Addr() == ip {
			occupied[pair.src.Port()] = true
		}
	}
	return occupied
}

// unusedPortLocked finds an unused ephemeral port for the given
// source IP address, or fails with [EADDRNOTAVAIL].
//
// The caller must hold the mu lock.
func (r *Registry) unusedPortLocked(ip netip.Addr) (uint16, error) {
	occupied := r.occupiedPortsLocked(ip)
	for port := lastEphemeralPort; port >= firstEphemeralPort; port-- {
		if !occupied[uint16(port)] {
			return uint16(port), nil
		}
	}
	return 0, EADDRNOTAVAIL
}

// gcDroppedLocked removes the connection identities whose both
// halves have been released, allowing their ports to be reused.
//
// The caller must hold the mu lock.
func (r *Registry) gcDroppedLocked() {
	for pair, entry := range r.conns {
		if entry.dropped() {
			delete(r.conns, pair)
		}
	}
}

// NumConns returns the number of live connection identities after
// a garbage collection pass.
func (r *Registry) NumConns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gcDroppedLocked()
	return len(r.conns)
}

// NewHost creates a [*Host] view binding the given source IP
// address to this registry.
func (r *Registry) NewHost(addr netip.Addr) *Host {
	return &Host{addr: addr, reg: r}
}

// Close shuts down the registry, releasing every registered socket
// and unblocking pending handshakes and accepts with [ENETDOWN].
func (r *Registry) Close() error {
	r.eofOnce.Do(func() {
		close(r.eof)
		r.mu.Lock()
		defer r.mu.Unlock()
		for pair, entry := range r.conns {
			entry.client.Close()
			entry.server.Close()
			delete(r.conns, pair)
		}
	})
	return nil
}
