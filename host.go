//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Per-host dial and listen surface.
//

package connsim

import (
	"context"
	"net"
	"net/netip"
)

// Host binds a source IP address to a [*Registry] and exposes the
// dial and listen surface that simulated applications use. Multiple
// hosts share the same registry, like multiple machines share the
// same network.
//
// The zero value is invalid; construct using [*Registry.NewHost].
type Host struct {
	// addr is the host IP address.
	addr netip.Addr

	// reg is the shared registry.
	reg *Registry
}

// Addr returns the host IP address.
func (h *Host) Addr() netip.Addr {
	return h.addr
}

// DialContext dials a simulated TCP address.
//
// The following errors are possible:
//
// 1. [EPROTONOSUPPORT] if the network is not "tcp";
//
// 2. [EINVAL] if the address does not parse;
//
// 3. [EHOSTUNREACH] if the address is unspecified or has no port;
//
// 4. any error documented by [*PendingConn.Establish].
func (h *Host) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if network != "tcp" {
		return nil, EPROTONOSUPPORT
	}
	raddr, err := netip.ParseAddrPort(address)
	if err != nil {
		return nil, EINVAL
	}
	if raddr.Addr().IsUnspecified() || raddr.Port() <= 0 {
		return nil, EHOSTUNREACH
	}
	return h.reg.Connect(h.addr, raddr).Establish(ctx)
}

// Listen creates a listening socket on the host address.
//
// An unspecified IP binds the host's own address; binding any other
// IP fails with [EADDRNOTAVAIL]. Port zero binds an ephemeral port.
//
// The following errors are possible:
//
// 1. [EPROTONOSUPPORT] if the network is not "tcp";
//
// 2. [EINVAL] if the address does not parse;
//
// 3. [EADDRNOTAVAIL] if the IP is not the host's own address, or
// no ephemeral port is free;
//
// 4. [EADDRINUSE] if a listener is already bound to the address.
func (h *Host) Listen(network, address string) (net.Listener, error) {
	if network != "tcp" {
		return nil, EPROTONOSUPPORT
	}
	laddr, err := netip.ParseAddrPort(address)
	if err != nil {
		return nil, EINVAL
	}
	ipAddr := laddr.Addr()
	if ipAddr.IsUnspecified() {
		ipAddr = h.addr
	}
	if ipAddr != h.addr {
		return nil, EADDRNOTAVAIL
	}
	if laddr.Port() <= 0 {
		return h.reg.ListenEphemeral(ipAddr)
	}
	return h.reg.Listen(netip.AddrPortFrom(ipAddr, laddr.Port()))
}
