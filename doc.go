// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package connsim implements the connection-establishment core of an
in-process network simulator that developers can use to test
networked code without real sockets.

# Usage and Features

The [NewRegistry] function creates a [*Registry], which owns every
simulated connection identity and every listening endpoint. The two
mutating operations are:

- [*Registry.Connect], which allocates an ephemeral source port,
registers the connection identity, creates the linked socket pair,
and returns a [*PendingConn] completing the handshake;

- [*Registry.Listen], which binds a [*Listener] to an address,
claiming the backlog of connections that may already be queueing.

A connection attempt enqueues the server half of a freshly created
socket pair into the destination's backlog, which is a bounded queue
with room for a single unaccepted connection. Connecting to an address
whose backlog nobody will drain fails with [ECONNREFUSED], mimicking
the behavior of a TCP stack with no process listening.

Each socket half is wrapped by the [faultconn] package, which both
supports fault injection (partitions, latency) and lets the registry
detect when both ends of a connection have been released, at which
point the identity is garbage collected and its port can be reused.

The [*Host] type binds a source IP address to the registry and exposes
the familiar DialContext/Listen surface returning [net.Conn] and
[net.Listener] values, so simulated applications can run unmodified
HTTP or DNS servers on top of the simulator. The [*Scenario] type
bundles a registry, a virtual clock, and a DNS database for writing
integration tests; this package contains examples showing how to use
it.

The errors returned by this package are the same [syscall.Errno] the
standard library and the kernel would generate in similar cases (we use
the [x/sys] repository to pull system-dependent error values).

# Design Documents

See DESIGN.md in the repository root.
*/
package connsim
