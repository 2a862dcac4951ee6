// SPDX-License-Identifier: GPL-3.0-or-later

package connsim_test

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/rbmk-project/connsim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	clientIP   = netip.MustParseAddr("10.0.0.2")
	serverIP   = netip.MustParseAddr("10.0.0.1")
	serverAddr = netip.MustParseAddrPort("10.0.0.1:80")
)

func TestListenThenConnect(t *testing.T) {
	reg := connsim.NewRegistry(nil)
	defer reg.Close()

	listener, err := reg.Listen(serverAddr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	clientConn, err := reg.Connect(clientIP, serverAddr).Establish(ctx)
	require.NoError(t, err)

	serverConn, err := listener.AcceptContext(ctx)
	require.NoError(t, err)

	// The accepted conn must be the peer of the dialed conn.
	assert.Equal(t, clientConn.LocalAddr().String(), serverConn.RemoteAddr().String())
	assert.Equal(t, serverAddr.String(), clientConn.RemoteAddr().String())

	// A second bind on the same address must fail and must leave
	// the first listener fully functional.
	_, err = reg.Listen(serverAddr)
	assert.ErrorIs(t, err, connsim.EADDRINUSE)

	clientConn2, err := reg.Connect(clientIP, serverAddr).Establish(ctx)
	require.NoError(t, err)
	serverConn2, err := listener.AcceptContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, clientConn2.LocalAddr().String(), serverConn2.RemoteAddr().String())
}

func TestConnectBeforeListen(t *testing.T) {
	reg := connsim.NewRegistry(nil)
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// The handshake parks the server half into the backlog even
	// though nobody called listen yet.
	clientConn, err := reg.Connect(clientIP, serverAddr).Establish(ctx)
	require.NoError(t, err)

	listener, err := reg.Listen(serverAddr)
	require.NoError(t, err)

	serverConn, err := listener.AcceptContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, clientConn.LocalAddr().String(), serverConn.RemoteAddr().String())
}

func TestConnectionRefused(t *testing.T) {
	reg := connsim.NewRegistry(nil)
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// First connect occupies the only backlog slot of the
	// never-bound endpoint.
	_, err := reg.Connect(clientIP, serverAddr).Establish(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reg.NumConns())

	// Second connect has nowhere to go.
	_, err = reg.Connect(clientIP, serverAddr).Establish(ctx)
	assert.ErrorIs(t, err, connsim.ECONNREFUSED)

	// The refused identity must have been released.
	assert.Equal(t, 1, reg.NumConns())
}

func TestSourcePortsAreUnique(t *testing.T) {
	reg := connsim.NewRegistry(nil)
	defer reg.Close()

	listener, err := reg.Listen(serverAddr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	seen := make(map[uint16]bool)
	for idx := 0; idx < 32; idx++ {
		clientConn, err := reg.Connect(clientIP, serverAddr).Establish(ctx)
		require.NoError(t, err)
		_, err = listener.AcceptContext(ctx)
		require.NoError(t, err)
		port := netip.MustParseAddrPort(clientConn.LocalAddr().String()).Port()
		assert.False(t, seen[port], "port %d assigned twice", port)
		seen[port] = true
	}
	assert.Equal(t, 32, reg.NumConns())
}

func TestPortReuseAfterGC(t *testing.T) {
	reg := connsim.NewRegistry(nil)
	defer reg.Close()

	listener, err := reg.Listen(serverAddr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	clientConn, err := reg.Connect(clientIP, serverAddr).Establish(ctx)
	require.NoError(t, err)
	serverConn, err := listener.AcceptContext(ctx)
	require.NoError(t, err)

	firstPort := netip.MustParseAddrPort(clientConn.LocalAddr().String()).Port()

	// Dropping both halves makes the identity garbage and the
	// port available again.
	clientConn.Close()
	serverConn.Close()
	assert.Equal(t, 0, reg.NumConns())

	clientConn2, err := reg.Connect(clientIP, serverAddr).Establish(ctx)
	require.NoError(t, err)
	secondPort := netip.MustParseAddrPort(clientConn2.LocalAddr().String()).Port()
	assert.Equal(t, firstPort, secondPort)
}

func TestEstablishContextCanceled(t *testing.T) {
	reg := connsim.NewRegistry(nil)
	defer reg.Close()

	_, err := reg.Listen(serverAddr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// Fill the backlog slot without accepting.
	_, err = reg.Connect(clientIP, serverAddr).Establish(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, reg.NumConns())

	// The next handshake suspends until its context is done.
	shortCtx, shortCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer shortCancel()
	_, err = reg.Connect(clientIP, serverAddr).Establish(shortCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The canceled identity must have been released.
	assert.Equal(t, 1, reg.NumConns())
}

func TestListenerCloseRefusesHandshakes(t *testing.T) {
	reg := connsim.NewRegistry(nil)
	defer reg.Close()

	listener, err := reg.Listen(serverAddr)
	require.NoError(t, err)
	require.NoError(t, listener.Close())

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	_, err = reg.Connect(clientIP, serverAddr).Establish(ctx)
	assert.ErrorIs(t, err, connsim.ECONNREFUSED)

	// Accept after close fails as well.
	_, err = listener.AcceptContext(ctx)
	assert.ErrorIs(t, err, net.ErrClosed)

	// The endpoint stays bound after the listener goes away.
	_, err = reg.Listen(serverAddr)
	assert.ErrorIs(t, err, connsim.EADDRINUSE)
}

func TestListenerCloseUnblocksSuspendedHandshake(t *testing.T) {
	reg := connsim.NewRegistry(nil)
	defer reg.Close()

	listener, err := reg.Listen(serverAddr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// Fill the backlog slot, then suspend a second handshake.
	_, err = reg.Connect(clientIP, serverAddr).Establish(ctx)
	require.NoError(t, err)

	errch := make(chan error, 1)
	go func() {
		_, err := reg.Connect(clientIP, serverAddr).Establish(ctx)
		errch <- err
	}()

	// Give the handshake a chance to suspend, then drop the listener.
	time.Sleep(50 * time.Millisecond)
	listener.Close()
	assert.ErrorIs(t, <-errch, connsim.ECONNREFUSED)
}

func TestRegistryCloseUnblocks(t *testing.T) {
	reg := connsim.NewRegistry(nil)

	listener, err := reg.Listen(serverAddr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	acceptErr := make(chan error, 1)
	go func() {
		_, err := listener.AcceptContext(ctx)
		acceptErr <- err
	}()

	// Fill the backlog of a second, never-accepting listener so
	// that the accept above stays pending and the handshake below
	// suspends on a full backlog.
	otherAddr := netip.MustParseAddrPort("10.0.0.3:80")
	_, err = reg.Listen(otherAddr)
	require.NoError(t, err)
	_, err = reg.Connect(clientIP, otherAddr).Establish(ctx)
	require.NoError(t, err)
	establishErr := make(chan error, 1)
	go func() {
		_, err := reg.Connect(clientIP, otherAddr).Establish(ctx)
		establishErr <- err
	}()

	time.Sleep(50 * time.Millisecond)
	reg.Close()

	assert.ErrorIs(t, <-acceptErr, connsim.ENETDOWN)
	assert.ErrorIs(t, <-establishErr, connsim.ENETDOWN)
	assert.Equal(t, 0, reg.NumConns())
}

func TestDataFlowsBetweenPeers(t *testing.T) {
	reg := connsim.NewRegistry(nil)
	defer reg.Close()

	listener, err := reg.Listen(serverAddr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	clientConn, err := reg.Connect(clientIP, serverAddr).Establish(ctx)
	require.NoError(t, err)
	serverConn, err := listener.AcceptContext(ctx)
	require.NoError(t, err)

	go func() {
		serverConn.Write([]byte("antani"))
	}()

	buf := make([]byte, 128)
	count, err := clientConn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "antani", string(buf[:count]))
}
