// SPDX-License-Identifier: GPL-3.0-or-later

package simsock_test

import (
	"io"
	"net"
	"net/netip"
	"os"
	"testing"
	"time"

	"github.com/rbmk-project/connsim/simsock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	laddr = netip.MustParseAddrPort("10.0.0.2:65535")
	raddr = netip.MustParseAddrPort("10.0.0.1:80")
)

func TestPairAddresses(t *testing.T) {
	client, server := simsock.Pair(laddr, raddr)
	assert.Equal(t, "10.0.0.2:65535", client.LocalAddr().String())
	assert.Equal(t, "10.0.0.1:80", client.RemoteAddr().String())
	assert.Equal(t, "10.0.0.1:80", server.LocalAddr().String())
	assert.Equal(t, "10.0.0.2:65535", server.RemoteAddr().String())
	assert.Equal(t, "tcp", client.LocalAddr().Network())
}

func TestPairRoundTrip(t *testing.T) {
	client, server := simsock.Pair(laddr, raddr)
	defer client.Close()
	defer server.Close()

	go func() {
		client.Write([]byte("mascetti"))
	}()

	buf := make([]byte, 128)
	count, err := server.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "mascetti", string(buf[:count]))

	go func() {
		server.Write([]byte("perozzi"))
	}()

	count, err = client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "perozzi", string(buf[:count]))
}

func TestPairShortReads(t *testing.T) {
	client, server := simsock.Pair(laddr, raddr)
	defer client.Close()
	defer server.Close()

	go func() {
		client.Write([]byte("antani"))
	}()

	// A small read buffer drains the received chunk incrementally.
	buf := make([]byte, 2)
	var collected []byte
	for len(collected) < 6 {
		count, err := server.Read(buf)
		require.NoError(t, err)
		collected = append(collected, buf[:count]...)
	}
	assert.Equal(t, "antani", string(collected))
}

func TestPairCloseSemantics(t *testing.T) {
	t.Run("read after local close", func(t *testing.T) {
		client, _ := simsock.Pair(laddr, raddr)
		client.Close()
		_, err := client.Read(make([]byte, 16))
		assert.ErrorIs(t, err, net.ErrClosed)
	})

	t.Run("read after peer close", func(t *testing.T) {
		client, server := simsock.Pair(laddr, raddr)
		client.Close()
		_, err := server.Read(make([]byte, 16))
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("write after local close", func(t *testing.T) {
		client, _ := simsock.Pair(laddr, raddr)
		client.Close()
		_, err := client.Write([]byte("antani"))
		assert.ErrorIs(t, err, net.ErrClosed)
	})

	t.Run("write after peer close", func(t *testing.T) {
		client, server := simsock.Pair(laddr, raddr)
		server.Close()
		_, err := client.Write([]byte("antani"))
		assert.ErrorIs(t, err, simsock.ECONNRESET)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		client, _ := simsock.Pair(laddr, raddr)
		assert.NoError(t, client.Close())
		assert.NoError(t, client.Close())
	})
}

func TestPairDeadlines(t *testing.T) {
	t.Run("read deadline", func(t *testing.T) {
		_, server := simsock.Pair(laddr, raddr)
		server.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
		_, err := server.Read(make([]byte, 16))
		assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	})

	t.Run("write deadline", func(t *testing.T) {
		client, _ := simsock.Pair(laddr, raddr)
		client.SetWriteDeadline(time.Now().Add(10 * time.Millisecond))
		_, err := client.Write([]byte("antani"))
		assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	})

	t.Run("deadline in the past", func(t *testing.T) {
		client, server := simsock.Pair(laddr, raddr)
		server.SetDeadline(time.Now().Add(-time.Second))
		_, err := server.Read(make([]byte, 16))
		assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
		_, err = server.Write([]byte("antani"))
		assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
		client.Close()
	})

	t.Run("clearing the deadline", func(t *testing.T) {
		client, server := simsock.Pair(laddr, raddr)
		server.SetReadDeadline(time.Now().Add(-time.Second))
		_, err := server.Read(make([]byte, 16))
		require.ErrorIs(t, err, os.ErrDeadlineExceeded)
		server.SetReadDeadline(time.Time{})
		go func() {
			client.Write([]byte("antani"))
		}()
		count, err := server.Read(make([]byte, 16))
		require.NoError(t, err)
		assert.Equal(t, 6, count)
	})
}
