//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Scenario harness for integration tests.
//

package connsim

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/rbmk-project/common/runtimex"
	"github.com/rbmk-project/connsim/dnsdb"
	"github.com/rbmk-project/connsim/simclock"
	"github.com/rbmk-project/dnscore/dnscoretest"
)

// Scenario bundles the components of a connection simulation: a
// [*Registry] shared by all hosts, a virtual clock, a DNS database,
// and the resources to release at teardown.
type Scenario struct {
	// clock is the scenario virtual clock.
	clock *simclock.Manual

	// closers tracks all that which needs to be closed.
	closers []io.Closer

	// dnsd is the scenario DNS database.
	dnsd *dnsdb.Database

	// mu protects closers.
	mu sync.Mutex

	// reg is the registry shared by all hosts.
	reg *Registry
}

// NewScenario creates a new simulation scenario.
func NewScenario() *Scenario {
	clock := simclock.NewManual(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))
	s := &Scenario{
		clock: clock,
		dnsd:  dnsdb.NewDatabase(),
		reg:   NewRegistry(clock),
	}
	s.Track(s.reg)
	return s
}

// Clock returns the scenario virtual clock.
func (s *Scenario) Clock() *simclock.Manual {
	return s.clock
}

// DNSDatabase returns the scenario DNS database.
func (s *Scenario) DNSDatabase() *dnsdb.Database {
	return s.dnsd
}

// Registry returns the registry shared by all hosts.
func (s *Scenario) Registry() *Registry {
	return s.reg
}

// Track registers an [io.Closer] to close at scenario teardown.
func (s *Scenario) Track(c io.Closer) {
	s.mu.Lock()
	s.closers = append(s.closers, c)
	s.mu.Unlock()
}

// MustNewHost creates a new [*Host] with the given IP address.
//
// This method panics on error.
func (s *Scenario) MustNewHost(addr string) *Host {
	return s.reg.NewHost(runtimex.Try1(netip.ParseAddr(addr)))
}

// MustNewDNSHost creates a new [*Host] running a DNS-over-TCP server
// on port 53 that answers queries from the scenario's DNS database.
//
// This method panics on error.
func (s *Scenario) MustNewDNSHost(addr string) *Host {
	host := s.MustNewHost(addr)
	server := &dnscoretest.Server{
		Listen: func(network, address string) (net.Listener, error) {
			return host.Listen("tcp", net.JoinHostPort(addr, "53"))
		},
	}
	<-server.StartTCP(s.dnsd)
	s.Track(server)
	return host
}

// NewHTTPTransport creates an [*http.Transport] dialing through
// the given host.
func (s *Scenario) NewHTTPTransport(host *Host) *http.Transport {
	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return host.DialContext(ctx, network, addr)
		},
	}
}

// Close releases all resources associated with the scenario,
// closing them in reverse registration order. The returned error
// is the join of all the errors that occurred when closing.
func (s *Scenario) Close() error {
	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	var errv []error
	for _, c := range slices.Backward(closers) {
		if err := c.Close(); err != nil {
			errv = append(errv, err)
		}
	}
	return errors.Join(errv...)
}
