//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// In-memory DNS database for simulation scenarios.
//

// Package dnsdb models the DNS database of a simulated network. A
// [*Database] maps canonical names to resource records and implements
// [dnscoretest.Handler], so a [dnscoretest.Server] listening on a
// simulated host can answer queries from the database.
package dnsdb

import (
	"net"
	"sync"

	"github.com/miekg/dns"
	"github.com/rbmk-project/common/runtimex"
	"github.com/rbmk-project/dnscore/dnscoretest"
)

// Handler is an alias for dnscoretest.Handler.
type Handler = dnscoretest.Handler

// Database maps domain names to DNS resource records.
//
// The zero value is invalid; construct using [NewDatabase].
type Database struct {
	// mu protects names.
	mu sync.Mutex

	// names maps a canonical name to its records.
	names map[string][]dns.RR
}

// NewDatabase creates an empty [*Database].
func NewDatabase() *Database {
	return &Database{
		names: make(map[string][]dns.RR),
	}
}

// Ensure [*Database] implements [Handler].
var _ Handler = (*Database)(nil)

// AddCNAME adds a CNAME record aliasing name to target.
func (db *Database) AddCNAME(name, target string) {
	rr := &dns.CNAME{
		Hdr: dns.RR_Header{
			Name:   dns.CanonicalName(name),
			Rrtype: dns.TypeCNAME,
			Class:  dns.ClassINET,
			Ttl:    3600,
		},
		Target: dns.CanonicalName(target),
	}
	db.mu.Lock()
	db.names[dns.CanonicalName(name)] = append(db.names[dns.CanonicalName(name)], rr)
	db.mu.Unlock()
}

// AddAddr adds an A or AAAA record mapping the given domain
// name to the given IP address, depending on the address family.
//
// This method panics if addr is not a valid IP address.
func (db *Database) AddAddr(name, addr string) {
	ipAddr := net.ParseIP(addr)
	runtimex.Assert(ipAddr != nil, "invalid IP address")

	header := dns.RR_Header{
		Name:  dns.CanonicalName(name),
		Class: dns.ClassINET,
		Ttl:   3600,
	}
	var rr dns.RR
	switch ipAddr.To4() {
	case nil:
		header.Rrtype = dns.TypeAAAA
		rr = &dns.AAAA{Hdr: header, AAAA: ipAddr}
	default:
		header.Rrtype = dns.TypeA
		rr = &dns.A{Hdr: header, A: ipAddr}
	}

	db.mu.Lock()
	db.names[header.Name] = append(db.names[header.Name], rr)
	db.mu.Unlock()
}

// Handle implements [Handler] by answering the query using the
// records inside the database.
func (db *Database) Handle(rw dnscoretest.ResponseWriter, rawQuery []byte) {
	// Parse the incoming query and make sure it is a query
	// containing a single question.
	query := &dns.Msg{}
	if err := query.Unpack(rawQuery); err != nil {
		return
	}
	if query.Response || query.Opcode != dns.OpcodeQuery || len(query.Question) != 1 {
		return
	}
	response := &dns.Msg{}
	response.SetReply(query)

	// Fill the answer section if possible.
	q0 := query.Question[0]
	switch {
	case q0.Qclass != dns.ClassINET:
		response.Rcode = dns.RcodeRefused
	case q0.Qtype == dns.TypeA || q0.Qtype == dns.TypeAAAA || q0.Qtype == dns.TypeCNAME:
		var found bool
		response.Answer, found = db.lookup(q0.Qtype, dns.CanonicalName(q0.Name))
		if !found {
			response.Rcode = dns.RcodeNameError
		}
	default:
		response.Rcode = dns.RcodeNameError
	}

	// Serialize and write the response.
	rawResp, err := response.Pack()
	if err != nil {
		return
	}
	rw.Write(rawResp)
}

// lookup returns the records answering a query for the given name,
// following CNAME redirects up to a fixed depth.
func (db *Database) lookup(qtype uint16, name string) ([]dns.RR, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()

	const maxredirects = 10
	var rrs []dns.RR
	for idx := 0; idx < maxredirects; idx++ {
		interim, found := db.names[name]
		if !found {
			return nil, false
		}
		rrs = append(rrs, interim...)

		// Stop as soon as we hold the desired record type.
		for _, rr := range interim {
			if rr.Header().Rrtype == qtype {
				return rrs, true
			}
		}

		// Otherwise follow the CNAME redirect, if any.
		var target string
		for _, rr := range interim {
			if cname, ok := rr.(*dns.CNAME); ok {
				target = cname.Target
				break
			}
		}
		if target == "" {
			return nil, false
		}
		name = target
	}
	return nil, false
}
