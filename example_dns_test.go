// SPDX-License-Identifier: GPL-3.0-or-later

package connsim_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/miekg/dns"
	"github.com/rbmk-project/connsim"
)

// This example shows how to run a DNS-over-TCP server over the
// simulated network and query it.
func Example_dnsOverTCP() {
	// Create the scenario and arrange for cleanup.
	scenario := connsim.NewScenario()
	defer scenario.Close()

	// Register names and addresses in the DNS database.
	scenario.DNSDatabase().AddCNAME("www.example.com", "example.com")
	scenario.DNSDatabase().AddAddr("example.com", "93.184.216.34")

	// Create the server host answering DNS queries on port 53.
	scenario.MustNewDNSHost("8.8.8.8")

	// Create the client host.
	clientHost := scenario.MustNewHost("130.192.91.211")

	// Create a context with a watchdog timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	// Create the client connection with the DNS server.
	conn, err := clientHost.DialContext(ctx, "tcp", "8.8.8.8:53")
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	// Create the query to send
	query := new(dns.Msg)
	query.Id = dns.Id()
	query.RecursionDesired = true
	query.Question = []dns.Question{{
		Name:   "www.example.com.",
		Qtype:  dns.TypeA,
		Qclass: dns.ClassINET,
	}}

	// Perform the DNS round trip
	clientDNS := &dns.Client{Net: "tcp"}
	resp, _, err := clientDNS.ExchangeWithConnContext(ctx, query, &dns.Conn{Conn: conn})
	if err != nil {
		log.Fatal(err)
	}

	// Print the responses
	for _, ans := range resp.Answer {
		if a, ok := ans.(*dns.A); ok {
			fmt.Printf("%s\n", a.A.String())
		}
	}

	// Output:
	// 93.184.216.34
}
