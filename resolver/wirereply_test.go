package resolver

import (
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// aReply and nsReply build reference wire-format DNS responses using
// github.com/miekg/dns, test-only here (see DESIGN.md), so the backend
// tests exercise the production wire.ParseResponse/ParseAddressRecords
// decoders against byte-for-byte real messages instead of hand-built
// fixtures.

func aReply(t *testing.T, name string, ips ...string) []byte {
	t.Helper()

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeA)
	msg.Response = true
	msg.Authoritative = true

	for _, ip := range ips {
		rr := &dns.A{
			Hdr: dns.RR_Header{Name: dns.Fqdn(name), Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
			A:   net.ParseIP(ip),
		}
		msg.Answer = append(msg.Answer, rr)
	}

	data, err := msg.Pack()
	require.NoError(t, err)
	return data
}

func nsReply(t *testing.T, domain string, nsHosts ...string) []byte {
	t.Helper()

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), dns.TypeNS)
	msg.Response = true
	msg.Authoritative = true

	for _, ns := range nsHosts {
		rr := &dns.NS{
			Hdr: dns.RR_Header{Name: dns.Fqdn(domain), Rrtype: dns.TypeNS, Class: dns.ClassINET, Ttl: 300},
			Ns:  dns.Fqdn(ns),
		}
		msg.Answer = append(msg.Answer, rr)
	}

	data, err := msg.Pack()
	require.NoError(t, err)
	return data
}
