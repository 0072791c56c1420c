// Package resolvertest provides fake authoritative name servers for
// integration-style tests of the resolver and httpdoh packages, grounded
// on the teacher's server_test.go (TestServer/NewTestServer/NewRootServer):
// a real listener serving real wire-format bytes beats mocking the
// transport interfaces directly. github.com/miekg/dns is used here,
// test-only, to build response records — see DESIGN.md for why
// production code hand-rolls the codec instead.
package resolvertest

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/miekg/dns"
)

// Zone maps a lowercase, fully-qualified (trailing-dot) owner name to the
// records an authority should answer with for it.
type Zone map[string][]dns.RR

func (z Zone) answer(q dns.Question) []dns.RR {
	var out []dns.RR
	for _, rr := range z[q.Name] {
		if rr.Header().Rrtype == q.Qtype {
			out = append(out, rr)
		}
	}
	return out
}

func (z Zone) respond(req []byte) ([]byte, error) {
	in := new(dns.Msg)
	if err := in.Unpack(req); err != nil {
		return nil, err
	}

	out := new(dns.Msg)
	out.SetReply(in)
	out.Authoritative = true

	if len(in.Question) == 1 {
		out.Answer = z.answer(in.Question[0])
	}

	return out.Pack()
}

// DoHAuthority is an httptest.Server speaking the DoH wire protocol
// (spec.md §4.4: POST application/dns-message to /dns-query) over h2,
// backed by Zone.
type DoHAuthority struct {
	*httptest.Server
	// Host is srv.Listener.Addr()'s host:port, suitable as the "host"
	// argument to resolver.DoHTransport.Query.
	Host string
}

// NewDoHAuthority starts a TLS server on 127.0.0.1 answering DoH queries
// from zone. It is shut down automatically when t completes.
func NewDoHAuthority(t *testing.T, zone Zone) *DoHAuthority {
	mux := http.NewServeMux()
	mux.HandleFunc("/dns-query", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		resp, err := zone.respond(body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/dns-message")
		_, _ = w.Write(resp)
	})

	srv := httptest.NewUnstartedServer(mux)
	srv.EnableHTTP2 = true
	srv.TLS = &tls.Config{NextProtos: []string{"h2"}}
	srv.StartTLS()

	t.Cleanup(srv.Close)

	host := srv.Listener.Addr().String()
	return &DoHAuthority{Server: srv, Host: host}
}

// Client returns an *http.Client trusting this server's certificate, for
// tests that want to talk to the authority without going through
// httpdoh.Transport.
func (d *DoHAuthority) Client() *http.Client {
	return d.Server.Client()
}

// Certificate returns the authority's TLS leaf certificate, for tests
// that build their own *tls.Config (e.g. httpdoh.NewWithTLSConfig)
// rather than using Client().
func (d *DoHAuthority) Certificate() *x509.Certificate {
	return d.Server.Certificate()
}

// TCPAuthority is a bare TCP/53 listener (2-byte length-prefixed framing)
// backed by Zone, grounded on the original's DnsTcpClient.cpp wire
// behavior on the server side.
type TCPAuthority struct {
	Addr string

	ln net.Listener
}

// NewTCPAuthority starts a TCP listener on 127.0.0.1:0 answering framed
// DNS queries from zone. It is shut down automatically when t completes.
func NewTCPAuthority(t *testing.T, zone Zone) *TCPAuthority {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	a := &TCPAuthority{Addr: ln.Addr().String(), ln: ln}

	t.Cleanup(func() { _ = ln.Close() })

	go a.serve(zone)

	return a
}

func (a *TCPAuthority) serve(zone Zone) {
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			return
		}
		go a.handle(conn, zone)
	}
}

func (a *TCPAuthority) handle(conn net.Conn, zone Zone) {
	defer conn.Close()

	var lenBuf [2]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return
	}
	msgLen := binary.BigEndian.Uint16(lenBuf[:])

	buf := make([]byte, msgLen)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return
	}

	resp, err := zone.respond(buf)
	if err != nil {
		return
	}

	framed := make([]byte, 2+len(resp))
	binary.BigEndian.PutUint16(framed, uint16(len(resp)))
	copy(framed[2:], resp)

	_, _ = conn.Write(framed)
}
