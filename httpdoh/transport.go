// Package httpdoh implements the DoH transport spec.md §4.4 describes: a
// POST of a raw DNS wire message to https://host/dns-query with ALPN
// pinned to h2, grounded on the DialTLSContext pattern in
// other_examples' XTLS-Xray-core DoH nameserver client and on
// original_source/src/base/net/dns/Http2Client.cpp's explicit h2-only
// ALPN check (verifyAlpn).
package httpdoh

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"golang.org/x/net/http2"

	"github.com/classmarkets/pool-ns-resolver/resolver"
)

const dnsMessageContentType = "application/dns-message"

// Transport is a resolver.DoHTransport backed by net/http with an
// http2.Transport forcing ALPN to h2 and no fallback to HTTP/1.1 — the
// original rejects any connection that doesn't negotiate h2
// (verifyAlpn), and a plaintext HTTP/1.1 fallback would defeat the
// point of querying a pool's authoritative servers directly.
type Transport struct {
	client *http.Client

	mu      sync.Mutex
	peerIPs map[string]string // dial addr -> remote IP, last connection wins
}

// New returns a Transport that dials with insecureSkipVerify false;
// callers needing a custom *tls.Config (e.g. a pinned CA) should build
// one with NewWithTLSConfig instead.
func New() *Transport {
	return NewWithTLSConfig(&tls.Config{})
}

// NewWithTLSConfig returns a Transport using tlsCfg as the base TLS
// configuration, with NextProtos forced to ["h2"] regardless of what
// the caller set.
func NewWithTLSConfig(tlsCfg *tls.Config) *Transport {
	t := &Transport{peerIPs: make(map[string]string)}

	cfg := tlsCfg.Clone()
	cfg.NextProtos = []string{"h2"}

	h2Transport := &http2.Transport{
		TLSClientConfig: cfg,
		DialTLSContext: func(ctx context.Context, network, addr string, tlsCfg *tls.Config) (net.Conn, error) {
			dialer := &tls.Dialer{Config: tlsCfg}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}

			if tlsConn, ok := conn.(*tls.Conn); ok {
				if tlsConn.ConnectionState().NegotiatedProtocol != "h2" {
					conn.Close()
					return nil, fmt.Errorf("httpdoh: server at %s did not negotiate h2", addr)
				}
			}

			if remote, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
				t.setPeerIP(addr, remote.IP.String())
			}

			return conn, nil
		},
	}

	t.client = &http.Client{Transport: h2Transport}
	return t
}

func (t *Transport) setPeerIP(host, ip string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peerIPs[host] = ip
}

func (t *Transport) peerIP(host string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peerIPs[host]
}

// Query implements resolver.DoHTransport.
func (t *Transport) Query(ctx context.Context, host string, query []byte) (resolver.DoHResponse, error) {
	url := "https://" + host + "/dns-query"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(query))
	if err != nil {
		return resolver.DoHResponse{}, err
	}
	req.Header.Set("Content-Type", dnsMessageContentType)
	req.Header.Set("Accept", dnsMessageContentType)

	// DialTLSContext receives req.URL.Host with the default port 443
	// appended when it carries none, so build the same host:port here as
	// the key to look up the peer IP DialTLSContext recorded.
	dialAddr := req.URL.Host
	if _, _, err := net.SplitHostPort(dialAddr); err != nil {
		dialAddr = net.JoinHostPort(dialAddr, "443")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return resolver.DoHResponse{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return resolver.DoHResponse{PeerIP: t.peerIP(dialAddr)}, err
	}

	return resolver.DoHResponse{
		Status: resp.StatusCode,
		Body:   body,
		PeerIP: t.peerIP(dialAddr),
	}, nil
}
