package resolver

import (
	"context"

	"github.com/classmarkets/pool-ns-resolver/config"
)

// Backend resolves one hostname. The Registry routes each hostname to
// exactly one Backend instance for the process lifetime (spec.md §4.6,
// "sticky per host"). Both PoolNsBackend and SystemBackend implement it,
// matching spec.md §2's "consumed via the same listener interface the
// core exposes."
type Backend interface {
	Resolve(host string, listener *Listener, cfg config.DNSConfig)
}

// DoHResponse is one DNS-over-HTTPS exchange's result.
type DoHResponse struct {
	Status int
	Body   []byte
	// PeerIP is the IP address the transport actually connected to, so a
	// failed DoH parse can retry the same server over TCP/53 without a
	// second lookup (spec.md §4.5.2's try_tcp_with_cached_ip).
	PeerIP string
}

// DoHTransport is the external collaborator spec.md §4.4 describes: POST
// a raw DNS message to https://host:443/dns-query and deliver the
// response. The resolver core only depends on this small interface; see
// package httpdoh for the concrete HTTP/2 implementation.
type DoHTransport interface {
	Query(ctx context.Context, host string, query []byte) (DoHResponse, error)
}
