package resolver

import (
	"context"
	"net"
	"time"

	"github.com/classmarkets/pool-ns-resolver/config"
	"github.com/classmarkets/pool-ns-resolver/wire"
)

// SystemBackend delegates resolution to the platform resolver. It is the
// last-resort strategy (spec.md §4.5.2 FALLBACK) and also the direct path
// for IP literals and hosts pool-ns is disabled for (spec.md §4.6).
//
// Go's net.Resolver already hides the nix/Windows split the teacher's
// root_nix.go/root_windows.go pair exists for (discovering /etc/resolv.conf
// on *nix vs. the Windows resolver API) — see DESIGN.md.
type SystemBackend struct {
	resolver *net.Resolver
	timeout  time.Duration
}

// NewSystemBackend returns a SystemBackend using net.DefaultResolver.
func NewSystemBackend() *SystemBackend {
	return &SystemBackend{resolver: net.DefaultResolver, timeout: 5 * time.Second}
}

// Resolve implements Backend by calling LookupIPAddr and filtering by
// cfg.IPVersion, delivering the result synchronously-equivalent via a
// goroutine so callers never block inside Resolve.
func (b *SystemBackend) Resolve(host string, listener *Listener, cfg config.DNSConfig) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()

		addrs, err := b.resolver.LookupIPAddr(ctx, host)
		if err != nil || len(addrs) == 0 {
			listener.deliver(wire.RecordSet{}, -1, "DNS resolution failed", nil)
			return
		}

		var records []wire.Record
		for _, a := range addrs {
			if ip4 := a.IP.To4(); ip4 != nil {
				if !cfg.IPVersion.AcceptsV4() {
					continue
				}
				records = append(records, wire.Record{Family: wire.V4, Addr: ip4, IP: ip4.String()})
			} else {
				if !cfg.IPVersion.AcceptsV6() {
					continue
				}
				records = append(records, wire.Record{Family: wire.V6, Addr: a.IP, IP: a.IP.String()})
			}
		}

		set, ok := wire.NewRecordSet(records)
		if !ok {
			listener.deliver(wire.RecordSet{}, -1, "DNS resolution failed", nil)
			return
		}

		listener.deliver(set, 0, "", nil)
	}()
}
