// Package config defines the resolver's configuration surface. Loading
// JSON bytes into a DNSConfig — deciding where they come from, watching a
// file, merging CLI flags — is an external concern; this package only
// defines the recognized keys, their defaults, and the 1s TTL floor.
package config

import (
	"encoding/json"
	"time"

	"github.com/classmarkets/pool-ns-resolver/wire"
)

const (
	// DefaultDoHPrimary is the default primary DNS-over-HTTPS endpoint.
	DefaultDoHPrimary = "dns.google"
	// DefaultDoHFallback is the default secondary DNS-over-HTTPS endpoint.
	DefaultDoHFallback = "dns.nextdns.io"

	// DefaultTTL is the default cache freshness window.
	DefaultTTL = 30 * time.Second
	// MinTTL is the floor applied to a configured TTL.
	MinTTL = 1 * time.Second

	// DefaultPoolNSTimeout is the default per-step deadline for the
	// pool-ns state machine.
	DefaultPoolNSTimeout = 1 * time.Second
)

// DNSConfig is the resolved, validated option set the resolver runs with.
// It is JSON-tagged to match the "dns" object documented in spec.md §6, so
// a caller's own config loader can populate it directly with
// encoding/json, but this package does not itself read files or watch for
// changes.
type DNSConfig struct {
	IPVersion     wire.IPVersion `json:"ip_version"`
	TTL           time.Duration  `json:"-"`
	PoolNSEnabled bool           `json:"pool-ns"`
	PoolNSTimeout time.Duration  `json:"-"`
	DoHPrimary    string         `json:"doh-primary"`
	DoHFallback   string         `json:"doh-fallback"`
}

// Default returns the option set spec.md §3/§6 document as defaults.
func Default() DNSConfig {
	return DNSConfig{
		IPVersion:     wire.Any,
		TTL:           DefaultTTL,
		PoolNSEnabled: true,
		PoolNSTimeout: DefaultPoolNSTimeout,
		DoHPrimary:    DefaultDoHPrimary,
		DoHFallback:   DefaultDoHFallback,
	}
}

// IsDoHServer reports whether host is one of the configured DoH endpoints.
// The Registry uses this to enforce the invariant in spec.md §3: a DoH
// endpoint is never itself resolved through the pool-ns path.
func (c DNSConfig) IsDoHServer(host string) bool {
	return host == c.DoHPrimary || host == c.DoHFallback
}

// wireFormat mirrors DNSConfig's JSON shape using the raw, unit-bearing
// fields the wire format in spec.md §6 actually specifies (ttl in
// seconds, pool-ns-timeout in milliseconds), so the time.Duration fields
// don't need custom json tags sprinkled through the exported struct.
type wireFormat struct {
	IPVersion     int    `json:"ip_version"`
	TTL           uint   `json:"ttl"`
	PoolNSEnabled *bool  `json:"pool-ns"`
	PoolNSTimeout uint   `json:"pool-ns-timeout"`
	DoHPrimary    string `json:"doh-primary"`
	DoHFallback   string `json:"doh-fallback"`
}

// UnmarshalJSON decodes the "dns" object documented in spec.md §6, applying
// every documented default and the 1s TTL floor.
func (c *DNSConfig) UnmarshalJSON(data []byte) error {
	*c = Default()

	var raw wireFormat
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch raw.IPVersion {
	case 0:
		c.IPVersion = wire.Any
	case 4:
		c.IPVersion = wire.V4
	case 6:
		c.IPVersion = wire.V6
	}

	var present map[string]json.RawMessage
	if err := json.Unmarshal(data, &present); err != nil {
		return err
	}
	if v, ok := present["ttl"]; ok && string(v) != "null" {
		c.TTL = time.Duration(raw.TTL) * time.Second
	}
	if c.TTL < MinTTL {
		c.TTL = MinTTL
	}

	if raw.PoolNSEnabled != nil {
		c.PoolNSEnabled = *raw.PoolNSEnabled
	}

	if raw.PoolNSTimeout > 0 {
		c.PoolNSTimeout = time.Duration(raw.PoolNSTimeout) * time.Millisecond
	}

	if raw.DoHPrimary != "" {
		c.DoHPrimary = raw.DoHPrimary
	}
	if raw.DoHFallback != "" {
		c.DoHFallback = raw.DoHFallback
	}

	return nil
}

// MarshalJSON encodes DNSConfig back into the wire shape from spec.md §6.
func (c DNSConfig) MarshalJSON() ([]byte, error) {
	raw := wireFormat{
		IPVersion:     int(c.IPVersion),
		TTL:           uint(c.TTL / time.Second),
		PoolNSEnabled: &c.PoolNSEnabled,
		PoolNSTimeout: uint(c.PoolNSTimeout / time.Millisecond),
		DoHPrimary:    c.DoHPrimary,
		DoHFallback:   c.DoHFallback,
	}
	return json.Marshal(raw)
}
