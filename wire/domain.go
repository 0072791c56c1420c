package wire

import (
	"net"
	"strings"
)

// IsIP reports whether host is a valid IPv4 dotted-quad or IPv6 literal.
func IsIP(host string) bool {
	if host == "" {
		return false
	}
	return net.ParseIP(host) != nil
}

// BaseDomain returns the registered base domain for host: the last two
// dot-separated labels. If host is empty, an IP literal, or has two or
// fewer labels, host is returned unchanged.
//
// This is a deliberate approximation (no Public Suffix List lookup) — see
// DESIGN.md for why golang.org/x/net/publicsuffix is not used here.
func BaseDomain(host string) string {
	if host == "" || IsIP(host) {
		return host
	}

	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}

	return parts[len(parts)-2] + "." + parts[len(parts)-1]
}
