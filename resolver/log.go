package resolver

import "log/slog"

// logger is the package-wide logger. The teacher carries no logging
// dependency at all (dnsresolver reports results via its own Trace type
// and leaves logging to callers); this repo's ambient logging is built on
// the standard library's structured logger rather than adding a
// dependency purely for log lines — see DESIGN.md.
var logger = slog.Default().With("component", "dns")

// SetLogger overrides the package-wide logger, e.g. to attach a handler
// tagged with the embedding application's own fields.
func SetLogger(l *slog.Logger) {
	logger = l.With("component", "dns")
}
