package resolver

import (
	"sync"
	"sync/atomic"

	"github.com/classmarkets/pool-ns-resolver/wire"
)

// Listener receives the single onResolved delivery for one outstanding
// request. Backends hold listeners weakly in spirit: a Listener that has
// been Cancel()ed is silently skipped by notify(), standing in for the
// "weak reference that may have been dropped" of spec.md §5.
type Listener struct {
	fn   func(records wire.RecordSet, status int, errMsg string)
	dead atomic.Bool

	mu    sync.Mutex
	trace *Trace
}

// NewListener wraps fn as a Listener.
func NewListener(fn func(records wire.RecordSet, status int, errMsg string)) *Listener {
	return &Listener{fn: fn}
}

// Cancel marks the listener as gone; future deliveries are skipped.
func (l *Listener) Cancel() {
	l.dead.Store(true)
}

func (l *Listener) deliver(records wire.RecordSet, status int, errMsg string, trace *Trace) {
	if l == nil || l.dead.Load() {
		return
	}
	l.mu.Lock()
	l.trace = trace
	l.mu.Unlock()
	l.fn(records, status, errMsg)
}

func (l *Listener) lastTrace() *Trace {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.trace
}

// Request is the handle returned to a caller of Registry.Resolve. One
// Request corresponds to exactly one onResolved delivery (spec.md §3).
type Request struct {
	listener *Listener
}

// Cancel drops this request's listener; notify will skip it silently.
func (r *Request) Cancel() {
	r.listener.Cancel()
}

// Trace returns the strategy trace for the most recently delivered
// result, or nil if none has been delivered yet or the backend doesn't
// record one (e.g. a non-pool host served by SystemBackend).
func (r *Request) Trace() *Trace {
	return r.listener.lastTrace()
}
