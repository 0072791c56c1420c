package resolver

import (
	"sync"
	"sync/atomic"

	"github.com/classmarkets/pool-ns-resolver/config"
	"github.com/classmarkets/pool-ns-resolver/wire"
)

// Registry is the process-wide entry point for resolution requests. It
// maps hostnames to a sticky backend instance and tracks the recursion
// guard (spec.md §3 "Registry state", §4.6).
type Registry struct {
	cfg config.DNSConfig
	doh DoHTransport

	mu                sync.Mutex
	backends          map[string]Backend
	activeBaseDomains map[string]struct{}
	resolvingDepth    int

	cacheHits   uint64
	cacheMisses uint64
}

// NewRegistry returns a Registry that routes eligible hosts through a
// PoolNsBackend backed by doh for DNS-over-HTTPS, and every other host
// through a SystemBackend.
func NewRegistry(cfg config.DNSConfig, doh DoHTransport) *Registry {
	return &Registry{
		cfg:               cfg,
		doh:               doh,
		backends:          make(map[string]Backend),
		activeBaseDomains: make(map[string]struct{}),
	}
}

// Resolve submits host for resolution. fn is invoked at most once, on
// another goroutine, when the backend completes (a fresh cache hit
// included); Resolve itself does not wait for it.
func (r *Registry) Resolve(host string, fn func(records wire.RecordSet, status int, errMsg string)) *Request {
	listener := NewListener(fn)
	backend := r.backendFor(host)
	backend.Resolve(host, listener, r.cfg)
	return &Request{listener: listener}
}

// backendFor returns the sticky backend for host, creating one per
// spec.md §4.6's routing rule if this is the first request for it.
func (r *Registry) backendFor(host string) Backend {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.backends[host]; ok {
		return b
	}

	var b Backend
	if r.cfg.PoolNSEnabled && !wire.IsIP(host) && !r.cfg.IsDoHServer(host) {
		b = newPoolNsBackend(r, r.doh)
	} else {
		b = NewSystemBackend()
	}

	r.backends[host] = b
	return b
}

// CacheStats reports how many Resolve calls handled by a pool-ns backend
// were served straight from its TTL cache versus not (a miss includes a
// call that joins a resolution already in flight). Calls routed to a
// SystemBackend are not counted. This is a
// bookkeeping addition beyond spec.md, modeled on the teacher's
// cache/cache.go eviction counters.
func (r *Registry) CacheStats() (hits, misses uint64) {
	return atomic.LoadUint64(&r.cacheHits), atomic.LoadUint64(&r.cacheMisses)
}

func (r *Registry) recordCacheHit()  { atomic.AddUint64(&r.cacheHits, 1) }
func (r *Registry) recordCacheMiss() { atomic.AddUint64(&r.cacheMisses, 1) }

// isResolving reports whether any authoritative lookup is active anywhere
// in the process (spec.md §4.5.1 step 5's recursion guard).
func (r *Registry) isResolving() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolvingDepth > 0
}

func (r *Registry) isActiveBaseDomain(domain string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.activeBaseDomains[domain]
	return ok
}

func (r *Registry) beginResolving(domain string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeBaseDomains[domain] = struct{}{}
	r.resolvingDepth++
}

func (r *Registry) endResolving(domain string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.activeBaseDomains, domain)
	r.resolvingDepth--
}
