package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/classmarkets/pool-ns-resolver/config"
	"github.com/classmarkets/pool-ns-resolver/wire"
)

// backendState is the BackendState enum from spec.md §3.
type backendState int

const (
	stateIdle backendState = iota
	stateNSLookup
	stateNSResolve
	statePoolQuery
	stateSimpleDoH
	stateFallback
)

func (s backendState) String() string {
	switch s {
	case stateIdle:
		return "IDLE"
	case stateNSLookup:
		return "NS_LOOKUP"
	case stateNSResolve:
		return "NS_RESOLVE"
	case statePoolQuery:
		return "POOL_QUERY"
	case stateSimpleDoH:
		return "SIMPLE_DOH"
	case stateFallback:
		return "FALLBACK"
	default:
		return "UNKNOWN"
	}
}

type nsEntry struct {
	host string
	ip   string
}

// poolNsBackend is the authoritative-first resolver state machine,
// spec.md §4.5, grounded line-for-line on
// original_source/src/base/net/dns/DnsPoolNsBackend.cpp. It owns exactly
// one goroutine (run) that is the sole mutator of every field below;
// everything else reaches it by posting a closure to cmds, modeling
// spec.md §5's single-threaded cooperative event loop without locks.
type poolNsBackend struct {
	reg      *Registry
	doh      DoHTransport
	sys      Backend
	tcpQuery TCPQuerier

	cmds chan func()

	// Per-backend state, touched only inside run's goroutine.
	state            backendState
	cfg              config.DNSConfig
	host             string
	baseDomain       string
	records          wire.RecordSet
	status           int
	ts               time.Time
	queue            []*Listener
	nsServers        []string
	nsEntries        []nsEntry
	currentNSIndex   int
	dohServerIndex   int
	poolQueryViaDoH  bool
	addedToActiveSet bool
	trace            *Trace

	// epoch invalidates stale async results: every reset to a fresh
	// attempt increments it, so a goroutine that completes after a newer
	// attempt has started is ignored.
	epoch uint64
}

func newPoolNsBackend(reg *Registry, doh DoHTransport) *poolNsBackend {
	b := &poolNsBackend{
		reg:      reg,
		doh:      doh,
		sys:      NewSystemBackend(),
		tcpQuery: DialTCP,
		cmds:     make(chan func(), 256),
	}
	go b.run()
	return b
}

func (b *poolNsBackend) run() {
	for cmd := range b.cmds {
		cmd()
	}
}

// Resolve implements Backend.
func (b *poolNsBackend) Resolve(host string, listener *Listener, cfg config.DNSConfig) {
	b.cmds <- func() { b.handleResolve(host, listener, cfg) }
}

func (b *poolNsBackend) handleResolve(host string, listener *Listener, cfg config.DNSConfig) {
	b.queue = append(b.queue, listener)
	b.cfg = cfg

	if !b.ts.IsZero() && time.Since(b.ts) <= cfg.TTL && !b.records.Empty() {
		b.reg.recordCacheHit()
		b.notify()
		return
	}
	b.reg.recordCacheMiss()

	if b.state != stateIdle {
		return // already in flight; the running cycle's notify() will drain this listener too
	}

	b.host = host
	b.baseDomain = wire.BaseDomain(host)
	b.status = 0
	b.nsServers = nil
	b.nsEntries = nil
	b.currentNSIndex = 0
	b.dohServerIndex = 0
	b.poolQueryViaDoH = true
	b.addedToActiveSet = false
	b.epoch++
	b.trace = &Trace{}

	if !cfg.PoolNSEnabled || wire.IsIP(host) {
		b.fallbackToSystem()
		return
	}

	if b.reg.isResolving() || b.reg.isActiveBaseDomain(b.baseDomain) {
		b.startSimpleDoH()
		return
	}

	b.reg.beginResolving(b.baseDomain)
	b.addedToActiveSet = true
	b.startNSLookup()
}

func (b *poolNsBackend) currentDoHHost() string {
	if b.dohServerIndex == 0 {
		return b.cfg.DoHPrimary
	}
	return b.cfg.DoHFallback
}

// doQueryAsync issues a DoH query in its own goroutine and posts the
// result back to cmds tagged with the epoch at call time, so a response
// that belongs to an earlier resolution attempt is discarded.
func (b *poolNsBackend) doQueryAsync(dohHost string, query []byte, handle func(DoHResponse, error)) {
	epoch := b.epoch
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.PoolNSTimeout)

	go func() {
		defer cancel()
		resp, err := b.doh.Query(ctx, dohHost, query)
		b.cmds <- func() {
			if epoch != b.epoch {
				return
			}
			handle(resp, err)
		}
	}()
}

func isTimeout(err error) bool {
	return err != nil && errors.Is(err, context.DeadlineExceeded)
}

// --- NS_LOOKUP ---

func (b *poolNsBackend) startNSLookup() {
	b.state = stateNSLookup
	dohHost := b.currentDoHHost()

	query, err := wire.BuildQuery(b.baseDomain, wire.TypeNS)
	if err != nil {
		b.fallbackToSystem()
		return
	}

	logger.Debug("looking up NS", "domain", b.baseDomain, "via", dohHost)
	b.doQueryAsync(dohHost, query, b.onNSLookupResult)
}

func (b *poolNsBackend) onNSLookupResult(resp DoHResponse, err error) {
	if err == nil && resp.Status == 200 {
		nsServers, perr := wire.ParseResponse(resp.Body, wire.TypeNS)
		if perr == nil && len(nsServers) > 0 {
			b.nsServers = nsServers
			b.trace.add("NS_LOOKUP", b.currentDoHHost(), fmt.Sprintf("%d ns servers", len(nsServers)))
			b.startPoolQuery()
			return
		}

		// 200 but nothing usable in the answer: rotate DoH server, else
		// degrade straight to simple DoH (spec.md §4.5.2).
		b.dohServerIndex++
		if b.dohServerIndex < 2 {
			b.startNSLookup()
			return
		}
		b.fallbackToSimpleDoH()
		return
	}

	// non-200 or transport failure/timeout: rotate, else system fallback.
	b.dohServerIndex++
	if b.dohServerIndex < 2 {
		b.startNSLookup()
		return
	}
	b.fallbackToSystem()
}

// --- POOL_QUERY (DoH first, then TCP) ---

func (b *poolNsBackend) startPoolQuery() {
	if b.currentNSIndex >= len(b.nsServers) {
		b.fallbackToSystem()
		return
	}

	b.state = statePoolQuery
	b.poolQueryViaDoH = true
	b.startPoolQueryDoH(b.nsServers[b.currentNSIndex])
}

func (b *poolNsBackend) startPoolQueryDoH(nsHost string) {
	logger.Debug("querying pool host via DoH", "host", b.host, "ns", nsHost)

	query, err := wire.BuildQuery(b.host, wire.TypeA)
	if err != nil {
		b.startNSResolve()
		return
	}

	b.doQueryAsync(nsHost, query, b.onPoolQueryDoHResult)
}

func (b *poolNsBackend) onPoolQueryDoHResult(resp DoHResponse, err error) {
	if isTimeout(err) {
		// No response at all: there is no peer IP to fall back to over
		// TCP, so go straight to resolving the NS hostname.
		b.startNSResolve()
		return
	}

	if err == nil && resp.Status == 200 {
		records, perr := wire.ParseAddressRecords(resp.Body, b.cfg.IPVersion)
		if perr == nil && !records.Empty() {
			b.records = records
			b.status = 0
			b.ts = time.Now()
			b.onPoolQueryComplete(true)
			return
		}
	}

	if b.tryTCPWithCachedIP(resp.PeerIP) {
		return
	}
	b.startNSResolve()
}

// tryTCPWithCachedIP reuses the peer IP the DoH transport connected to
// (spec.md §4.4/§4.5.2) so a failed DoH attempt to an NS host can retry
// the same host over TCP/53 without another lookup.
func (b *poolNsBackend) tryTCPWithCachedIP(peerIP string) bool {
	if peerIP == "" {
		return false
	}

	nsHost := b.nsServers[b.currentNSIndex]
	logger.Info("trying TCP fallback", "ns_ip", peerIP)
	b.nsEntries = append(b.nsEntries, nsEntry{host: nsHost, ip: peerIP})
	b.startPoolQueryTCP()
	return true
}

// --- NS_RESOLVE ---

func (b *poolNsBackend) startNSResolve() {
	if b.currentNSIndex >= len(b.nsServers) {
		b.fallbackToSystem()
		return
	}

	b.state = stateNSResolve
	nsHost := b.nsServers[b.currentNSIndex]

	query, err := wire.BuildQuery(nsHost, wire.TypeA)
	if err != nil {
		b.tryNextNS()
		return
	}

	logger.Debug("resolving NS host for TCP fallback", "ns", nsHost)
	// Use whichever DoH server answered NS_LOOKUP; a server that is
	// censoring this NS host specifically limits recovery to tryNextNS
	// (spec.md §9 open question).
	b.doQueryAsync(b.currentDoHHost(), query, b.onNSResolveResult)
}

func (b *poolNsBackend) onNSResolveResult(resp DoHResponse, err error) {
	if err == nil && resp.Status == 200 {
		ips, perr := wire.ParseResponse(resp.Body, wire.TypeA)
		if perr == nil && len(ips) > 0 {
			nsHost := b.nsServers[b.currentNSIndex]
			b.nsEntries = append(b.nsEntries, nsEntry{host: nsHost, ip: ips[0]})
			b.startPoolQueryTCP()
			return
		}
	}

	b.tryNextNS()
}

func (b *poolNsBackend) startPoolQueryTCP() {
	if len(b.nsEntries) == 0 {
		b.tryNextNS()
		return
	}

	entry := b.nsEntries[len(b.nsEntries)-1]
	b.state = statePoolQuery
	b.poolQueryViaDoH = false

	addr := net.JoinHostPort(entry.ip, "53")
	logger.Debug("querying pool host via TCP", "host", b.host, "addr", addr)

	epoch := b.epoch
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.PoolNSTimeout)

	go func() {
		defer cancel()
		records, err := b.tcpQuery(ctx, addr, b.host, b.cfg.IPVersion)
		b.cmds <- func() {
			if epoch != b.epoch {
				return
			}
			b.onTCPQueryResult(records, err)
		}
	}()
}

func (b *poolNsBackend) onTCPQueryResult(records wire.RecordSet, err error) {
	if err == nil && !records.Empty() {
		b.records = records
		b.status = 0
		b.ts = time.Now()
		b.onPoolQueryComplete(true)
		return
	}

	b.tryNextNS()
}

func (b *poolNsBackend) onPoolQueryComplete(success bool) {
	if !success {
		b.fallbackToSystem()
		return
	}

	method := "TCP"
	if b.poolQueryViaDoH {
		method = "DoH"
	}
	var via string
	if b.currentNSIndex < len(b.nsServers) {
		via = b.nsServers[b.currentNSIndex]
	}
	b.trace.add("POOL_QUERY", via, method)
	logger.Info("resolved via pool-ns", "host", b.host, "ip", recordIP(b.records), "method", method, "via", via)

	b.state = stateIdle
	b.notify()
}

func recordIP(rs wire.RecordSet) string {
	if rs.Empty() {
		return ""
	}
	all := rs.All()
	return all[0].IP
}

func (b *poolNsBackend) tryNextNS() {
	b.currentNSIndex++
	b.poolQueryViaDoH = true

	if b.currentNSIndex < len(b.nsServers) {
		b.startPoolQuery()
		return
	}

	b.fallbackToSimpleDoH()
}

// --- SIMPLE_DOH ---

func (b *poolNsBackend) fallbackToSimpleDoH() {
	logger.Info("pool-ns failed, trying simple DoH", "host", b.host)
	b.dohServerIndex = 0
	b.startSimpleDoH()
}

func (b *poolNsBackend) startSimpleDoH() {
	b.state = stateSimpleDoH
	dohHost := b.currentDoHHost()

	query, err := wire.BuildQuery(b.host, wire.TypeA)
	if err != nil {
		b.fallbackToSystem()
		return
	}

	logger.Debug("resolving via simple DoH", "host", b.host, "via", dohHost)
	b.doQueryAsync(dohHost, query, b.onSimpleDoHResult)
}

func (b *poolNsBackend) onSimpleDoHResult(resp DoHResponse, err error) {
	if err == nil && resp.Status == 200 {
		records, perr := wire.ParseAddressRecords(resp.Body, b.cfg.IPVersion)
		if perr == nil && !records.Empty() {
			b.records = records
			b.status = 0
			b.ts = time.Now()

			dohHost := b.currentDoHHost()
			b.trace.add("SIMPLE_DOH", dohHost, recordIP(b.records))
			logger.Info("resolved via simple DoH", "host", b.host, "ip", recordIP(b.records), "via", dohHost)

			b.state = stateIdle
			b.notify()
			return
		}
	}

	b.dohServerIndex++
	if b.dohServerIndex < 2 {
		b.startSimpleDoH()
		return
	}
	b.fallbackToSystem()
}

// --- FALLBACK ---

func (b *poolNsBackend) fallbackToSystem() {
	logger.Debug("falling back to system resolver", "host", b.host)
	b.state = stateFallback
	b.trace.add("FALLBACK", "", "system resolver")

	sysListener := NewListener(func(records wire.RecordSet, status int, errMsg string) {
		b.cmds <- func() {
			b.records = records
			b.status = status
			b.ts = time.Now()
			b.state = stateIdle
			b.notify()
		}
	})
	b.sys.Resolve(b.host, sysListener, b.cfg)
}

// --- notify ---

func (b *poolNsBackend) notify() {
	if b.addedToActiveSet {
		b.reg.endResolving(b.baseDomain)
		b.addedToActiveSet = false
	}

	var errMsg string
	if b.status < 0 {
		errMsg = "DNS resolution failed"
	}

	queue := b.queue
	b.queue = nil

	for _, l := range queue {
		l.deliver(b.records, b.status, errMsg, b.trace)
	}
}
