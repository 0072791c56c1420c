package resolver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classmarkets/pool-ns-resolver/config"
	"github.com/classmarkets/pool-ns-resolver/wire"
)

// fakeDoH is a scripted DoHTransport: each call to Query consumes the
// next matching response for host, or blocks until the context expires
// if none is queued, modeling a DoH server that never answers.
type fakeDoH struct {
	mu        sync.Mutex
	responses map[string][]func() (DoHResponse, error)
	calls     []string
}

func newFakeDoH() *fakeDoH {
	return &fakeDoH{responses: make(map[string][]func() (DoHResponse, error))}
}

func (f *fakeDoH) on(host string, fn func() (DoHResponse, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[host] = append(f.responses[host], fn)
}

func (f *fakeDoH) Query(ctx context.Context, host string, query []byte) (DoHResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, host)
	queue := f.responses[host]
	var fn func() (DoHResponse, error)
	if len(queue) > 0 {
		fn = queue[0]
		f.responses[host] = queue[1:]
	}
	f.mu.Unlock()

	if fn == nil {
		<-ctx.Done()
		return DoHResponse{}, ctx.Err()
	}
	return fn()
}

func okResp(body []byte, peerIP string) func() (DoHResponse, error) {
	return func() (DoHResponse, error) {
		return DoHResponse{Status: 200, Body: body, PeerIP: peerIP}, nil
	}
}

func badBodyResp(peerIP string) func() (DoHResponse, error) {
	return func() (DoHResponse, error) {
		return DoHResponse{Status: 200, Body: []byte("not dns"), PeerIP: peerIP}, nil
	}
}

func timeoutResp() func() (DoHResponse, error) {
	return func() (DoHResponse, error) {
		return DoHResponse{}, context.DeadlineExceeded
	}
}

func testConfig() config.DNSConfig {
	cfg := config.Default()
	cfg.PoolNSTimeout = 200 * time.Millisecond
	return cfg
}

func resolveSync(t *testing.T, reg *Registry, host string) (wire.RecordSet, int, string) {
	t.Helper()

	type result struct {
		records wire.RecordSet
		status  int
		errMsg  string
	}
	ch := make(chan result, 1)

	reg.Resolve(host, func(records wire.RecordSet, status int, errMsg string) {
		ch <- result{records, status, errMsg}
	})

	select {
	case r := <-ch:
		return r.records, r.status, r.errMsg
	case <-time.After(5 * time.Second):
		t.Fatal("resolve did not complete")
		return wire.RecordSet{}, 0, ""
	}
}

// S1: happy DoH pool query.
func TestPoolNsHappyDoH(t *testing.T) {
	doh := newFakeDoH()
	doh.on("dns.google", okResp(nsReply(t, "example.com", "ns1.example.com", "ns2.example.com"), ""))
	doh.on("ns1.example.com", okResp(aReply(t, "xmr.pool.example.com", "203.0.113.5"), "198.51.100.1"))

	reg := NewRegistry(testConfig(), doh)
	records, status, errMsg := resolveSync(t, reg, "xmr.pool.example.com")

	require.Equal(t, 0, status)
	assert.Empty(t, errMsg)
	require.Equal(t, 1, records.Len())
	assert.Equal(t, "203.0.113.5", records.All()[0].IP)
}

// S2: DoH parse fails, TCP recovers using the cached peer IP.
func TestPoolNsDoHParseFailsTCPRecovers(t *testing.T) {
	doh := newFakeDoH()
	doh.on("dns.google", okResp(nsReply(t, "example.com", "ns1.example.com"), ""))
	doh.on("ns1.example.com", badBodyResp("198.51.100.9"))

	reg := NewRegistry(testConfig(), doh)

	b := reg.backendFor("xmr.pool.example.com").(*poolNsBackend)
	tcpCalled := make(chan string, 1)
	b.tcpQuery = func(ctx context.Context, addr, host string, family wire.IPVersion) (wire.RecordSet, error) {
		tcpCalled <- addr
		set, _ := wire.NewRecordSet([]wire.Record{{Family: wire.V4, Addr: nil, IP: "203.0.113.5"}})
		return set, nil
	}

	records, status, errMsg := resolveSync(t, reg, "xmr.pool.example.com")

	require.Equal(t, 0, status)
	assert.Empty(t, errMsg)
	require.Equal(t, 1, records.Len())
	assert.Equal(t, "203.0.113.5", records.All()[0].IP)

	select {
	case addr := <-tcpCalled:
		assert.Equal(t, "198.51.100.9:53", addr)
	default:
		t.Fatal("expected a TCP query")
	}
}

// S3: all NS fail, simple-DoH succeeds.
func TestPoolNsAllNSFailSimpleDoHSucceeds(t *testing.T) {
	doh := newFakeDoH()
	doh.on("dns.google", okResp(nsReply(t, "example.com", "ns1.example.com"), ""))
	doh.on("ns1.example.com", timeoutResp()) // POOL_QUERY DoH: timeout -> NS_RESOLVE
	doh.on("dns.google", timeoutResp())      // NS_RESOLVE of ns1.example.com via dns.google: timeout -> tryNextNs -> fallback_to_simple_doh
	doh.on("dns.google", okResp(aReply(t, "xmr.pool.example.com", "203.0.113.5"), ""))

	reg := NewRegistry(testConfig(), doh)
	records, status, errMsg := resolveSync(t, reg, "xmr.pool.example.com")

	require.Equal(t, 0, status)
	assert.Empty(t, errMsg)
	require.Equal(t, 1, records.Len())
	assert.Equal(t, "203.0.113.5", records.All()[0].IP)
}

// S4: total failure falls all the way to the system resolver.
func TestPoolNsTotalFailureFallsBackToSystem(t *testing.T) {
	doh := newFakeDoH() // never answers anything -> every DoH call times out

	reg := NewRegistry(testConfig(), doh)

	b := reg.backendFor("xmr.pool.example.com").(*poolNsBackend)
	b.sys = &stubBackend{status: -1, errMsg: "DNS resolution failed"}

	records, status, errMsg := resolveSync(t, reg, "xmr.pool.example.com")

	assert.Equal(t, -1, status)
	assert.Equal(t, "DNS resolution failed", errMsg)
	assert.True(t, records.Empty())
}

// S5: IP literals bypass pool-ns entirely.
func TestPoolNsIPLiteralBypassesPoolNS(t *testing.T) {
	doh := newFakeDoH()
	reg := NewRegistry(testConfig(), doh)

	records, status, _ := resolveSync(t, reg, "10.0.0.1")

	assert.Equal(t, 0, status)
	require.Equal(t, 1, records.Len())
	assert.Equal(t, "10.0.0.1", records.All()[0].IP)
	assert.Empty(t, doh.calls, "an IP literal should never trigger a DoH query")
}

// S6: recursion guard — resolving an NS hostname while another resolution
// is in flight skips straight to SIMPLE_DOH.
func TestPoolNsRecursionGuardEntersSimpleDoH(t *testing.T) {
	doh := newFakeDoH()
	reg := NewRegistry(testConfig(), doh)

	reg.beginResolving("pool.example.com")
	t.Cleanup(func() { reg.endResolving("pool.example.com") })

	doh.on("dns.google", okResp(aReply(t, "ns1.example.com", "203.0.113.9"), ""))

	records, status, _ := resolveSync(t, reg, "ns1.example.com")

	require.Equal(t, 0, status)
	require.Equal(t, 1, records.Len())
	assert.Equal(t, "203.0.113.9", records.All()[0].IP)

	// Only one DoH call was made (the SIMPLE_DOH A query); NS_LOOKUP for
	// the base domain never happened.
	assert.Equal(t, []string{"dns.google"}, doh.calls)
}

func TestPoolNsCachesWithinTTL(t *testing.T) {
	doh := newFakeDoH()
	doh.on("dns.google", okResp(nsReply(t, "example.com", "ns1.example.com"), ""))
	doh.on("ns1.example.com", okResp(aReply(t, "xmr.pool.example.com", "203.0.113.5"), "198.51.100.1"))

	cfg := testConfig()
	cfg.TTL = time.Minute
	reg := NewRegistry(cfg, doh)

	_, _, _ = resolveSync(t, reg, "xmr.pool.example.com")
	callsAfterFirst := len(doh.calls)

	_, status, _ := resolveSync(t, reg, "xmr.pool.example.com")
	assert.Equal(t, 0, status)
	assert.Equal(t, callsAfterFirst, len(doh.calls), "second resolve should be served from cache")

	hits, misses := reg.CacheStats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
}

// stubBackend is a minimal Backend used to stand in for SystemBackend
// without touching the real network.
type stubBackend struct {
	status int
	errMsg string
}

func (s *stubBackend) Resolve(host string, listener *Listener, cfg config.DNSConfig) {
	go listener.deliver(wire.RecordSet{}, s.status, s.errMsg, nil)
}
