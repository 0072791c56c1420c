package resolver_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classmarkets/pool-ns-resolver/config"
	"github.com/classmarkets/pool-ns-resolver/resolver"
	"github.com/classmarkets/pool-ns-resolver/wire"
)

func TestRegistrySystemBackendForIPLiteral(t *testing.T) {
	cfg := config.Default()
	reg := resolver.NewRegistry(cfg, nil)

	ch := make(chan struct {
		records wire.RecordSet
		status  int
	}, 1)

	// Resolving an IP literal never touches DoH and always succeeds
	// through the system backend path (spec.md §4.6).
	reg.Resolve("127.0.0.1", func(records wire.RecordSet, status int, errMsg string) {
		ch <- struct {
			records wire.RecordSet
			status  int
		}{records, status}
	})

	result := <-ch
	require.Equal(t, 0, result.status)
	require.Equal(t, 1, result.records.Len())
	assert.Equal(t, "127.0.0.1", result.records.All()[0].IP)
}

func TestRegistryCacheStatsStartAtZero(t *testing.T) {
	reg := resolver.NewRegistry(config.Default(), nil)
	hits, misses := reg.CacheStats()
	assert.Zero(t, hits)
	assert.Zero(t, misses)
}
