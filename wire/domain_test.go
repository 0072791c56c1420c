package wire_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/classmarkets/pool-ns-resolver/wire"
)

func TestIsIP(t *testing.T) {
	assert.True(t, wire.IsIP("203.0.113.5"))
	assert.True(t, wire.IsIP("2001:db8::1"))
	assert.False(t, wire.IsIP("pool.example.com"))
	assert.False(t, wire.IsIP(""))
}

func TestBaseDomain(t *testing.T) {
	cases := []struct {
		host string
		want string
	}{
		{"pool.example.com", "example.com"},
		{"a.b.pool.example.com", "example.com"},
		{"example.com", "example.com"},
		{"com", "com"},
		{"pool.example.co.uk", "co.uk"},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, wire.BaseDomain(c.host), "host=%s", c.host)
	}
}
