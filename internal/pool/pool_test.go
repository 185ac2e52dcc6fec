package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.universe.tf/nat64/internal/ipaddr"
)

func TestHostCount(t *testing.T) {
	assert.Equal(t, 0, HostCount(0))
	assert.Equal(t, 1, HostCount(32))
	assert.Equal(t, 2, HostCount(31))
	assert.Equal(t, 254, HostCount(24))
	assert.Equal(t, 0, HostCount(33))
}

func TestBindAndTakeOrder(t *testing.T) {
	p := New(10)
	cidr, err := ipaddr.ParseCIDR("192.0.2.0/29")
	require.NoError(t, err)
	require.NoError(t, p.Bind(cidr))

	assert.Equal(t, 6, p.Available()) // /29 -> 8 - 2 = 6 usable hosts

	addr, ok := p.Take()
	require.True(t, ok)
	assert.Equal(t, "192.0.2.1", addr.String(), "first take should be the lowest host id")
}

func TestBindCapsAtCapacity(t *testing.T) {
	p := New(4)
	cidr, err := ipaddr.ParseCIDR("192.0.2.0/24")
	require.NoError(t, err)
	require.NoError(t, p.Bind(cidr))
	assert.Equal(t, 4, p.Available())
}

func TestBindRejectsEmptyCIDR(t *testing.T) {
	p := New(10)
	cidr, err := ipaddr.ParseCIDR("0.0.0.0/0")
	require.NoError(t, err)
	assert.ErrorIs(t, p.Bind(cidr), ErrNoUsableHosts)
}

func TestTakePutRoundTrip(t *testing.T) {
	p := New(10)
	cidr, err := ipaddr.ParseCIDR("192.0.2.0/30")
	require.NoError(t, err)
	require.NoError(t, p.Bind(cidr))
	assert.Equal(t, 2, p.Available())

	a, ok := p.Take()
	require.True(t, ok)
	b, ok := p.Take()
	require.True(t, ok)
	_, ok = p.Take()
	assert.False(t, ok, "pool should be empty")

	p.Put(a)
	p.Put(b)
	assert.Equal(t, 2, p.Available())
}
