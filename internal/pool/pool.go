// Package pool holds the bounded LIFO stack of IPv4 host addresses that
// back new NAT64 mappings, and the CIDR-to-host-sequence arithmetic of
// spec §4.1.
package pool

import (
	"errors"

	"go.universe.tf/nat64/internal/ipaddr"
)

// ErrNoUsableHosts is returned by Bind when the CIDR yields zero usable
// host addresses (a /0, or a CIDR the caller requires to be non-empty).
var ErrNoUsableHosts = errors.New("pool: CIDR has no usable host addresses")

// Pool is a fixed-capacity LIFO stack of IPv4 addresses. Take removes
// and returns the top of the stack; Put pushes an address back on.
// Capacity is fixed at construction time; Bind rebuilds the whole stack
// from a CIDR, capped at that capacity.
type Pool struct {
	capacity int
	cidr     ipaddr.CIDR
	bound    bool
	stack    []ipaddr.V4
}

// New returns an empty Pool with the given maximum capacity.
func New(capacity int) *Pool {
	return &Pool{capacity: capacity}
}

// Capacity returns the pool's fixed maximum size.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Available returns the number of addresses currently sitting in the
// pool (i.e. not on loan to a mapping).
func (p *Pool) Available() int {
	return len(p.stack)
}

// CIDR returns the currently bound CIDR, and whether one is bound.
func (p *Pool) CIDR() (ipaddr.CIDR, bool) {
	return p.cidr, p.bound
}

// HostCount returns the number of usable host addresses a CIDR of the
// given prefix length yields, per spec §4.1, uncapped by pool capacity.
func HostCount(prefixLength int) int {
	switch {
	case prefixLength == 0:
		return 0
	case prefixLength == 32:
		return 1
	case prefixLength == 31:
		return 2
	case prefixLength > 32:
		return 0
	default:
		return (1 << uint(32-prefixLength)) - 2
	}
}

func hostIDBegin(prefixLength int) uint32 {
	// Host ids start at 1 for ordinary CIDRs (RFC 6052's "avoid the
	// all-zeros and all-ones host bits" rule); /31 and /32 have no
	// spare host bits to avoid, so numbering starts at 0.
	if prefixLength == 31 || prefixLength == 32 {
		return 0
	}
	return 1
}

// Bind resets the pool and repopulates it from cidr: every address
// currently on loan is assumed already released by the caller (the
// mapping table owns that coordination, per spec §4.1/§4.2). Bind fails
// with ErrNoUsableHosts if cidr.Length > 32 or if it yields zero usable
// hosts.
func (p *Pool) Bind(cidr ipaddr.CIDR) error {
	if cidr.Length > 32 {
		return ErrNoUsableHosts
	}
	count := HostCount(cidr.Length)
	if count <= 0 {
		return ErrNoUsableHosts
	}
	if count > p.capacity {
		count = p.capacity
	}

	begin := hostIDBegin(cidr.Length)
	stack := make([]ipaddr.V4, count)
	for i := 0; i < count; i++ {
		// Fill so Take() (pop from the end) yields the lowest host id
		// first, matching the literal scenario in spec §8 ("first
		// assignable host").
		stack[count-1-i] = ipaddr.SynthesizeFromCIDRAndHost(cidr, begin+uint32(i))
	}

	p.stack = stack
	p.cidr = cidr
	p.bound = true
	return nil
}

// Reset empties the pool and forgets the bound CIDR, without requiring a
// new CIDR to rebind to.
func (p *Pool) Reset() {
	p.stack = nil
	p.cidr = ipaddr.CIDR{}
	p.bound = false
}

// Take removes and returns the top of the stack. ok is false if the
// pool is empty.
func (p *Pool) Take() (addr ipaddr.V4, ok bool) {
	if len(p.stack) == 0 {
		return ipaddr.V4{}, false
	}
	last := len(p.stack) - 1
	addr = p.stack[last]
	p.stack = p.stack[:last]
	return addr, true
}

// Put pushes addr back onto the top of the stack.
func (p *Pool) Put(addr ipaddr.V4) {
	p.stack = append(p.stack, addr)
}
