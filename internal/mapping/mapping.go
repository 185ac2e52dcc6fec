// Package mapping implements the bidirectional {IPv6 <-> IPv4, expiry}
// mapping table of spec §3/§4.2: a fixed-capacity arena of mappings,
// indexed both by IPv6 and by IPv4 address, with idle expiry swept on
// pressure.
package mapping

import (
	"go.universe.tf/nat64/internal/ipaddr"
)

// Mapping is one active {ip6, ip4, expiry} entry. Callers only ever see
// a Mapping through a pointer returned by the Table — the table is the
// exclusive owner, the pointer is a borrow that stays valid until the
// mapping is swept or the table is cleared.
type Mapping struct {
	IP6    ipaddr.V6
	IP4    ipaddr.V4
	Expiry uint64 // monotonic milliseconds

	slot int
}

// AddressSource is the subset of pool.Pool the table needs to create and
// release mappings, expressed as an interface so the two packages stay
// decoupled (spec §9: the mapping table and the address pool are
// tightly coupled in behavior, not in code).
type AddressSource interface {
	Take() (ipaddr.V4, bool)
	Put(ipaddr.V4)
}

// keyKind tags what a lookup predicate matches against, per the design
// note in spec §9 ("express the source's Matches(...) overloads as a
// tagged key to a single predicate").
type keyKind int

const (
	byIP6 keyKind = iota
	byIP4
	expiredBefore
)

type key struct {
	kind keyKind
	ip6  ipaddr.V6
	ip4  ipaddr.V4
	now  uint64
}

func (k key) matches(m *Mapping) bool {
	switch k.kind {
	case byIP6:
		return m.IP6 == k.ip6
	case byIP4:
		return m.IP4 == k.ip4
	case expiredBefore:
		return m.Expiry < k.now
	default:
		return false
	}
}

// Table is a fixed-capacity arena of Mappings. At most one mapping may
// exist per IPv6 address and per IPv4 address; size never exceeds
// capacity.
type Table struct {
	capacity    int
	idleTimeout uint64

	slots []Mapping
	used  []bool
	free  []int // stack of unused slot indices
	active []int // occupied slot indices, unordered

	byIP6Idx map[ipaddr.V6]int
	byIP4Idx map[ipaddr.V4]int
}

// New returns an empty Table with the given capacity and idle timeout
// (in milliseconds).
func New(capacity int, idleTimeoutMsec uint64) *Table {
	t := &Table{
		capacity:    capacity,
		idleTimeout: idleTimeoutMsec,
		slots:       make([]Mapping, capacity),
		used:        make([]bool, capacity),
		free:        make([]int, capacity),
		byIP6Idx:    make(map[ipaddr.V6]int, capacity),
		byIP4Idx:    make(map[ipaddr.V4]int, capacity),
	}
	for i := 0; i < capacity; i++ {
		t.free[i] = capacity - 1 - i
	}
	return t
}

// Capacity returns POOL_SIZE, the table's fixed maximum size.
func (t *Table) Capacity() int {
	return t.capacity
}

// Size returns the number of currently active mappings.
func (t *Table) Size() int {
	return len(t.active)
}

// FindByIP6 returns the mapping bound to ip6, if any, refreshing its
// expiry to now+idleTimeout. If none exists and pool is non-nil, it
// attempts to create one per spec §4.2: sweep on pressure, fail if
// still full, fail if the pool is empty, otherwise take an address and
// insert. If pool is nil, FindByIP6 never creates.
func (t *Table) FindByIP6(ip6 ipaddr.V6, now uint64, pool AddressSource) (*Mapping, bool) {
	if idx, ok := t.byIP6Idx[ip6]; ok {
		m := &t.slots[idx]
		m.Expiry = now + t.idleTimeout
		return m, true
	}
	if pool == nil {
		return nil, false
	}

	if len(t.free) == 0 {
		t.releaseExpired(now, pool)
	}
	if len(t.free) == 0 {
		// table full
		return nil, false
	}

	ip4, ok := pool.Take()
	if !ok {
		// pool exhausted
		return nil, false
	}

	m := t.insert(ip6, ip4, now)
	return m, true
}

// FindByIP4 returns the mapping bound to ip4, if any, refreshing its
// expiry. It never creates a mapping.
func (t *Table) FindByIP4(ip4 ipaddr.V4, now uint64) (*Mapping, bool) {
	idx, ok := t.byIP4Idx[ip4]
	if !ok {
		return nil, false
	}
	m := &t.slots[idx]
	m.Expiry = now + t.idleTimeout
	return m, true
}

// Sweep removes and returns every mapping whose expiry is before now,
// without touching the address pool. FindByIP6 reaches it through
// releaseExpired, which also returns each swept address to the pool;
// the CIDR-rebind path uses Clear instead.
func (t *Table) Sweep(now uint64) []Mapping {
	k := key{kind: expiredBefore, now: now}
	var expired []Mapping
	for _, idx := range append([]int(nil), t.active...) {
		if k.matches(&t.slots[idx]) {
			expired = append(expired, t.remove(idx))
		}
	}
	return expired
}

func (t *Table) releaseExpired(now uint64, pool AddressSource) {
	for _, m := range t.Sweep(now) {
		pool.Put(m.IP4)
	}
}

// Clear removes every active mapping and returns them, without
// returning their addresses to any pool — used when rebinding the IPv4
// CIDR, where the pool itself is about to be rebuilt wholesale.
func (t *Table) Clear() []Mapping {
	var all []Mapping
	for _, idx := range append([]int(nil), t.active...) {
		all = append(all, t.remove(idx))
	}
	return all
}

func (t *Table) insert(ip6 ipaddr.V6, ip4 ipaddr.V4, now uint64) *Mapping {
	idx := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]

	t.slots[idx] = Mapping{IP6: ip6, IP4: ip4, Expiry: now + t.idleTimeout, slot: idx}
	t.used[idx] = true
	t.byIP6Idx[ip6] = idx
	t.byIP4Idx[ip4] = idx
	t.active = append(t.active, idx)

	return &t.slots[idx]
}

func (t *Table) remove(idx int) Mapping {
	m := t.slots[idx]
	delete(t.byIP6Idx, m.IP6)
	delete(t.byIP4Idx, m.IP4)
	t.used[idx] = false
	t.free = append(t.free, idx)

	for i, a := range t.active {
		if a == idx {
			t.active[i] = t.active[len(t.active)-1]
			t.active = t.active[:len(t.active)-1]
			break
		}
	}
	return m
}
