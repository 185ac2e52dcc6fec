package nat64

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.universe.tf/nat64/internal/checksum"
	"go.universe.tf/nat64/internal/header"
	"go.universe.tf/nat64/internal/icmp"
	"go.universe.tf/nat64/internal/ipaddr"
)

// fakeClock is a settable monotonic-millisecond source for deterministic
// idle-timeout tests.
type fakeClock struct{ now uint64 }

func (c *fakeClock) Fn() func() uint64 { return func() uint64 { return c.now } }

func mustV6(s string) ipaddr.V6 {
	v6, ok := ipaddr.V6FromNetIP(net.ParseIP(s))
	if !ok {
		panic("bad v6 literal: " + s)
	}
	return v6
}

func mustV4(s string) ipaddr.V4 {
	v4, ok := ipaddr.V4FromNetIP(net.ParseIP(s))
	if !ok {
		panic("bad v4 literal: " + s)
	}
	return v4
}

func mustPrefix(s string) ipaddr.Prefix {
	p, err := ipaddr.ParsePrefix(s)
	if err != nil {
		panic(err)
	}
	return p
}

func mustCIDR(s string) ipaddr.CIDR {
	c, err := ipaddr.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return c
}

// newConfiguredTranslator builds an enabled Translator bound to the
// classic 64:ff9b::/96 well-known prefix and the given IPv4 CIDR.
func newConfiguredTranslator(t *testing.T, capacity int, idleTimeoutMsec uint64, clock func() uint64, cidr string) *Translator {
	t.Helper()
	tr := New(capacity, idleTimeoutMsec, clock)
	require.NoError(t, tr.SetNAT64Prefix(mustPrefix("64:ff9b::/96")))
	require.NoError(t, tr.SetIPv4CIDR(mustCIDR(cidr)))
	require.NoError(t, tr.SetEnabled(true))
	return tr
}

// buildUDPv6 assembles a full IPv6+UDP packet, with a valid UDP checksum.
func buildUDPv6(src, dst ipaddr.V6, hopLimit uint8, srcPort, dstPort uint16, payload []byte) []byte {
	udp := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint16(udp[0:2], srcPort)
	binary.BigEndian.PutUint16(udp[2:4], dstPort)
	binary.BigEndian.PutUint16(udp[4:6], uint16(len(udp)))
	copy(udp[8:], payload)
	sum := checksum.Transport(udp, src[:], dst[:], header.ProtoUDP)
	binary.BigEndian.PutUint16(udp[6:8], sum)

	h6 := header.IPv6Header{
		PayloadLength: uint16(len(udp)),
		NextHeader:    header.ProtoUDP,
		HopLimit:      hopLimit,
		Src:           src,
		Dst:           dst,
	}
	encoded := h6.Encode()
	return append(encoded[:], udp...)
}

// buildUDPv4 assembles a full IPv4+UDP packet, with a valid IPv4 header
// checksum and UDP checksum.
func buildUDPv4(src, dst ipaddr.V4, ttl uint8, srcPort, dstPort uint16, payload []byte) []byte {
	udp := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint16(udp[0:2], srcPort)
	binary.BigEndian.PutUint16(udp[2:4], dstPort)
	binary.BigEndian.PutUint16(udp[4:6], uint16(len(udp)))
	copy(udp[8:], payload)
	sum := checksum.Transport(udp, src[:], dst[:], header.ProtoUDP)
	binary.BigEndian.PutUint16(udp[6:8], sum)

	h4 := header.IPv4Header{
		TTL:         ttl,
		Protocol:    header.ProtoUDP,
		TotalLength: uint16(header.IPv4Size + len(udp)),
		Src:         src,
		Dst:         dst,
	}
	encoded := h4.Encode()
	encoded[10], encoded[11] = 0, 0
	sum4 := checksum.IPv4Header(encoded[:])
	binary.BigEndian.PutUint16(encoded[10:12], sum4)
	return append(encoded[:], udp...)
}

func encodeIPv4WithChecksum(h header.IPv4Header) [header.IPv4Size]byte {
	h.Checksum = 0
	encoded := h.Encode()
	h.Checksum = checksum.IPv4Header(encoded[:])
	return h.Encode()
}

func TestHandleOutgoing_PrefixNotMatching(t *testing.T) {
	clk := &fakeClock{}
	tr := newConfiguredTranslator(t, 8, 1000, clk.Fn(), "192.0.2.0/24")

	original := buildUDPv6(mustV6("fd00::1"), mustV6("2001:db8::1"), 64, 40000, 7, []byte("PING"))
	buf := NewBufferWithHeadroom(20, append([]byte(nil), original...))

	v := tr.HandleOutgoing(buf)
	assert.Equal(t, Forward, v)
	assert.Equal(t, original, buf.Bytes(), "a packet outside the NAT64 prefix is forwarded untouched")
}

func TestHandleOutgoing_FreshMapping(t *testing.T) {
	clk := &fakeClock{}
	tr := newConfiguredTranslator(t, 8, 1000, clk.Fn(), "192.0.2.0/24")

	packet := buildUDPv6(mustV6("fd00::1"), mustV6("64:ff9b::c000:201"), 64, 40000, 7, []byte("PING"))
	buf := NewBufferWithHeadroom(20, packet)

	v := tr.HandleOutgoing(buf)
	require.Equal(t, Forward, v)

	h4, err := header.ParseIPv4(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, mustV4("192.0.2.1"), h4.Src, "the first assignable host is used for the fresh mapping")
	assert.Equal(t, mustV4("192.0.2.1"), h4.Dst, "dst is the address embedded in the IPv6 destination")
	assert.Equal(t, uint8(header.ProtoUDP), h4.Protocol)
	assert.Equal(t, uint8(63), h4.TTL)
	assert.True(t, checksum.VerifyIPv4Header(buf.Bytes()[:header.IPv4Size]))

	udp := buf.Bytes()[header.IPv4Size:]
	assert.Equal(t, uint16(0), checksum.Transport(udp, h4.Src[:], h4.Dst[:], header.ProtoUDP), "a valid checksum recomputes to zero")
	assert.Equal(t, 1, tr.MappingsActive())
}

func TestHandleIncoming_ReturnPath(t *testing.T) {
	clk := &fakeClock{}
	tr := newConfiguredTranslator(t, 8, 1000, clk.Fn(), "192.0.2.0/24")

	out := buildUDPv6(mustV6("fd00::1"), mustV6("64:ff9b::c000:201"), 64, 40000, 7, []byte("PING"))
	outBuf := NewBufferWithHeadroom(20, out)
	require.Equal(t, Forward, tr.HandleOutgoing(outBuf))

	assigned, err := header.ParseIPv4(outBuf.Bytes())
	require.NoError(t, err)

	reply := buildUDPv4(mustV4("192.0.2.1"), assigned.Src, 64, 7, 40000, []byte("PONG"))
	inBuf := NewBufferWithHeadroom(40, reply)

	v := tr.HandleIncoming(inBuf)
	require.Equal(t, Forward, v)

	h6, err := header.ParseIPv6(inBuf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, mustV6("fd00::1"), h6.Dst)
	assert.Equal(t, mustV6("64:ff9b::c000:201"), h6.Src)
	assert.Equal(t, uint8(63), h6.HopLimit)

	udp := inBuf.Bytes()[header.IPv6Size:]
	assert.Equal(t, uint16(0), checksum.Transport(udp, h6.Src[:], h6.Dst[:], header.ProtoUDP), "a valid checksum recomputes to zero")
}

func TestHandleIncoming_ICMPErrorInnerTranslation(t *testing.T) {
	clk := &fakeClock{}
	tr := newConfiguredTranslator(t, 8, 1000, clk.Fn(), "192.0.2.0/24")

	out := buildUDPv6(mustV6("fd00::1"), mustV6("64:ff9b::c000:201"), 64, 40000, 7, []byte("PING"))
	outBuf := NewBufferWithHeadroom(20, out)
	require.Equal(t, Forward, tr.HandleOutgoing(outBuf))
	assigned, err := header.ParseIPv4(outBuf.Bytes())
	require.NoError(t, err)

	// Build the inner, embedded IPv4 packet: literally the datagram the
	// NAT64 box itself sent out in the previous step (scenario 2's
	// 4-byte "PING" payload), as a downstream router would echo it back
	// inside a Destination Unreachable/Port Unreachable. This is the
	// realistic minimum-size case: the inner header alone grows from 20
	// to 40 bytes on translation, which truncating the inner payload to
	// 8 octets doesn't fully offset, so the overall ICMP message grows
	// and must claim buffer headroom rather than shrink into it.
	innerBytes := append([]byte{}, outBuf.Bytes()...)

	icmpHdr := icmp.Header{Type: icmp.TypeV4DestUnreachable, Code: icmp.CodeV4Port}
	icmpEncoded := icmpHdr.Encode()
	icmpBody := append(append([]byte{}, icmpEncoded[:]...), innerBytes...)

	outer := header.IPv4Header{
		TTL:         64,
		Protocol:    header.ProtoICMPv4,
		TotalLength: uint16(header.IPv4Size + len(icmpBody)),
		Src:         mustV4("203.0.113.5"),
		Dst:         assigned.Src,
	}
	outerEncoded := encodeIPv4WithChecksum(outer)
	packet := append(append([]byte{}, outerEncoded[:]...), icmpBody...)

	buf := NewBufferWithHeadroom(40, packet)
	v := tr.HandleIncoming(buf)
	require.Equal(t, Forward, v)

	outerH6, err := header.ParseIPv6(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, mustV6("fd00::1"), outerH6.Dst)

	outerICMP, err := icmp.ParseHeader(buf.Bytes()[header.IPv6Size:])
	require.NoError(t, err)
	assert.Equal(t, uint8(icmp.TypeV6DestUnreachable), outerICMP.Type)
	assert.Equal(t, uint8(icmp.CodeV6PortUnreachable), outerICMP.Code)
	assert.Equal(t, uint16(0), checksum.Transport(buf.Bytes()[header.IPv6Size:], outerH6.Src[:], outerH6.Dst[:], header.ProtoICMPv6), "a valid checksum recomputes to zero")

	innerStart := header.IPv6Size + icmp.HeaderSize
	innerH6, err := header.ParseIPv6(buf.Bytes()[innerStart:])
	require.NoError(t, err)
	assert.Equal(t, mustV6("fd00::1"), innerH6.Dst)
	assert.Equal(t, mustV6("64:ff9b::c000:201"), innerH6.Src)
	assert.Len(t, buf.Bytes()[innerStart+header.IPv6Size:], 8, "the embedded payload is truncated to the RFC 792 minimum")
}

func TestHandleIncoming_ICMPErrorBadInnerChecksumDrops(t *testing.T) {
	clk := &fakeClock{}
	tr := newConfiguredTranslator(t, 8, 1000, clk.Fn(), "192.0.2.0/24")

	out := buildUDPv6(mustV6("fd00::1"), mustV6("64:ff9b::c000:201"), 64, 40000, 7, []byte("PING"))
	outBuf := NewBufferWithHeadroom(20, out)
	require.Equal(t, Forward, tr.HandleOutgoing(outBuf))
	assigned, err := header.ParseIPv4(outBuf.Bytes())
	require.NoError(t, err)

	innerUDP := make([]byte, 40)
	innerH4 := header.IPv4Header{
		TTL:         63,
		Protocol:    header.ProtoUDP,
		TotalLength: uint16(header.IPv4Size + len(innerUDP)),
		Src:         assigned.Src,
		Dst:         assigned.Dst,
	}
	innerEncoded := encodeIPv4WithChecksum(innerH4)
	innerEncoded[11] ^= 0x01 // flip one bit, corrupting the header checksum
	innerBytes := append(append([]byte{}, innerEncoded[:]...), innerUDP...)

	icmpHdr := icmp.Header{Type: icmp.TypeV4DestUnreachable, Code: icmp.CodeV4Port}
	icmpEncoded := icmpHdr.Encode()
	icmpBody := append(append([]byte{}, icmpEncoded[:]...), innerBytes...)

	outer := header.IPv4Header{
		TTL: 64, Protocol: header.ProtoICMPv4,
		TotalLength: uint16(header.IPv4Size + len(icmpBody)),
		Src:         mustV4("203.0.113.5"),
		Dst:         assigned.Src,
	}
	outerEncoded := encodeIPv4WithChecksum(outer)
	packet := append(append([]byte{}, outerEncoded[:]...), icmpBody...)

	buf := NewBufferWithHeadroom(40, packet)
	assert.Equal(t, Drop, tr.HandleIncoming(buf))
}

func TestHandleIncoming_ParameterProblemNoEquivalentDrops(t *testing.T) {
	clk := &fakeClock{}
	tr := newConfiguredTranslator(t, 8, 1000, clk.Fn(), "192.0.2.0/24")

	out := buildUDPv6(mustV6("fd00::1"), mustV6("64:ff9b::c000:201"), 64, 40000, 7, []byte("PING"))
	outBuf := NewBufferWithHeadroom(20, out)
	require.Equal(t, Forward, tr.HandleOutgoing(outBuf))
	assigned, err := header.ParseIPv4(outBuf.Bytes())
	require.NoError(t, err)

	innerUDP := make([]byte, 40)
	innerH4 := header.IPv4Header{
		TTL: 63, Protocol: header.ProtoUDP,
		TotalLength: uint16(header.IPv4Size + len(innerUDP)),
		Src:         assigned.Src,
		Dst:         assigned.Dst,
	}
	innerEncoded := encodeIPv4WithChecksum(innerH4)
	innerBytes := append(append([]byte{}, innerEncoded[:]...), innerUDP...)

	var rest [4]byte
	rest[0] = 4 // Identification byte: no IPv6 equivalent, per the pointer map
	icmpHdr := icmp.Header{Type: icmp.TypeV4ParameterProblem, Code: icmp.CodeV4PointerIndicatesError, RestOfHeader: rest}
	icmpEncoded := icmpHdr.Encode()
	icmpBody := append(append([]byte{}, icmpEncoded[:]...), innerBytes...)

	outer := header.IPv4Header{
		TTL: 64, Protocol: header.ProtoICMPv4,
		TotalLength: uint16(header.IPv4Size + len(icmpBody)),
		Src:         mustV4("203.0.113.5"),
		Dst:         assigned.Src,
	}
	outerEncoded := encodeIPv4WithChecksum(outer)
	packet := append(append([]byte{}, outerEncoded[:]...), icmpBody...)

	buf := NewBufferWithHeadroom(40, packet)
	assert.Equal(t, Drop, tr.HandleIncoming(buf))
}

func TestHandleOutgoing_HopLimitExpiredDrops(t *testing.T) {
	clk := &fakeClock{}
	tr := newConfiguredTranslator(t, 8, 1000, clk.Fn(), "192.0.2.0/24")

	packet := buildUDPv6(mustV6("fd00::1"), mustV6("64:ff9b::c000:201"), 1, 40000, 7, []byte("PING"))
	buf := NewBufferWithHeadroom(20, packet)

	assert.Equal(t, Drop, tr.HandleOutgoing(buf))
	assert.Equal(t, 0, tr.MappingsActive(), "a dropped packet must not consume a mapping")
}

func TestHandleIncoming_TTLExpiredDrops(t *testing.T) {
	clk := &fakeClock{}
	tr := newConfiguredTranslator(t, 8, 1000, clk.Fn(), "192.0.2.0/24")

	out := buildUDPv6(mustV6("fd00::1"), mustV6("64:ff9b::c000:201"), 64, 40000, 7, []byte("PING"))
	outBuf := NewBufferWithHeadroom(20, out)
	require.Equal(t, Forward, tr.HandleOutgoing(outBuf))
	assigned, err := header.ParseIPv4(outBuf.Bytes())
	require.NoError(t, err)

	reply := buildUDPv4(mustV4("192.0.2.1"), assigned.Src, 1, 7, 40000, []byte("PONG"))
	inBuf := NewBufferWithHeadroom(40, reply)
	assert.Equal(t, Drop, tr.HandleIncoming(inBuf))
}

func TestHandleOutgoing_MappingTableFullDrops(t *testing.T) {
	clk := &fakeClock{}
	// Capacity 1, idle timeout large enough that nothing expires mid-test.
	tr := newConfiguredTranslator(t, 1, 1_000_000, clk.Fn(), "192.0.2.0/24")

	first := buildUDPv6(mustV6("fd00::1"), mustV6("64:ff9b::c000:201"), 64, 1, 1, []byte("a"))
	require.Equal(t, Forward, tr.HandleOutgoing(NewBufferWithHeadroom(20, first)))

	second := buildUDPv6(mustV6("fd00::2"), mustV6("64:ff9b::c000:201"), 64, 1, 1, []byte("b"))
	assert.Equal(t, Drop, tr.HandleOutgoing(NewBufferWithHeadroom(20, second)))
	assert.Equal(t, 1, tr.MappingsActive())
}

func TestHandleOutgoing_PoolExhaustedWithFreeSlotDrops(t *testing.T) {
	clk := &fakeClock{}
	// Table capacity 3, but the /30 CIDR only yields 2 usable hosts: the
	// third mapping has a free slot but no address to assign.
	tr := newConfiguredTranslator(t, 3, 1_000_000, clk.Fn(), "192.0.2.0/30")

	a := buildUDPv6(mustV6("fd00::1"), mustV6("64:ff9b::c000:201"), 64, 1, 1, []byte("a"))
	require.Equal(t, Forward, tr.HandleOutgoing(NewBufferWithHeadroom(20, a)))
	b := buildUDPv6(mustV6("fd00::2"), mustV6("64:ff9b::c000:201"), 64, 1, 1, []byte("b"))
	require.Equal(t, Forward, tr.HandleOutgoing(NewBufferWithHeadroom(20, b)))
	require.Equal(t, 0, tr.PoolAvailable())

	c := buildUDPv6(mustV6("fd00::3"), mustV6("64:ff9b::c000:201"), 64, 1, 1, []byte("c"))
	assert.Equal(t, Drop, tr.HandleOutgoing(NewBufferWithHeadroom(20, c)))
	assert.Equal(t, 2, tr.MappingsActive())
}

func TestHandleOutgoing_PressureEvictionAndPoolConservation(t *testing.T) {
	clk := &fakeClock{}
	tr := newConfiguredTranslator(t, 2, 1000, clk.Fn(), "192.0.2.0/29") // 6 usable hosts, capped at capacity 2

	clk.now = 0
	a := buildUDPv6(mustV6("fd00::1"), mustV6("64:ff9b::c000:201"), 64, 1, 1, []byte("a"))
	require.Equal(t, Forward, tr.HandleOutgoing(NewBufferWithHeadroom(20, a)))
	b := buildUDPv6(mustV6("fd00::2"), mustV6("64:ff9b::c000:201"), 64, 1, 1, []byte("b"))
	require.Equal(t, Forward, tr.HandleOutgoing(NewBufferWithHeadroom(20, b)))

	require.Equal(t, 2, tr.MappingsActive())
	require.Equal(t, 0, tr.PoolAvailable(), "both addresses are on loan")

	clk.now = 5000 // both mappings' expiry (1000) is now well in the past
	c := buildUDPv6(mustV6("fd00::3"), mustV6("64:ff9b::c000:201"), 64, 1, 1, []byte("c"))
	v := tr.HandleOutgoing(NewBufferWithHeadroom(20, c))
	require.Equal(t, Forward, v, "a pressure sweep should free both expired slots")

	assert.Equal(t, 1, tr.MappingsActive())
	assert.Equal(t, 1, tr.PoolAvailable())
	assert.Equal(t, 2, tr.MappingsActive()+tr.PoolAvailable(), "pool conservation: mappings + pool == capped host count")
}

func TestSetNAT64Prefix_IdempotentAndRejectsInvalid(t *testing.T) {
	tr := New(8, 1000, func() uint64 { return 0 })
	require.NoError(t, tr.SetNAT64Prefix(mustPrefix("64:ff9b::/96")))
	require.NoError(t, tr.SetNAT64Prefix(mustPrefix("64:ff9b::/96")), "re-setting the same prefix is a no-op")

	bad := ipaddr.Prefix{IP: mustV6("2001:db8::"), Length: 50}
	assert.ErrorIs(t, tr.SetNAT64Prefix(bad), ErrInvalidArgs)
}

func TestSetIPv4CIDR_IdempotentAndClearsOnChange(t *testing.T) {
	clk := &fakeClock{}
	tr := newConfiguredTranslator(t, 8, 1000, clk.Fn(), "192.0.2.0/24")

	packet := buildUDPv6(mustV6("fd00::1"), mustV6("64:ff9b::c000:201"), 64, 1, 1, []byte("a"))
	require.Equal(t, Forward, tr.HandleOutgoing(NewBufferWithHeadroom(20, packet)))
	require.Equal(t, 1, tr.MappingsActive())

	require.NoError(t, tr.SetIPv4CIDR(mustCIDR("192.0.2.0/24")))
	assert.Equal(t, 1, tr.MappingsActive(), "re-binding the same CIDR must not evict mappings")

	require.NoError(t, tr.SetIPv4CIDR(mustCIDR("198.51.100.0/24")))
	assert.Equal(t, 0, tr.MappingsActive(), "binding a different CIDR clears all mappings")
}

func TestSetIPv4CIDR_RejectsInvalid(t *testing.T) {
	tr := New(8, 1000, func() uint64 { return 0 })
	assert.ErrorIs(t, tr.SetIPv4CIDR(ipaddr.CIDR{Length: 33}), ErrInvalidArgs)
	assert.ErrorIs(t, tr.SetIPv4CIDR(mustCIDR("0.0.0.0/0")), ErrInvalidArgs)
}

func TestSetEnabled_RequiresPrefixAndCIDR(t *testing.T) {
	tr := New(8, 1000, func() uint64 { return 0 })
	assert.ErrorIs(t, tr.SetEnabled(true), ErrInvalidState, "enabling with no prefix/CIDR bound must fail")

	require.NoError(t, tr.SetNAT64Prefix(mustPrefix("64:ff9b::/96")))
	assert.ErrorIs(t, tr.SetEnabled(true), ErrInvalidState, "a prefix alone is not enough")

	require.NoError(t, tr.SetIPv4CIDR(mustCIDR("192.0.2.0/24")))
	assert.NoError(t, tr.SetEnabled(true))

	assert.NoError(t, tr.SetEnabled(false), "disabling always succeeds")
}
