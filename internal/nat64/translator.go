// Package nat64 implements the stateful IPv6<->IPv4 packet translator of
// spec §4.5/§6: a Translator that owns an address pool and mapping
// table, and exposes HandleOutgoing/HandleIncoming as the two pipeline
// entry points a packet-capture front end (cmd/nat64ctl's nfqueue
// wiring) drives.
package nat64

import (
	"encoding/binary"
	"errors"

	"github.com/sirupsen/logrus"

	"go.universe.tf/nat64/internal/checksum"
	"go.universe.tf/nat64/internal/header"
	"go.universe.tf/nat64/internal/ipaddr"
	"go.universe.tf/nat64/internal/mapping"
	"go.universe.tf/nat64/internal/pool"
)

// ErrInvalidArgs is returned by the Set* configuration methods when
// given a value that can never be applied (an out-of-range prefix
// length, a CIDR with no usable host addresses).
var ErrInvalidArgs = errors.New("nat64: invalid arguments")

// ErrInvalidState is returned by SetEnabled(true) when the translator
// has not yet been given a usable NAT64 prefix and IPv4 CIDR.
var ErrInvalidState = errors.New("nat64: translator not configured")

// Verdict is the outcome of running a packet through HandleOutgoing or
// HandleIncoming.
type Verdict int

const (
	// Forward means the packet (rewritten in place, for a translated
	// packet, or untouched, for one the translator passed through) should
	// continue on its way.
	Forward Verdict = iota
	// Drop means the packet must be discarded silently.
	Drop
	// ReplyICMP is reserved for a future translator-generated ICMP error
	// (e.g. synthesizing a Time Exceeded locally instead of just
	// dropping); no pipeline path produces it yet.
	ReplyICMP
)

func (v Verdict) String() string {
	switch v {
	case Forward:
		return "forward"
	case Drop:
		return "drop"
	case ReplyICMP:
		return "reply-icmp"
	default:
		return "unknown"
	}
}

// MetricsSink receives the counters and gauges a Translator updates as
// it runs. A nil Metrics field is safe to use; Translator falls back to
// a no-op sink.
type MetricsSink interface {
	RecordVerdict(direction, verdict string)
	SetMappingsActive(n int)
	SetPoolAvailable(n int)
}

type noopMetrics struct{}

func (noopMetrics) RecordVerdict(string, string) {}
func (noopMetrics) SetMappingsActive(int)        {}
func (noopMetrics) SetPoolAvailable(int)         {}

// Translator is the stateful NAT64 packet translator: an address pool, a
// bidirectional mapping table, and the configured NAT64 prefix and IPv4
// CIDR that gate translation. It is not safe for concurrent use from
// multiple goroutines — like the mapping table it wraps, it is meant to
// be driven from a single packet-processing loop (spec §9).
type Translator struct {
	enabled     bool
	nat64Prefix ipaddr.Prefix

	pool  *pool.Pool
	table *mapping.Table
	clock func() uint64

	Log     *logrus.Entry
	Metrics MetricsSink
}

// New returns a disabled, unconfigured Translator with the given mapping
// capacity and idle timeout (milliseconds). clock supplies the
// monotonic-millisecond time source the mapping table uses for expiry.
func New(capacity int, idleTimeoutMsec uint64, clock func() uint64) *Translator {
	return &Translator{
		pool:    pool.New(capacity),
		table:   mapping.New(capacity, idleTimeoutMsec),
		clock:   clock,
		Log:     logrus.NewEntry(logrus.StandardLogger()),
		Metrics: noopMetrics{},
	}
}

func (t *Translator) metrics() MetricsSink {
	if t.Metrics == nil {
		return noopMetrics{}
	}
	return t.Metrics
}

// NAT64Prefix returns the currently configured prefix, and whether one
// has been set.
func (t *Translator) NAT64Prefix() (ipaddr.Prefix, bool) {
	return t.nat64Prefix, t.nat64Prefix.IsValidNAT64()
}

// IPv4CIDR returns the currently bound CIDR, and whether one is bound.
func (t *Translator) IPv4CIDR() (ipaddr.CIDR, bool) {
	return t.pool.CIDR()
}

// Enabled reports whether the translator is currently active.
func (t *Translator) Enabled() bool {
	return t.enabled
}

// MappingsActive returns the number of currently active mappings.
func (t *Translator) MappingsActive() int {
	return t.table.Size()
}

// PoolAvailable returns the number of unassigned addresses left in the
// pool.
func (t *Translator) PoolAvailable() int {
	return t.pool.Available()
}

// SetNAT64Prefix sets the IPv6 prefix used to recognize and synthesize
// NAT64 addresses. It must be one of the RFC 6052 standard lengths
// (32/40/48/56/64/96). Setting the same prefix again is a silent no-op,
// per spec §9's idempotent-reconfiguration decision.
func (t *Translator) SetNAT64Prefix(prefix ipaddr.Prefix) error {
	if !prefix.IsValidNAT64() {
		return ErrInvalidArgs
	}
	if t.nat64Prefix == prefix {
		return nil
	}
	t.nat64Prefix = prefix
	t.Log.WithField("prefix", prefix).Info("nat64: NAT64 prefix updated")
	return nil
}

// SetIPv4CIDR binds the pool of translated IPv4 addresses to cidr,
// evicting every active mapping (their IPv6 peers will re-trigger
// mapping creation on their next packet) and rebuilding the pool from
// scratch. Setting the same CIDR again is a silent no-op.
func (t *Translator) SetIPv4CIDR(cidr ipaddr.CIDR) error {
	if cidr.Length > 32 || pool.HostCount(cidr.Length) <= 0 {
		return ErrInvalidArgs
	}
	if existing, bound := t.pool.CIDR(); bound && existing == cidr {
		return nil
	}

	evicted := t.table.Clear()
	if err := t.pool.Bind(cidr); err != nil {
		return err
	}
	t.Log.WithFields(logrus.Fields{
		"cidr":    cidr,
		"evicted": len(evicted),
	}).Info("nat64: IPv4 CIDR rebound")
	t.metrics().SetMappingsActive(t.table.Size())
	t.metrics().SetPoolAvailable(t.pool.Available())
	return nil
}

// SetEnabled turns translation on or off. Enabling requires a valid
// NAT64 prefix and a bound IPv4 CIDR; disabling always succeeds.
func (t *Translator) SetEnabled(enabled bool) error {
	if enabled {
		if !t.nat64Prefix.IsValidNAT64() {
			return ErrInvalidState
		}
		if _, bound := t.pool.CIDR(); !bound {
			return ErrInvalidState
		}
	}
	t.enabled = enabled
	t.Log.WithField("enabled", enabled).Info("nat64: translator state changed")
	return nil
}

// HandleOutgoing translates a packet flowing from the IPv6 LAN side to
// the IPv4 WAN side, per spec §4.5. buf's live region must hold a full
// IPv6 packet (header included) and must carry at least IPv4Size bytes
// of headroom in front of it for the replacement header. The buffer is
// rewritten in place; the return value is the verdict the caller should
// act on.
func (t *Translator) HandleOutgoing(buf *Buffer) Verdict {
	const direction = "outgoing"
	if !t.enabled {
		return t.verdict(direction, Forward)
	}

	h6, err := header.ParseIPv6(buf.Bytes())
	if err != nil {
		t.Log.WithError(err).Debug("nat64: outgoing packet is not IPv6")
		return t.verdict(direction, Drop)
	}
	if !t.nat64Prefix.IsValidNAT64() || !t.nat64Prefix.MatchesPrefix(h6.Dst) {
		return t.verdict(direction, Forward)
	}
	if _, bound := t.pool.CIDR(); !bound {
		return t.verdict(direction, Forward)
	}
	if h6.HopLimit <= 1 {
		t.Log.Debug("nat64: outgoing packet hop limit expired")
		return t.verdict(direction, Drop)
	}
	h6.HopLimit--

	now := t.clock()
	m, ok := t.table.FindByIP6(h6.Src, now, t.pool)
	if !ok {
		t.Log.WithField("src", h6.Src).Debug("nat64: no mapping available for outgoing packet")
		return t.verdict(direction, Drop)
	}
	t.metrics().SetMappingsActive(t.table.Size())
	t.metrics().SetPoolAvailable(t.pool.Available())

	isICMP := h6.NextHeader == header.ProtoICMPv6
	if !buf.RemoveHeader(header.IPv6Size) {
		return t.verdict(direction, Drop)
	}

	if isICMP {
		translated, ok := t.translateICMPOutgoing(m, buf.Bytes())
		if !ok {
			t.Log.Debug("nat64: outgoing ICMPv6 message has no IPv4 equivalent")
			return t.verdict(direction, Drop)
		}
		if !buf.ReplaceBytes(translated) {
			return t.verdict(direction, Drop)
		}
	}

	h4, ok := header.TranslateV6ToV4(h6, m.IP4, t.nat64Prefix.Length, buf.Len())
	if !ok {
		t.Log.WithField("next-header", h6.NextHeader).Debug("nat64: unsupported outgoing protocol")
		return t.verdict(direction, Drop)
	}

	switch h4.Protocol {
	case header.ProtoICMPv4:
		recomputeICMPv4Checksum(buf.Bytes())
	case header.ProtoUDP, header.ProtoTCP:
		recomputeTransportChecksum(h4.Protocol, buf.Bytes(), h4.Src[:], h4.Dst[:])
	}

	hdrBytes, ok := buf.Prepend(header.IPv4Size)
	if !ok {
		t.Log.Warn("nat64: insufficient headroom to prepend IPv4 header")
		return t.verdict(direction, Drop)
	}
	h4.Checksum = 0
	encoded := h4.Encode()
	h4.Checksum = checksum.IPv4Header(encoded[:])
	encoded = h4.Encode()
	copy(hdrBytes, encoded[:])

	return t.verdict(direction, Forward)
}

// HandleIncoming translates a packet flowing from the IPv4 WAN side to
// the IPv6 LAN side, per spec §4.5. A packet that already parses as IPv6
// is forwarded unchanged. buf's live region must carry at least
// IPv6Size bytes of headroom in front of it for the replacement header.
func (t *Translator) HandleIncoming(buf *Buffer) Verdict {
	const direction = "incoming"
	if !t.enabled {
		return t.verdict(direction, Forward)
	}

	if _, err := header.ParseIPv6(buf.Bytes()); err == nil {
		return t.verdict(direction, Forward)
	}
	h4, err := header.ParseIPv4(buf.Bytes())
	if err != nil {
		t.Log.WithError(err).Debug("nat64: incoming packet is neither IPv6 nor IPv4")
		return t.verdict(direction, Drop)
	}
	if !t.nat64Prefix.IsValidNAT64() {
		t.Log.Debug("nat64: incoming IPv4 packet but no NAT64 prefix configured")
		return t.verdict(direction, Drop)
	}
	cidr, bound := t.pool.CIDR()
	if !bound || !cidr.Matches(h4.Dst) {
		return t.verdict(direction, Forward)
	}
	if h4.TTL <= 1 {
		t.Log.Debug("nat64: incoming packet TTL expired")
		return t.verdict(direction, Drop)
	}
	h4.TTL--

	now := t.clock()
	m, ok := t.table.FindByIP4(h4.Dst, now)
	if !ok {
		t.Log.WithField("dst", h4.Dst).Debug("nat64: no mapping for incoming packet's destination")
		return t.verdict(direction, Drop)
	}
	t.metrics().SetMappingsActive(t.table.Size())
	t.metrics().SetPoolAvailable(t.pool.Available())

	isICMP := h4.Protocol == header.ProtoICMPv4
	if !buf.RemoveHeader(header.IPv4Size) {
		return t.verdict(direction, Drop)
	}

	if isICMP {
		translated, ok := t.translateICMPIncoming(m, buf.Bytes())
		if !ok {
			t.Log.Debug("nat64: incoming ICMPv4 message has no IPv6 equivalent")
			return t.verdict(direction, Drop)
		}
		if !buf.ReplaceBytes(translated) {
			return t.verdict(direction, Drop)
		}
	}

	h6, ok := header.TranslateV4ToV6(h4, m.IP6, t.nat64Prefix, buf.Len())
	if !ok {
		t.Log.WithField("protocol", h4.Protocol).Debug("nat64: unsupported incoming protocol")
		return t.verdict(direction, Drop)
	}

	switch h6.NextHeader {
	case header.ProtoICMPv6:
		recomputeICMPv6Checksum(buf.Bytes(), h6.Src[:], h6.Dst[:])
	case header.ProtoUDP, header.ProtoTCP:
		recomputeTransportChecksum(h6.NextHeader, buf.Bytes(), h6.Src[:], h6.Dst[:])
	}

	hdrBytes, ok := buf.Prepend(header.IPv6Size)
	if !ok {
		t.Log.Warn("nat64: insufficient headroom to prepend IPv6 header")
		return t.verdict(direction, Drop)
	}
	encoded := h6.Encode()
	copy(hdrBytes, encoded[:])

	return t.verdict(direction, Forward)
}

func (t *Translator) verdict(direction string, v Verdict) Verdict {
	t.metrics().RecordVerdict(direction, v.String())
	return v
}

// recomputeTransportChecksum recomputes a UDP or TCP checksum in place
// over payload (header and body), after the checksum field has been
// zeroed, using the new pseudo-header addresses. Per RFC 768, a computed
// UDP checksum of zero is sent as all-ones (zero means "no checksum").
func recomputeTransportChecksum(protocol uint8, payload []byte, src, dst []byte) {
	var offset int
	switch protocol {
	case header.ProtoUDP:
		offset = 6
	case header.ProtoTCP:
		offset = 16
	default:
		return
	}
	if len(payload) < offset+2 {
		return
	}
	binary.BigEndian.PutUint16(payload[offset:offset+2], 0)
	sum := checksum.Transport(payload, src, dst, protocol)
	if protocol == header.ProtoUDP && sum == 0 {
		sum = 0xFFFF
	}
	binary.BigEndian.PutUint16(payload[offset:offset+2], sum)
}

func recomputeICMPv4Checksum(payload []byte) {
	if len(payload) < 4 {
		return
	}
	binary.BigEndian.PutUint16(payload[2:4], 0)
	sum := checksum.ICMPv4(payload)
	binary.BigEndian.PutUint16(payload[2:4], sum)
}

func recomputeICMPv6Checksum(payload []byte, src, dst []byte) {
	if len(payload) < 4 {
		return
	}
	binary.BigEndian.PutUint16(payload[2:4], 0)
	sum := checksum.Transport(payload, src, dst, header.ProtoICMPv6)
	binary.BigEndian.PutUint16(payload[2:4], sum)
}
