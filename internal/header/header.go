// Package header implements the pure IPv6<->IPv4 header synthesis of
// spec §4.3: parsing, encoding, and the field-by-field translation
// rules, with no knowledge of mappings, pools, or checksums beyond the
// raw bytes they need to be encoded into.
package header

import (
	"encoding/binary"
	"fmt"

	"go.universe.tf/nat64/internal/ipaddr"
)

// Transport/network protocol numbers the translator understands.
const (
	ProtoICMPv4 = 1
	ProtoTCP    = 6
	ProtoUDP    = 17
	ProtoICMPv6 = 58
)

// IPv4Size is the size of an IPv4 header with no options, which is all
// this translator ever synthesizes.
const IPv4Size = 20

// IPv6Size is the size of a fixed IPv6 header (extension headers beyond
// the next-header field are out of scope, per spec §1 Non-goals).
const IPv6Size = 40

// IPv4Header is a parsed IPv4 header. IHL is recorded as parsed and not
// checked; every header this package synthesizes has IHL 5 (no options).
type IPv4Header struct {
	IHL            uint8
	DSCP           uint8
	ID             uint16
	Flags          uint8
	FragmentOffset uint16
	TTL            uint8
	Protocol       uint8
	Checksum       uint16
	TotalLength    uint16
	Src            ipaddr.V4
	Dst            ipaddr.V4
}

// IPv6Header is a parsed fixed IPv6 header.
type IPv6Header struct {
	TrafficClass  uint8
	FlowLabel     uint32
	PayloadLength uint16
	NextHeader    uint8
	HopLimit      uint8
	Src           ipaddr.V6
	Dst           ipaddr.V6
}

// ParseIPv4 parses the leading IPv4 header out of buf. It does not skip
// IPv4 options: the header is taken to be exactly the fixed 20 bytes,
// whatever the IHL field says.
func ParseIPv4(buf []byte) (IPv4Header, error) {
	if len(buf) < IPv4Size {
		return IPv4Header{}, fmt.Errorf("header: buffer too short for IPv4 header (%d bytes)", len(buf))
	}
	if buf[0]>>4 != 4 {
		return IPv4Header{}, fmt.Errorf("header: not an IPv4 packet (version %d)", buf[0]>>4)
	}
	ihl := buf[0] & 0xF
	var h IPv4Header
	h.IHL = ihl
	h.DSCP = buf[1]
	h.TotalLength = binary.BigEndian.Uint16(buf[2:4])
	h.ID = binary.BigEndian.Uint16(buf[4:6])
	flagsFrag := binary.BigEndian.Uint16(buf[6:8])
	h.Flags = uint8(flagsFrag >> 13)
	h.FragmentOffset = flagsFrag & 0x1FFF
	h.TTL = buf[8]
	h.Protocol = buf[9]
	h.Checksum = binary.BigEndian.Uint16(buf[10:12])
	copy(h.Src[:], buf[12:16])
	copy(h.Dst[:], buf[16:20])
	return h, nil
}

// ParseIPv6 parses the leading fixed IPv6 header out of buf.
func ParseIPv6(buf []byte) (IPv6Header, error) {
	if len(buf) < IPv6Size {
		return IPv6Header{}, fmt.Errorf("header: buffer too short for IPv6 header (%d bytes)", len(buf))
	}
	if buf[0]>>4 != 6 {
		return IPv6Header{}, fmt.Errorf("header: not an IPv6 packet (version %d)", buf[0]>>4)
	}
	var h IPv6Header
	h.TrafficClass = (buf[0]&0xF)<<4 | buf[1]>>4
	h.FlowLabel = binary.BigEndian.Uint32(buf[0:4]) & 0xFFFFF
	h.PayloadLength = binary.BigEndian.Uint16(buf[4:6])
	h.NextHeader = buf[6]
	h.HopLimit = buf[7]
	copy(h.Src[:], buf[8:24])
	copy(h.Dst[:], buf[24:40])
	return h, nil
}

// Encode serializes h as a 20-byte, option-free IPv4 header. The
// checksum field is written as h.Checksum verbatim — callers recompute
// it afterwards once the payload is final.
func (h IPv4Header) Encode() [IPv4Size]byte {
	var buf [IPv4Size]byte
	buf[0] = (4 << 4) | 5
	buf[1] = 0 // DSCP/ECN zeroed, no fragmentation support (spec §4.3)
	binary.BigEndian.PutUint16(buf[2:4], h.TotalLength)
	binary.BigEndian.PutUint16(buf[4:6], h.ID)
	binary.BigEndian.PutUint16(buf[6:8], 0) // flags/fragment offset zeroed
	buf[8] = h.TTL
	buf[9] = h.Protocol
	binary.BigEndian.PutUint16(buf[10:12], h.Checksum)
	copy(buf[12:16], h.Src[:])
	copy(buf[16:20], h.Dst[:])
	return buf
}

// Encode serializes h as a 40-byte IPv6 header.
func (h IPv6Header) Encode() [IPv6Size]byte {
	var buf [IPv6Size]byte
	buf[0] = 6 << 4
	binary.BigEndian.PutUint16(buf[4:6], h.PayloadLength)
	buf[6] = h.NextHeader
	buf[7] = h.HopLimit
	copy(buf[8:24], h.Src[:])
	copy(buf[24:40], h.Dst[:])
	return buf
}

// protoV6ToV4 maps an IPv6 next-header value to its IPv4 protocol
// equivalent, per spec §4.3. Anything else is a drop.
func protoV6ToV4(next uint8) (uint8, bool) {
	switch next {
	case ProtoUDP:
		return ProtoUDP, true
	case ProtoTCP:
		return ProtoTCP, true
	case ProtoICMPv6:
		return ProtoICMPv4, true
	default:
		return 0, false
	}
}

// protoV4ToV6 is the inverse of protoV6ToV4.
func protoV4ToV6(protocol uint8) (uint8, bool) {
	switch protocol {
	case ProtoUDP:
		return ProtoUDP, true
	case ProtoTCP:
		return ProtoTCP, true
	case ProtoICMPv4:
		return ProtoICMPv6, true
	default:
		return 0, false
	}
}

// TranslateV6ToV4 synthesizes an IPv4 header from h6, per spec §4.3.
// srcV4 is the mapping's assigned address; prefixLength is the NAT64
// prefix length used to extract the embedded IPv4 destination.
// h6.HopLimit is expected to already be decremented by the caller.
// payloadLength is the length, in bytes, of everything following the
// IPv4 header once translation is complete. ok is false when the next
// header is unsupported (a drop).
func TranslateV6ToV4(h6 IPv6Header, srcV4 ipaddr.V4, prefixLength int, payloadLength int) (IPv4Header, bool) {
	protocol, ok := protoV6ToV4(h6.NextHeader)
	if !ok {
		return IPv4Header{}, false
	}
	return IPv4Header{
		IHL:         5,
		Src:         srcV4,
		Dst:         ipaddr.ExtractFromIPv6(prefixLength, h6.Dst),
		Protocol:    protocol,
		TTL:         h6.HopLimit,
		ID:          0,
		TotalLength: uint16(IPv4Size + payloadLength),
	}, true
}

// TranslateV4ToV6 synthesizes an IPv6 header from h4, per spec §4.3.
// dstV6 is the mapping's bound IPv6 address; prefix is the NAT64 prefix
// used to synthesize the IPv6 source. h4.TTL is expected to already be
// decremented by the caller. payloadLength is the length, in bytes, of
// everything following the IPv6 header.
func TranslateV4ToV6(h4 IPv4Header, dstV6 ipaddr.V6, prefix ipaddr.Prefix, payloadLength int) (IPv6Header, bool) {
	nextHeader, ok := protoV4ToV6(h4.Protocol)
	if !ok {
		return IPv6Header{}, false
	}
	return IPv6Header{
		Src:           ipaddr.SynthesizeIPv6FromIPv4(prefix, h4.Src),
		Dst:           dstV6,
		NextHeader:    nextHeader,
		HopLimit:      h4.TTL,
		PayloadLength: uint16(payloadLength),
	}, true
}
