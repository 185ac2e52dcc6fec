// Package icmp implements the ICMPv6<->ICMPv4 translation of spec
// §4.4: the echo request/reply rewrite and the RFC 6145 §5 error
// message tables, including the recursive inner-packet translation for
// ICMP errors carrying an embedded IP header.
package icmp

import (
	"encoding/binary"
	"fmt"

	"go.universe.tf/nat64/internal/checksum"
	"go.universe.tf/nat64/internal/header"
	"go.universe.tf/nat64/internal/ipaddr"
)

// ICMPv4 message types this translator understands.
const (
	TypeV4EchoReply         = 0
	TypeV4DestUnreachable   = 3
	TypeV4EchoRequest       = 8
	TypeV4TimeExceeded      = 11
	TypeV4ParameterProblem  = 12
)

// ICMPv4 codes under Destination Unreachable (type 3).
const (
	CodeV4Net                  = 0
	CodeV4Host                 = 1
	CodeV4Protocol             = 2
	CodeV4Port                 = 3
	CodeV4FragNeeded           = 4
	CodeV4SourceRouteFailed    = 5
	CodeV4NetUnknown           = 6
	CodeV4HostUnknown          = 7
	CodeV4SourceIsolated       = 8
	CodeV4NetAdminProhibited   = 9
	CodeV4HostAdminProhibited  = 10
	CodeV4NetTOS               = 11
	CodeV4HostTOS              = 12
	CodeV4CommAdminProhibited  = 13
	CodeV4HostPrecedence       = 14
	CodeV4PrecedenceCutoff     = 15
)

// ICMPv4 codes under Parameter Problem (type 12).
const (
	CodeV4PointerIndicatesError = 0
	CodeV4MissingOption         = 1
	CodeV4BadLength             = 2
)

// ICMPv6 message types this translator understands.
const (
	TypeV6DestUnreachable  = 1
	TypeV6PacketTooBig     = 2
	TypeV6TimeExceeded     = 3
	TypeV6ParameterProblem = 4
	TypeV6EchoRequest      = 128
	TypeV6EchoReply        = 129
)

// ICMPv6 codes under Destination Unreachable (type 1).
const (
	CodeV6NoRoute          = 0
	CodeV6AdminProhibited  = 1
	CodeV6BeyondScopeOfSrc = 2
	CodeV6AddressUnreach   = 3
	CodeV6PortUnreachable  = 4
)

// ICMPv6 codes under Parameter Problem (type 4).
const (
	CodeV6ErroneousHeaderField   = 0
	CodeV6UnrecognizedNextHeader = 1
)

// HeaderSize is the fixed 8-byte ICMP header shared by ICMPv4 and
// ICMPv6 in this translator's scope: type, code, checksum, and a
// 4-byte rest-of-header (identifier+sequence for echo, pointer/MTU/
// unused for errors).
const HeaderSize = 8

// Header is the common 8-byte ICMPv4/ICMPv6 leading header.
type Header struct {
	Type         uint8
	Code         uint8
	Checksum     uint16
	RestOfHeader [4]byte
}

// ParseHeader reads the leading 8-byte ICMP header from buf.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("icmp: buffer too short for header (%d bytes)", len(buf))
	}
	var h Header
	h.Type = buf[0]
	h.Code = buf[1]
	h.Checksum = binary.BigEndian.Uint16(buf[2:4])
	copy(h.RestOfHeader[:], buf[4:8])
	return h, nil
}

// Encode serializes h as an 8-byte ICMP header.
func (h Header) Encode() [HeaderSize]byte {
	var buf [HeaderSize]byte
	buf[0] = h.Type
	buf[1] = h.Code
	binary.BigEndian.PutUint16(buf[2:4], h.Checksum)
	copy(buf[4:8], h.RestOfHeader[:])
	return buf
}

// Identifier returns the echo identifier held in RestOfHeader[0:2].
func (h Header) Identifier() uint16 { return binary.BigEndian.Uint16(h.RestOfHeader[0:2]) }

// Sequence returns the echo sequence number held in RestOfHeader[2:4].
func (h Header) Sequence() uint16 { return binary.BigEndian.Uint16(h.RestOfHeader[2:4]) }

// TranslateEchoV6ToV4 maps an ICMPv6 echo type to its ICMPv4
// equivalent: 128 (Request) -> 8, 129 (Reply) -> 0. Identifier and
// sequence bytes are untouched by the caller; this only rewrites the
// type. ok is false for any other type.
func TranslateEchoV6ToV4(icmpType uint8) (uint8, bool) {
	switch icmpType {
	case TypeV6EchoRequest:
		return TypeV4EchoRequest, true
	case TypeV6EchoReply:
		return TypeV4EchoReply, true
	default:
		return 0, false
	}
}

// TranslateEchoV4ToV6 is the inverse of TranslateEchoV6ToV4.
func TranslateEchoV4ToV6(icmpType uint8) (uint8, bool) {
	switch icmpType {
	case TypeV4EchoRequest:
		return TypeV6EchoRequest, true
	case TypeV4EchoReply:
		return TypeV6EchoReply, true
	default:
		return 0, false
	}
}

// parameterProblemPointerMap maps an IPv4 header byte offset (0-19) to
// the corresponding IPv6 header byte offset, per RFC 6145 §4.2.
// 0xFF means "no IPv6 equivalent" - translation must drop.
var parameterProblemPointerMap = [20]byte{
	0,    // Version/IHL -> Version/Traffic Class
	1,    // Type of Service -> Traffic Class
	4,    // Total Length -> Payload Length
	4,    // Total Length -> Payload Length
	0xFF, // Identification
	0xFF, // Identification
	0xFF, // Flags/Fragment Offset
	0xFF, // Flags/Fragment Offset
	7,    // TTL -> Hop Limit
	6,    // Protocol -> Next Header
	0xFF, // Header Checksum
	0xFF, // Header Checksum
	8,    // Source Address
	8,    // Source Address
	8,    // Source Address
	8,    // Source Address
	24,   // Destination Address
	24,   // Destination Address
	24,   // Destination Address
	24,   // Destination Address
}

// TranslateParameterProblemPointer maps an ICMPv4 Parameter Problem
// pointer (an IPv4 header byte offset) to the IPv6 header byte offset
// carrying the equivalent field. ok is false if ipv4Pointer is out of
// range or has no IPv6 equivalent.
func TranslateParameterProblemPointer(ipv4Pointer uint8) (uint8, bool) {
	if int(ipv4Pointer) >= len(parameterProblemPointerMap) {
		return 0, false
	}
	v6 := parameterProblemPointerMap[ipv4Pointer]
	if v6 == 0xFF {
		return 0, false
	}
	return v6, true
}

// nextHeaderOffset is the byte offset of the Next Header field within a
// fixed IPv6 header, used as the Parameter Problem pointer when an
// ICMPv4 Protocol Unreachable is translated.
const nextHeaderOffset = 6

// TranslateErrorV4ToV6 translates an ICMPv4 error message type/code
// into its ICMPv6 equivalent, per spec §4.4 and RFC 6145 §5. inRest is
// the original message's 4-byte rest-of-header, consulted for
// Fragmentation Needed (next-hop MTU) and Parameter Problem (pointer).
// ok is false when the code has no IPv6 equivalent (silently dropped).
func TranslateErrorV4ToV6(msgType, code uint8, inRest [4]byte) (newType, newCode uint8, outRest [4]byte, ok bool) {
	switch msgType {
	case TypeV4DestUnreachable:
		switch code {
		case CodeV4Protocol:
			binary.BigEndian.PutUint32(outRest[:], nextHeaderOffset)
			return TypeV6ParameterProblem, CodeV6UnrecognizedNextHeader, outRest, true
		case CodeV4FragNeeded:
			v4MTU := binary.BigEndian.Uint16(inRest[2:4])
			binary.BigEndian.PutUint32(outRest[:], FragNeededMTU(v4MTU))
			return TypeV6PacketTooBig, 0, outRest, true
		case CodeV4HostPrecedence:
			return 0, 0, outRest, false
		case CodeV4Net, CodeV4Host, CodeV4SourceRouteFailed, CodeV4NetUnknown, CodeV4HostUnknown,
			CodeV4SourceIsolated, CodeV4NetTOS, CodeV4HostTOS:
			return TypeV6DestUnreachable, CodeV6NoRoute, outRest, true
		case CodeV4Port:
			return TypeV6DestUnreachable, CodeV6PortUnreachable, outRest, true
		case CodeV4NetAdminProhibited, CodeV4HostAdminProhibited, CodeV4CommAdminProhibited, CodeV4PrecedenceCutoff:
			return TypeV6DestUnreachable, CodeV6AdminProhibited, outRest, true
		default:
			return 0, 0, outRest, false
		}
	case TypeV4TimeExceeded:
		return TypeV6TimeExceeded, code, outRest, true
	case TypeV4ParameterProblem:
		switch code {
		case CodeV4PointerIndicatesError, CodeV4BadLength:
			v6Pointer, mapped := TranslateParameterProblemPointer(inRest[0])
			if !mapped {
				return 0, 0, outRest, false
			}
			binary.BigEndian.PutUint32(outRest[:], uint32(v6Pointer))
			return TypeV6ParameterProblem, CodeV6ErroneousHeaderField, outRest, true
		default:
			return 0, 0, outRest, false
		}
	default:
		return 0, 0, outRest, false
	}
}

// TranslateErrorV6ToV4 translates an ICMPv6 error message type/code
// into its ICMPv4 equivalent. Per spec §4.4 and §9's asymmetric-ICMP
// open question, this direction only covers the minimum required
// subset (No Route -> Host Unreachable, Port Unreachable -> Port
// Unreachable); every other code drops, intentionally.
func TranslateErrorV6ToV4(msgType, code uint8) (newType, newCode uint8, ok bool) {
	if msgType != TypeV6DestUnreachable {
		return 0, 0, false
	}
	switch code {
	case CodeV6NoRoute:
		return TypeV4DestUnreachable, CodeV4Host, true
	case CodeV6PortUnreachable:
		return TypeV4DestUnreachable, CodeV4Port, true
	default:
		return 0, 0, false
	}
}

// FragNeededMTU computes the ICMPv4 "Fragmentation Needed" next-hop MTU
// translated into an ICMPv6 Packet Too Big MTU, per spec §4.4: the
// IPv6 header is 20 bytes larger than the IPv4 header it replaces.
func FragNeededMTU(v4MTU uint16) uint32 {
	mtu := uint32(v4MTU) - uint32(header.IPv6Size-header.IPv4Size)
	return mtu
}

// TruncateInner truncates payload to the RFC 792 minimum of 8 octets,
// used when re-embedding a translated inner packet into an ICMP error.
func TruncateInner(payload []byte) []byte {
	if len(payload) > 8 {
		return payload[:8]
	}
	return payload
}

// VerifyInnerSourceV4 checks that the embedded (inner) IPv4 packet's
// source address equals expected, per spec §4.4 step 3 for the v4->v6
// direction.
func VerifyInnerSourceV4(inner header.IPv4Header, expected ipaddr.V4) bool {
	return inner.Src == expected
}

// VerifyInnerDestinationV6 checks that the embedded (inner) IPv6
// packet's destination address equals expected, per spec §4.4 step 3
// for the v6->v4 direction.
func VerifyInnerDestinationV6(inner header.IPv6Header, expected ipaddr.V6) bool {
	return inner.Dst == expected
}

// VerifyInnerChecksum verifies the embedded IPv4 header's own checksum,
// per spec §4.4 step 4 (v4->v6 direction only; RFC 5508 says transport
// checksums inside the embedded payload are neither validated nor
// updated).
func VerifyInnerChecksum(innerHeaderBytes []byte) bool {
	return checksum.VerifyIPv4Header(innerHeaderBytes)
}
