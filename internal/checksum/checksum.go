// Package checksum implements the Internet checksum (RFC 1071) used for
// IPv4 header checksums and, combined with a pseudo-header, for UDP,
// TCP and ICMP checksums. spec.md treats this as a pure-function
// collaborator; it's implemented here rather than stubbed because the
// pipeline in internal/nat64 needs a concrete implementation to test
// against, and the teacher's own packet.go carries the same
// ones'-complement fold idiom used below.
package checksum

import "encoding/binary"

// Sum computes the Internet checksum of buf, folded on top of an
// initial accumulator (e.g. a partial sum from a pseudo-header). The
// returned value has not yet been complemented.
func Sum(buf []byte, initial uint32) uint16 {
	sum := initial
	n := len(buf)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(buf[i : i+2]))
	}
	if n&1 != 0 {
		sum += uint32(buf[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return uint16(sum)
}

// Combine folds two complemented 16-bit sums together, as when adding a
// pseudo-header checksum to a payload checksum.
func Combine(a, b uint16) uint16 {
	sum := uint32(a) + uint32(b)
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return uint16(sum)
}

// IPv4Header computes the header checksum of an IPv4 header (the field
// itself must be zeroed before calling).
func IPv4Header(header []byte) uint16 {
	return ^Sum(header, 0)
}

// pseudoHeaderSum accumulates the IPv4 or IPv6 pseudo-header (source,
// destination, zero-padded protocol, and transport length) used by UDP,
// TCP and ICMPv6 checksums. ICMPv4 uses no pseudo-header at all, per
// RFC 792 - see ICMPv4 below.
func pseudoHeaderSum(src, dst []byte, protocol uint8, length uint32) uint32 {
	var sum uint32
	sum += uint32(Sum(src, 0))
	sum += uint32(Sum(dst, 0))
	sum += uint32(protocol)
	sum += length >> 16
	sum += length & 0xFFFF
	return sum
}

// Transport computes the UDP/TCP/ICMPv6 checksum of buf (header +
// payload, with the checksum field zeroed) over the given pseudo-header
// addresses and protocol number. src and dst are both 4 bytes (IPv4
// pseudo-header) or both 16 bytes (IPv6 pseudo-header).
func Transport(buf []byte, src, dst []byte, protocol uint8) uint16 {
	initial := pseudoHeaderSum(src, dst, protocol, uint32(len(buf)))
	return ^Sum(buf, initial)
}

// ICMPv4 computes the ICMPv4 checksum, which unlike ICMPv6 is computed
// with no pseudo-header (RFC 792).
func ICMPv4(buf []byte) uint16 {
	return ^Sum(buf, 0)
}

// VerifyIPv4Header reports whether header's own checksum field is
// correct: the ones'-complement sum of the whole header, checksum field
// included, folds to all-ones.
func VerifyIPv4Header(header []byte) bool {
	return Sum(header, 0) == 0xFFFF
}
