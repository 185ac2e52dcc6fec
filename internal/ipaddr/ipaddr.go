// Package ipaddr holds the small set of address/prefix helpers the NAT64
// translator needs: parsing, printing, and the RFC 6052 embedding and
// extraction the pipeline uses to convert between address families.
package ipaddr

import (
	"encoding/binary"
	"fmt"
	"net"
)

// V4 is a 4-byte IPv4 address, held by value so it can key a map.
type V4 [4]byte

// V6 is a 16-byte IPv6 address, held by value so it can key a map.
type V6 [16]byte

// CIDR is an IPv4 network in prefix-length notation.
type CIDR struct {
	IP     V4
	Length int
}

// Prefix is an IPv6 network in prefix-length notation.
type Prefix struct {
	IP     V6
	Length int
}

func (a V4) String() string {
	return net.IP(a[:]).String()
}

func (a V6) String() string {
	return net.IP(a[:]).String()
}

func (c CIDR) String() string {
	return fmt.Sprintf("%s/%d", c.IP, c.Length)
}

func (p Prefix) String() string {
	return fmt.Sprintf("%s/%d", p.IP, p.Length)
}

// V4FromNetIP converts a net.IP holding an IPv4 address into a V4. The
// second return is false if ip isn't a valid IPv4 address.
func V4FromNetIP(ip net.IP) (V4, bool) {
	var v4 V4
	b := ip.To4()
	if b == nil {
		return v4, false
	}
	copy(v4[:], b)
	return v4, true
}

// V6FromNetIP converts a net.IP holding an IPv6 address into a V6. The
// second return is false if ip isn't a valid 16-byte address.
func V6FromNetIP(ip net.IP) (V6, bool) {
	var v6 V6
	b := ip.To16()
	if b == nil || ip.To4() != nil {
		return v6, false
	}
	copy(v6[:], b)
	return v6, true
}

// ParseCIDR parses an IPv4 CIDR such as "192.0.2.0/24".
func ParseCIDR(s string) (CIDR, error) {
	ip, ipnet, err := net.ParseCIDR(s)
	if err != nil {
		return CIDR{}, err
	}
	v4, ok := V4FromNetIP(ip)
	if !ok {
		return CIDR{}, fmt.Errorf("ipaddr: %q is not an IPv4 CIDR", s)
	}
	ones, bits := ipnet.Mask.Size()
	if bits != 32 {
		return CIDR{}, fmt.Errorf("ipaddr: %q is not an IPv4 CIDR", s)
	}
	return CIDR{IP: v4, Length: ones}, nil
}

// ParsePrefix parses an IPv6 prefix such as "64:ff9b::/96".
func ParsePrefix(s string) (Prefix, error) {
	ip, ipnet, err := net.ParseCIDR(s)
	if err != nil {
		return Prefix{}, err
	}
	v6, ok := V6FromNetIP(ip)
	if !ok {
		return Prefix{}, fmt.Errorf("ipaddr: %q is not an IPv6 prefix", s)
	}
	ones, bits := ipnet.Mask.Size()
	if bits != 128 {
		return Prefix{}, fmt.Errorf("ipaddr: %q is not an IPv6 prefix", s)
	}
	return Prefix{IP: v6, Length: ones}, nil
}

// IsValidNAT64 reports whether p is usable as a NAT64 prefix: one of the
// standard RFC 6052 prefix lengths, and non-zero (the zero Prefix means
// "not configured").
func (p Prefix) IsValidNAT64() bool {
	switch p.Length {
	case 32, 40, 48, 56, 64, 96:
		return true
	default:
		return false
	}
}

// MatchesPrefix reports whether addr falls within p.
func (p Prefix) MatchesPrefix(addr V6) bool {
	return maskedEqual(p.IP[:], addr[:], p.Length)
}

// Matches reports whether addr falls within c.
func (c CIDR) Matches(addr V4) bool {
	return maskedEqual(c.IP[:], addr[:], c.Length)
}

func maskedEqual(a, b []byte, bits int) bool {
	fullBytes := bits / 8
	for i := 0; i < fullBytes; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	if rem := bits % 8; rem != 0 {
		mask := byte(0xFF << (8 - rem))
		if a[fullBytes]&mask != b[fullBytes]&mask {
			return false
		}
	}
	return true
}

// SynthesizeFromCIDRAndHost produces the hostID'th address of cidr, per
// RFC 6052's "network-specific prefix" host numbering: the network bits
// come from cidr, the low bits are hostID.
func SynthesizeFromCIDRAndHost(cidr CIDR, hostID uint32) V4 {
	network := binary.BigEndian.Uint32(cidr.IP[:])
	var mask uint32
	if cidr.Length > 0 {
		mask = ^uint32(0) << (32 - cidr.Length)
	}
	addr := (network & mask) | (hostID &^ mask)

	var out V4
	binary.BigEndian.PutUint32(out[:], addr)
	return out
}

// ExtractFromIPv6 reverses SynthesizeIPv6FromIPv4: given the NAT64 prefix
// length and a full IPv6 address embedding an IPv4 address per RFC 6052,
// returns the embedded IPv4 address.
func ExtractFromIPv6(prefixLen int, addr V6) V4 {
	var v4 V4
	if prefixLen == 96 {
		copy(v4[:], addr[12:16])
		return v4
	}
	pb := prefixLen / 8
	firstLen := 8 - pb
	if firstLen > 4 {
		firstLen = 4
	}
	copy(v4[:firstLen], addr[pb:pb+firstLen])
	copy(v4[firstLen:], addr[9:9+(4-firstLen)])
	return v4
}

// SynthesizeIPv6FromIPv4 embeds v4 into prefix per RFC 6052's well-known
// or network-specific prefix format, reserving the "u" octet for prefix
// lengths shorter than /96.
func SynthesizeIPv6FromIPv4(prefix Prefix, v4 V4) V6 {
	var v6 V6
	copy(v6[:], prefix.IP[:])
	if prefix.Length == 96 {
		copy(v6[12:16], v4[:])
		return v6
	}
	pb := prefix.Length / 8
	firstLen := 8 - pb
	if firstLen > 4 {
		firstLen = 4
	}
	copy(v6[pb:pb+firstLen], v4[:firstLen])
	v6[8] = 0
	copy(v6[9:9+(4-firstLen)], v4[firstLen:])
	return v6
}
