package nat64

import (
	"go.universe.tf/nat64/internal/checksum"
	"go.universe.tf/nat64/internal/header"
	"go.universe.tf/nat64/internal/icmp"
	"go.universe.tf/nat64/internal/mapping"
)

// translateICMPOutgoing rewrites an ICMPv6 message (payload, header
// included) into its ICMPv4 equivalent for the v6->v4 direction, per
// spec §4.4. m.IP4 is the mapping's assigned IPv4 address, used both as
// the message's own source concerns (handled by the caller) and, for
// error messages, as the inner packet's translated source.
func (t *Translator) translateICMPOutgoing(m *mapping.Mapping, payload []byte) ([]byte, bool) {
	hdr, err := icmp.ParseHeader(payload)
	if err != nil {
		return nil, false
	}
	body := payload[icmp.HeaderSize:]

	switch hdr.Type {
	case icmp.TypeV6EchoRequest, icmp.TypeV6EchoReply:
		newType, ok := icmp.TranslateEchoV6ToV4(hdr.Type)
		if !ok {
			return nil, false
		}
		out := icmp.Header{Type: newType, Code: 0, RestOfHeader: hdr.RestOfHeader}
		return appendICMP(out, body), true

	case icmp.TypeV6DestUnreachable:
		newType, newCode, ok := icmp.TranslateErrorV6ToV4(hdr.Type, hdr.Code)
		if !ok {
			return nil, false
		}
		inner, ok := t.translateInnerV6ToV4(m, body)
		if !ok {
			return nil, false
		}
		out := icmp.Header{Type: newType, Code: newCode}
		return appendICMP(out, inner), true

	default:
		return nil, false
	}
}

// translateICMPIncoming is the inverse of translateICMPOutgoing, for the
// v4->v6 direction. m.IP6 is the mapping's bound IPv6 address, used as
// the inner packet's translated destination for error messages.
func (t *Translator) translateICMPIncoming(m *mapping.Mapping, payload []byte) ([]byte, bool) {
	hdr, err := icmp.ParseHeader(payload)
	if err != nil {
		return nil, false
	}
	body := payload[icmp.HeaderSize:]

	switch hdr.Type {
	case icmp.TypeV4EchoRequest, icmp.TypeV4EchoReply:
		newType, ok := icmp.TranslateEchoV4ToV6(hdr.Type)
		if !ok {
			return nil, false
		}
		out := icmp.Header{Type: newType, Code: 0, RestOfHeader: hdr.RestOfHeader}
		return appendICMP(out, body), true

	case icmp.TypeV4DestUnreachable, icmp.TypeV4TimeExceeded, icmp.TypeV4ParameterProblem:
		newType, newCode, newRest, ok := icmp.TranslateErrorV4ToV6(hdr.Type, hdr.Code, hdr.RestOfHeader)
		if !ok {
			return nil, false
		}
		inner, ok := t.translateInnerV4ToV6(m, body)
		if !ok {
			return nil, false
		}
		out := icmp.Header{Type: newType, Code: newCode, RestOfHeader: newRest}
		return appendICMP(out, inner), true

	default:
		return nil, false
	}
}

// translateInnerV6ToV4 recursively re-applies the header rewrite to an
// embedded IPv6 packet carried inside an ICMPv6 error, per spec §4.4
// step 2. The embedded packet's destination must equal m.IP6 (it's the
// original packet the error was reporting on); its payload is truncated
// to the RFC 792 minimum before re-embedding.
func (t *Translator) translateInnerV6ToV4(m *mapping.Mapping, inner []byte) ([]byte, bool) {
	h6, err := header.ParseIPv6(inner)
	if err != nil {
		return nil, false
	}
	if !icmp.VerifyInnerDestinationV6(h6, m.IP6) {
		return nil, false
	}
	truncated := icmp.TruncateInner(inner[header.IPv6Size:])
	h4, ok := header.TranslateV6ToV4(h6, m.IP4, t.nat64Prefix.Length, len(truncated))
	if !ok {
		return nil, false
	}
	h4.Checksum = 0
	encoded := h4.Encode()
	h4.Checksum = checksum.IPv4Header(encoded[:])
	encoded = h4.Encode()

	out := append([]byte{}, encoded[:]...)
	return append(out, truncated...), true
}

// translateInnerV4ToV6 is the inverse of translateInnerV6ToV4. Per spec
// §4.4 steps 3-4, the embedded packet's source must equal m.IP4, and its
// own header checksum must be valid, before translation proceeds.
func (t *Translator) translateInnerV4ToV6(m *mapping.Mapping, inner []byte) ([]byte, bool) {
	h4, err := header.ParseIPv4(inner)
	if err != nil {
		return nil, false
	}
	if !icmp.VerifyInnerSourceV4(h4, m.IP4) {
		return nil, false
	}
	if len(inner) < header.IPv4Size || !icmp.VerifyInnerChecksum(inner[:header.IPv4Size]) {
		return nil, false
	}
	truncated := icmp.TruncateInner(inner[header.IPv4Size:])
	h6, ok := header.TranslateV4ToV6(h4, m.IP6, t.nat64Prefix, len(truncated))
	if !ok {
		return nil, false
	}
	encoded := h6.Encode()

	out := append([]byte{}, encoded[:]...)
	return append(out, truncated...), true
}

func appendICMP(h icmp.Header, body []byte) []byte {
	enc := h.Encode()
	out := make([]byte, 0, icmp.HeaderSize+len(body))
	out = append(out, enc[:]...)
	out = append(out, body...)
	return out
}
