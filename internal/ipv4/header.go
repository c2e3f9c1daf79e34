// Package ipv4 implements IPv4 header decoding, validation and construction,
// the static routing table and the forwarding rewrite.
package ipv4

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"firestige.xyz/vrouter/internal/checksum"
	"firestige.xyz/vrouter/internal/core"
)

const (
	HeaderLen  = 20
	Version    = 4
	MinIHL     = 5
	MaxLen     = 0xffff
	DefaultTTL = 64

	ProtoICMP uint8 = 1
	ProtoTCP  uint8 = 6

	checksumOffset = 10
	ttlOffset      = 8
)

// Header is a decoded IPv4 header. Options, if any, are left in the packet.
type Header struct {
	Version   uint8
	IHL       uint8 // in 32-bit words
	TOS       uint8
	TotalLen  uint16
	ID        uint16
	FlagsFrag uint16
	TTL       uint8
	Protocol  uint8
	Checksum  uint16
	Src       netip.Addr
	Dst       netip.Addr
}

// Len returns the header length in bytes.
func (h Header) Len() int { return int(h.IHL) * 4 }

// Decode reads the fixed part of an IPv4 header without validating it.
func Decode(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, core.ErrPacketTooShort
	}
	return Header{
		Version:   b[0] >> 4,
		IHL:       b[0] & 0x0f,
		TOS:       b[1],
		TotalLen:  binary.BigEndian.Uint16(b[2:4]),
		ID:        binary.BigEndian.Uint16(b[4:6]),
		FlagsFrag: binary.BigEndian.Uint16(b[6:8]),
		TTL:       b[8],
		Protocol:  b[9],
		Checksum:  binary.BigEndian.Uint16(b[10:12]),
		Src:       core.AddrFromSlice(b[12:16]),
		Dst:       core.AddrFromSlice(b[16:20]),
	}, nil
}

// Encode writes the fixed 20-byte header into b, checksum field included
// as stored in h.
func (h Header) Encode(b []byte) {
	b[0] = h.Version<<4 | h.IHL&0x0f
	b[1] = h.TOS
	binary.BigEndian.PutUint16(b[2:4], h.TotalLen)
	binary.BigEndian.PutUint16(b[4:6], h.ID)
	binary.BigEndian.PutUint16(b[6:8], h.FlagsFrag)
	b[8] = h.TTL
	b[9] = h.Protocol
	binary.BigEndian.PutUint16(b[10:12], h.Checksum)
	src, dst := h.Src.As4(), h.Dst.As4()
	copy(b[12:16], src[:])
	copy(b[16:20], dst[:])
}

// HeaderChecksum computes the checksum of the first hdrLen bytes of pkt with
// the checksum field taken as zero. pkt is not modified.
func HeaderChecksum(pkt []byte, hdrLen int) uint16 {
	var a checksum.Accumulator
	a.Write(pkt[:checksumOffset])
	a.Write(pkt[checksumOffset+2 : hdrLen])
	return a.Sum16()
}

// Validate checks, in order: version, header length, total length against
// the available bytes, TTL and header checksum. The header is returned even
// on failure so the caller can report on it.
func Validate(pkt []byte, available int) (Header, core.Reason) {
	h, err := Decode(pkt)
	if err != nil {
		return h, core.ReasonBadIPLength
	}
	if h.Version != Version {
		return h, core.ReasonNotIPv4
	}
	if h.IHL < MinIHL {
		return h, core.ReasonBadIHL
	}
	if available < int(h.TotalLen) || h.Len() > available || h.Len() > len(pkt) {
		return h, core.ReasonBadIPLength
	}
	if h.TTL == 0 {
		return h, core.ReasonTTLExceeded
	}
	if HeaderChecksum(pkt, h.Len()) != h.Checksum {
		return h, core.ReasonBadIPChecksum
	}
	return h, core.ReasonNone
}

// Build assembles a packet with a fixed 20-byte header (version/IHL 0x45,
// no fragmentation) around payload.
func Build(src, dst netip.Addr, id uint16, proto, ttl uint8, payload []byte) ([]byte, error) {
	total := HeaderLen + len(payload)
	if total > MaxLen {
		return nil, fmt.Errorf("%d-byte ip packet: %w", total, core.ErrFrameTooLarge)
	}
	pkt := make([]byte, total)
	h := Header{
		Version:  Version,
		IHL:      MinIHL,
		TotalLen: uint16(total),
		ID:       id,
		TTL:      ttl,
		Protocol: proto,
		Src:      src,
		Dst:      dst,
	}
	h.Encode(pkt)
	binary.BigEndian.PutUint16(pkt[checksumOffset:], HeaderChecksum(pkt, HeaderLen))
	copy(pkt[HeaderLen:], payload)
	return pkt, nil
}

// DecrementTTL lowers the TTL by one and rewrites the header checksum. A
// packet leaving through a gateway needs a received TTL above one; a packet
// for a directly connected host is still delivered with a received TTL of
// one. On ReasonTTLExceeded the packet is left untouched.
func DecrementTTL(pkt []byte, onLink bool) core.Reason {
	ttl := pkt[ttlOffset]
	if ttl == 0 || (!onLink && ttl <= 1) {
		return core.ReasonTTLExceeded
	}
	pkt[ttlOffset] = ttl - 1
	hl := int(pkt[0]&0x0f) * 4
	binary.BigEndian.PutUint16(pkt[checksumOffset:], HeaderChecksum(pkt, hl))
	return core.ReasonNone
}
