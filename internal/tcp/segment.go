// Package tcp implements the router's TCP endpoint: segment encoding and
// validation, the connection table and the per-connection state machine.
package tcp

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"

	"firestige.xyz/vrouter/internal/checksum"
	"firestige.xyz/vrouter/internal/core"
	"firestige.xyz/vrouter/internal/ipv4"
)

const (
	HeaderLen = 20

	// DataOffset is the data offset, in 32-bit words, of every segment this
	// endpoint emits. No options are sent.
	DataOffset = HeaderLen / 4

	checksumOffset = 16
)

// Flags is the set of control bits of a segment. Bits are independent;
// SYN|ACK and FIN|ACK are ordinary combinations.
type Flags uint8

const (
	FIN Flags = 0x01
	SYN Flags = 0x02
	RST Flags = 0x04
	PSH Flags = 0x08
	ACK Flags = 0x10
	URG Flags = 0x20

	flagMask = 0x3f
)

// Has reports whether every bit of f2 is set in f.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

var flagNames = []struct {
	f    Flags
	name string
}{{URG, "URG"}, {ACK, "ACK"}, {PSH, "PSH"}, {RST, "RST"}, {SYN, "SYN"}, {FIN, "FIN"}}

func (f Flags) String() string {
	var parts []string
	for _, n := range flagNames {
		if f.Has(n.f) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Segment is a decoded TCP segment. Payload aliases the decoded buffer.
type Segment struct {
	SrcPort    uint16
	DstPort    uint16
	Seq        uint32
	Ack        uint32
	DataOffset uint8 // in 32-bit words
	Flags      Flags
	Window     uint16
	Checksum   uint16
	Urgent     uint16
	Payload    []byte
}

// Decode reads a segment. The payload starts after the data offset the
// header declares.
func Decode(b []byte) (Segment, error) {
	if len(b) < HeaderLen {
		return Segment{}, core.ErrBadSegmentLength
	}
	orc := binary.BigEndian.Uint16(b[12:14])
	s := Segment{
		SrcPort:    binary.BigEndian.Uint16(b[0:2]),
		DstPort:    binary.BigEndian.Uint16(b[2:4]),
		Seq:        binary.BigEndian.Uint32(b[4:8]),
		Ack:        binary.BigEndian.Uint32(b[8:12]),
		DataOffset: uint8(orc >> 12),
		Flags:      Flags(orc & flagMask),
		Window:     binary.BigEndian.Uint16(b[14:16]),
		Checksum:   binary.BigEndian.Uint16(b[16:18]),
		Urgent:     binary.BigEndian.Uint16(b[18:20]),
	}
	off := int(s.DataOffset) * 4
	if off < HeaderLen || off > len(b) {
		return s, core.ErrBadSegmentLength
	}
	s.Payload = b[off:]
	return s, nil
}

// Marshal encodes s with a fixed 20-byte header and fills in the checksum
// computed under the pseudo-header for src and dst.
func (s Segment) Marshal(src, dst netip.Addr) []byte {
	b := make([]byte, HeaderLen+len(s.Payload))
	binary.BigEndian.PutUint16(b[0:2], s.SrcPort)
	binary.BigEndian.PutUint16(b[2:4], s.DstPort)
	binary.BigEndian.PutUint32(b[4:8], s.Seq)
	binary.BigEndian.PutUint32(b[8:12], s.Ack)
	binary.BigEndian.PutUint16(b[12:14], uint16(DataOffset)<<12|uint16(s.Flags&flagMask))
	binary.BigEndian.PutUint16(b[14:16], s.Window)
	binary.BigEndian.PutUint16(b[18:20], s.Urgent)
	copy(b[HeaderLen:], s.Payload)
	binary.BigEndian.PutUint16(b[checksumOffset:], checksum.Transport(src, dst, ipv4.ProtoTCP, b))
	return b
}

// SegmentChecksum recomputes the checksum of seg with its checksum field
// taken as zero. seg is not modified.
func SegmentChecksum(src, dst netip.Addr, seg []byte) uint16 {
	a := checksum.Pseudo(src, dst, ipv4.ProtoTCP, len(seg))
	a.Write(seg[:checksumOffset])
	a.Write(seg[checksumOffset+2:])
	return a.Sum16()
}

// PortSet is the set of local ports accepting segments, in configuration
// order.
type PortSet []uint16

// Contains reports whether p is a listening port.
func (ps PortSet) Contains(p uint16) bool {
	for _, q := range ps {
		if q == p {
			return true
		}
	}
	return false
}

// ValidateSegment checks that seg is at least as long as its data offset
// declares, that its checksum matches under the pseudo-header, and that the
// destination port is listening.
func ValidateSegment(seg []byte, src, dst netip.Addr, listening PortSet) error {
	if len(seg) < HeaderLen {
		return fmt.Errorf("%d-byte segment: %w", len(seg), core.ErrBadSegmentLength)
	}
	declared := int(seg[12]>>4) * 4
	if len(seg) < declared {
		return fmt.Errorf("%d-byte segment, offset %d: %w", len(seg), declared, core.ErrBadSegmentLength)
	}
	if got, want := binary.BigEndian.Uint16(seg[checksumOffset:]), SegmentChecksum(src, dst, seg); got != want {
		return fmt.Errorf("got 0x%04x, want 0x%04x: %w", got, want, core.ErrBadChecksum)
	}
	if port := binary.BigEndian.Uint16(seg[2:4]); !listening.Contains(port) {
		return fmt.Errorf("port %d: %w", port, core.ErrNotListening)
	}
	return nil
}
