// Package ethernet implements the Ethernet II frame codec: header decoding,
// length and frame check sequence verification, destination matching and
// frame construction.
package ethernet

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"firestige.xyz/vrouter/internal/core"
)

const (
	HeaderLen   = 14
	FCSLen      = 4
	MinDataLen  = 46
	MaxDataLen  = 1500
	MinFrameLen = HeaderLen + MinDataLen + FCSLen // 64
	MaxFrameLen = HeaderLen + MaxDataLen + FCSLen // 1518

	// offset of the IPv4 protocol byte inside a frame
	ipProtoOffset = HeaderLen + 9
	ipProtoTCP    = 6
)

// EtherType is the classified type field of a frame.
type EtherType uint16

const (
	TypeUnrecognized EtherType = 0
	TypeIPv4         EtherType = 0x0800
	TypeARP          EtherType = 0x0806
)

func (t EtherType) String() string {
	switch t {
	case TypeIPv4:
		return "ipv4"
	case TypeARP:
		return "arp"
	}
	return "unrecognized"
}

// Header is a decoded Ethernet II header.
type Header struct {
	Dst  core.MAC
	Src  core.MAC
	Type uint16 // raw type field
}

// Classify maps a raw type field to IPv4, ARP or Unrecognized.
func Classify(raw uint16) EtherType {
	switch EtherType(raw) {
	case TypeIPv4, TypeARP:
		return EtherType(raw)
	}
	return TypeUnrecognized
}

// Decode reads the destination, source and type of a frame.
func Decode(buf []byte) (Header, EtherType, error) {
	if len(buf) < HeaderLen {
		return Header{}, TypeUnrecognized, core.ErrPacketTooShort
	}
	var h Header
	copy(h.Dst[:], buf[0:6])
	copy(h.Src[:], buf[6:12])
	h.Type = binary.BigEndian.Uint16(buf[12:14])
	return h, Classify(h.Type), nil
}

// FCS returns the CRC-32 (IEEE) frame check sequence of b.
func FCS(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

// StoredFCS reads the trailing check sequence. The value is stored
// little-endian on the wire.
func StoredFCS(buf []byte) uint32 {
	return binary.LittleEndian.Uint32(buf[len(buf)-FCSLen:])
}

// FCSError reports a frame whose trailing check sequence does not match the
// recomputed value.
type FCSError struct {
	Len  int
	Got  uint32
	Want uint32
}

func (e *FCSError) Error() string {
	return fmt.Sprintf("ignoring %d-byte frame (bad fcs: got 0x%x, expected 0x%x)", e.Len, e.Got, e.Want)
}

func (e *FCSError) Unwrap() error { return core.ErrBadFCS }

// SkipsFCS reports whether the frame is exempt from FCS comparison: ARP
// frames and IPv4 frames carrying TCP.
func SkipsFCS(buf []byte) bool {
	if len(buf) < HeaderLen {
		return false
	}
	switch Classify(binary.BigEndian.Uint16(buf[12:14])) {
	case TypeARP:
		return true
	case TypeIPv4:
		return len(buf) > ipProtoOffset && buf[ipProtoOffset] == ipProtoTCP
	}
	return false
}

// VerifyLengthAndFCS checks that buf holds at least a minimum frame without
// its check sequence and at most a maximum frame with it, and, unless skipFCS
// is set, that the trailing four
// bytes equal the CRC of everything before them.
func VerifyLengthAndFCS(buf []byte, skipFCS bool) error {
	if len(buf) < MinFrameLen-FCSLen {
		return fmt.Errorf("ignoring %d-byte frame (short): %w", len(buf), core.ErrPacketTooShort)
	}
	if len(buf) > MaxFrameLen {
		return fmt.Errorf("ignoring %d-byte frame (oversized): %w", len(buf), core.ErrFrameTooLarge)
	}
	if skipFCS {
		return nil
	}
	got := StoredFCS(buf)
	want := FCS(buf[:len(buf)-FCSLen])
	if got != want {
		return &FCSError{Len: len(buf), Got: got, Want: want}
	}
	return nil
}

// Match is the relation between a frame's destination and an interface.
type Match int

const (
	NotForMe Match = iota
	Targeted
	Broadcast
)

func (m Match) String() string {
	switch m {
	case Targeted:
		return "targeted"
	case Broadcast:
		return "broadcast"
	}
	return "not_for_me"
}

// MatchInterface classifies the frame destination against mac.
func MatchInterface(buf []byte, mac core.MAC) Match {
	if len(buf) < 6 {
		return NotForMe
	}
	var dst core.MAC
	copy(dst[:], buf[0:6])
	switch {
	case dst == mac:
		return Targeted
	case dst.IsBroadcast():
		return Broadcast
	}
	return NotForMe
}

// RewriteAddresses replaces the source and destination MACs in place and
// recomputes the trailing check sequence.
func RewriteAddresses(buf []byte, src, dst core.MAC) error {
	if len(buf) < HeaderLen+FCSLen {
		return core.ErrPacketTooShort
	}
	copy(buf[0:6], dst[:])
	copy(buf[6:12], src[:])
	putFCS(buf)
	return nil
}

// Build assembles a frame around payload. Payloads shorter than the minimum
// data length are zero padded; a fresh check sequence is appended.
func Build(src, dst core.MAC, etherType uint16, payload []byte) ([]byte, error) {
	if len(payload) > MaxDataLen {
		return nil, fmt.Errorf("%d-byte payload: %w", len(payload), core.ErrFrameTooLarge)
	}
	dataLen := max(len(payload), MinDataLen)
	buf := make([]byte, HeaderLen+dataLen+FCSLen)
	copy(buf[0:6], dst[:])
	copy(buf[6:12], src[:])
	binary.BigEndian.PutUint16(buf[12:14], etherType)
	copy(buf[HeaderLen:], payload)
	putFCS(buf)
	return buf, nil
}

// Payload returns the bytes between the header and the check sequence.
func Payload(buf []byte) []byte {
	if len(buf) < HeaderLen+FCSLen {
		return nil
	}
	return buf[HeaderLen : len(buf)-FCSLen]
}

func putFCS(buf []byte) {
	n := len(buf) - FCSLen
	binary.LittleEndian.PutUint32(buf[n:], FCS(buf[:n]))
}
