// Package icmp synthesises ICMP error messages for dropped IPv4 packets and
// decides which drop reasons are answered with one.
package icmp

import (
	"encoding/binary"
	"fmt"

	xicmp "golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"firestige.xyz/vrouter/internal/core"
)

const (
	HeaderLen = 8

	// MaxQuotedPayload is the number of original payload bytes quoted after
	// the original header.
	MaxQuotedPayload = 8

	CodeNetUnreachable  uint8 = 0
	CodeHostUnreachable uint8 = 1
	CodeTTLExceeded     uint8 = 0
)

var (
	TypeDestinationUnreachable = uint8(ipv4.ICMPTypeDestinationUnreachable)
	TypeTimeExceeded           = uint8(ipv4.ICMPTypeTimeExceeded)
)

// ForReason maps a drop reason to the ICMP error it triggers. Malformed
// header reasons trigger nothing.
func ForReason(r core.Reason) (typ, code uint8, ok bool) {
	switch r {
	case core.ReasonNoRoute:
		return TypeDestinationUnreachable, CodeNetUnreachable, true
	case core.ReasonNoARP:
		return TypeDestinationUnreachable, CodeHostUnreachable, true
	case core.ReasonTTLExceeded:
		return TypeTimeExceeded, CodeTTLExceeded, true
	}
	return 0, 0, false
}

// BuildError builds an ICMP error quoting the original packet: its header,
// as long as its IHL declares, followed by up to eight bytes of its payload.
func BuildError(orig []byte, typ, code uint8) ([]byte, error) {
	if len(orig) < 20 {
		return nil, core.ErrPacketTooShort
	}
	ihl := int(orig[0]&0x0f) * 4
	total := int(binary.BigEndian.Uint16(orig[2:4]))
	quoted := ihl + min(max(total-ihl, 0), MaxQuotedPayload)
	if quoted > len(orig) {
		return nil, fmt.Errorf("quote %d bytes of %d-byte packet: %w", quoted, len(orig), core.ErrPacketTooShort)
	}

	data := append([]byte(nil), orig[:quoted]...)
	var body xicmp.MessageBody
	switch typ {
	case TypeDestinationUnreachable:
		body = &xicmp.DstUnreach{Data: data}
	case TypeTimeExceeded:
		body = &xicmp.TimeExceeded{Data: data}
	default:
		return nil, fmt.Errorf("icmp type %d is not an error message", typ)
	}
	m := xicmp.Message{Type: ipv4.ICMPType(typ), Code: int(code), Body: body}
	msg, err := m.Marshal(nil)
	if err != nil {
		return nil, fmt.Errorf("marshal icmp %d/%d: %w", typ, code, err)
	}
	return msg, nil
}
