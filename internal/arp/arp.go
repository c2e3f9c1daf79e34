// Package arp implements ARP message parsing and validation, the static ARP
// cache and request to reply transformation for Ethernet/IPv4.
package arp

import (
	"encoding/binary"
	"errors"
	"net/netip"

	"firestige.xyz/vrouter/internal/core"
	"firestige.xyz/vrouter/internal/ethernet"
)

const (
	MessageLen = 28

	OpRequest uint16 = 1
	OpReply   uint16 = 2

	HardwareEthernet uint16 = 1
	ProtocolIPv4     uint16 = 0x0800
	HardwareSize     uint8  = 6
	ProtocolSize     uint8  = 4
)

// Message is a decoded Ethernet/IPv4 ARP message.
type Message struct {
	HardwareType uint16
	ProtocolType uint16
	HardwareSize uint8
	ProtocolSize uint8
	Opcode       uint16
	SenderMAC    core.MAC
	SenderIP     netip.Addr
	TargetMAC    core.MAC
	TargetIP     netip.Addr
}

// Parse decodes the fixed 28-byte Ethernet/IPv4 layout. Field values are
// not checked; see Validate.
func Parse(b []byte) (Message, error) {
	if len(b) < MessageLen {
		return Message{}, core.ErrPacketTooShort
	}
	m := Message{
		HardwareType: binary.BigEndian.Uint16(b[0:2]),
		ProtocolType: binary.BigEndian.Uint16(b[2:4]),
		HardwareSize: b[4],
		ProtocolSize: b[5],
		Opcode:       binary.BigEndian.Uint16(b[6:8]),
		SenderIP:     core.AddrFromSlice(b[14:18]),
		TargetIP:     core.AddrFromSlice(b[24:28]),
	}
	copy(m.SenderMAC[:], b[8:14])
	copy(m.TargetMAC[:], b[18:24])
	return m, nil
}

// Marshal encodes m into a new 28-byte slice.
func (m Message) Marshal() []byte {
	b := make([]byte, MessageLen)
	binary.BigEndian.PutUint16(b[0:2], m.HardwareType)
	binary.BigEndian.PutUint16(b[2:4], m.ProtocolType)
	b[4] = m.HardwareSize
	b[5] = m.ProtocolSize
	binary.BigEndian.PutUint16(b[6:8], m.Opcode)
	copy(b[8:14], m.SenderMAC[:])
	putAddr(b[14:18], m.SenderIP)
	copy(b[18:24], m.TargetMAC[:])
	putAddr(b[24:28], m.TargetIP)
	return b
}

func putAddr(b []byte, a netip.Addr) {
	if a.Is4() {
		v := a.As4()
		copy(b, v[:])
	}
}

// Validate accepts only Ethernet hardware with 6-byte addresses and IPv4
// protocol addresses of 4 bytes.
func Validate(m Message) error {
	switch {
	case m.HardwareType != HardwareEthernet:
		return core.ErrARPHardwareType
	case m.ProtocolType != ProtocolIPv4:
		return core.ErrARPProtocolType
	case m.HardwareSize != HardwareSize:
		return core.ErrARPHardwareSize
	case m.ProtocolSize != ProtocolSize:
		return core.ErrARPProtocolSize
	}
	return nil
}

// Describe returns the operator diagnostic for a validation error.
func Describe(err error) string {
	switch {
	case errors.Is(err, core.ErrARPHardwareType):
		return "ARP packet is not ethernet HW type."
	case errors.Is(err, core.ErrARPProtocolType):
		return "ARP packet is not protocol type."
	case errors.Is(err, core.ErrARPHardwareSize):
		return "ARP packet is not hardware size."
	case errors.Is(err, core.ErrARPProtocolSize):
		return "ARP packet is not protocol size."
	}
	return err.Error()
}

// Reply turns a request for iface's address into the matching reply. The
// second result is false when the request targets some other address.
func Reply(req Message, iface core.Interface) (Message, bool) {
	if req.TargetIP != iface.IP {
		return Message{}, false
	}
	rep := req
	rep.Opcode = OpReply
	rep.TargetIP = req.SenderIP
	rep.TargetMAC = req.SenderMAC
	rep.SenderIP = iface.IP
	rep.SenderMAC = iface.MAC
	return rep, true
}

// ReplyFrame builds the Ethernet frame carrying the reply to req, addressed
// from iface to the requester.
func ReplyFrame(req Message, iface core.Interface) ([]byte, bool, error) {
	rep, ok := Reply(req, iface)
	if !ok {
		return nil, false, nil
	}
	f, err := ethernet.Build(iface.MAC, rep.TargetMAC, uint16(ethernet.TypeARP), rep.Marshal())
	if err != nil {
		return nil, false, err
	}
	return f, true, nil
}

// BuildRequest constructs a standalone ARP frame. The frame is addressed to
// targetMAC, which is the broadcast address for an ordinary request.
func BuildRequest(srcIP, targetIP netip.Addr, opcode uint16, srcMAC, targetMAC core.MAC) ([]byte, error) {
	m := Message{
		HardwareType: HardwareEthernet,
		ProtocolType: ProtocolIPv4,
		HardwareSize: HardwareSize,
		ProtocolSize: ProtocolSize,
		Opcode:       opcode,
		SenderMAC:    srcMAC,
		SenderIP:     srcIP,
		TargetMAC:    targetMAC,
		TargetIP:     targetIP,
	}
	return ethernet.Build(srcMAC, targetMAC, uint16(ethernet.TypeARP), m.Marshal())
}
