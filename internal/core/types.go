// Package core defines the value types shared by every layer of the router.
package core

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
)

// MAC is a 48-bit Ethernet hardware address.
type MAC [6]byte

// BroadcastMAC is the all-ones Ethernet destination.
var BroadcastMAC = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// ParseMAC parses a colon or dash separated 48-bit hardware address.
func ParseMAC(s string) (MAC, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return MAC{}, err
	}
	if len(hw) != 6 {
		return MAC{}, fmt.Errorf("mac %q is not 48 bits", s)
	}
	var m MAC
	copy(m[:], hw)
	return m, nil
}

func (m MAC) String() string {
	return net.HardwareAddr(m[:]).String()
}

// Spaced renders the address as space separated hex bytes, the form used in
// frame diagnostics ("77 88 99 aa bb cc").
func (m MAC) Spaced() string {
	return fmt.Sprintf("% x", m[:])
}

// IsBroadcast reports whether m is ff:ff:ff:ff:ff:ff.
func (m MAC) IsBroadcast() bool {
	return m == BroadcastMAC
}

// Interface is one router port: its identity, addresses and position in the
// interface table. The link carrying its frames is held by the router.
type Interface struct {
	Index int
	Name  string
	IP    netip.Addr
	MAC   MAC
}

func (i Interface) String() string {
	if i.Name != "" {
		return i.Name
	}
	return fmt.Sprintf("if%d", i.Index)
}

// Route is one static routing table row. A zero Gateway means the network is
// directly connected.
type Route struct {
	Network   netip.Addr
	Netmask   netip.Addr
	Gateway   netip.Addr
	Interface int
}

// OnLink reports whether the route has no gateway.
func (r Route) OnLink() bool {
	return !r.Gateway.IsValid() || r.Gateway.IsUnspecified()
}

// Matches reports whether dst & netmask == network.
func (r Route) Matches(dst netip.Addr) bool {
	return AddrToUint32(dst)&AddrToUint32(r.Netmask) == AddrToUint32(r.Network)
}

// ArpEntry is one static IP to MAC mapping.
type ArpEntry struct {
	IP  netip.Addr
	MAC MAC
}

// AddrToUint32 returns the host-order value of an IPv4 address. Non-IPv4
// addresses map to zero.
func AddrToUint32(a netip.Addr) uint32 {
	if !a.Is4() {
		return 0
	}
	b := a.As4()
	return binary.BigEndian.Uint32(b[:])
}

// Uint32ToAddr is the inverse of AddrToUint32.
func Uint32ToAddr(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}

// AddrFromSlice reads a 4-byte IPv4 address. The slice must hold at least
// four bytes.
func AddrFromSlice(b []byte) netip.Addr {
	return netip.AddrFrom4([4]byte{b[0], b[1], b[2], b[3]})
}

// Printer receives operator-facing diagnostic lines. *logrus.Logger
// satisfies it.
type Printer interface {
	Printf(format string, args ...any)
}
