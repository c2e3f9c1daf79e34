// Package checksum implements the Internet checksum (RFC 1071) used by the
// IPv4, ICMP and TCP layers.
package checksum

import (
	"encoding/binary"
	"net/netip"
)

// Accumulator is a running ones' complement sum. The zero value is ready to use.
type Accumulator struct {
	sum uint32
}

// Write adds b to the running sum. An odd trailing byte is treated as the
// high byte of a zero padded word.
func (a *Accumulator) Write(b []byte) {
	n := len(b) &^ 1
	for i := 0; i < n; i += 2 {
		a.sum += uint32(binary.BigEndian.Uint16(b[i:]))
	}
	if len(b)&1 == 1 {
		a.sum += uint32(b[len(b)-1]) << 8
	}
	a.fold()
}

// AddUint16 adds a big-endian 16-bit word.
func (a *Accumulator) AddUint16(v uint16) {
	a.sum += uint32(v)
	a.fold()
}

// AddAddr adds the four bytes of an IPv4 address as two words.
func (a *Accumulator) AddAddr(addr netip.Addr) {
	b := addr.As4()
	a.Write(b[:])
}

// Sum16 folds the carries and returns the complemented 16-bit checksum.
func (a *Accumulator) Sum16() uint16 {
	s := a.sum
	for s>>16 != 0 {
		s = (s & 0xffff) + s>>16
	}
	return ^uint16(s)
}

func (a *Accumulator) fold() {
	for a.sum>>16 != 0 {
		a.sum = (a.sum & 0xffff) + a.sum>>16
	}
}

// Sum returns the Internet checksum of b.
func Sum(b []byte) uint16 {
	var a Accumulator
	a.Write(b)
	return a.Sum16()
}

// Pseudo returns an accumulator seeded with the IPv4 pseudo-header: source,
// destination, a zero byte, the protocol number and the upper-layer length.
func Pseudo(src, dst netip.Addr, proto uint8, length int) Accumulator {
	var a Accumulator
	a.AddAddr(src)
	a.AddAddr(dst)
	a.AddUint16(uint16(proto))
	a.AddUint16(uint16(length))
	return a
}

// Transport returns the checksum of an upper-layer segment under the IPv4
// pseudo-header. The segment's own checksum field must already be zero.
func Transport(src, dst netip.Addr, proto uint8, segment []byte) uint16 {
	a := Pseudo(src, dst, proto, len(segment))
	a.Write(segment)
	return a.Sum16()
}
