// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors. Callers wrap them with context and match with errors.Is.
var (
	// Frame errors
	ErrPacketTooShort   = errors.New("vrouter: packet too short")
	ErrFrameTooLarge    = errors.New("vrouter: frame payload too large")
	ErrBadFCS           = errors.New("vrouter: bad frame check sequence")
	ErrUnsupportedProto = errors.New("vrouter: unsupported protocol")

	// ARP errors
	ErrARPHardwareType = errors.New("vrouter: arp hardware type is not ethernet")
	ErrARPProtocolType = errors.New("vrouter: arp protocol type is not ipv4")
	ErrARPHardwareSize = errors.New("vrouter: arp hardware size mismatch")
	ErrARPProtocolSize = errors.New("vrouter: arp protocol size mismatch")

	// Routing errors
	ErrNoRoute = errors.New("vrouter: no route to host")
	ErrNoARP   = errors.New("vrouter: no arp entry")

	// TCP errors
	ErrBadSegmentLength   = errors.New("vrouter: bad tcp segment length")
	ErrBadChecksum        = errors.New("vrouter: bad checksum")
	ErrNotListening       = errors.New("vrouter: not listening on port")
	ErrAlreadyEstablished = errors.New("vrouter: connection already established")
	ErrNoConnection       = errors.New("vrouter: no such connection")
	ErrInvalidPort        = errors.New("vrouter: invalid port")

	// Link errors
	ErrLinkClosed      = errors.New("vrouter: link closed")
	ErrUnknownLinkType = errors.New("vrouter: unknown link type")

	// Configuration errors
	ErrConfigInvalid = errors.New("vrouter: invalid configuration")
)
