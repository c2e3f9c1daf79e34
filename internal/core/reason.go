package core

// Reason classifies why an IP packet was dropped.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonNotIPv4
	ReasonBadIHL
	ReasonBadIPLength
	ReasonTTLExceeded
	ReasonBadIPChecksum
	ReasonNoRoute
	ReasonNoARP
)

var reasonNames = map[Reason]string{
	ReasonNone:          "none",
	ReasonNotIPv4:       "not_ipv4",
	ReasonBadIHL:        "bad_ihl",
	ReasonBadIPLength:   "bad_ip_length",
	ReasonTTLExceeded:   "ttl_exceeded",
	ReasonBadIPChecksum: "bad_ip_checksum",
	ReasonNoRoute:       "no_route",
	ReasonNoARP:         "no_arp",
}

func (r Reason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return "unknown"
}

// Malformed reports whether the reason describes a broken header rather than
// a routing or lifetime failure.
func (r Reason) Malformed() bool {
	switch r {
	case ReasonNotIPv4, ReasonBadIHL, ReasonBadIPLength, ReasonBadIPChecksum:
		return true
	}
	return false
}
