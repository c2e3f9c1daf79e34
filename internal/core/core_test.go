package core

import (
	"errors"
	"fmt"
	"net/netip"
	"testing"
)

func TestParseMAC(t *testing.T) {
	tests := []struct {
		input   string
		want    MAC
		wantErr bool
	}{
		{"60:6D:67:E2:F9:6E", MAC{0x60, 0x6d, 0x67, 0xe2, 0xf9, 0x6e}, false},
		{"60-6d-67-e2-f9-6e", MAC{0x60, 0x6d, 0x67, 0xe2, 0xf9, 0x6e}, false},
		{"ff:ff:ff:ff:ff:ff", BroadcastMAC, false},
		{"60:6D:67:E2:F9", MAC{}, true},
		{"00:00:00:00:fe:80:00:00", MAC{}, true},
		{"not-a-mac", MAC{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMAC(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMAC(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseMAC(%q) = %v, expected %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestMACFormatting(t *testing.T) {
	m := MAC{0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc}
	if got := m.String(); got != "77:88:99:aa:bb:cc" {
		t.Errorf("String() = %q", got)
	}
	if got := m.Spaced(); got != "77 88 99 aa bb cc" {
		t.Errorf("Spaced() = %q", got)
	}
	if m.IsBroadcast() || !BroadcastMAC.IsBroadcast() {
		t.Error("IsBroadcast mismatch")
	}
}

func TestInterfaceString(t *testing.T) {
	if got := (Interface{Index: 2}).String(); got != "if2" {
		t.Errorf("expected if2, got %q", got)
	}
	if got := (Interface{Index: 2, Name: "r0_2"}).String(); got != "r0_2" {
		t.Errorf("expected r0_2, got %q", got)
	}
}

func TestRoute(t *testing.T) {
	r := Route{
		Network: netip.MustParseAddr("160.4.0.0"),
		Netmask: netip.MustParseAddr("255.255.0.0"),
		Gateway: netip.MustParseAddr("100.3.0.5"),
	}
	if !r.Matches(netip.MustParseAddr("160.4.9.9")) {
		t.Error("expected 160.4.9.9 to match")
	}
	if r.Matches(netip.MustParseAddr("160.5.0.1")) {
		t.Error("expected 160.5.0.1 not to match")
	}
	if r.OnLink() {
		t.Error("route with gateway reported on-link")
	}
	r.Gateway = netip.Addr{}
	if !r.OnLink() {
		t.Error("route without gateway reported off-link")
	}
	r.Gateway = netip.IPv4Unspecified()
	if !r.OnLink() {
		t.Error("route with 0.0.0.0 gateway reported off-link")
	}
}

func TestAddrConversions(t *testing.T) {
	a := netip.MustParseAddr("80.1.0.1")
	v := AddrToUint32(a)
	if v != 0x50010001 {
		t.Errorf("AddrToUint32 = %#x", v)
	}
	if Uint32ToAddr(v) != a {
		t.Errorf("Uint32ToAddr round trip failed")
	}
	if AddrFromSlice([]byte{80, 1, 0, 1, 99}) != a {
		t.Errorf("AddrFromSlice mismatch")
	}
	if AddrToUint32(netip.MustParseAddr("::1")) != 0 {
		t.Error("IPv6 address should map to zero")
	}
}

func TestReason(t *testing.T) {
	if ReasonTTLExceeded.String() != "ttl_exceeded" {
		t.Errorf("unexpected name %q", ReasonTTLExceeded)
	}
	if Reason(99).String() != "unknown" {
		t.Errorf("unexpected name %q", Reason(99))
	}
	for _, r := range []Reason{ReasonNotIPv4, ReasonBadIHL, ReasonBadIPLength, ReasonBadIPChecksum} {
		if !r.Malformed() {
			t.Errorf("%s should be malformed", r)
		}
	}
	for _, r := range []Reason{ReasonNone, ReasonTTLExceeded, ReasonNoRoute, ReasonNoARP} {
		if r.Malformed() {
			t.Errorf("%s should not be malformed", r)
		}
	}
}

func TestSentinelErrors(t *testing.T) {
	errs := []error{
		ErrPacketTooShort, ErrFrameTooLarge, ErrBadFCS, ErrUnsupportedProto,
		ErrARPHardwareType, ErrARPProtocolType, ErrARPHardwareSize, ErrARPProtocolSize,
		ErrNoRoute, ErrNoARP,
		ErrBadSegmentLength, ErrBadChecksum, ErrNotListening, ErrAlreadyEstablished, ErrNoConnection, ErrInvalidPort,
		ErrLinkClosed, ErrUnknownLinkType, ErrConfigInvalid,
	}
	seen := make(map[string]bool)
	for _, err := range errs {
		if seen[err.Error()] {
			t.Errorf("duplicate error message %q", err)
		}
		seen[err.Error()] = true

		wrapped := fmt.Errorf("context: %w", err)
		if !errors.Is(wrapped, err) {
			t.Errorf("errors.Is failed for wrapped %v", err)
		}
	}
}
