package ethernet

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/vrouter/internal/core"
)

// broadcastFrame is a 64-byte broadcast frame from 77:88:99:aa:bb:cc with an
// unrecognized type and a valid check sequence.
var broadcastFrame = []byte{
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x77, 0x88,
	0x99, 0xaa, 0xbb, 0xcc, 0xff, 0xff, 0xff, 0xff,
	0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0x3e, 0x93, 0x37, 0x2f,
}

func deadbeefFrame() []byte {
	f := bytes.Repeat([]byte{0xff}, 60)
	return append(f, 0xef, 0xbe, 0xad, 0xde)
}

var (
	macA = core.MAC{0x60, 0x6d, 0x67, 0xe2, 0xf9, 0x6e}
	macB = core.MAC{0x74, 0x2f, 0x13, 0x8b, 0x72, 0x69}
)

func TestDecode(t *testing.T) {
	h, et, err := Decode(broadcastFrame)
	require.NoError(t, err)
	assert.Equal(t, core.BroadcastMAC, h.Dst)
	assert.Equal(t, core.MAC{0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc}, h.Src)
	assert.Equal(t, uint16(0xffff), h.Type)
	assert.Equal(t, TypeUnrecognized, et)

	_, _, err = Decode(broadcastFrame[:13])
	assert.ErrorIs(t, err, core.ErrPacketTooShort)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, TypeIPv4, Classify(0x0800))
	assert.Equal(t, TypeARP, Classify(0x0806))
	assert.Equal(t, TypeUnrecognized, Classify(0x86dd))
}

func TestVerifyBroadcastFrame(t *testing.T) {
	assert.NoError(t, VerifyLengthAndFCS(broadcastFrame, false))
	assert.Equal(t, Broadcast, MatchInterface(broadcastFrame, macA))
}

func TestVerifyBadFCSReportsBothValues(t *testing.T) {
	frame := deadbeefFrame()
	err := VerifyLengthAndFCS(frame, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrBadFCS))

	var fcsErr *FCSError
	require.ErrorAs(t, err, &fcsErr)
	assert.Equal(t, uint32(0xdeadbeef), fcsErr.Got)
	assert.Equal(t, FCS(frame[:60]), fcsErr.Want)
	assert.NotEqual(t, fcsErr.Got, fcsErr.Want)
	assert.Equal(t, 64, fcsErr.Len)
	assert.Contains(t, err.Error(), "got 0xdeadbeef")
}

func TestVerifyShortFrame(t *testing.T) {
	err := VerifyLengthAndFCS(make([]byte, 54), true)
	assert.ErrorIs(t, err, core.ErrPacketTooShort)
	assert.Contains(t, err.Error(), "54-byte frame (short)")

	// 60 bytes is the shortest frame accepted when the check sequence is skipped.
	assert.NoError(t, VerifyLengthAndFCS(make([]byte, 60), true))
}

func TestVerifyOversizedFrame(t *testing.T) {
	err := VerifyLengthAndFCS(make([]byte, MaxFrameLen+1), true)
	assert.ErrorIs(t, err, core.ErrFrameTooLarge)
	assert.Contains(t, err.Error(), "1519-byte frame (oversized)")

	full, err := Build(macA, macB, uint16(TypeIPv4), make([]byte, MaxDataLen))
	require.NoError(t, err)
	require.Len(t, full, MaxFrameLen)
	assert.NoError(t, VerifyLengthAndFCS(full, false))
}

func TestSkipsFCS(t *testing.T) {
	arp, err := Build(macA, core.BroadcastMAC, uint16(TypeARP), make([]byte, 28))
	require.NoError(t, err)
	assert.True(t, SkipsFCS(arp))

	ip := make([]byte, 20)
	ip[0] = 0x45
	ip[9] = 6
	tcpFrame, err := Build(macA, macB, uint16(TypeIPv4), ip)
	require.NoError(t, err)
	assert.True(t, SkipsFCS(tcpFrame))

	ip[9] = 1
	icmpFrame, err := Build(macA, macB, uint16(TypeIPv4), ip)
	require.NoError(t, err)
	assert.False(t, SkipsFCS(icmpFrame))

	assert.False(t, SkipsFCS(broadcastFrame))
}

func TestMatchInterface(t *testing.T) {
	f, err := Build(macB, macA, uint16(TypeIPv4), nil)
	require.NoError(t, err)
	assert.Equal(t, Targeted, MatchInterface(f, macA))
	assert.Equal(t, NotForMe, MatchInterface(f, macB))
}

func TestBuildPadsAndVerifies(t *testing.T) {
	f, err := Build(macA, macB, uint16(TypeIPv4), []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Len(t, f, MinFrameLen)
	assert.Equal(t, []byte{1, 2, 3}, f[HeaderLen:HeaderLen+3])
	assert.Equal(t, make([]byte, MinDataLen-3), f[HeaderLen+3:HeaderLen+MinDataLen])
	assert.NoError(t, VerifyLengthAndFCS(f, false))

	pkt := gopacket.NewPacket(f, layers.LayerTypeEthernet, gopacket.Default)
	eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	require.True(t, ok)
	assert.Equal(t, macA[:], []byte(eth.SrcMAC))
	assert.Equal(t, macB[:], []byte(eth.DstMAC))
	assert.Equal(t, layers.EthernetTypeIPv4, eth.EthernetType)
}

func TestBuildTooLarge(t *testing.T) {
	_, err := Build(macA, macB, uint16(TypeIPv4), make([]byte, MaxDataLen+1))
	assert.ErrorIs(t, err, core.ErrFrameTooLarge)

	f, err := Build(macA, macB, uint16(TypeIPv4), make([]byte, MaxDataLen))
	require.NoError(t, err)
	assert.Len(t, f, MaxFrameLen)
}

func TestSingleByteFlipBreaksFCS(t *testing.T) {
	payload := []byte("frame check sequence covers every preceding byte")
	f, err := Build(macA, macB, uint16(TypeIPv4), payload)
	require.NoError(t, err)
	for i := 0; i < len(f)-FCSLen; i++ {
		c := bytes.Clone(f)
		c[i] ^= 0x01
		assert.ErrorIs(t, VerifyLengthAndFCS(c, false), core.ErrBadFCS, "flip at offset %d", i)
	}
}

func TestRewriteAddresses(t *testing.T) {
	f, err := Build(macA, macB, uint16(TypeIPv4), []byte{0x45})
	require.NoError(t, err)
	require.NoError(t, RewriteAddresses(f, macB, core.BroadcastMAC))

	h, _, err := Decode(f)
	require.NoError(t, err)
	assert.Equal(t, macB, h.Src)
	assert.Equal(t, core.BroadcastMAC, h.Dst)
	assert.NoError(t, VerifyLengthAndFCS(f, false))

	assert.ErrorIs(t, RewriteAddresses(make([]byte, 10), macA, macB), core.ErrPacketTooShort)
}

func TestPayload(t *testing.T) {
	f, err := Build(macA, macB, uint16(TypeARP), make([]byte, 28))
	require.NoError(t, err)
	assert.Len(t, Payload(f), MinDataLen)
	assert.Nil(t, Payload(make([]byte, 5)))
}

func BenchmarkVerifyLengthAndFCS(b *testing.B) {
	f, _ := Build(macA, macB, uint16(TypeIPv4), make([]byte, MaxDataLen))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = VerifyLengthAndFCS(f, false)
	}
}
