package link

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/vrouter/internal/core"
)

func TestOpenUnknownType(t *testing.T) {
	_, err := Open(Config{Type: "carrier-pigeon"})
	assert.ErrorIs(t, err, core.ErrUnknownLinkType)
	assert.ErrorIs(t, Validate(Config{Type: "carrier-pigeon"}), core.ErrUnknownLinkType)
}

func TestTypes(t *testing.T) {
	assert.Equal(t, []string{"udp", "unixgram"}, Types())
}

func TestValidateRejectsUnknownOptions(t *testing.T) {
	err := Validate(Config{Type: TypeUDP, Options: map[string]any{"local": "127.0.0.1:0", "mtu": 1500}})
	assert.Error(t, err)
	assert.NoError(t, Validate(Config{Type: TypeUDP, Options: map[string]any{"local": "127.0.0.1:0", "read_buffer": "65536"}}))
}

func TestPipe(t *testing.T) {
	a, b := NewPipe(1)
	frame := []byte{1, 2, 3}
	require.NoError(t, a.Send(frame))
	frame[0] = 9

	got, err := b.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got, "send copies the frame")
	assert.Same(t, a, b.Peer())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Receive(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, b.Close())
	_, err = a.Receive(context.Background())
	assert.ErrorIs(t, err, core.ErrLinkClosed)
	assert.ErrorIs(t, a.Send(frame), core.ErrLinkClosed)
}

func TestPipeNotConfigurable(t *testing.T) {
	_, err := Open(Config{Type: "pipe"})
	assert.ErrorIs(t, err, core.ErrUnknownLinkType)
	assert.ErrorIs(t, Validate(Config{Type: "pipe"}), core.ErrUnknownLinkType)
}

func TestUDPLearnsPeer(t *testing.T) {
	al, err := Open(Config{Type: TypeUDP, Options: map[string]any{"local": "127.0.0.1:0"}})
	require.NoError(t, err)
	defer al.Close()
	a := al.(*packetLink)

	assert.Error(t, a.Send([]byte{1}), "no peer before the first datagram")

	bl, err := Open(Config{Type: TypeUDP, Options: map[string]any{
		"local":  "127.0.0.1:0",
		"remote": a.LocalAddr().String(),
	}})
	require.NoError(t, err)
	defer bl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, bl.Send([]byte("ping")))
	got, err := a.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), got)

	require.NoError(t, a.Send([]byte("pong")))
	got, err = bl.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("pong"), got)
}

func TestUDPReceiveHonoursContext(t *testing.T) {
	l, err := Open(Config{Type: TypeUDP, Options: map[string]any{"local": "127.0.0.1:0"}})
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// a later receive is not affected by the expired deadline
	peer, err := net.DialUDP("udp", nil, l.(*packetLink).LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer peer.Close()
	_, err = peer.Write([]byte{5})
	require.NoError(t, err)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	got, err := l.Receive(ctx2)
	require.NoError(t, err)
	assert.Equal(t, []byte{5}, got)
}

func TestUDPClosed(t *testing.T) {
	l, err := Open(Config{Type: TypeUDP, Options: map[string]any{"local": "127.0.0.1:0"}})
	require.NoError(t, err)
	require.NoError(t, l.Close())
	_, err = l.Receive(context.Background())
	assert.ErrorIs(t, err, core.ErrLinkClosed)
}

func TestUDPRequiresLocal(t *testing.T) {
	_, err := Open(Config{Type: TypeUDP})
	assert.Error(t, err)
}

func TestUnixgram(t *testing.T) {
	dir := t.TempDir()
	pa, pb := filepath.Join(dir, "a.sock"), filepath.Join(dir, "b.sock")

	a, err := Open(Config{Type: TypeUnixgram, Options: map[string]any{"local": pa, "remote": pb}})
	require.NoError(t, err)
	b, err := Open(Config{Type: TypeUnixgram, Options: map[string]any{"local": pb, "remote": pa}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Send([]byte("frame")))
	got, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("frame"), got)

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
	_, err = os.Stat(pa)
	assert.ErrorIs(t, err, os.ErrNotExist, "socket file is removed on close")
}

func TestTapRecordsBothDirections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cap.pcap")
	tap, err := NewTap(path, 0)
	require.NoError(t, err)
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	tap.now = func() time.Time { return fixed }

	a, b := NewPipe(2)
	la := tap.Wrap(a)
	require.NoError(t, la.Send([]byte{0xaa, 0xbb}))
	require.NoError(t, b.Send([]byte{0xcc}))
	_, err = la.Receive(context.Background())
	require.NoError(t, err)
	require.NoError(t, tap.Close())
	assert.ErrorIs(t, tap.Record([]byte{1}), os.ErrClosed)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r, err := pcapgo.NewReader(f)
	require.NoError(t, err)
	assert.Equal(t, layers.LinkTypeEthernet, r.LinkType())

	data, ci, err := r.ReadPacketData()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xaa, 0xbb}, data)
	assert.True(t, ci.Timestamp.Equal(fixed))
	data, _, err = r.ReadPacketData()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xcc}, data)
}

func TestTapTruncatesToSnapLen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cap.pcap")
	tap, err := NewTap(path, 4)
	require.NoError(t, err)
	require.NoError(t, tap.Record(make([]byte, 10)))
	require.NoError(t, tap.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r, err := pcapgo.NewReader(f)
	require.NoError(t, err)
	data, ci, err := r.ReadPacketData()
	require.NoError(t, err)
	assert.Len(t, data, 4)
	assert.Equal(t, 10, ci.Length)
}
