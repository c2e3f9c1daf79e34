package link

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// DefaultSnapLen is the capture length used when none is configured.
const DefaultSnapLen = 65536

// Tap appends every frame it sees to a pcap file. It is safe for use by
// several links at once.
type Tap struct {
	mu      sync.Mutex
	f       *os.File
	w       *pcapgo.Writer
	snapLen int
	now     func() time.Time
}

// NewTap creates or truncates the capture file at path.
func NewTap(path string, snapLen int) (*Tap, error) {
	if snapLen <= 0 {
		snapLen = DefaultSnapLen
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create capture file: %w", err)
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(uint32(snapLen), layers.LinkTypeEthernet); err != nil {
		f.Close()
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &Tap{f: f, w: w, snapLen: snapLen, now: time.Now}, nil
}

// Record writes one frame.
func (t *Tap) Record(frame []byte) error {
	n := min(len(frame), t.snapLen)
	ci := gopacket.CaptureInfo{
		Timestamp:     t.now(),
		CaptureLength: n,
		Length:        len(frame),
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.f == nil {
		return os.ErrClosed
	}
	return t.w.WritePacket(ci, frame[:n])
}

// Close flushes and closes the capture file.
func (t *Tap) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.f == nil {
		return nil
	}
	err := t.f.Close()
	t.f = nil
	return err
}

// Wrap returns l with every received and sent frame recorded on t. Capture
// failures never fail the link.
func (t *Tap) Wrap(l Link) Link {
	return &tapped{Link: l, tap: t}
}

type tapped struct {
	Link
	tap *Tap
}

func (l *tapped) Receive(ctx context.Context) ([]byte, error) {
	f, err := l.Link.Receive(ctx)
	if err == nil {
		l.tap.Record(f)
	}
	return f, err
}

func (l *tapped) Send(frame []byte) error {
	err := l.Link.Send(frame)
	if err == nil {
		l.tap.Record(frame)
	}
	return err
}
