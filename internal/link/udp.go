package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"firestige.xyz/vrouter/internal/core"
)

// packetLink moves one frame per datagram over a packet socket.
type packetLink struct {
	conn   net.PacketConn
	mu     sync.Mutex
	remote net.Addr
	onStop func()
}

func openUDP(raw map[string]any) (Link, error) {
	var opts socketOptions
	if err := decodeOptions(raw, &opts); err != nil {
		return nil, err
	}
	if opts.Local == "" {
		return nil, errors.New("udp link: local address is required")
	}
	laddr, err := net.ResolveUDPAddr("udp", opts.Local)
	if err != nil {
		return nil, fmt.Errorf("udp link: %w", err)
	}
	var raddr net.Addr
	if opts.Remote != "" {
		ra, err := net.ResolveUDPAddr("udp", opts.Remote)
		if err != nil {
			return nil, fmt.Errorf("udp link: %w", err)
		}
		raddr = ra
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("udp link: %w", err)
	}
	if opts.ReadBuffer > 0 {
		if err := conn.SetReadBuffer(opts.ReadBuffer); err != nil {
			conn.Close()
			return nil, fmt.Errorf("udp link: %w", err)
		}
	}
	return &packetLink{conn: conn, remote: raddr}, nil
}

// LocalAddr returns the bound socket address.
func (l *packetLink) LocalAddr() net.Addr { return l.conn.LocalAddr() }

func (l *packetLink) Receive(ctx context.Context) ([]byte, error) {
	l.conn.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		l.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, maxFrame)
	n, from, err := l.conn.ReadFrom(buf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, core.ErrLinkClosed
		}
		return nil, err
	}
	l.mu.Lock()
	if l.remote == nil {
		l.remote = from
	}
	l.mu.Unlock()
	return buf[:n], nil
}

func (l *packetLink) Send(frame []byte) error {
	l.mu.Lock()
	to := l.remote
	l.mu.Unlock()
	if to == nil {
		return fmt.Errorf("%s link has no peer yet", l.conn.LocalAddr().Network())
	}
	_, err := l.conn.WriteTo(frame, to)
	if errors.Is(err, net.ErrClosed) {
		return core.ErrLinkClosed
	}
	return err
}

func (l *packetLink) Close() error {
	err := l.conn.Close()
	if l.onStop != nil {
		l.onStop()
	}
	return err
}
