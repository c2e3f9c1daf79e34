package link

import (
	"context"
	"sync"

	"firestige.xyz/vrouter/internal/core"
)

// Pipe is one end of an in-memory link. Frames sent on one end are received
// on the other.
type Pipe struct {
	in   <-chan []byte
	out  chan<- []byte
	done chan struct{}
	once *sync.Once
	peer *Pipe
}

// NewPipe returns the two connected ends of a link. Each end buffers up to
// depth frames before Send blocks.
func NewPipe(depth int) (*Pipe, *Pipe) {
	ab := make(chan []byte, depth)
	ba := make(chan []byte, depth)
	done := make(chan struct{})
	once := &sync.Once{}
	a := &Pipe{in: ba, out: ab, done: done, once: once}
	b := &Pipe{in: ab, out: ba, done: done, once: once}
	a.peer, b.peer = b, a
	return a, b
}

// Peer returns the other end.
func (p *Pipe) Peer() *Pipe { return p.peer }

func (p *Pipe) Receive(ctx context.Context) ([]byte, error) {
	select {
	case f := <-p.in:
		return f, nil
	case <-p.done:
		return nil, core.ErrLinkClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send copies frame onto the link.
func (p *Pipe) Send(frame []byte) error {
	f := append([]byte(nil), frame...)
	select {
	case <-p.done:
		return core.ErrLinkClosed
	default:
	}
	select {
	case p.out <- f:
		return nil
	case <-p.done:
		return core.ErrLinkClosed
	}
}

// Close closes both ends.
func (p *Pipe) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
