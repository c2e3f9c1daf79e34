package tcp

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"

	"firestige.xyz/vrouter/internal/core"
	"firestige.xyz/vrouter/internal/ipv4"
	"firestige.xyz/vrouter/internal/metrics"
)

const (
	DefaultWindow    = 8192
	DefaultSegmentID = 12345
)

// Transmitter routes an IPv4 packet by destination and transmits it. A
// missing ARP entry for the next hop must be reported as an error.
type Transmitter interface {
	SendIP(pkt []byte) error
}

// Config holds the endpoint's static parameters.
type Config struct {
	// LocalIP is the source address of actively opened connections.
	LocalIP netip.Addr
	// Listening is the set of ports accepting segments.
	Listening PortSet
	// ActivePort is the source port for active opens; zero selects the
	// first listening port.
	ActivePort uint16
	// Window is advertised on actively opened connections.
	Window uint16
	// SegmentID is the IP identification of every emitted segment.
	SegmentID uint16
	// TTL of emitted segments.
	TTL uint8
}

// Manager owns the connection table and the selected connection. It is not
// safe for concurrent use; the router calls it from a single goroutine.
type Manager struct {
	cfg      Config
	conns    *table
	selected *Key
	tx       Transmitter
	out      core.Printer
	isn      func() uint32
}

// Option configures a Manager.
type Option func(*Manager)

// WithISN replaces the initial sequence number source.
func WithISN(f func() uint32) Option {
	return func(m *Manager) { m.isn = f }
}

// NewManager creates a Manager transmitting through tx and printing
// operator notifications to out.
func NewManager(cfg Config, tx Transmitter, out core.Printer, opts ...Option) *Manager {
	if cfg.Window == 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.SegmentID == 0 {
		cfg.SegmentID = DefaultSegmentID
	}
	if cfg.TTL == 0 {
		cfg.TTL = ipv4.DefaultTTL
	}
	m := &Manager{
		cfg:   cfg,
		conns: newTable(),
		tx:    tx,
		out:   out,
		isn:   randomISN,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// randomISN draws a non-zero initial sequence number from crypto/rand.
func randomISN() uint32 {
	var b [4]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			panic(fmt.Sprintf("tcp: reading random isn: %v", err))
		}
		if v := binary.BigEndian.Uint32(b[:]); v != 0 {
			return v
		}
	}
}

// HandleSegment processes an IPv4 packet addressed to this router that
// carries TCP. pkt must end at the packet's total length.
func (m *Manager) HandleSegment(pkt []byte) {
	h, err := ipv4.Decode(pkt)
	if err != nil || h.Len() > len(pkt) {
		return
	}
	raw := pkt[h.Len():]
	metrics.TCPSegmentsTotal.WithLabelValues(metrics.DirectionIn).Inc()

	if err := ValidateSegment(raw, h.Src, h.Dst, m.cfg.Listening); err != nil {
		m.out.Printf("%s", dropMessage(err))
		slog.Debug("tcp segment dropped", "src", h.Src, "dst", h.Dst, "error", err)
		return
	}
	seg, err := Decode(raw)
	if err != nil {
		m.out.Printf("%s", dropMessage(err))
		return
	}

	k := Key{LocalIP: h.Dst, RemoteIP: h.Src, LocalPort: seg.DstPort, RemotePort: seg.SrcPort}
	c := m.conns.find(k)
	if c == nil {
		if !seg.Flags.Has(SYN) {
			slog.Debug("tcp segment for unknown connection ignored", "conn", k.String(), "flags", seg.Flags.String())
			return
		}
		c = m.LookupOrCreate(k, seg.Seq, seg.Window)
	}
	m.step(c, seg)
}

func dropMessage(err error) string {
	switch {
	case errors.Is(err, core.ErrBadSegmentLength):
		return "Dropping TCP segment. Bad segment length."
	case errors.Is(err, core.ErrBadChecksum):
		return "Dropping TCP packet. Bad checksum."
	case errors.Is(err, core.ErrNotListening):
		return "Dropping TCP packet. Not listening on port."
	}
	return "Dropping TCP packet. " + err.Error()
}

// LookupOrCreate returns the connection for k, creating it in Listen with a
// fresh initial sequence number and the peer's sequence number as the ack
// number when it does not exist.
func (m *Manager) LookupOrCreate(k Key, peerSeq uint32, window uint16) *Connection {
	if c := m.conns.find(k); c != nil {
		return c
	}
	c := &Connection{Key: k, Window: window, Seq: m.isn(), Ack: peerSeq, State: Listen}
	m.insert(c)
	slog.Debug("tcp connection created", "conn", k.String(), "isn", c.Seq)
	return c
}

// step advances c's state machine for one inbound segment. Segments that
// do not fit the current state are ignored; no reset is ever sent.
func (m *Manager) step(c *Connection, seg Segment) {
	from := c.State
	switch c.State {
	case Listen:
		if seg.Flags.Has(SYN) {
			c.Ack++
			if m.send(c, SYN|ACK, nil) == nil {
				c.Seq++
			}
			c.State = SynReceived
		}

	case SynSent:
		if seg.Flags.Has(SYN | ACK) {
			c.Ack = seg.Seq + 1
			m.send(c, ACK, nil)
			m.establish(c)
		}

	case SynReceived:
		if seg.Flags.Has(FIN) {
			m.peerCloses(c)
		} else if seg.Flags.Has(ACK) {
			m.establish(c)
		}

	case Established:
		if seg.Flags.Has(FIN) {
			m.peerCloses(c)
		} else if len(seg.Payload) > 0 {
			m.out.Printf("(%s port %d): %s", c.RemoteIP, c.RemotePort, strings.TrimRight(string(seg.Payload), "\r\n"))
			c.Ack += uint32(len(seg.Payload))
			m.send(c, ACK, nil)
		}

	case FinWait1:
		if seg.Flags.Has(ACK) {
			c.State = FinWait2
		}

	case FinWait2:
		if seg.Flags.Has(FIN) {
			c.Seq++
			c.Ack++
			m.send(c, ACK, nil)
			c.State = Closing
		}

	case Closing, LastAck:
		if seg.Flags.Has(ACK) {
			m.destroy(c)
		}

	case Closed, CloseWait, TimeWait:
		// never entered
	}

	if c.State != from {
		slog.Debug("tcp state transition", "conn", c.Key.String(), "from", from.String(), "to", c.State.String())
	}
}

// peerCloses answers a FIN: acknowledge it, send our own FIN-ACK and wait
// for the final ACK.
func (m *Manager) peerCloses(c *Connection) {
	c.Ack++
	m.send(c, ACK, nil)
	m.send(c, FIN|ACK, nil)
	c.State = LastAck
}

func (m *Manager) establish(c *Connection) {
	c.State = Established
	k := c.Key
	m.selected = &k
	m.out.Printf("NOTIFICATION: a connection has been established from %s on port %d.", c.RemoteIP, c.RemotePort)
	m.out.Printf("Use /SHOWALL to view current connections.")
}

func (m *Manager) destroy(c *Connection) {
	m.remove(c.Key)
	m.out.Printf("NOTIFICATION: a connection has been closed from %s on port %d.", c.RemoteIP, c.RemotePort)
	m.out.Printf("Use /SHOWALL to view current connections.")
}

func (m *Manager) insert(c *Connection) {
	m.conns.add(c)
	metrics.TCPConnections.Set(float64(m.conns.len()))
}

// remove deletes k and re-derives the selection if it pointed at k.
func (m *Manager) remove(k Key) {
	if !m.conns.remove(k) {
		return
	}
	metrics.TCPConnections.Set(float64(m.conns.len()))
	if m.selected != nil && *m.selected == k {
		m.resetSelection()
	}
}

// resetSelection selects the first Established connection, or none.
func (m *Manager) resetSelection() {
	m.selected = nil
	if est := m.conns.established(); len(est) > 0 {
		k := est[0].Key
		m.selected = &k
	}
}

// BuildSegment encodes a segment for c with the given flags and payload and
// wraps it in an IPv4 packet from c's local address to its remote address.
func (m *Manager) BuildSegment(c *Connection, flags Flags, id uint16, payload []byte) ([]byte, error) {
	seg := Segment{
		SrcPort: c.LocalPort,
		DstPort: c.RemotePort,
		Seq:     c.Seq,
		Ack:     c.Ack,
		Flags:   flags,
		Window:  c.Window,
		Payload: payload,
	}
	return ipv4.Build(c.LocalIP, c.RemoteIP, id, ipv4.ProtoTCP, m.cfg.TTL, seg.Marshal(c.LocalIP, c.RemoteIP))
}

func (m *Manager) send(c *Connection, flags Flags, payload []byte) error {
	pkt, err := m.BuildSegment(c, flags, m.cfg.SegmentID, payload)
	if err == nil {
		err = m.tx.SendIP(pkt)
	}
	if err != nil {
		slog.Warn("tcp segment not sent", "conn", c.Key.String(), "flags", flags.String(), "error", err)
		return fmt.Errorf("send %s on %s: %w", flags, c.Key, err)
	}
	metrics.TCPSegmentsTotal.WithLabelValues(metrics.DirectionOut).Inc()
	return nil
}
