package tcp

import (
	"fmt"
	"net/netip"

	"firestige.xyz/vrouter/internal/core"
)

// ActiveOpen connects from the local address and active port to ip:port.
// An existing connection for the same 4-tuple is reused unless it is
// already Established.
func (m *Manager) ActiveOpen(ip netip.Addr, port uint16) error {
	if port == 0 {
		return fmt.Errorf("port 0: %w", core.ErrInvalidPort)
	}
	k := Key{LocalIP: m.cfg.LocalIP, RemoteIP: ip, LocalPort: m.ActivePort(), RemotePort: port}
	c := m.conns.find(k)
	switch {
	case c == nil:
		c = &Connection{Key: k, Window: m.cfg.Window, Seq: m.isn(), State: Listen}
		m.insert(c)
	case c.State == Established:
		return fmt.Errorf("%s: %w", k, core.ErrAlreadyEstablished)
	}

	if err := m.send(c, SYN, nil); err != nil {
		return err
	}
	c.Seq++
	c.State = SynSent
	return nil
}

// Send transmits data as a PSH|ACK segment on the selected connection.
func (m *Manager) Send(data []byte) error {
	c := m.selectedConn()
	if c == nil {
		return core.ErrNoConnection
	}
	if err := m.send(c, PSH|ACK, data); err != nil {
		return err
	}
	c.Seq += uint32(len(data))
	return nil
}

// SwitchTo selects the n-th Established connection.
func (m *Manager) SwitchTo(n int) error {
	c, err := m.nthEstablished(n)
	if err != nil {
		return err
	}
	k := c.Key
	m.selected = &k
	return nil
}

// Close starts an active close of the n-th Established connection: it
// sends FIN|ACK, moves to FinWait1 and re-derives the selection.
func (m *Manager) Close(n int) error {
	c, err := m.nthEstablished(n)
	if err != nil {
		return err
	}
	sendErr := m.send(c, FIN|ACK, nil)
	c.State = FinWait1
	m.resetSelection()
	return sendErr
}

func (m *Manager) nthEstablished(n int) (*Connection, error) {
	est := m.conns.established()
	if n < 0 || n >= len(est) {
		return nil, fmt.Errorf("connection %d: %w", n, core.ErrNoConnection)
	}
	return est[n], nil
}

func (m *Manager) selectedConn() *Connection {
	if m.selected == nil {
		return nil
	}
	return m.conns.find(*m.selected)
}

// Selected returns a copy of the selected connection.
func (m *Manager) Selected() (Connection, bool) {
	if c := m.selectedConn(); c != nil {
		return *c, true
	}
	return Connection{}, false
}

// Established returns copies of the Established connections in table
// order; a connection's display number is its index here.
func (m *Manager) Established() []Connection {
	est := m.conns.established()
	out := make([]Connection, len(est))
	for i, c := range est {
		out[i] = *c
	}
	return out
}

// Connections returns copies of every table entry in table order.
func (m *Manager) Connections() []Connection {
	out := make([]Connection, len(m.conns.order))
	for i, c := range m.conns.order {
		out[i] = *c
	}
	return out
}

// Lookup returns a copy of the connection for k.
func (m *Manager) Lookup(k Key) (Connection, bool) {
	if c := m.conns.find(k); c != nil {
		return *c, true
	}
	return Connection{}, false
}

// Len returns the number of table entries.
func (m *Manager) Len() int { return m.conns.len() }

// ActivePort returns the source port for active opens, defaulting to the
// first listening port.
func (m *Manager) ActivePort() uint16 {
	if m.cfg.ActivePort == 0 && len(m.cfg.Listening) > 0 {
		m.cfg.ActivePort = m.cfg.Listening[0]
	}
	return m.cfg.ActivePort
}

// SetActivePort changes the active source port. The port must be listening.
func (m *Manager) SetActivePort(p uint16) error {
	if p == 0 || !m.cfg.Listening.Contains(p) {
		return fmt.Errorf("port %d: %w", p, core.ErrInvalidPort)
	}
	m.cfg.ActivePort = p
	return nil
}

// ListeningPorts returns the configured listening ports.
func (m *Manager) ListeningPorts() PortSet {
	return append(PortSet(nil), m.cfg.Listening...)
}
