package tcp

import (
	"fmt"
	"net/netip"
)

// State is a connection's position in the TCP state machine.
type State int

const (
	Closed State = iota
	Listen
	SynSent
	SynReceived
	Established
	FinWait1
	FinWait2
	CloseWait
	Closing
	LastAck
	TimeWait
)

var stateNames = [...]string{
	Closed:      "CLOSED",
	Listen:      "LISTEN",
	SynSent:     "SYN_SENT",
	SynReceived: "SYN_RECEIVED",
	Established: "ESTABLISHED",
	FinWait1:    "FIN_WAIT_1",
	FinWait2:    "FIN_WAIT_2",
	CloseWait:   "CLOSE_WAIT",
	Closing:     "CLOSING",
	LastAck:     "LAST_ACK",
	TimeWait:    "TIME_WAIT",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Key identifies a connection from the local endpoint's point of view.
type Key struct {
	LocalIP    netip.Addr
	RemoteIP   netip.Addr
	LocalPort  uint16
	RemotePort uint16
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d->%s:%d", k.LocalIP, k.LocalPort, k.RemoteIP, k.RemotePort)
}

// Connection is one entry of the connection table.
type Connection struct {
	Key
	Window uint16
	Seq    uint32 // next sequence number to send
	Ack    uint32 // next sequence number expected from the peer
	State  State
}

// table keeps connections in insertion order with an index by key.
type table struct {
	order []*Connection
	index map[Key]*Connection
}

func newTable() *table {
	return &table{index: make(map[Key]*Connection)}
}

func (t *table) find(k Key) *Connection {
	return t.index[k]
}

func (t *table) add(c *Connection) {
	t.order = append(t.order, c)
	t.index[c.Key] = c
}

func (t *table) remove(k Key) bool {
	if _, ok := t.index[k]; !ok {
		return false
	}
	delete(t.index, k)
	for i, c := range t.order {
		if c.Key == k {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

func (t *table) len() int { return len(t.order) }

// established returns Established connections in table order. Display
// numbers are positions in this list.
func (t *table) established() []*Connection {
	var out []*Connection
	for _, c := range t.order {
		if c.State == Established {
			out = append(out, c)
		}
	}
	return out
}
