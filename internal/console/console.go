// Package console implements the operator console: line commands that
// inspect and drive the TCP connection table, and payload lines sent on the
// selected connection.
package console

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"

	"firestige.xyz/vrouter/internal/core"
	"firestige.xyz/vrouter/internal/tcp"
)

// Connections is the part of the TCP manager the console drives.
type Connections interface {
	Len() int
	Selected() (tcp.Connection, bool)
	Established() []tcp.Connection
	SwitchTo(n int) error
	Close(n int) error
	ActiveOpen(ip netip.Addr, port uint16) error
	ActivePort() uint16
	SetActivePort(p uint16) error
	ListeningPorts() tcp.PortSet
	Send(data []byte) error
}

// Command prefixes. Matching is case-sensitive.
const (
	cmdHelp       = "/HELP"
	cmdShowAll    = "/SHOWALL"
	cmdSwitchTo   = "/SWITCHTO "
	cmdClose      = "/CLOSE "
	cmdConnect    = "/CONNECT "
	cmdActivePort = "/ACTIVEPORT"
)

const maxPort = 65535

// Console dispatches operator lines.
type Console struct {
	conns Connections
	out   core.Printer
}

// New returns a Console over conns printing replies to out.
func New(conns Connections, out core.Printer) *Console {
	return &Console{conns: conns, out: out}
}

// HandleLine runs one line read from the operator, without its trailing
// newline.
func (c *Console) HandleLine(line string) {
	switch {
	case line == cmdHelp:
		c.help()
	case line == cmdShowAll:
		c.showAll()
	case strings.HasPrefix(line, cmdSwitchTo):
		c.switchTo(line[len(cmdSwitchTo):])
	case strings.HasPrefix(line, cmdClose):
		c.close(line[len(cmdClose):])
	case strings.HasPrefix(line, cmdConnect):
		c.connect(line[len(cmdConnect):])
	case line == cmdActivePort:
		c.out.Printf("Current active port: %d", c.conns.ActivePort())
	case strings.HasPrefix(line, cmdActivePort+" "):
		c.setActivePort(line[len(cmdActivePort)+1:])
	default:
		c.send(line)
	}
}

var helpLines = []string{
	"    Use /SHOWALL to show all connections and currently connected connection (to send data to).",
	"    Use /SWITCHTO 0 to switch to an established connection when sending data (replace 0).",
	"    Use /CLOSE 0 to close an established connection (replace 0).",
	"    Use /CONNECT 0.0.0.0 4000 to actively connect to an IP and port (replace 0.0.0.0 and 4000).",
	"    Use /ACTIVEPORT to view the current port to actively create connections.",
	"    Use /ACTIVEPORT 4000 to replace the current port to actively create connections (replace 4000).",
}

func (c *Console) help() {
	c.out.Printf("HELP:")
	for _, l := range helpLines {
		c.out.Printf("%s", l)
	}
}

func (c *Console) showAll() {
	if c.conns.Len() == 0 {
		c.out.Printf("No connections to show.")
		return
	}
	if sel, ok := c.conns.Selected(); ok {
		c.out.Printf("Current connection (sending to):")
		c.out.Printf("    %s", describe(sel))
	} else {
		c.out.Printf("Current connection (sending to): NONE")
	}
	c.out.Printf("Showing all established connections:")
	for i, conn := range c.conns.Established() {
		c.out.Printf("    %d. %s", i, describe(conn))
	}
}

func describe(conn tcp.Connection) string {
	return fmt.Sprintf("Src IP: %s Src port: %d Dst IP: %s Dst Port: %d",
		conn.LocalIP, conn.LocalPort, conn.RemoteIP, conn.RemotePort)
}

func (c *Console) switchTo(arg string) {
	if c.conns.Len() == 0 {
		c.out.Printf("No connections to switch to.")
		return
	}
	n, ok := leadingInt(arg)
	if !ok {
		c.out.Printf("Please input a valid connection number to switch to.")
		return
	}
	if err := c.conns.SwitchTo(n); err != nil {
		c.out.Printf("Connection %d is not established or does not exist.", n)
		return
	}
	c.out.Printf("Switching to connection %d.", n)
}

func (c *Console) close(arg string) {
	if c.conns.Len() == 0 {
		c.out.Printf("No connections to close.")
		return
	}
	n, ok := leadingInt(arg)
	if !ok {
		c.out.Printf("Please input a valid connection number to close.")
		return
	}
	err := c.conns.Close(n)
	if errors.Is(err, core.ErrNoConnection) {
		c.out.Printf("Connection %d is not established or does not exist.", n)
		return
	}
	c.out.Printf("Closing connection %d.", n)
}

func (c *Console) connect(arg string) {
	fields := strings.Fields(arg)
	var ipStr, portStr string
	if len(fields) > 0 {
		ipStr = fields[0]
	}
	if len(fields) > 1 {
		portStr = fields[1]
	}

	ip, err := netip.ParseAddr(ipStr)
	if err != nil || !ip.Is4() {
		c.out.Printf("Invalid IP address.")
		return
	}
	port := atoi(portStr)
	if port <= 0 || port > maxPort {
		c.out.Printf("Invalid port number.")
		return
	}

	switch err := c.conns.ActiveOpen(ip, uint16(port)); {
	case errors.Is(err, core.ErrAlreadyEstablished):
		c.out.Printf("Connection already established.")
	case err != nil:
		c.out.Printf("Failed to send SYN packet.")
	default:
		c.out.Printf("Attempting to connect. Use /SHOWALL to see established connections.")
	}
}

func (c *Console) setActivePort(arg string) {
	var port uint16
	if n, ok := leadingInt(arg); ok && n <= maxPort {
		port = uint16(n)
	}
	if err := c.conns.SetActivePort(port); err != nil {
		c.out.Printf("Please choose a valid source port.")
		c.out.Printf("Currently listening on the following ports:")
		for _, row := range portRows(c.conns.ListeningPorts(), 5) {
			c.out.Printf("%s", row)
		}
		return
	}
	c.out.Printf("Changing active port number to %d.", port)
}

// portRows lays ports out perRow at a time, indented.
func portRows(ports tcp.PortSet, perRow int) []string {
	var rows []string
	var b strings.Builder
	for i, p := range ports {
		if i%perRow == 0 {
			if i > 0 {
				rows = append(rows, b.String())
				b.Reset()
			}
			b.WriteString("      ")
		}
		fmt.Fprintf(&b, "%d  ", p)
	}
	if b.Len() > 0 {
		rows = append(rows, b.String())
	}
	return rows
}

func (c *Console) send(line string) {
	if _, ok := c.conns.Selected(); !ok {
		c.out.Printf("No connection to send data to.")
		return
	}
	if err := c.conns.Send([]byte(line + "\n")); err != nil {
		slog.Warn("console payload not sent", "error", err)
		c.out.Printf("Failed to send data (%v).", err)
	}
}

// leadingInt parses the decimal digits at the start of s. It fails when s
// does not start with a digit.
func leadingInt(s string) (int, bool) {
	if s == "" || s[0] < '0' || s[0] > '9' {
		return 0, false
	}
	return atoi(s), true
}

// atoi parses an optionally signed run of leading digits and ignores the
// rest, yielding 0 when there are none. Values saturate above maxPort+1.
func atoi(s string) int {
	s = strings.TrimLeft(s, " \t")
	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}
	n := 0
	for i := 0; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		if n <= maxPort {
			n = n*10 + int(s[i]-'0')
		}
	}
	if neg {
		return -n
	}
	return n
}
