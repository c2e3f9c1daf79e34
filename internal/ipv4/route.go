package ipv4

import (
	"net/netip"

	"firestige.xyz/vrouter/internal/core"
)

// Table is the static routing table. Lookup walks the rows in configuration
// order and returns the first match; it is not a longest-prefix match.
type Table struct {
	routes []core.Route
}

// NewTable copies routes into a new table.
func NewTable(routes []core.Route) *Table {
	return &Table{routes: append([]core.Route(nil), routes...)}
}

// Lookup returns the first route with dst & netmask == network.
func (t *Table) Lookup(dst netip.Addr) (core.Route, bool) {
	for _, r := range t.routes {
		if r.Matches(dst) {
			return r, true
		}
	}
	return core.Route{}, false
}

// Routes returns a copy of the table rows.
func (t *Table) Routes() []core.Route {
	return append([]core.Route(nil), t.routes...)
}

// NextHop returns the address to resolve for dst and whether it is on-link.
// A route without a gateway resolves the destination itself.
func NextHop(r core.Route, dst netip.Addr) (netip.Addr, bool) {
	if r.OnLink() {
		return dst, true
	}
	return r.Gateway, false
}
