package arp

import (
	"net/netip"

	"firestige.xyz/vrouter/internal/core"
)

// Cache is the static IP to MAC table. It is never modified after creation.
type Cache struct {
	entries []core.ArpEntry
}

// NewCache copies entries into a new cache, preserving order.
func NewCache(entries []core.ArpEntry) *Cache {
	return &Cache{entries: append([]core.ArpEntry(nil), entries...)}
}

// Lookup returns the MAC for an exact IP match.
func (c *Cache) Lookup(ip netip.Addr) (core.MAC, bool) {
	for _, e := range c.entries {
		if e.IP == ip {
			return e.MAC, true
		}
	}
	return core.MAC{}, false
}

// Entries returns a copy of the table.
func (c *Cache) Entries() []core.ArpEntry {
	return append([]core.ArpEntry(nil), c.entries...)
}

func (c *Cache) Len() int { return len(c.entries) }
