package router

import (
	"fmt"
	"log/slog"
	"net/netip"

	"firestige.xyz/vrouter/internal/core"
	"firestige.xyz/vrouter/internal/ethernet"
	"firestige.xyz/vrouter/internal/ipv4"
	"firestige.xyz/vrouter/internal/metrics"
)

// handleIP validates the packet carried by frame and delivers it locally or
// forwards it. Frames carrying TCP have no check sequence.
func (r *Router) handleIP(iface core.Interface, frame []byte) {
	pktLen := len(frame) - ethernet.HeaderLen
	tcpCarried := frame[ethernet.HeaderLen+9] == ipv4.ProtoTCP
	if !tcpCarried {
		pktLen -= ethernet.FCSLen
	}
	pkt := frame[ethernet.HeaderLen : ethernet.HeaderLen+pktLen]

	h, reason := ipv4.Validate(pkt, pktLen)
	if reason != core.ReasonNone {
		src := &iface
		if reason == core.ReasonBadIPChecksum {
			src = nil
		}
		r.icmp.ClassifyAndReport(reason, pkt, src)
		return
	}

	if r.isLocal(h.Dst) {
		r.deliverLocal(h, pkt)
		return
	}
	r.forward(iface, frame, pkt, tcpCarried)
}

func (r *Router) isLocal(dst netip.Addr) bool {
	for _, ifc := range r.ifaces {
		if ifc.IP == dst {
			return true
		}
	}
	return false
}

func (r *Router) deliverLocal(h ipv4.Header, pkt []byte) {
	if h.Protocol == ipv4.ProtoTCP {
		r.tcp.HandleSegment(pkt[:h.TotalLen])
		return
	}
	r.out.Printf("    Delivering locally.")
}

// forward resolves the next hop, lowers the TTL and retransmits frame on the
// route's interface with rewritten addresses.
func (r *Router) forward(in core.Interface, frame, pkt []byte, tcpCarried bool) {
	h, _ := ipv4.Decode(pkt)
	route, ok := r.routes.Lookup(h.Dst)
	if !ok {
		r.icmp.ClassifyAndReport(core.ReasonNoRoute, pkt, &in)
		return
	}
	hop, onLink := ipv4.NextHop(route, h.Dst)
	mac, ok := r.arp.Lookup(hop)
	if !ok {
		r.icmp.ClassifyAndReport(core.ReasonNoARP, pkt, &in)
		return
	}
	if reason := ipv4.DecrementTTL(pkt, onLink); reason != core.ReasonNone {
		r.icmp.ClassifyAndReport(reason, pkt, &in)
		return
	}

	out := r.ifaces[route.Interface]
	if tcpCarried {
		// the received frame had no check sequence to overwrite
		f, err := ethernet.Build(out.MAC, mac, uint16(ethernet.TypeIPv4), pkt)
		if err != nil {
			slog.Warn("forwarded frame not built", "dst", h.Dst, "error", err)
			return
		}
		frame = f
	} else if err := ethernet.RewriteAddresses(frame, out.MAC, mac); err != nil {
		slog.Warn("forwarded frame not rewritten", "dst", h.Dst, "error", err)
		return
	}

	if err := r.transmit(route.Interface, frame); err != nil {
		slog.Warn("forward failed", "dst", h.Dst, "hop", hop, "error", err)
		return
	}
	metrics.PacketsForwardedTotal.Inc()
	slog.Debug("packet forwarded", "src", h.Src, "dst", h.Dst, "hop", hop, "interface", out.String())
}

// SendIP routes a locally generated packet: it looks up the route for the
// destination, resolves the next hop in the ARP cache, frames the packet
// and transmits it on the route's interface.
func (r *Router) SendIP(pkt []byte) error {
	h, err := ipv4.Decode(pkt)
	if err != nil {
		return err
	}
	route, ok := r.routes.Lookup(h.Dst)
	if !ok {
		return fmt.Errorf("%s: %w", h.Dst, core.ErrNoRoute)
	}
	hop, _ := ipv4.NextHop(route, h.Dst)
	mac, ok := r.arp.Lookup(hop)
	if !ok {
		return fmt.Errorf("next hop %s: %w", hop, core.ErrNoARP)
	}
	out := r.ifaces[route.Interface]
	frame, err := ethernet.Build(out.MAC, mac, uint16(ethernet.TypeIPv4), pkt)
	if err != nil {
		return err
	}
	return r.transmit(route.Interface, frame)
}
