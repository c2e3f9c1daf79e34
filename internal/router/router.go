// Package router ties the protocol packages together: it owns the
// interface table, the links, the routing table, the ARP cache and the TCP
// endpoint, and runs every received frame to completion on one goroutine.
package router

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"firestige.xyz/vrouter/internal/arp"
	"firestige.xyz/vrouter/internal/core"
	"firestige.xyz/vrouter/internal/ethernet"
	"firestige.xyz/vrouter/internal/icmp"
	"firestige.xyz/vrouter/internal/ipv4"
	"firestige.xyz/vrouter/internal/link"
	"firestige.xyz/vrouter/internal/metrics"
	"firestige.xyz/vrouter/internal/tcp"
)

// Config is the static topology and protocol settings of a router.
type Config struct {
	Interfaces []core.Interface
	Routes     []core.Route
	ARP        []core.ArpEntry
	TCP        tcp.Config

	// ICMPTTL is the TTL of generated ICMP errors; zero means 64.
	ICMPTTL uint8
	// ICMPRate limits generated ICMP errors per second; zero disables the
	// limit.
	ICMPRate  float64
	ICMPBurst int
}

// Router is not safe for concurrent use. Run serialises all work onto one
// goroutine; tests may call HandleFrame directly.
type Router struct {
	ifaces []core.Interface
	links  []link.Link
	routes *ipv4.Table
	arp    *arp.Cache
	icmp   *icmp.Reporter
	tcp    *tcp.Manager
	out    core.Printer
}

// New builds a router with one link per interface, in interface order.
// Operator diagnostics are printed to out.
func New(cfg Config, links []link.Link, out core.Printer, opts ...tcp.Option) (*Router, error) {
	if len(cfg.Interfaces) == 0 {
		return nil, fmt.Errorf("no interfaces: %w", core.ErrConfigInvalid)
	}
	if len(links) != len(cfg.Interfaces) {
		return nil, fmt.Errorf("%d links for %d interfaces: %w", len(links), len(cfg.Interfaces), core.ErrConfigInvalid)
	}
	ifaces := make([]core.Interface, len(cfg.Interfaces))
	for i, ifc := range cfg.Interfaces {
		ifc.Index = i
		ifaces[i] = ifc
	}
	for i, rt := range cfg.Routes {
		if rt.Interface < 0 || rt.Interface >= len(ifaces) {
			return nil, fmt.Errorf("route %d uses interface %d: %w", i, rt.Interface, core.ErrConfigInvalid)
		}
	}

	r := &Router{
		ifaces: ifaces,
		links:  links,
		routes: ipv4.NewTable(cfg.Routes),
		arp:    arp.NewCache(cfg.ARP),
		out:    out,
	}
	r.icmp = icmp.NewReporter(r, out, icmp.WithTTL(cfg.ICMPTTL), icmp.WithRateLimit(cfg.ICMPRate, cfg.ICMPBurst))

	tcfg := cfg.TCP
	if !tcfg.LocalIP.IsValid() {
		tcfg.LocalIP = ifaces[0].IP
	}
	r.tcp = tcp.NewManager(tcfg, r, out, opts...)
	return r, nil
}

// TCP returns the local TCP endpoint.
func (r *Router) TCP() *tcp.Manager { return r.tcp }

// Interfaces returns a copy of the interface table.
func (r *Router) Interfaces() []core.Interface {
	return append([]core.Interface(nil), r.ifaces...)
}

// HandleFrame processes one frame received on interface idx.
func (r *Router) HandleFrame(idx int, frame []byte) {
	if idx < 0 || idx >= len(r.ifaces) {
		slog.Error("frame from unknown interface", "index", idx)
		return
	}
	start := time.Now()
	defer func() { metrics.FrameProcessingSeconds.Observe(time.Since(start).Seconds()) }()

	iface := r.ifaces[idx]
	metrics.FramesReceivedTotal.WithLabelValues(iface.String()).Inc()

	if len(frame) < ethernet.MinFrameLen-ethernet.FCSLen {
		r.drop("short", "ignoring %d-byte frame (short)", len(frame))
		return
	}
	h, typ, _ := ethernet.Decode(frame)
	if typ == ethernet.TypeUnrecognized {
		r.out.Printf("ignoring %d-byte frame (unrecognized type)", len(frame))
	}
	if err := ethernet.VerifyLengthAndFCS(frame, ethernet.SkipsFCS(frame)); err != nil {
		var fe *ethernet.FCSError
		switch {
		case errors.As(err, &fe):
			r.drop("bad_fcs", "%s", fe.Error())
		case errors.Is(err, core.ErrFrameTooLarge):
			r.drop("oversized", "ignoring %d-byte frame (oversized)", len(frame))
		default:
			r.drop("short", "ignoring %d-byte frame (short)", len(frame))
		}
		return
	}

	switch ethernet.MatchInterface(frame, iface.MAC) {
	case ethernet.Targeted:
		switch typ {
		case ethernet.TypeIPv4:
			r.handleIP(iface, frame)
		case ethernet.TypeARP:
			r.handleARP(iface, frame)
		}
	case ethernet.Broadcast:
		if typ == ethernet.TypeARP {
			r.handleARP(iface, frame)
		} else {
			r.out.Printf("received %d-byte broadcast frame from %s", len(frame), h.Src.Spaced())
		}
	default:
		r.drop("not_for_me", "ignoring %d-byte frame (not for me)", len(frame))
	}
}

func (r *Router) drop(reason, format string, args ...any) {
	metrics.FramesDroppedTotal.WithLabelValues(reason).Inc()
	r.out.Printf(format, args...)
}

func (r *Router) handleARP(iface core.Interface, frame []byte) {
	msg, err := arp.Parse(ethernet.Payload(frame))
	if err != nil {
		slog.Debug("arp message unreadable", "interface", iface.String(), "error", err)
		return
	}
	if err := arp.Validate(msg); err != nil {
		r.drop("bad_arp", "%s", arp.Describe(err))
		return
	}
	if msg.Opcode != arp.OpRequest {
		return
	}
	reply, ok, err := arp.ReplyFrame(msg, iface)
	if err != nil {
		slog.Warn("arp reply not built", "interface", iface.String(), "error", err)
		return
	}
	if !ok {
		return
	}
	if err := r.transmit(iface.Index, reply); err != nil {
		slog.Warn("arp reply not sent", "interface", iface.String(), "error", err)
	}
}

// transmit sends frame on the link of interface idx.
func (r *Router) transmit(idx int, frame []byte) error {
	if err := r.links[idx].Send(frame); err != nil {
		return fmt.Errorf("send on %s: %w", r.ifaces[idx], err)
	}
	metrics.FramesSentTotal.WithLabelValues(r.ifaces[idx].String()).Inc()
	return nil
}
