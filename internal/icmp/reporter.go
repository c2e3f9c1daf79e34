package icmp

import (
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/time/rate"

	"firestige.xyz/vrouter/internal/core"
	"firestige.xyz/vrouter/internal/ipv4"
	"firestige.xyz/vrouter/internal/metrics"
)

// Sender routes an IPv4 packet by its destination, resolves the next hop
// and transmits it.
type Sender interface {
	SendIP(pkt []byte) error
}

// Outcome is the result of ClassifyAndReport.
type Outcome int

const (
	// Logged means the reason is reported on the console only.
	Logged Outcome = iota
	// Sent means an ICMP error was transmitted.
	Sent
	// Dropped means an ICMP error was due but could not be sent.
	Dropped
)

// Reporter turns IP drop reasons into console diagnostics and ICMP errors.
type Reporter struct {
	sender  Sender
	out     core.Printer
	ttl     uint8
	limiter *rate.Limiter
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithTTL sets the TTL of generated error packets.
func WithTTL(ttl uint8) Option {
	return func(r *Reporter) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithRateLimit caps generated errors to perSecond with the given burst. A
// non-positive rate leaves errors unlimited.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(r *Reporter) {
		if perSecond <= 0 {
			r.limiter = nil
			return
		}
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

// NewReporter creates a Reporter sending through s and printing to out.
func NewReporter(s Sender, out core.Printer, opts ...Option) *Reporter {
	r := &Reporter{sender: s, out: out, ttl: ipv4.DefaultTTL}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SendError wraps an ICMP error about orig in a new IPv4 packet from iface
// to the original source and hands it to the sender. Any failure drops the
// error; no further ICMP is generated about it.
func (r *Reporter) SendError(orig []byte, typ, code uint8, iface core.Interface) error {
	if r.limiter != nil && !r.limiter.Allow() {
		return fmt.Errorf("icmp %d/%d: rate limited", typ, code)
	}
	h, err := ipv4.Decode(orig)
	if err != nil {
		return fmt.Errorf("decode original: %w", err)
	}
	msg, err := BuildError(orig, typ, code)
	if err != nil {
		return fmt.Errorf("build icmp: %w", err)
	}
	pkt, err := ipv4.Build(iface.IP, h.Src, h.ID, ipv4.ProtoICMP, r.ttl, msg)
	if err != nil {
		return fmt.Errorf("build ip: %w", err)
	}
	if err := r.sender.SendIP(pkt); err != nil {
		return fmt.Errorf("send icmp %d/%d to %s: %w", typ, code, h.Src, err)
	}
	metrics.ICMPSentTotal.WithLabelValues(strconv.Itoa(int(typ)), strconv.Itoa(int(code))).Inc()
	return nil
}

// ClassifyAndReport prints the diagnostic for reason and, for no-route,
// no-ARP and TTL exhaustion, answers the source with an ICMP error. iface
// is the receiving interface; it is nil for checksum failures.
func (r *Reporter) ClassifyAndReport(reason core.Reason, orig []byte, iface *core.Interface) Outcome {
	metrics.FramesDroppedTotal.WithLabelValues(reason.String()).Inc()

	h, _ := ipv4.Decode(orig)
	src, dst := h.Src.String(), h.Dst.String()
	switch reason {
	case core.ReasonNotIPv4:
		r.out.Printf("dropping packet from %s (not IPv4)", src)
	case core.ReasonBadIHL:
		r.out.Printf("dropping packet from %s (incorrect IHL)", src)
	case core.ReasonBadIPLength:
		r.out.Printf("dropping packet from %s (wrong length)", src)
	case core.ReasonBadIPChecksum:
		r.out.Printf("dropping packet from %s (bad IP header checksum)", src)
	case core.ReasonNoRoute:
		r.out.Printf("dropping packet from %s to %s (no route)", src, dst)
	case core.ReasonNoARP:
		r.out.Printf("dropping packet from %s to %s (no ARP)", src, dst)
	case core.ReasonTTLExceeded:
		r.out.Printf("dropping packet from %s to %s (TTL exceeded)", src, dst)
	default:
		return Logged
	}

	typ, code, ok := ForReason(reason)
	if !ok || iface == nil {
		return Logged
	}
	if err := r.SendError(orig, typ, code, *iface); err != nil {
		slog.Debug("icmp error dropped", "reason", reason.String(), "src", src, "error", err)
		return Dropped
	}
	return Sent
}
