// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesReceivedTotal counts frames read from each interface link
	FramesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vrouter_frames_received_total",
			Help: "Total number of Ethernet frames received",
		},
		[]string{"interface"},
	)

	// FramesSentTotal counts frames written to each interface link
	FramesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vrouter_frames_sent_total",
			Help: "Total number of Ethernet frames transmitted",
		},
		[]string{"interface"},
	)

	// FramesDroppedTotal counts frames and packets dropped, by reason
	FramesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vrouter_frames_dropped_total",
			Help: "Total number of frames or packets dropped",
		},
		[]string{"reason"},
	)

	// PacketsForwardedTotal counts IPv4 packets forwarded to a next hop
	PacketsForwardedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vrouter_packets_forwarded_total",
			Help: "Total number of IPv4 packets forwarded",
		},
	)

	// ICMPSentTotal counts ICMP error messages transmitted
	ICMPSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vrouter_icmp_sent_total",
			Help: "Total number of ICMP error messages sent",
		},
		[]string{"type", "code"},
	)

	// TCPSegmentsTotal counts TCP segments handled by the local endpoint
	TCPSegmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vrouter_tcp_segments_total",
			Help: "Total number of TCP segments received or sent by the local endpoint",
		},
		[]string{"direction"},
	)

	// TCPConnections tracks the size of the connection table
	TCPConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vrouter_tcp_connections",
			Help: "Current number of entries in the TCP connection table",
		},
	)

	// FrameProcessingSeconds measures run-to-completion handling of one frame
	FrameProcessingSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vrouter_frame_processing_seconds",
			Help:    "Time spent handling a single received frame",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~1s
		},
	)
)

// Direction labels for TCPSegmentsTotal
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)
