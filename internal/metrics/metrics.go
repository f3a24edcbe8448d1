// Package metrics holds the process-wide Prometheus collectors for the
// chatlink stack, grouped the way the teacher's internal/liveness and
// internal/bgp packages group theirs: one var block of promauto
// registrations per concern, with shared label constants.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LabelConn      = "conn"
	LabelLine      = "line"
	LabelDirection = "direction"
)

var (
	TCPCwnd = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatlink_tcp_cwnd_segments",
			Help: "Current congestion window in MSS units",
		},
		[]string{LabelConn},
	)

	TCPRetransmits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatlink_tcp_retransmits_total",
			Help: "Count of segments retransmitted after an RTO",
		},
		[]string{LabelConn},
	)

	TCPAcks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatlink_tcp_acks_total",
			Help: "Count of ACK segments that advanced snd_una",
		},
		[]string{LabelConn},
	)

	TCPConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatlink_tcp_connections",
			Help: "Current number of live connections in the server's connection table",
		},
	)

	ICMPTimeExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatlink_icmp_time_exceeded_total",
			Help: "Count of ICMP Time Exceeded messages emitted for TTL-expired datagrams",
		},
	)

	SLIPFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatlink_slip_frames_total",
			Help: "Count of SLIP frames encoded or decoded, by line and direction",
		},
		[]string{LabelLine, LabelDirection},
	)

	SLIPFrameErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatlink_slip_frame_errors_total",
			Help: "Count of SLIP framing errors (invalid escape byte)",
		},
		[]string{LabelLine},
	)
)

const (
	DirectionRX = "rx"
	DirectionTX = "tx"
)
