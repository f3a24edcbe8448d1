package slip

import (
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/malbeclabs/chatlink/internal/metrics"
)

// SerialLine is the external collaborator the core consumes: a raw,
// byte-oriented serial driver capability. It is out of scope for this
// module (see spec §1) — send bytes, and register a callback invoked
// whenever bytes arrive.
type SerialLine interface {
	// Send writes raw bytes to the wire.
	Send(data []byte) error
	// OnBytesArrived registers the callback invoked with inbound bytes.
	// Only one callback is ever registered per line.
	OnBytesArrived(cb func(data []byte))
	// Name identifies the line for logging and metrics.
	Name() string
}

// Mux owns one Framer per (peer IPv4 → serial line) association and
// routes outbound datagrams to the line whose peer matches the requested
// next hop. Configured once via SetLines; thereafter used from the
// single-threaded core only.
type Mux struct {
	log     *slog.Logger
	deliver DatagramHandler

	linesByPeer map[netip.Addr]*line
}

type line struct {
	peer   netip.Addr
	serial SerialLine
	framer *Framer
}

// Option configures a Mux at construction time.
type Option func(*Mux)

// WithLogger overrides the mux's logger; the default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(m *Mux) { m.log = log }
}

// NewMux returns a Mux that delivers every decoded datagram, from any
// line, to deliver.
func NewMux(deliver DatagramHandler, opts ...Option) *Mux {
	m := &Mux{
		log:         slog.Default(),
		deliver:     deliver,
		linesByPeer: map[netip.Addr]*line{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SetLines wires the mux's peer→serial-line associations, per spec.md's
// set_serial_lines({peer_ipv4: serial_handle}) configuration call. Each
// line gets its own Framer instance and receive buffer.
func (m *Mux) SetLines(lines map[netip.Addr]SerialLine) {
	m.linesByPeer = make(map[netip.Addr]*line, len(lines))
	for peer, serial := range lines {
		l := &line{peer: peer, serial: serial}
		lineName := serial.Name()
		l.framer = NewFramer(func(datagram []byte) {
			metrics.SLIPFrames.WithLabelValues(lineName, metrics.DirectionRX).Inc()
			m.deliver(datagram)
		}, WithLogger(m.log), WithName(lineName))
		serial.OnBytesArrived(l.framer.RecvBytes)
		m.linesByPeer[peer] = l
	}
}

// Send encodes datagram and writes it to the line associated with
// nextHop. A next hop with no associated line is a configuration error
// (the forwarding table produced a next hop nothing was wired to) and is
// fatal, per spec.md §4.1/§7: routing miss is a configuration error, not
// a recoverable one.
func (m *Mux) Send(nextHop netip.Addr, datagram []byte) error {
	l, ok := m.linesByPeer[nextHop]
	if !ok {
		panic(fmt.Sprintf("slip: no serial line configured for next hop %s", nextHop))
	}
	metrics.SLIPFrames.WithLabelValues(l.serial.Name(), metrics.DirectionTX).Inc()
	return l.serial.Send(Encode(datagram))
}
