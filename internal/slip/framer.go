// Package slip implements RFC 1055 byte-stuffed framing over a raw serial
// byte stream: one Framer per physical line, decoding inbound bytes into
// datagrams and encoding outbound datagrams into the wire's escaped form.
package slip

import (
	"log/slog"

	"github.com/malbeclabs/chatlink/internal/metrics"
)

const (
	// END delimits a SLIP frame on the wire.
	END = 0xC0
	// ESC escapes a literal END or ESC byte inside a frame.
	ESC = 0xDB
	// ESCEND follows ESC to represent a literal END byte.
	ESCEND = 0xDC
	// ESCESC follows ESC to represent a literal ESC byte.
	ESCESC = 0xDD
)

type decodeState uint8

const (
	stateIdle decodeState = iota
	stateReading
	stateEscape
)

// DatagramHandler receives a fully decoded datagram. Implementations are
// the IP layer above; panics raised here are trapped by the Framer so a
// single bad upcall can never corrupt framing state for subsequent bytes.
type DatagramHandler func(datagram []byte)

// Framer maintains one line's receive buffer and decode state machine.
// It is not safe for concurrent use — the core is single-threaded and all
// bytes for a given line arrive serialised through the owning scheduler.
type Framer struct {
	log     *slog.Logger
	name    string
	state   decodeState
	buf     []byte
	deliver DatagramHandler
}

// Option configures a Framer at construction time.
type Option func(*Framer)

// WithLogger overrides the framer's logger; the default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(f *Framer) { f.log = log }
}

// WithName labels the framer for the chatlink_slip_frame_errors_total
// metric; the default is the empty label.
func WithName(name string) Option {
	return func(f *Framer) { f.name = name }
}

// NewFramer returns an idle Framer that calls deliver once per decoded
// datagram.
func NewFramer(deliver DatagramHandler, opts ...Option) *Framer {
	f := &Framer{
		log:     slog.Default(),
		state:   stateIdle,
		deliver: deliver,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Encode wraps a datagram in END delimiters, escaping any interior END or
// ESC byte per RFC 1055.
func Encode(datagram []byte) []byte {
	out := make([]byte, 0, len(datagram)+2)
	out = append(out, END)
	for _, b := range datagram {
		switch b {
		case END:
			out = append(out, ESC, ESCEND)
		case ESC:
			out = append(out, ESC, ESCESC)
		default:
			out = append(out, b)
		}
	}
	out = append(out, END)
	return out
}

// RecvBytes feeds raw bytes arriving from the serial line into the decode
// state machine. Zero or more datagrams may be delivered synchronously
// before RecvBytes returns.
func (f *Framer) RecvBytes(data []byte) {
	for _, b := range data {
		f.recvByte(b)
	}
}

func (f *Framer) recvByte(b byte) {
	switch f.state {
	case stateIdle:
		switch b {
		case END:
			f.state = stateReading
		case ESC:
			f.state = stateEscape
		default:
			f.buf = append(f.buf, b)
			f.state = stateReading
		}

	case stateReading:
		switch b {
		case END:
			if len(f.buf) > 0 {
				f.deliverSafely(f.buf)
			}
			f.buf = nil
			f.state = stateIdle
		case ESC:
			f.state = stateEscape
		default:
			f.buf = append(f.buf, b)
		}

	case stateEscape:
		switch b {
		case ESCEND:
			f.buf = append(f.buf, END)
		case ESCESC:
			f.buf = append(f.buf, ESC)
		default:
			metrics.SLIPFrameErrors.WithLabelValues(f.name).Inc()
			f.log.Warn("slip: invalid byte in escape state, discarding", "byte", b)
		}
		f.state = stateReading
	}
}

// deliverSafely calls the upper layer's handler, trapping any panic so
// framer state is never corrupted by a misbehaving consumer.
func (f *Framer) deliverSafely(datagram []byte) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Error("slip: panic in datagram handler, dropping frame", "panic", r)
		}
	}()
	frame := make([]byte, len(datagram))
	copy(frame, datagram)
	f.deliver(frame)
}
