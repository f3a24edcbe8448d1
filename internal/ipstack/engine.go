package ipstack

import (
	"log/slog"
	"net/netip"

	"github.com/malbeclabs/chatlink/internal/metrics"
)

// LinkSender is the subset of slip.Mux the IP engine needs: dispatch an
// already-built datagram to whichever line serves nextHop.
type LinkSender interface {
	Send(nextHop netip.Addr, datagram []byte) error
}

// TCPHandler receives TCP segments addressed to this host: (src, dst,
// payload) where payload is the raw TCP segment bytes.
type TCPHandler func(src, dst netip.Addr, payload []byte)

// Engine is the IPv4 receive/forward/send path described in spec.md §4.2:
// host-vs-router decision, longest-prefix-match forwarding, TTL
// decrement, ICMP Time Exceeded generation, and outgoing header
// construction for locally originated TCP segments.
type Engine struct {
	log *slog.Logger

	myAddr netip.Addr
	table  *Table
	link   LinkSender

	identification uint16
	tcpHandler     TCPHandler

	// ignoreChecksum is the flag the TCP layer observes (see
	// IgnoreChecksum): when set, it skips validation of inbound segment
	// checksums. The SLIP framer adds no checksum of its own.
	ignoreChecksum bool
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger overrides the engine's logger; the default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithIgnoreChecksum sets the ignore_checksum flag the TCP layer observes.
func WithIgnoreChecksum(ignore bool) Option {
	return func(e *Engine) { e.ignoreChecksum = ignore }
}

// NewEngine constructs an Engine for myAddr, forwarding via link, with an
// empty routing table (set via SetRoutes) and no TCP handler registered
// yet (set via RegisterTCPHandler).
func NewEngine(myAddr netip.Addr, link LinkSender, opts ...Option) *Engine {
	e := &Engine{
		log:    slog.Default(),
		myAddr: myAddr,
		table:  NewTable(nil),
		link:   link,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// SetRoutes installs the forwarding table, per spec.md's set_routes call.
func (e *Engine) SetRoutes(entries []RouteEntry) {
	e.table = NewTable(entries)
}

// RegisterTCPHandler registers the callback invoked with (src, dst,
// payload) for datagrams addressed to this host carrying protocol TCP.
func (e *Engine) RegisterTCPHandler(h TCPHandler) {
	e.tcpHandler = h
}

// IgnoreChecksum reports whether the TCP layer should skip its own
// checksum validation, because this engine's serial links are assumed
// pre-checksummed.
func (e *Engine) IgnoreChecksum() bool {
	return e.ignoreChecksum
}

// MyAddr returns this host's configured IPv4 address.
func (e *Engine) MyAddr() netip.Addr {
	return e.myAddr
}

// Receive processes one inbound IPv4 datagram, per spec.md §4.2: deliver
// to the TCP handler if addressed to this host, else act as a router —
// decrement TTL and forward, or emit ICMP Time Exceeded.
func (e *Engine) Receive(datagram []byte) {
	h, payload, err := ParseHeader(datagram)
	if err != nil {
		e.log.Warn("ipstack: dropping unparseable datagram", "error", err)
		return
	}

	if h.Dst == e.myAddr {
		if h.Protocol == ProtoTCP {
			if e.tcpHandler != nil {
				e.tcpHandler(h.Src, h.Dst, payload)
			}
			return
		}
		// Non-TCP traffic addressed to us (e.g. our own ICMP replies
		// looping back) has no registered consumer; drop silently.
		return
	}

	e.forward(h, datagram)
}

func (e *Engine) forward(h Header, datagram []byte) {
	if h.TTL == 0 {
		// Already expired on the wire; nothing meaningful to forward.
		e.emitTimeExceeded(h, datagram)
		return
	}
	newTTL := h.TTL - 1
	if newTTL > 0 {
		SetTTLAndFixChecksum(datagram, newTTL)
		nextHop, ok := e.table.Lookup(h.Dst)
		if !ok {
			e.log.Error("ipstack: no route to forward datagram, dropping", "dst", h.Dst)
			return
		}
		if err := e.link.Send(nextHop, datagram); err != nil {
			e.log.Error("ipstack: failed to send forwarded datagram", "error", err)
		}
		return
	}
	e.emitTimeExceeded(h, datagram)
}

func (e *Engine) emitTimeExceeded(h Header, original []byte) {
	metrics.ICMPTimeExceeded.Inc()

	// ICMP payload: the original IPv4 header plus the first 8 payload
	// bytes, per spec.md §4.2 and RFC 792.
	n := HeaderLen + 8
	if n > len(original) {
		n = len(original)
	}
	icmpPayload := append([]byte(nil), original[:n]...)

	icmp := buildICMPTimeExceeded(icmpPayload)

	outHeader := Header{
		TTL:      64,
		Protocol: ProtoICMP,
		ID:       e.nextIdentification(),
		Src:      e.myAddr,
		Dst:      h.Src,
	}
	reply := outHeader.Marshal(icmp)

	nextHop, ok := e.table.Lookup(h.Src)
	if !ok {
		e.log.Error("ipstack: no route to send ICMP Time Exceeded, dropping", "dst", h.Src)
		return
	}
	if err := e.link.Send(nextHop, reply); err != nil {
		e.log.Error("ipstack: failed to send ICMP Time Exceeded", "error", err)
	}
}

// Send builds a complete IPv4 datagram carrying segment (a TCP segment)
// to dst, per spec.md §4.2's send path, and dispatches it via the
// forwarding table.
func (e *Engine) Send(dst netip.Addr, segment []byte) error {
	h := Header{
		TTL:      64,
		Protocol: ProtoTCP,
		ID:       e.nextIdentification(),
		Src:      e.myAddr,
		Dst:      dst,
	}
	datagram := h.Marshal(segment)

	nextHop, ok := e.table.Lookup(dst)
	if !ok {
		e.log.Error("ipstack: no route to destination, dropping", "dst", dst)
		return nil
	}
	return e.link.Send(nextHop, datagram)
}

func (e *Engine) nextIdentification() uint16 {
	id := e.identification
	e.identification++
	return id
}
