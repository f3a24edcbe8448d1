package tcpstack

import (
	"log/slog"
	"net/netip"

	"github.com/malbeclabs/chatlink/internal/metrics"
	"github.com/malbeclabs/chatlink/internal/sched"
)

// AcceptFunc is invoked once per new SYN, per spec.md §4.4.
type AcceptFunc func(conn *Connection)

// Server listens on a single fixed local port and owns the connection
// table described in spec.md §3: created on SYN, destroyed on ACK of our
// FIN.
type Server struct {
	log   *slog.Logger
	ip    IPSender
	sched *sched.Scheduler

	localAddr netip.Addr
	port      uint16

	ignoreChecksum bool
	onAccept       AcceptFunc

	conns map[fourTuple]*Connection
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithLogger overrides the server's logger; the default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithIgnoreChecksum skips segment checksum validation, mirroring the IP
// engine's ignore_checksum flag for pre-checksummed serial links.
func WithIgnoreChecksum(ignore bool) Option {
	return func(s *Server) { s.ignoreChecksum = ignore }
}

// NewServer constructs a Server bound to localAddr, sending segments via
// ip and scheduling timers via sch. Call Listen to set the listening port
// and RegisterAccept before traffic arrives.
func NewServer(localAddr netip.Addr, ip IPSender, sch *sched.Scheduler, opts ...Option) *Server {
	s := &Server{
		log:       slog.Default(),
		ip:        ip,
		sched:     sch,
		localAddr: localAddr,
		conns:     map[fourTuple]*Connection{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Listen sets the fixed local port this server accepts connections on,
// per spec.md §6.
func (s *Server) Listen(port uint16) {
	s.port = port
}

// RegisterAccept registers the callback invoked once per new connection.
func (s *Server) RegisterAccept(fn AcceptFunc) {
	s.onAccept = fn
}

// ConnectionCount returns the number of live connections in the table.
func (s *Server) ConnectionCount() int {
	return len(s.conns)
}

// HandleSegment demultiplexes one inbound TCP segment delivered by the IP
// layer (src, dst, raw segment bytes), per spec.md §4.3.
func (s *Server) HandleSegment(src, dst netip.Addr, raw []byte) {
	dstPort, ok := peekDstPort(raw)
	if !ok {
		s.log.Warn("tcpstack: dropping short segment")
		return
	}
	if dstPort != s.port {
		s.log.Warn("tcpstack: dropping segment for unknown local port", "port", dstPort)
		return
	}

	seg, err := ParseSegment(raw, src, dst, !s.ignoreChecksum)
	if err != nil {
		s.log.Warn("tcpstack: dropping segment", "error", err)
		return
	}

	key := fourTuple{RemoteAddr: src, RemotePort: seg.SrcPort, LocalAddr: dst, LocalPort: seg.DstPort}

	if seg.HasSYN() {
		// Last-SYN-wins on 4-tuple collision, per spec.md §4.3/§9's
		// documented open question: the reference replaces any
		// existing connection outright rather than dropping the SYN.
		conn := newConnection(key, seg.Seq, s.ip, s.sched, func() { s.remove(key) }, s.log)
		s.conns[key] = conn
		metrics.TCPConnections.Set(float64(len(s.conns)))
		if s.onAccept != nil {
			s.onAccept(conn)
		}
		return
	}

	conn, ok := s.conns[key]
	if !ok {
		s.log.Warn("tcpstack: dropping segment for unknown connection", "key", key.String())
		return
	}
	conn.HandleSegment(seg)
}

func (s *Server) remove(key fourTuple) {
	delete(s.conns, key)
	metrics.TCPConnections.Set(float64(len(s.conns)))
}

// peekDstPort reads the destination port without fully parsing the
// segment, so we can drop segments for other ports before paying for
// checksum validation.
func peekDstPort(raw []byte) (uint16, bool) {
	if len(raw) < 4 {
		return 0, false
	}
	return uint16(raw[2])<<8 | uint16(raw[3]), true
}
