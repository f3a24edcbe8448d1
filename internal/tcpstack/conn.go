package tcpstack

import (
	"log/slog"
	"math/rand"
	"net/netip"
	"strconv"
	"time"

	"github.com/malbeclabs/chatlink/internal/metrics"
	"github.com/malbeclabs/chatlink/internal/sched"
)

// MSS is the compile-time maximum segment size for TCP payload, per
// spec.md §6.
const MSS = 512

// IPSender is the subset of ipstack.Engine the TCP layer needs to hand a
// built segment down to IP for transmission.
type IPSender interface {
	Send(dst netip.Addr, segment []byte) error
}

// ReceiveFunc is invoked with in-order application bytes. An empty bytes
// slice signals EOF (peer FIN), per spec.md §4.4.
type ReceiveFunc func(conn *Connection, payload []byte)

type unackedRecord struct {
	seq           uint32
	wireLen       uint32
	sendTime      time.Time
	retransmitted bool
	flags         uint8
	payload       []byte
}

type pendingRecord struct {
	seq     uint32
	flags   uint8
	payload []byte
}

// Connection is one TCP connection's state, keyed by the 4-tuple
// (remote_addr, remote_port, local_addr, local_port), per spec.md §3.
// Owned by the Server's connection table; Connection holds only a
// non-owning back-reference used solely to ask the server to remove it
// on teardown (spec.md §9 ownership-graph guidance).
type Connection struct {
	log *slog.Logger

	remoteAddr netip.Addr
	remotePort uint16
	localAddr  netip.Addr
	localPort  uint16

	ip    IPSender
	sched *sched.Scheduler

	sndNext uint32
	sndUna  uint32
	rcvNext uint32
	cwnd    uint32 // MSS units

	unacked    []unackedRecord
	sendQueue  []pendingRecord
	rtt        rttEstimator
	rtoTimer   *sched.Handle
	state      State
	onReceive  ReceiveFunc
	onRemove   func()
	metricsKey string
}

// fourTuple identifies a connection for the server's connection table.
type fourTuple struct {
	RemoteAddr netip.Addr
	RemotePort uint16
	LocalAddr  netip.Addr
	LocalPort  uint16
}

func (k fourTuple) String() string {
	return k.RemoteAddr.String() + ":" + strconv.Itoa(int(k.RemotePort)) + "->" + k.LocalAddr.String() + ":" + strconv.Itoa(int(k.LocalPort))
}

// newConnection performs the passive-open SYN|ACK handshake immediately,
// per spec.md §4.3: pick a random ISN, set rcv_next = peer_isn + 1,
// enqueue a zero-payload SYN|ACK segment, and drain it onto the wire.
func newConnection(key fourTuple, peerISN uint32, ip IPSender, s *sched.Scheduler, onRemove func(), log *slog.Logger) *Connection {
	c := &Connection{
		log:        log,
		remoteAddr: key.RemoteAddr,
		remotePort: key.RemotePort,
		localAddr:  key.LocalAddr,
		localPort:  key.LocalPort,
		ip:         ip,
		sched:      s,
		sndNext:    uint32(rand.Intn(1 << 16)),
		rcvNext:    peerISN + 1,
		cwnd:       1,
		state:      StateSynRcvd,
		onRemove:   onRemove,
		metricsKey: key.String(),
	}
	c.sndUna = c.sndNext
	c.enqueue(FlagSYN|FlagACK, nil)
	c.drain()
	return c
}

// RemoteAddr and RemotePort answer the application's synchronous query
// for the remote endpoint, per spec.md §4.4.
func (c *Connection) RemoteAddr() netip.Addr { return c.remoteAddr }
func (c *Connection) RemotePort() uint16     { return c.remotePort }

// RegisterReceiver sets the callback invoked with in-order payload (or
// empty payload on EOF).
func (c *Connection) RegisterReceiver(fn ReceiveFunc) {
	c.onReceive = fn
}

// Send enqueues payload, split into MSS-sized records, for transmission.
func (c *Connection) Send(payload []byte) {
	for len(payload) > 0 {
		n := len(payload)
		if n > MSS {
			n = MSS
		}
		c.enqueue(0, payload[:n])
		payload = payload[n:]
	}
	c.drain()
}

// Close initiates local teardown: enqueues a FIN and drains it, per
// spec.md §4.3.4 (ESTABLISHED/CLOSE_WAIT → LAST_ACK).
func (c *Connection) Close() {
	if c.state == StateLastAck || c.state == StateClosed {
		return
	}
	c.state = StateLastAck
	c.enqueue(FlagFIN, nil)
	c.drain()
}

// enqueue appends one pending record to send_queue, consuming one
// sequence number per byte of payload (or exactly one for a bare
// SYN/FIN), per spec.md §4.3.2.
func (c *Connection) enqueue(flags uint8, payload []byte) {
	c.sendQueue = append(c.sendQueue, pendingRecord{seq: c.sndNext, flags: flags, payload: payload})
	n := uint32(len(payload))
	if n == 0 {
		n = 1
	}
	c.sndNext += n
}

// inFlight returns bytes-in-flight per spec.md §3's invariant.
func (c *Connection) inFlight() uint32 {
	if len(c.unacked) == 0 {
		return 0
	}
	last := c.unacked[len(c.unacked)-1]
	return last.seq + last.wireLen - c.sndUna
}

// drain releases send_queue entries onto the wire while they fit within
// the congestion window, per spec.md §4.3.2.
func (c *Connection) drain() {
	for len(c.sendQueue) > 0 {
		head := c.sendQueue[0]
		wireLen := uint32(len(head.payload))
		if wireLen == 0 {
			wireLen = 1
		}
		if c.inFlight()+wireLen > c.cwnd*MSS {
			break
		}
		c.sendQueue = c.sendQueue[1:]
		c.transmit(head.seq, head.flags, head.payload, false)
	}
	if c.rtoTimer == nil && len(c.unacked) > 0 {
		c.armRTO()
	}
}

func (c *Connection) transmit(seq uint32, flags uint8, payload []byte, retransmitted bool) {
	seg := Segment{
		SrcPort: c.localPort,
		DstPort: c.remotePort,
		Seq:     seq,
		Ack:     c.rcvNext,
		Flags:   flags | FlagACK,
		Payload: payload,
	}
	wire := Build(seg, c.localAddr, c.remoteAddr)

	wireLen := uint32(len(payload))
	if wireLen == 0 {
		wireLen = 1
	}
	c.unacked = append(c.unacked, unackedRecord{
		seq:           seq,
		wireLen:       wireLen,
		sendTime:      c.sched.Now(),
		retransmitted: retransmitted,
		flags:         flags,
		payload:       payload,
	})

	if err := c.ip.Send(c.remoteAddr, wire); err != nil {
		c.log.Error("tcpstack: failed to send segment", "conn", c.metricsKey, "error", err)
	}
}

// sendBareACK emits a zero-payload ACK carrying the current rcv_next,
// without touching send_queue/unacked (it consumes no sequence number).
func (c *Connection) sendBareACK() {
	seg := Segment{
		SrcPort: c.localPort,
		DstPort: c.remotePort,
		Seq:     c.sndNext,
		Ack:     c.rcvNext,
		Flags:   FlagACK,
	}
	wire := Build(seg, c.localAddr, c.remoteAddr)
	if err := c.ip.Send(c.remoteAddr, wire); err != nil {
		c.log.Error("tcpstack: failed to send bare ACK", "conn", c.metricsKey, "error", err)
	}
}

// HandleSegment processes one inbound segment for this connection, per
// spec.md §4.3.1.
func (c *Connection) HandleSegment(seg Segment) {
	if seg.HasFIN() {
		c.rcvNext++
		c.sendBareACK()
		c.state = StateCloseWait
		if c.onReceive != nil {
			c.onReceive(c, nil) // EOF
		}
		return
	}

	if seg.HasACK() {
		if seqGT(seg.Ack, c.sndUna) {
			c.handleNewACK(seg.Ack)
		}
		if c.state == StateLastAck {
			c.teardown()
			return
		}
		if len(seg.Payload) == 0 {
			return
		}
	}

	if seg.Seq == c.rcvNext {
		c.rcvNext += uint32(len(seg.Payload))
		if c.onReceive != nil {
			c.onReceive(c, seg.Payload)
		}
	}
	// Out-of-order segments are silently discarded, relying on
	// retransmission (spec.md §4.3.1, §9).
	c.sendBareACK()
}

// handleNewACK implements spec.md §4.3.1's ACK-processing branch for
// ack > snd_una.
func (c *Connection) handleNewACK(ack uint32) {
	wasHandshakeDone := c.state != StateSynRcvd

	if c.rtoTimer != nil {
		c.rtoTimer.Cancel()
		c.rtoTimer = nil
	}
	c.sndUna = ack
	if wasHandshakeDone {
		c.cwnd++
		metrics.TCPCwnd.WithLabelValues(c.metricsKey).Set(float64(c.cwnd))
	}
	metrics.TCPAcks.WithLabelValues(c.metricsKey).Inc()

	i := len(c.unacked)
	for idx, e := range c.unacked {
		if e.seq > c.sndUna-1 {
			i = idx
			break
		}
	}

	if len(c.unacked) > 0 {
		if i == len(c.unacked) {
			last := c.unacked[len(c.unacked)-1]
			if wasHandshakeDone && !last.retransmitted {
				c.rtt.sample(c.sched.Now().Sub(last.sendTime))
			}
			c.unacked = nil
		} else if i > 0 {
			tail := c.unacked[i-1]
			if wasHandshakeDone && !tail.retransmitted {
				c.rtt.sample(c.sched.Now().Sub(tail.sendTime))
			}
			c.unacked = append([]unackedRecord(nil), c.unacked[i:]...)
		}
	}

	if !wasHandshakeDone {
		c.state = StateEstablished
	}

	c.drain()
}

// armRTO schedules a single RTO timer, replacing any previously armed
// one (at most one timer handle per connection, per spec.md §3/§5).
func (c *Connection) armRTO() {
	sched.Rearm(&c.rtoTimer, c.sched, c.rtt.rto(), c.onRTOExpiry)
}

// onRTOExpiry implements spec.md §4.3.3's retransmission-on-timeout
// behaviour.
func (c *Connection) onRTOExpiry() {
	c.rtoTimer = nil
	if len(c.unacked) > 0 {
		if c.cwnd > 1 {
			c.cwnd /= 2
			if c.cwnd < 1 {
				c.cwnd = 1
			}
		}
		metrics.TCPCwnd.WithLabelValues(c.metricsKey).Set(float64(c.cwnd))
		metrics.TCPRetransmits.WithLabelValues(c.metricsKey).Inc()

		// Resend the oldest unacked record in place: unacked must stay
		// sorted by seq (spec.md §3), so this updates the existing
		// entry rather than popping it and re-appending through
		// transmit, which would move it to the back of the slice.
		oldest := &c.unacked[0]
		oldest.sendTime = c.sched.Now()
		oldest.retransmitted = true
		seg := Segment{
			SrcPort: c.localPort,
			DstPort: c.remotePort,
			Seq:     oldest.seq,
			Ack:     c.rcvNext,
			Flags:   oldest.flags | FlagACK,
			Payload: oldest.payload,
		}
		wire := Build(seg, c.localAddr, c.remoteAddr)
		if err := c.ip.Send(c.remoteAddr, wire); err != nil {
			c.log.Error("tcpstack: failed to retransmit segment", "conn", c.metricsKey, "error", err)
		}
		c.armRTO()
	}
	// When unacked is empty, the timer is simply not re-armed; spec.md
	// §4.3.3/§9 notes this is a correctness-preserving simplification
	// of "always rearm".
}

// teardown removes this connection from the server's table and cancels
// its timer, per spec.md §4.3.4 (CLOSED on ACK of our FIN).
func (c *Connection) teardown() {
	c.state = StateClosed
	if c.rtoTimer != nil {
		c.rtoTimer.Cancel()
		c.rtoTimer = nil
	}
	if c.onRemove != nil {
		c.onRemove()
	}
}
