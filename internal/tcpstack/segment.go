// Package tcpstack implements the simplified TCP server described in
// spec.md §4.3: passive open only, sliding-window reliable delivery,
// cumulative ACK, Jacobson/Karels RTO estimation, AIMD congestion
// control, and FIN teardown. No TCP options beyond the fixed 20-byte
// header, no advertised-window flow control, no simultaneous-open.
package tcpstack

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// HeaderLen is the fixed TCP header length with no options (data offset = 5).
const HeaderLen = 20

// Flag bits within the TCP header's 13th byte.
const (
	FlagFIN uint8 = 1 << 0
	FlagSYN uint8 = 1 << 1
	FlagACK uint8 = 1 << 4
)

// Segment is a parsed TCP segment: header fields plus payload.
type Segment struct {
	SrcPort uint16
	DstPort uint16
	Seq     uint32
	Ack     uint32
	Flags   uint8
	Payload []byte
}

func (s Segment) hasFlag(f uint8) bool { return s.Flags&f != 0 }

// HasSYN, HasACK, HasFIN report the corresponding flag bits.
func (s Segment) HasSYN() bool { return s.hasFlag(FlagSYN) }
func (s Segment) HasACK() bool { return s.hasFlag(FlagACK) }
func (s Segment) HasFIN() bool { return s.hasFlag(FlagFIN) }

// ParseSegment parses a raw TCP segment. If validateChecksum is true, the
// pseudo-header+segment checksum is verified against (localAddr,
// remoteAddr) as (dst, src) of the segment on the wire, per spec.md §4.3.
func ParseSegment(raw []byte, remoteAddr, localAddr netip.Addr, validateChecksum bool) (Segment, error) {
	if len(raw) < HeaderLen {
		return Segment{}, fmt.Errorf("tcpstack: short segment: %d bytes", len(raw))
	}
	dataOffset := (raw[12] >> 4) * 4
	if int(dataOffset) > len(raw) {
		return Segment{}, fmt.Errorf("tcpstack: data offset %d exceeds segment length %d", dataOffset, len(raw))
	}

	if validateChecksum {
		sum := pseudoHeaderChecksum(raw, remoteAddr, localAddr)
		if sum != 0 {
			return Segment{}, fmt.Errorf("tcpstack: checksum mismatch")
		}
	}

	s := Segment{
		SrcPort: binary.BigEndian.Uint16(raw[0:2]),
		DstPort: binary.BigEndian.Uint16(raw[2:4]),
		Seq:     binary.BigEndian.Uint32(raw[4:8]),
		Ack:     binary.BigEndian.Uint32(raw[8:12]),
		Flags:   raw[13],
		Payload: append([]byte(nil), raw[dataOffset:]...),
	}
	return s, nil
}

// Build serializes s into a 20-byte-header TCP segment, with the
// checksum computed over the pseudo-header of (local, remote, length,
// protocol=6) concatenated with the segment, per spec.md §4.3.2/§6.
func Build(s Segment, localAddr, remoteAddr netip.Addr) []byte {
	raw := make([]byte, HeaderLen+len(s.Payload))
	binary.BigEndian.PutUint16(raw[0:2], s.SrcPort)
	binary.BigEndian.PutUint16(raw[2:4], s.DstPort)
	binary.BigEndian.PutUint32(raw[4:8], s.Seq)
	binary.BigEndian.PutUint32(raw[8:12], s.Ack)
	raw[12] = 5 << 4 // data offset = 5, no options
	raw[13] = s.Flags
	binary.BigEndian.PutUint16(raw[14:16], 0) // window: unused, spec non-goal
	binary.BigEndian.PutUint16(raw[16:18], 0) // checksum, fixed below
	binary.BigEndian.PutUint16(raw[18:20], 0) // urgent pointer: unused
	copy(raw[HeaderLen:], s.Payload)

	sum := pseudoHeaderChecksum(raw, localAddr, remoteAddr)
	binary.BigEndian.PutUint16(raw[16:18], sum)
	return raw
}

// pseudoHeaderChecksum computes the one's-complement checksum of the TCP
// pseudo-header (src, dst, zero, protocol=6, length) concatenated with
// segment. Called both to fix the checksum on send (sum of the
// zero-checksum segment) and to validate on receive (sum should fold to
// zero when the segment's own checksum field is already filled in).
func pseudoHeaderChecksum(segment []byte, src, dst netip.Addr) uint16 {
	pseudo := make([]byte, 12)
	s4 := src.As4()
	d4 := dst.As4()
	copy(pseudo[0:4], s4[:])
	copy(pseudo[4:8], d4[:])
	pseudo[8] = 0
	pseudo[9] = 6 // protocol TCP
	binary.BigEndian.PutUint16(pseudo[10:12], uint16(len(segment)))

	sum := checksumOnesComplement(append(pseudo, segment...))
	return sum
}

func checksumOnesComplement(data []byte) uint16 {
	var sum uint32
	n := len(data)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(data[i])<<8 | uint32(data[i+1])
	}
	if n%2 == 1 {
		sum += uint32(data[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}
