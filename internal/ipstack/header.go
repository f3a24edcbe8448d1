package ipstack

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// HeaderLen is the fixed length of an IPv4 header with no options (IHL=5).
const HeaderLen = 20

const (
	ProtoICMP = 1
	ProtoTCP  = 6
)

// Header is a parsed IPv4 header. Options are never supported (IHL is
// always 5 on the wire), per spec.md's non-goals.
type Header struct {
	TTL      uint8
	Protocol uint8
	ID       uint16
	Src      netip.Addr
	Dst      netip.Addr
	// TotalLength is the IPv4 total length field (header + payload).
	TotalLength uint16
}

// ParseHeader parses the first 20 bytes of datagram as an IPv4 header and
// returns the header plus the remaining payload slice. It returns an error
// if the datagram is too short, not version 4, or carries options (IHL != 5).
func ParseHeader(datagram []byte) (Header, []byte, error) {
	if len(datagram) < HeaderLen {
		return Header{}, nil, fmt.Errorf("ipstack: short datagram: %d bytes", len(datagram))
	}
	versionIHL := datagram[0]
	version := versionIHL >> 4
	ihl := versionIHL & 0x0F
	if version != 4 {
		return Header{}, nil, fmt.Errorf("ipstack: unsupported version %d", version)
	}
	if ihl != 5 {
		return Header{}, nil, fmt.Errorf("ipstack: IP options not supported (ihl=%d)", ihl)
	}

	totalLen := binary.BigEndian.Uint16(datagram[2:4])
	id := binary.BigEndian.Uint16(datagram[4:6])
	ttl := datagram[8]
	proto := datagram[9]
	src, _ := netip.AddrFromSlice(datagram[12:16])
	dst, _ := netip.AddrFromSlice(datagram[16:20])

	if int(totalLen) > len(datagram) {
		return Header{}, nil, fmt.Errorf("ipstack: total length %d exceeds datagram size %d", totalLen, len(datagram))
	}

	h := Header{
		TTL:         ttl,
		Protocol:    proto,
		ID:          id,
		Src:         src,
		Dst:         dst,
		TotalLength: totalLen,
	}
	payload := datagram[HeaderLen:totalLen]
	return h, payload, nil
}

// Marshal builds a complete 20-byte-header IPv4 datagram from h and
// payload, with version=4, IHL=5, DSCP/ECN=0, flags/fragment-offset=0,
// and a freshly computed header checksum.
func (h Header) Marshal(payload []byte) []byte {
	datagram := make([]byte, HeaderLen+len(payload))
	datagram[0] = 0x45 // version 4, IHL 5
	datagram[1] = 0x00 // DSCP/ECN
	binary.BigEndian.PutUint16(datagram[2:4], uint16(HeaderLen+len(payload)))
	binary.BigEndian.PutUint16(datagram[4:6], h.ID)
	binary.BigEndian.PutUint16(datagram[6:8], 0) // flags/fragment offset
	datagram[8] = h.TTL
	datagram[9] = h.Protocol
	binary.BigEndian.PutUint16(datagram[10:12], 0) // checksum, fixed below
	src4 := h.Src.As4()
	dst4 := h.Dst.As4()
	copy(datagram[12:16], src4[:])
	copy(datagram[16:20], dst4[:])
	copy(datagram[HeaderLen:], payload)

	fixHeaderChecksum(datagram)
	return datagram
}

// fixHeaderChecksum zeroes the checksum field of an IPv4 header (the
// first 20 bytes of datagram) and writes back the correct value, per
// spec.md's invariant that the checksum field is always zeroed before
// recomputation.
func fixHeaderChecksum(datagram []byte) {
	datagram[10] = 0
	datagram[11] = 0
	sum := checksum(datagram[:HeaderLen])
	binary.BigEndian.PutUint16(datagram[10:12], sum)
}

// SetTTLAndFixChecksum rewrites the TTL byte of a raw IPv4 datagram in
// place and recomputes the header checksum, used on the forwarding path
// where the rest of the header is passed through unchanged.
func SetTTLAndFixChecksum(datagram []byte, ttl uint8) {
	datagram[8] = ttl
	fixHeaderChecksum(datagram)
}
