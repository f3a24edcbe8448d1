package ipstack

import "encoding/binary"

const (
	icmpTypeTimeExceeded = 11
	icmpCodeTTLExceeded  = 0
)

// buildICMPTimeExceeded builds an ICMP type 11 code 0 message: a 4-byte
// rest-of-header (always zero) followed by payload (the original IPv4
// header plus the first 8 payload bytes), with the checksum covering the
// whole ICMP message, per spec.md §4.2/§6.
func buildICMPTimeExceeded(payload []byte) []byte {
	msg := make([]byte, 4+len(payload))
	msg[0] = icmpTypeTimeExceeded
	msg[1] = icmpCodeTTLExceeded
	binary.BigEndian.PutUint16(msg[2:4], 0) // checksum, fixed below
	copy(msg[4:], payload)

	sum := checksum(msg)
	binary.BigEndian.PutUint16(msg[2:4], sum)
	return msg
}
