package tcpstack

import (
	"net"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"
)

func TestTCPStack_Segment_BuildParseRoundTrip(t *testing.T) {
	t.Parallel()

	local := netip.MustParseAddr("10.0.0.1")
	remote := netip.MustParseAddr("10.0.0.2")

	seg := Segment{SrcPort: 1234, DstPort: 23, Seq: 1000, Ack: 2000, Flags: FlagACK, Payload: []byte("hello chat")}
	wire := Build(seg, local, remote)

	got, err := ParseSegment(wire, remote, local, true)
	require.NoError(t, err)
	require.Equal(t, seg.SrcPort, got.SrcPort)
	require.Equal(t, seg.DstPort, got.DstPort)
	require.Equal(t, seg.Seq, got.Seq)
	require.Equal(t, seg.Ack, got.Ack)
	require.Equal(t, seg.Flags, got.Flags)
	require.Equal(t, seg.Payload, got.Payload)
}

func TestTCPStack_Segment_ChecksumMismatchIsRejected(t *testing.T) {
	t.Parallel()

	local := netip.MustParseAddr("10.0.0.1")
	remote := netip.MustParseAddr("10.0.0.2")
	wire := Build(Segment{SrcPort: 1, DstPort: 2, Seq: 1, Flags: FlagACK}, local, remote)
	wire[4] ^= 0xFF

	_, err := ParseSegment(wire, remote, local, true)
	require.Error(t, err)
}

func TestTCPStack_Segment_IgnoreChecksumSkipsValidation(t *testing.T) {
	t.Parallel()

	local := netip.MustParseAddr("10.0.0.1")
	remote := netip.MustParseAddr("10.0.0.2")
	wire := Build(Segment{SrcPort: 1, DstPort: 2, Seq: 1, Flags: FlagACK}, local, remote)
	wire[4] ^= 0xFF

	_, err := ParseSegment(wire, remote, local, false)
	require.NoError(t, err)
}

// TestTCPStack_Segment_GopacketCrossCheck builds a TCP segment with
// gopacket's independent serializer (computing its own pseudo-header
// checksum) and confirms our ParseSegment agrees with it.
func TestTCPStack_Segment_GopacketCrossCheck(t *testing.T) {
	t.Parallel()

	srcIP := net.IPv4(10, 0, 0, 1).To4()
	dstIP := net.IPv4(10, 0, 0, 2).To4()

	gpIP := &layers.IPv4{SrcIP: srcIP, DstIP: dstIP, Protocol: layers.IPProtocolTCP, TTL: 64, Version: 4, IHL: 5}
	gpTCP := &layers.TCP{
		SrcPort: 5000,
		DstPort: 23,
		Seq:     42,
		Ack:     7,
		ACK:     true,
		DataOffset: 5,
	}
	require.NoError(t, gpTCP.SetNetworkLayerForChecksum(gpIP))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, gpTCP, gopacket.Payload([]byte("hey"))))

	local := netip.MustParseAddr("10.0.0.2")
	remote := netip.MustParseAddr("10.0.0.1")
	got, err := ParseSegment(buf.Bytes(), remote, local, true)
	require.NoError(t, err)
	require.Equal(t, uint16(5000), got.SrcPort)
	require.Equal(t, uint16(23), got.DstPort)
	require.Equal(t, uint32(42), got.Seq)
	require.Equal(t, uint32(7), got.Ack)
	require.Equal(t, []byte("hey"), got.Payload)
}
