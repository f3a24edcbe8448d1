package slip

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSerial struct {
	name string
	sent [][]byte
	cb   func(data []byte)
}

func (f *fakeSerial) Send(data []byte) error {
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeSerial) OnBytesArrived(cb func(data []byte)) { f.cb = cb }
func (f *fakeSerial) Name() string                        { return f.name }

func TestSLIP_Mux_SendEncodesAndRoutesByNextHop(t *testing.T) {
	t.Parallel()

	peerA := netip.MustParseAddr("10.0.0.1")
	peerB := netip.MustParseAddr("10.0.0.2")
	lineA := &fakeSerial{name: "ttyA"}
	lineB := &fakeSerial{name: "ttyB"}

	var delivered [][]byte
	m := NewMux(func(d []byte) { delivered = append(delivered, d) })
	m.SetLines(map[netip.Addr]SerialLine{peerA: lineA, peerB: lineB})

	require.NoError(t, m.Send(peerB, []byte("payload")))
	require.Len(t, lineB.sent, 1)
	require.Empty(t, lineA.sent)
	require.Equal(t, Encode([]byte("payload")), lineB.sent[0])
}

func TestSLIP_Mux_SendToUnknownNextHopPanics(t *testing.T) {
	t.Parallel()

	m := NewMux(func(d []byte) {})
	m.SetLines(map[netip.Addr]SerialLine{})

	require.Panics(t, func() {
		_ = m.Send(netip.MustParseAddr("10.0.0.9"), []byte("x"))
	})
}

func TestSLIP_Mux_InboundBytesOnLineDecodeAndDeliverDatagram(t *testing.T) {
	t.Parallel()

	peerA := netip.MustParseAddr("10.0.0.1")
	lineA := &fakeSerial{name: "ttyA"}

	var delivered [][]byte
	m := NewMux(func(d []byte) { delivered = append(delivered, d) })
	m.SetLines(map[netip.Addr]SerialLine{peerA: lineA})

	lineA.cb(Encode([]byte("hello")))
	require.Equal(t, [][]byte{[]byte("hello")}, delivered)
}
