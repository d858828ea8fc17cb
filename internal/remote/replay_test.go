package remote

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// writeSegments writes one Ethernet/IPv4/TCP packet per payload.
func writeSegments(t *testing.T, w *pcapgo.Writer, srcPort, dstPort uint16, payloads ...[]byte) {
	t.Helper()
	seq := uint32(1000)
	for i, p := range payloads {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
			DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolTCP,
			SrcIP:    net.IPv4(10, 0, 0, 2),
			DstIP:    net.IPv4(10, 0, 0, 1),
		}
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(srcPort),
			DstPort: layers.TCPPort(dstPort),
			Seq:     seq,
			ACK:     true,
			PSH:     true,
			Window:  65535,
		}
		require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(p)))
		data := buf.Bytes()
		ci := gopacket.CaptureInfo{
			Timestamp:     time.Unix(1700000000, int64(i)),
			CaptureLength: len(data),
			Length:        len(data),
		}
		require.NoError(t, w.WritePacket(ci, data))
		seq += uint32(len(p))
	}
}

func TestReplayCapture(t *testing.T) {
	var stream bytes.Buffer
	enc := NewEncoder(&stream)
	require.NoError(t, enc.WriteString(GrabberType))
	require.NoError(t, enc.WriteAxis(CmdXAxis, []float64{0, 1}))
	require.NoError(t, enc.WriteDone([]*mat.Dense{mat.NewDense(1, 2, []float64{3, 4})}))
	require.NoError(t, enc.WriteDone([]*mat.Dense{mat.NewDense(1, 2, []float64{5, 6})}))
	raw := stream.Bytes()

	var capture bytes.Buffer
	w := pcapgo.NewWriter(&capture)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	// Split the stream at an arbitrary point so messages span segments.
	writeSegments(t, w, 50000, 6341, raw[:13], raw[13:])
	// Server-to-client traffic is ignored.
	writeSegments(t, w, 6341, 50000, []byte{0, 0, 0, 4, 'g', 'r', 'a', 'b'})

	rec := newFinals()
	sink := NewServerDetector(ServerConfig{Listener: rec})
	st, err := ReplayCapture(&capture, 6341, sink)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Packets)
	assert.Equal(t, 2, st.Segments)
	assert.Equal(t, len(raw), st.Bytes)
	assert.Equal(t, 3, st.Messages)

	first := rec.next(t)
	assert.Equal(t, []float64{3, 4}, mat.Row(nil, 0, first.Data[0].Data[0]))
	assert.Equal(t, []float64{0, 1}, first.Data[0].XAxis.Data)
	second := rec.next(t)
	assert.Equal(t, uint64(2), second.Index)
}

func TestReplayCapture_RejectsGarbage(t *testing.T) {
	sink := NewServerDetector(ServerConfig{})
	_, err := ReplayCapture(bytes.NewReader([]byte("not a capture")), 6341, sink)
	assert.Error(t, err)

	var capture bytes.Buffer
	w := pcapgo.NewWriter(&capture)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	_, err = ReplayCapture(&capture, 6341, sink)
	assert.Error(t, err, "capture without a handshake")
}
