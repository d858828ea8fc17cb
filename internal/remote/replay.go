package remote

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/mockscanner/internal/monitoring"
)

// ReplayStats summarises a capture replay.
type ReplayStats struct {
	Packets  int
	Segments int
	Bytes    int
	Messages int
}

// ReplayCapture reads a pcap capture of a grabber session, reassembles the
// grabber-to-server byte stream addressed to port in capture order and
// dispatches every decoded message to sink. Retransmissions are not
// detected. A truncated final message is reported as an error after the
// complete ones are dispatched.
func ReplayCapture(r io.Reader, port uint16, sink *ServerDetector) (ReplayStats, error) {
	var st ReplayStats
	rd, err := pcapgo.NewReader(r)
	if err != nil {
		return st, fmt.Errorf("failed to read capture header: %w", err)
	}

	var stream bytes.Buffer
	for {
		data, _, err := rd.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return st, fmt.Errorf("read packet %d: %w", st.Packets+1, err)
		}
		st.Packets++

		pkt := gopacket.NewPacket(data, rd.LinkType(), gopacket.Default)
		tcpLayer := pkt.Layer(layers.LayerTypeTCP)
		if tcpLayer == nil {
			continue
		}
		tcp, ok := tcpLayer.(*layers.TCP)
		if !ok || tcp.DstPort != layers.TCPPort(port) || len(tcp.Payload) == 0 {
			continue
		}
		st.Segments++
		st.Bytes += len(tcp.Payload)
		stream.Write(tcp.Payload)
	}

	dec := NewDecoder(&stream)
	kind, err := dec.ReadString()
	if err != nil {
		return st, fmt.Errorf("capture holds no grabber handshake: %w", err)
	}
	if kind != GrabberType {
		return st, fmt.Errorf("unexpected client type %q", kind)
	}
	for {
		msg, err := dec.ReadMessage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return st, fmt.Errorf("decode message %d: %w", st.Messages+1, err)
		}
		st.Messages++
		sink.Dispatch(msg)
	}
	monitoring.Logf("capture replay complete: %d packets, %d segments, %d messages", st.Packets, st.Segments, st.Messages)
	return st, nil
}
