package pcap

import (
	"io"
	"net"
	"sort"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"
)

// FlowSpec describes one constant-bit-rate UDP flow to synthesise.
type FlowSpec struct {
	Src         net.IP
	Dst         net.IP
	SrcPort     uint16
	DstPort     uint16
	PayloadSize int
	Offset      time.Duration // first packet, relative to the capture start
	Interval    time.Duration
	Count       int
}

type frame struct {
	at   time.Duration
	flow int
}

// Generate writes an Ethernet pcap of the given flows, packets merged in
// time order, and returns the number of packets written.
func Generate(w io.Writer, start time.Time, flows []FlowSpec) (int, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return 0, errors.Wrap(err, "failed to write pcap header")
	}

	var frames []frame
	for i, f := range flows {
		for n := 0; n < f.Count; n++ {
			frames = append(frames, frame{at: f.Offset + time.Duration(n)*f.Interval, flow: i})
		}
	}
	sort.SliceStable(frames, func(a, b int) bool { return frames[a].at < frames[b].at })

	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	buf := gopacket.NewSerializeBuffer()
	for i, fr := range frames {
		f := flows[fr.flow]
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
			DstMAC:       net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    f.Src.To4(),
			DstIP:    f.Dst.To4(),
		}
		udp := &layers.UDP{SrcPort: layers.UDPPort(f.SrcPort), DstPort: layers.UDPPort(f.DstPort)}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return i, err
		}
		if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(make([]byte, f.PayloadSize))); err != nil {
			return i, errors.Wrap(err, "failed to serialize layers")
		}
		data := buf.Bytes()
		ci := gopacket.CaptureInfo{
			Timestamp:     start.Add(fr.at),
			CaptureLength: len(data),
			Length:        len(data),
		}
		if err := pw.WritePacket(ci, data); err != nil {
			return i, errors.Wrap(err, "failed to write packet")
		}
	}
	return len(frames), nil
}
