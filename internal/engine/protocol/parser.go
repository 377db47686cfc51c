package protocol

import (
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"

	"Go2NetKPI/internal/model"
)

// ParsePacket uses gopacket to decode a captured frame and extract the
// five-tuple, length and capture time.
func ParsePacket(data []byte, linkType gopacket.Decoder, ts time.Time) (*model.PacketInfo, error) {
	packet := gopacket.NewPacket(data, linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	info := &model.PacketInfo{
		Timestamp: ts,
		Length:    len(data),
	}

	var fiveTuple model.FiveTuple

	if l := packet.Layer(layers.LayerTypeIPv4); l != nil {
		ip := l.(*layers.IPv4)
		fiveTuple.SrcIP = ip.SrcIP
		fiveTuple.DstIP = ip.DstIP
		fiveTuple.Protocol = uint8(ip.Protocol)
		info.Length = int(ip.Length)
	} else if l := packet.Layer(layers.LayerTypeIPv6); l != nil {
		ip := l.(*layers.IPv6)
		fiveTuple.SrcIP = ip.SrcIP
		fiveTuple.DstIP = ip.DstIP
		fiveTuple.Protocol = uint8(ip.NextHeader)
		info.Length = int(ip.Length) + 40
	} else {
		return nil, errors.New("not an IP packet")
	}

	if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udp := l.(*layers.UDP)
		fiveTuple.SrcPort = uint16(udp.SrcPort)
		fiveTuple.DstPort = uint16(udp.DstPort)
	} else if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		fiveTuple.SrcPort = uint16(tcp.SrcPort)
		fiveTuple.DstPort = uint16(tcp.DstPort)
	} else {
		return nil, errors.New("not a TCP or UDP packet")
	}

	info.FiveTuple = fiveTuple
	return info, nil
}
