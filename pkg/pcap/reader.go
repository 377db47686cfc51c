// Package pcap replays packet captures into the flow monitor.
package pcap

import (
	"io"
	"os"
	"time"

	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"

	"Go2NetKPI/internal/engine/protocol"
	"Go2NetKPI/internal/logger"
	"Go2NetKPI/internal/model"
	"Go2NetKPI/internal/simulator"
)

// Reader reads packets from a pcap file.
type Reader struct {
	file    *os.File
	reader  *pcapgo.Reader
	skipped int
}

// NewReader opens the pcap file at filePath.
func NewReader(filePath string) (*Reader, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open pcap file")
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "failed to read pcap header of '%s'", filePath)
	}
	return &Reader{file: f, reader: r}, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Skipped returns the number of frames that were not TCP or UDP over IP.
func (r *Reader) Skipped() int {
	return r.skipped
}

// Next returns the next parseable packet, or io.EOF at the end of the file.
func (r *Reader) Next() (*model.PacketInfo, error) {
	for {
		data, ci, err := r.reader.ReadPacketData()
		if err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, errors.Wrap(err, "failed to read packet")
		}
		info, err := protocol.ParsePacket(data, r.reader.LinkType(), ci.Timestamp)
		if err != nil {
			r.skipped++
			continue
		}
		return info, nil
	}
}

// Replay feeds the capture into monitor on the loop: each packet is
// observed at its capture time, offset so the first packet lands at start.
// Packets are read one at a time as the loop reaches them.
func (r *Reader) Replay(loop *simulator.EventLoop, monitor *simulator.FlowMonitor, start time.Duration) error {
	first, err := r.Next()
	if err == io.EOF {
		logger.Warnf("Replay: capture holds no TCP/UDP packets")
		return nil
	}
	if err != nil {
		return err
	}
	base := first.Timestamp

	var step func(info *model.PacketInfo)
	step = func(info *model.PacketInfo) {
		monitor.ObservePacket(info.FiveTuple, info.Length, loop.Now())

		next, err := r.Next()
		if err != nil {
			if err != io.EOF {
				logger.Errorf("Replay: stopping early: %v", err)
			}
			logger.Infof("Replay: capture exhausted at %s, %d frames skipped", loop.Now(), r.skipped)
			return
		}
		loop.ScheduleAt(start+next.Timestamp.Sub(base), func() { step(next) })
	}
	loop.ScheduleAt(start, func() { step(first) })
	return nil
}
