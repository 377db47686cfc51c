package probe

import (
	"math"
	"net"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"Go2NetKPI/internal/model"
)

// Counter and record payloads are protobuf-encoded google.protobuf.Struct
// messages. Durations travel as nanoseconds in a double, exact up to about
// 104 days of run time.

// Largest float64 values that convert to uint64 and time.Duration without
// overflow.
const (
	maxCounter  = float64(math.MaxUint64 - 2047)
	maxDuration = float64(math.MaxInt64 - 1023)
)

// EncodeFlowStats serialises one flow's identity and counters.
func EncodeFlowStats(st model.FlowStats) ([]byte, error) {
	id, c := st.Identity, st.Counters
	s, err := structpb.NewStruct(map[string]interface{}{
		"flow_id":      id.FlowID,
		"src":          id.SrcAddr.String(),
		"dst":          id.DstAddr.String(),
		"src_port":     uint32(id.SrcPort),
		"dst_port":     uint32(id.DstPort),
		"protocol":     uint32(id.Protocol),
		"tx_bytes":     c.TxBytes,
		"tx_packets":   c.TxPackets,
		"rx_bytes":     c.RxBytes,
		"rx_packets":   c.RxPackets,
		"lost_packets": c.LostPackets,
		"delay_sum_ns": int64(c.DelaySum),
		"first_tx_ns":  int64(c.FirstTx),
		"last_rx_ns":   int64(c.LastRx),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to build counter message")
	}
	return proto.Marshal(s)
}

// DecodeFlowStats parses a message produced by EncodeFlowStats.
func DecodeFlowStats(data []byte) (model.FlowStats, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return model.FlowStats{}, errors.Wrap(err, "failed to unmarshal counter message")
	}
	f := s.GetFields()
	if _, ok := f["flow_id"]; !ok {
		return model.FlowStats{}, errors.New("counter message has no flow_id")
	}
	var bad error
	num := func(key string, max float64) float64 {
		v := f[key].GetNumberValue()
		if bad == nil && (math.IsNaN(v) || v < 0 || v > max) {
			bad = errors.Errorf("counter message field %s=%v out of range [0, %v]", key, v, max)
		}
		return v
	}

	src, dst := net.ParseIP(f["src"].GetStringValue()), net.ParseIP(f["dst"].GetStringValue())
	if src == nil || dst == nil {
		return model.FlowStats{}, errors.Errorf("counter message has invalid addresses %q -> %q",
			f["src"].GetStringValue(), f["dst"].GetStringValue())
	}
	flowID := num("flow_id", math.MaxUint32)
	srcPort, dstPort := num("src_port", math.MaxUint16), num("dst_port", math.MaxUint16)
	protocol := num("protocol", math.MaxUint8)
	txBytes, txPackets := num("tx_bytes", maxCounter), num("tx_packets", maxCounter)
	rxBytes, rxPackets := num("rx_bytes", maxCounter), num("rx_packets", maxCounter)
	lost := num("lost_packets", maxCounter)
	delaySum := num("delay_sum_ns", maxDuration)
	firstTx, lastRx := num("first_tx_ns", maxDuration), num("last_rx_ns", maxDuration)
	if bad != nil {
		return model.FlowStats{}, bad
	}

	return model.FlowStats{
		Identity: model.FlowIdentity{
			FlowID:   uint32(flowID),
			SrcAddr:  shorten(src),
			DstAddr:  shorten(dst),
			SrcPort:  uint16(srcPort),
			DstPort:  uint16(dstPort),
			Protocol: uint8(protocol),
		},
		Counters: model.FlowCounters{
			TxBytes:     uint64(txBytes),
			TxPackets:   uint64(txPackets),
			RxBytes:     uint64(rxBytes),
			RxPackets:   uint64(rxPackets),
			LostPackets: uint64(lost),
			DelaySum:    time.Duration(delaySum),
			FirstTx:     time.Duration(firstTx),
			LastRx:      time.Duration(lastRx),
		},
	}, nil
}

// RecordStruct converts a KPI record to the message streamed by the NATS
// mirror. Keys match the JSON log; the extended keys appear only for the
// extended variant.
func RecordStruct(runID string, rec model.LogRecord) (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"run_id":          runID,
		"tick_ms":         int64(rec.Tick / time.Millisecond),
		"timestamp":       rec.Timestamp.UTC().Format(time.RFC3339Nano),
		"flow_id":         rec.Identity.FlowID,
		"src":             rec.Identity.SrcAddr.String(),
		"dst":             rec.Identity.DstAddr.String(),
		"port":            uint32(rec.Identity.DstPort),
		"latency_ms":      rec.Metrics.LatencyMs,
		"throughput_mbps": rec.Metrics.ThroughputMbps,
	}
	if rec.Metrics.Extended {
		fields["jitter_ms"] = rec.Metrics.JitterMs
		fields["packet_loss"] = rec.Metrics.LossRate
	}
	return structpb.NewStruct(fields)
}

func shorten(ip net.IP) net.IP {
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip
}
