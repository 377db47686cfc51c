package sink

import (
	"fmt"

	"Go2NetKPI/internal/model"
)

// TextSink is the human-readable KPI log: one line per flow per tick.
type TextSink struct {
	fileSink
}

// OpenTextSink creates (or truncates) the text log at path.
func OpenTextSink(path string, fsync bool) (*TextSink, error) {
	f, err := openFile(path)
	if err != nil {
		return nil, err
	}
	return newTextSink(path, f, fsync), nil
}

func newTextSink(path string, f File, fsync bool) *TextSink {
	return &TextSink{fileSink{path: path, file: f, fsync: fsync}}
}

// FormatText renders one record as a log line, units inline. Metrics are
// printed with six significant digits.
func FormatText(rec model.LogRecord) []byte {
	id, m := rec.Identity, rec.Metrics
	if !m.Extended {
		return []byte(fmt.Sprintf("FlowID: %d Src: %s Dst: %s Port: %d Latency: %.6gms Throughput: %.6gMbps\n",
			id.FlowID, id.SrcAddr, id.DstAddr, id.DstPort, m.LatencyMs, m.ThroughputMbps))
	}
	return []byte(fmt.Sprintf("FlowID: %d Src: %s Dst: %s Port: %d Latency: %.6g ms Throughput: %.6g Mbps Jitter: %.6g LossRate: %.6g\n",
		id.FlowID, id.SrcAddr, id.DstAddr, id.DstPort, m.LatencyMs, m.ThroughputMbps, m.JitterMs, m.LossRate))
}
