package sink

import (
	"encoding/json"

	"Go2NetKPI/internal/model"
)

const (
	arrayOpen       = "[\n"
	recordSeparator = ",\n"
	arrayClose      = "\n]\n"
	emptyClose      = "]\n"
)

// jsonRecord fixes the key order and names of a KPI object.
type jsonRecord struct {
	FlowID         uint32   `json:"flow_id"`
	Src            string   `json:"src"`
	Dst            string   `json:"dst"`
	Port           uint16   `json:"port"`
	LatencyMs      float64  `json:"latency_ms"`
	ThroughputMbps float64  `json:"throughput_mbps"`
	JitterMs       *float64 `json:"jitter_ms,omitempty"`
	PacketLoss     *float64 `json:"packet_loss,omitempty"`
}

// JSONSink streams KPI objects into a JSON array. Until Finalize runs the
// file is "[\n" followed by comma-terminated objects and no closing bracket,
// so every completed record survives a crash.
type JSONSink struct {
	fileSink
	finalized bool
	closeAt   int64 // offset of the closing bracket, -1 until the first terminate
}

// OpenJSONSink creates (or truncates) the JSON log at path and writes the
// opening bracket.
func OpenJSONSink(path string, fsync bool) (*JSONSink, error) {
	f, err := openFile(path)
	if err != nil {
		return nil, err
	}
	s, err := newJSONSink(path, f, fsync)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

func newJSONSink(path string, f File, fsync bool) (*JSONSink, error) {
	s := &JSONSink{fileSink: fileSink{path: path, file: f, fsync: fsync}, closeAt: -1}
	if err := s.write([]byte(arrayOpen)); err != nil {
		return nil, err
	}
	return s, nil
}

// FormatJSON renders one record as a JSON object followed by the record
// separator.
func FormatJSON(rec model.LogRecord) ([]byte, error) {
	id, m := rec.Identity, rec.Metrics
	obj := jsonRecord{
		FlowID:         id.FlowID,
		Src:            id.SrcAddr.String(),
		Dst:            id.DstAddr.String(),
		Port:           id.DstPort,
		LatencyMs:      m.LatencyMs,
		ThroughputMbps: m.ThroughputMbps,
	}
	if m.Extended {
		jitter, loss := m.JitterMs, m.LossRate
		obj.JitterMs = &jitter
		obj.PacketLoss = &loss
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	return append(b, recordSeparator...), nil
}

// terminate turns the stream into a valid JSON array. With no records the
// bracket is closed right after the opening line; otherwise the separator
// of the last record is replaced by the closing bracket. A failed terminate
// can be retried: each attempt cuts back to the same offset first.
func (s *JSONSink) terminate() error {
	if s.finalized {
		return nil
	}
	closer := emptyClose
	if s.records > 0 {
		closer = arrayClose
	}
	if s.closeAt < 0 {
		s.closeAt = s.size
		if s.records > 0 {
			s.closeAt -= int64(len(recordSeparator))
		}
	}
	if err := s.cut(s.closeAt); err != nil {
		return err
	}
	if err := s.write([]byte(closer)); err != nil {
		return err
	}
	if !s.fsync {
		if err := s.file.Sync(); err != nil {
			return &IoError{Op: "sync", Path: s.path, Err: err}
		}
	}
	s.finalized = true
	return nil
}
