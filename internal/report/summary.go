// Package report summarises a finalized JSON KPI log per flow.
package report

import (
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"Go2NetKPI/internal/config"
)

// Stat accumulates one metric over a flow's samples.
type Stat struct {
	Min  float64
	Max  float64
	Last float64
	sum  float64
	n    int
}

func (s *Stat) add(v float64) {
	if s.n == 0 || v < s.Min {
		s.Min = v
	}
	if s.n == 0 || v > s.Max {
		s.Max = v
	}
	s.Last = v
	s.sum += v
	s.n++
}

// Mean returns the average of the samples, 0 when there are none.
func (s Stat) Mean() float64 {
	if s.n == 0 {
		return 0
	}
	return s.sum / float64(s.n)
}

// FlowSummary is the summary of one flow.
type FlowSummary struct {
	FlowID     uint32
	Slice      string
	Src        string
	Dst        string
	Port       uint16
	Samples    int
	Latency    Stat
	Throughput Stat
	Extended   bool
	JitterMs   float64
	PacketLoss float64
}

// Summary is the per-flow digest of a whole log, flows in id order.
type Summary struct {
	Records int
	Flows   []*FlowSummary
}

// SummarizeFile reads and summarises a finalized JSON KPI log.
func SummarizeFile(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read kpi log")
	}
	return Summarize(data)
}

// Summarize summarises a finalized JSON KPI log. A log whose array was
// never closed is rejected.
func Summarize(data []byte) (*Summary, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("kpi log is not valid JSON, was the run finalized?")
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, errors.New("kpi log is not a JSON array")
	}

	byID := make(map[uint32]*FlowSummary)
	sum := &Summary{}
	var err error
	root.ForEach(func(_, rec gjson.Result) bool {
		if !rec.Get("flow_id").Exists() {
			err = errors.Errorf("record %d has no flow_id", sum.Records)
			return false
		}
		sum.Records++
		id := uint32(rec.Get("flow_id").Uint())
		fs, ok := byID[id]
		if !ok {
			port := uint16(rec.Get("port").Uint())
			fs = &FlowSummary{
				FlowID: id,
				Slice:  SliceName(port),
				Src:    rec.Get("src").String(),
				Dst:    rec.Get("dst").String(),
				Port:   port,
			}
			byID[id] = fs
		}
		fs.Samples++
		fs.Latency.add(rec.Get("latency_ms").Float())
		fs.Throughput.add(rec.Get("throughput_mbps").Float())
		if j := rec.Get("jitter_ms"); j.Exists() {
			fs.Extended = true
			fs.JitterMs = j.Float()
			fs.PacketLoss = rec.Get("packet_loss").Float()
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	for _, fs := range byID {
		sum.Flows = append(sum.Flows, fs)
	}
	sort.Slice(sum.Flows, func(i, j int) bool { return sum.Flows[i].FlowID < sum.Flows[j].FlowID })
	return sum, nil
}

// SliceName names the slice served on a destination port of the default
// flow set, or returns "-".
func SliceName(port uint16) string {
	for _, f := range config.DefaultFlows() {
		if f.DstPort == port {
			return f.Name
		}
	}
	return "-"
}
