// Package metrics derives per-flow KPIs from cumulative flow counters.
package metrics

import (
	"time"

	"Go2NetKPI/internal/model"
)

// Placeholder values attached to every record of the extended variant.
// They are not measured from traffic.
const (
	PlaceholderJitterMs = 1.0
	PlaceholderLossRate = 0.001
)

// Computer maps a flow's counters to its derived metrics.
type Computer struct {
	extended bool
}

// NewComputer creates a computer. When extended is set, jitter and loss
// placeholders are attached to every result.
func NewComputer(extended bool) *Computer {
	return &Computer{extended: extended}
}

// Extended reports whether the computer emits the extended variant.
func (c *Computer) Extended() bool {
	return c.extended
}

// Compute derives the metrics of one flow. It never fails: degenerate
// counters yield zero values.
func (c *Computer) Compute(counters model.FlowCounters) model.DerivedMetrics {
	m := model.DerivedMetrics{
		LatencyMs:      LatencyMs(counters.DelaySum, counters.RxPackets),
		ThroughputMbps: ThroughputMbps(counters.RxBytes, counters.LastRx-counters.FirstTx),
	}
	if c.extended {
		m.Extended = true
		m.JitterMs = PlaceholderJitterMs
		m.LossRate = PlaceholderLossRate
	}
	return m
}

// ThroughputMbps is the average receive rate over the flow's active
// duration. A flow with no positive duration, including one that has sent
// but not yet received, reports 0.
func ThroughputMbps(rxBytes uint64, duration time.Duration) float64 {
	if duration <= 0 {
		return 0
	}
	return float64(rxBytes) * 8 / duration.Seconds() / 1e6
}

// LatencyMs is the mean one-way delay of received packets. A flow with no
// received packets reports 0.
func LatencyMs(delaySum time.Duration, rxPackets uint64) float64 {
	if rxPackets == 0 {
		return 0
	}
	return float64(delaySum) / float64(rxPackets) / float64(time.Millisecond)
}
