package model

// FlowStatsSource supplies the cumulative statistics of every flow seen so
// far. Counters returned by successive calls never decrease.
type FlowStatsSource interface {
	// FlowStats returns a copy of the current statistics keyed by flow id.
	FlowStats() map[uint32]FlowStats
}

// FlowStatsFunc adapts a plain function to FlowStatsSource.
type FlowStatsFunc func() map[uint32]FlowStats

// FlowStats calls f.
func (f FlowStatsFunc) FlowStats() map[uint32]FlowStats {
	return f()
}
