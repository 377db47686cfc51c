package query

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildLatestQuery(t *testing.T) {
	q, args := buildLatestQuery("run-1")
	assert.Contains(t, q, "WHERE RunID = ?")
	assert.Contains(t, q, "LIMIT 1 BY FlowID")
	assert.Equal(t, []interface{}{"run-1"}, args)

	q, args = buildLatestQuery("")
	assert.Contains(t, q, "WHERE RunID = (SELECT RunID FROM flow_kpis ORDER BY Timestamp DESC LIMIT 1)")
	assert.Empty(t, args)
}

func TestBuildHistoryQuery(t *testing.T) {
	q, args := buildHistoryQuery("run-1", 3, 50)
	assert.Equal(t, 3, strings.Count(q, "?"))
	assert.Equal(t, []interface{}{"run-1", uint32(3), 50}, args)

	_, args = buildHistoryQuery("", 3, 0)
	assert.Equal(t, []interface{}{uint32(3), 10000}, args)
}

func TestBuildRunsQuery(t *testing.T) {
	q, args := buildRunsQuery(-1)
	assert.Contains(t, q, "GROUP BY RunID")
	assert.Equal(t, []interface{}{10000}, args)
}

func TestKPIRow_Struct(t *testing.T) {
	loss := 0.001
	row := KPIRow{
		RunID: "r", Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), TickMs: 2000,
		FlowID: 1, SrcIP: "1.0.0.1", DstIP: "10.1.2.2", DstPort: 5000,
		LatencyMs: 10, ThroughputMbps: 0.96, PacketLoss: &loss,
	}
	s, err := row.Struct()
	require.NoError(t, err)
	m := s.AsMap()
	assert.Equal(t, "2026-01-02T03:04:05Z", m["timestamp"])
	assert.Equal(t, 5000.0, m["port"])
	assert.Equal(t, 0.001, m["packet_loss"])
	assert.NotContains(t, m, "jitter_ms")
}
