package alerter

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Go2NetKPI/internal/config"
	"Go2NetKPI/internal/model"
)

type captureNotifier struct {
	mu       sync.Mutex
	subjects []string
	bodies   []string
}

func (n *captureNotifier) Send(subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subjects = append(n.subjects, subject)
	n.bodies = append(n.bodies, body)
	return nil
}

func rec(id uint32, port uint16, tick time.Duration, latency, throughput float64) model.LogRecord {
	return model.LogRecord{
		Identity: model.FlowIdentity{FlowID: id, SrcAddr: net.IPv4(1, 0, 0, 1), DstAddr: net.IPv4(10, 1, 3, 2), DstPort: port},
		Metrics:  model.DerivedMetrics{LatencyMs: latency, ThroughputMbps: throughput},
		Tick:     tick,
	}
}

func urllcRules() *config.AlerterConfig {
	return &config.AlerterConfig{
		Enabled:  true,
		Cooldown: "5s",
		Rules: []config.AlerterRule{
			{Name: "URLLC latency", Port: 5001, Metric: MetricLatency, Operator: ">", Threshold: 1},
			{Name: "eMBB throughput", Port: 5000, Metric: MetricThroughput, Operator: "<", Threshold: 0.5},
		},
	}
}

func TestAlerter_NotifiesOnBreach(t *testing.T) {
	n := &captureNotifier{}
	a, err := NewAlerter(urllcRules(), n)
	require.NoError(t, err)

	require.NoError(t, a.Write([]model.LogRecord{
		rec(1, 5000, 2*time.Second, 10, 0.9),
		rec(2, 5001, 2*time.Second, 10, 0.1),
	}))
	require.NoError(t, a.Close())

	require.Len(t, n.subjects, 1)
	assert.Equal(t, "Go2NetKPI SLA Alert Summary (1 Triggered)", n.subjects[0])
	assert.Contains(t, n.bodies[0], "URLLC latency")
	assert.Contains(t, n.bodies[0], "latency_ms = 10")
	assert.NotContains(t, n.bodies[0], "eMBB throughput")
}

func TestAlerter_Cooldown(t *testing.T) {
	n := &captureNotifier{}
	a, err := NewAlerter(urllcRules(), n)
	require.NoError(t, err)

	for s := 2; s <= 8; s++ {
		require.NoError(t, a.Write([]model.LogRecord{rec(2, 5001, time.Duration(s)*time.Second, 10, 1)}))
	}
	require.NoError(t, a.Close())

	// Fires at 2 s and again at 7 s.
	assert.Len(t, n.subjects, 2)
}

func TestAlerter_PlaceholderMetricsOnlyWhenExtended(t *testing.T) {
	n := &captureNotifier{}
	a, err := NewAlerter(&config.AlerterConfig{Rules: []config.AlerterRule{
		{Name: "loss", Metric: MetricLoss, Operator: ">=", Threshold: 0.001},
	}}, n)
	require.NoError(t, err)

	basic := rec(1, 5000, time.Second, 1, 1)
	require.NoError(t, a.Write([]model.LogRecord{basic}))

	extended := rec(1, 5000, time.Hour, 1, 1)
	extended.Metrics.Extended = true
	extended.Metrics.LossRate = 0.001
	require.NoError(t, a.Write([]model.LogRecord{extended}))
	require.NoError(t, a.Close())

	assert.Len(t, n.subjects, 1)
}

func TestNewAlerter_InvalidRules(t *testing.T) {
	_, err := NewAlerter(&config.AlerterConfig{Rules: []config.AlerterRule{
		{Name: "x", Metric: "rtt", Operator: ">"},
	}}, nil)
	assert.ErrorContains(t, err, "unknown metric")

	_, err = NewAlerter(&config.AlerterConfig{Rules: []config.AlerterRule{
		{Name: "x", Metric: MetricLatency, Operator: "=="},
	}}, nil)
	assert.ErrorContains(t, err, "unknown operator")

	_, err = NewAlerter(&config.AlerterConfig{Cooldown: "soon"}, nil)
	assert.Error(t, err)
}

func TestAlerter_CloseIdempotent(t *testing.T) {
	a, err := NewAlerter(&config.AlerterConfig{}, nil)
	require.NoError(t, err)
	assert.NoError(t, a.Close())
	assert.NoError(t, a.Close())
}
