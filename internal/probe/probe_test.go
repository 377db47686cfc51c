package probe

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"Go2NetKPI/internal/config"
	"Go2NetKPI/internal/factory"
	"Go2NetKPI/internal/model"
)

type fakeConn struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	drained  bool
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func (c *fakeConn) Drain() error {
	c.drained = true
	return nil
}

func embbStats(rx uint64) model.FlowStats {
	return model.FlowStats{
		Identity: model.FlowIdentity{
			FlowID: 1, SrcAddr: net.IPv4(1, 0, 0, 1), DstAddr: net.IPv4(10, 1, 2, 2),
			SrcPort: 49153, DstPort: 5000, Protocol: 17,
		},
		Counters: model.FlowCounters{
			TxBytes: rx * 1200, TxPackets: rx, RxBytes: rx * 1200, RxPackets: rx,
			DelaySum: time.Duration(rx) * 10 * time.Millisecond,
			FirstTx:  time.Second,
			LastRx:   time.Second + time.Duration(rx)*10*time.Millisecond,
		},
	}
}

func TestFlowStatsCodec(t *testing.T) {
	in := embbStats(100)
	data, err := EncodeFlowStats(in)
	require.NoError(t, err)

	out, err := DecodeFlowStats(data)
	require.NoError(t, err)
	assert.Equal(t, in.Counters, out.Counters)
	assert.Equal(t, uint32(1), out.Identity.FlowID)
	assert.Equal(t, "10.1.2.2", out.Identity.DstAddr.String())
	assert.Equal(t, uint16(49153), out.Identity.SrcPort)
	assert.Equal(t, uint8(17), out.Identity.Protocol)
}

func TestDecodeFlowStats_Invalid(t *testing.T) {
	_, err := DecodeFlowStats([]byte{0xff, 0xff})
	assert.Error(t, err)

	empty, err := proto.Marshal(&structpb.Struct{})
	require.NoError(t, err)
	_, err = DecodeFlowStats(empty)
	assert.ErrorContains(t, err, "no flow_id")
}

func TestCounterSubscriber_KeepsLatestMonotonic(t *testing.T) {
	s := newCounterSubscriber("counters")
	apply := func(st model.FlowStats) {
		data, err := EncodeFlowStats(st)
		require.NoError(t, err)
		require.NoError(t, s.apply(data))
	}

	apply(embbStats(100))
	apply(embbStats(200))
	apply(embbStats(150)) // late message

	stats := s.FlowStats()
	require.Len(t, stats, 1)
	assert.Equal(t, uint64(200), stats[1].Counters.RxPackets)

	received, rejected := s.Received()
	assert.Equal(t, uint64(3), received)
	assert.Equal(t, uint64(1), rejected)
}

func TestCounterSubscriber_RejectsIdentityChange(t *testing.T) {
	s := newCounterSubscriber("counters")
	data, err := EncodeFlowStats(embbStats(1))
	require.NoError(t, err)
	require.NoError(t, s.apply(data))

	moved := embbStats(2)
	moved.Identity.DstPort = 6000
	data, err = EncodeFlowStats(moved)
	require.NoError(t, err)
	assert.Error(t, s.apply(data))
	assert.Equal(t, uint16(5000), s.FlowStats()[1].Identity.DstPort)
}

func TestCounterSubscriber_RejectsFirstTxChange(t *testing.T) {
	s := newCounterSubscriber("counters")
	data, err := EncodeFlowStats(embbStats(100))
	require.NoError(t, err)
	require.NoError(t, s.apply(data))

	later := embbStats(200)
	later.Counters.FirstTx = 2 * time.Second
	data, err = EncodeFlowStats(later)
	require.NoError(t, err)
	require.NoError(t, s.apply(data))

	assert.Equal(t, time.Second, s.FlowStats()[1].Counters.FirstTx)
	assert.Equal(t, uint64(100), s.FlowStats()[1].Counters.RxPackets)
	_, rejected := s.Received()
	assert.Equal(t, uint64(1), rejected)
}

func TestDecodeFlowStats_OutOfRange(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value float64
	}{
		{"negative port", "dst_port", -1},
		{"port above 65535", "dst_port", 70000},
		{"flow id above uint32", "flow_id", 1 << 33},
		{"protocol above uint8", "protocol", 256},
		{"negative counter", "rx_packets", -5},
		{"delay overflows duration", "delay_sum_ns", 1e19},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeFlowStats(embbStats(10))
			require.NoError(t, err)
			var msg structpb.Struct
			require.NoError(t, proto.Unmarshal(data, &msg))
			msg.Fields[tt.key] = structpb.NewNumberValue(tt.value)
			data, err = proto.Marshal(&msg)
			require.NoError(t, err)

			_, err = DecodeFlowStats(data)
			assert.ErrorContains(t, err, tt.key)
		})
	}
}

func TestCounterPublisher_PublishAllInFlowOrder(t *testing.T) {
	fc := &fakeConn{}
	p := &CounterPublisher{nc: fc, subject: "counters"}

	second := embbStats(5)
	second.Identity.FlowID = 2
	n, err := p.PublishAll(map[uint32]model.FlowStats{2: second, 1: embbStats(5)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	first, err := DecodeFlowStats(fc.payloads[0])
	require.NoError(t, err)
	assert.Equal(t, uint32(1), first.Identity.FlowID)
	assert.Equal(t, []string{"counters", "counters"}, fc.subjects)

	p.Close()
	assert.True(t, fc.drained)
}

func record(id uint32, extended bool) model.LogRecord {
	return model.LogRecord{
		Identity:  model.FlowIdentity{FlowID: id, SrcAddr: net.IPv4(1, 0, 0, 1), DstAddr: net.IPv4(10, 1, 3, 2), DstPort: 5001},
		Metrics:   model.DerivedMetrics{LatencyMs: 10, ThroughputMbps: 1.6, JitterMs: 1, LossRate: 0.001, Extended: extended},
		Tick:      3 * time.Second,
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestKPIPublisher_Write(t *testing.T) {
	fc := &fakeConn{}
	p := newKPIPublisher(fc, config.NATSMirrorConfig{}, "run-7")

	require.NoError(t, p.Write([]model.LogRecord{record(1, false), record(2, true)}))
	require.Len(t, fc.payloads, 2)
	assert.Equal(t, defaultRecordSubject, fc.subjects[0])

	var basic, extended structpb.Struct
	require.NoError(t, proto.Unmarshal(fc.payloads[0], &basic))
	require.NoError(t, proto.Unmarshal(fc.payloads[1], &extended))

	m := basic.AsMap()
	assert.Equal(t, "run-7", m["run_id"])
	assert.Equal(t, 3000.0, m["tick_ms"])
	assert.Equal(t, 5001.0, m["port"])
	assert.NotContains(t, m, "jitter_ms")
	assert.Equal(t, 0.001, extended.AsMap()["packet_loss"])

	require.NoError(t, p.Close())
	assert.True(t, fc.drained)
}

func TestKPIPublisher_RateLimit(t *testing.T) {
	fc := &fakeConn{}
	p := newKPIPublisher(fc, config.NATSMirrorConfig{Subject: "kpi", MaxPerSec: 2}, "run")

	require.NoError(t, p.Write([]model.LogRecord{record(1, false), record(2, false), record(3, false), record(4, false)}))
	assert.Len(t, fc.payloads, 2)
	assert.Equal(t, uint64(2), p.Dropped())
}

func TestNATSMirrorRegistered(t *testing.T) {
	assert.True(t, factory.Registered("nats"))
}
