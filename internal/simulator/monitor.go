package simulator

import (
	"net"
	"sync"
	"time"

	"Go2NetKPI/internal/model"
)

// DefaultMaxDelay is how long a packet may stay in flight before the monitor
// counts it as lost.
const DefaultMaxDelay = 10 * time.Second

type flowEntry struct {
	identity model.FlowIdentity
	counters model.FlowCounters
	started  bool
}

type inFlight struct {
	flowID uint32
	txTime time.Duration
	size   int
}

// FlowMonitor classifies packets into flows by five-tuple and keeps each
// flow's cumulative counters. Flow ids are assigned from 1 in order of first
// appearance. It implements model.FlowStatsSource.
type FlowMonitor struct {
	mu       sync.RWMutex
	ids      map[string]uint32
	flows    map[uint32]*flowEntry
	nextID   uint32
	packets  map[uint64]inFlight
	nextUID  uint64
	maxDelay time.Duration
}

// NewFlowMonitor creates an empty monitor. A non-positive maxDelay selects
// DefaultMaxDelay.
func NewFlowMonitor(maxDelay time.Duration) *FlowMonitor {
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	return &FlowMonitor{
		ids:      make(map[string]uint32),
		flows:    make(map[uint32]*flowEntry),
		packets:  make(map[uint64]inFlight),
		maxDelay: maxDelay,
	}
}

// classify returns the flow of a tuple, creating it on first sight.
// Callers hold m.mu.
func (m *FlowMonitor) classify(ft model.FiveTuple) *flowEntry {
	key := ft.Key()
	if id, ok := m.ids[key]; ok {
		return m.flows[id]
	}
	m.nextID++
	id := m.nextID
	e := &flowEntry{identity: model.FlowIdentity{
		FlowID:   id,
		SrcAddr:  cloneIP(ft.SrcIP),
		DstAddr:  cloneIP(ft.DstIP),
		SrcPort:  ft.SrcPort,
		DstPort:  ft.DstPort,
		Protocol: ft.Protocol,
	}}
	m.ids[key] = id
	m.flows[id] = e
	return e
}

func cloneIP(ip net.IP) net.IP {
	return append(net.IP(nil), ip...)
}

func (e *flowEntry) recordTx(size int, at time.Duration) {
	if !e.started {
		e.counters.FirstTx = at
		e.started = true
	}
	e.counters.TxPackets++
	e.counters.TxBytes += uint64(size)
}

func (e *flowEntry) recordRx(size int, at, delay time.Duration) {
	e.counters.RxPackets++
	e.counters.RxBytes += uint64(size)
	e.counters.DelaySum += delay
	if at > e.counters.LastRx {
		e.counters.LastRx = at
	}
}

// SendPacket records a transmitted packet and returns its id for the
// matching ReceivePacket call.
func (m *FlowMonitor) SendPacket(ft model.FiveTuple, size int, at time.Duration) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.classify(ft)
	e.recordTx(size, at)

	m.nextUID++
	m.packets[m.nextUID] = inFlight{flowID: e.identity.FlowID, txTime: at, size: size}
	return m.nextUID
}

// ReceivePacket records the arrival of a packet sent earlier. Unknown or
// already-lost packets are ignored.
func (m *FlowMonitor) ReceivePacket(uid uint64, at time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.packets[uid]
	if !ok {
		return false
	}
	delete(m.packets, uid)
	m.flows[p.flowID].recordRx(p.size, at, at-p.txTime)
	return true
}

// ObservePacket records a packet seen at a single capture point: it is
// sent and received at the same instant, with no delay.
func (m *FlowMonitor) ObservePacket(ft model.FiveTuple, size int, at time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.classify(ft)
	e.recordTx(size, at)
	e.recordRx(size, at, 0)
}

// CheckForLostPackets counts every packet in flight for longer than the
// monitor's max delay as lost.
func (m *FlowMonitor) CheckForLostPackets(now time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	lost := 0
	for uid, p := range m.packets {
		if now-p.txTime > m.maxDelay {
			m.flows[p.flowID].counters.LostPackets++
			delete(m.packets, uid)
			lost++
		}
	}
	return lost
}

// FlowStats returns a copy of every flow's identity and counters.
func (m *FlowMonitor) FlowStats() map[uint32]model.FlowStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[uint32]model.FlowStats, len(m.flows))
	for id, e := range m.flows {
		identity := e.identity
		identity.SrcAddr = cloneIP(e.identity.SrcAddr)
		identity.DstAddr = cloneIP(e.identity.DstAddr)
		out[id] = model.FlowStats{Identity: identity, Counters: e.counters}
	}
	return out
}

// FlowCount returns the number of flows classified so far.
func (m *FlowMonitor) FlowCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.flows)
}
