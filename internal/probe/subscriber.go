package probe

import (
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"Go2NetKPI/internal/config"
	"Go2NetKPI/internal/logger"
	"Go2NetKPI/internal/model"
)

// CounterSubscriber keeps the latest counters per flow received over NATS
// and serves them as a model.FlowStatsSource. Updates that would move a
// counter backwards are dropped, so the source stays monotonic even when
// messages arrive out of order.
type CounterSubscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string

	mu       sync.Mutex
	stats    map[uint32]model.FlowStats
	received uint64
	rejected uint64
}

// NewCounterSubscriber connects to NATS. Call Start to begin receiving.
func NewCounterSubscriber(cfg config.ProbeConfig) (*CounterSubscriber, error) {
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to NATS at %s", cfg.NATSURL)
	}
	logger.Infof("CounterSubscriber: connected to NATS server at %s", cfg.NATSURL)
	s := newCounterSubscriber(cfg.Subject)
	s.nc = nc
	return s, nil
}

func newCounterSubscriber(subject string) *CounterSubscriber {
	return &CounterSubscriber{subject: subject, stats: make(map[uint32]model.FlowStats)}
}

// Start subscribes to the counter subject.
func (s *CounterSubscriber) Start() error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		if err := s.apply(msg.Data); err != nil {
			logger.Warnf("CounterSubscriber: %v", err)
		}
	})
	if err != nil {
		return errors.Wrapf(err, "failed to subscribe to '%s'", s.subject)
	}
	s.sub = sub
	logger.Infof("CounterSubscriber: subscribed to '%s'. Waiting for counters...", s.subject)
	return nil
}

func (s *CounterSubscriber) apply(data []byte) error {
	st, err := DecodeFlowStats(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.received++

	prev, ok := s.stats[st.Identity.FlowID]
	if ok {
		if !sameFlow(prev.Identity, st.Identity) {
			s.rejected++
			return errors.Errorf("flow %d changed identity, update dropped", st.Identity.FlowID)
		}
		if regresses(prev.Counters, st.Counters) {
			s.rejected++
			return nil
		}
	}
	s.stats[st.Identity.FlowID] = st
	return nil
}

func sameFlow(a, b model.FlowIdentity) bool {
	return a.SrcAddr.Equal(b.SrcAddr) && a.DstAddr.Equal(b.DstAddr) &&
		a.SrcPort == b.SrcPort && a.DstPort == b.DstPort && a.Protocol == b.Protocol
}

// regresses reports whether next would move a counter backwards. FirstTx is
// fixed once the flow has sent a packet.
func regresses(prev, next model.FlowCounters) bool {
	if prev.TxPackets > 0 && next.FirstTx != prev.FirstTx {
		return true
	}
	return next.TxBytes < prev.TxBytes || next.TxPackets < prev.TxPackets ||
		next.RxBytes < prev.RxBytes || next.RxPackets < prev.RxPackets ||
		next.LostPackets < prev.LostPackets || next.DelaySum < prev.DelaySum ||
		next.LastRx < prev.LastRx
}

// FlowStats implements model.FlowStatsSource.
func (s *CounterSubscriber) FlowStats() map[uint32]model.FlowStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint32]model.FlowStats, len(s.stats))
	for id, st := range s.stats {
		out[id] = st
	}
	return out
}

// Received returns the number of decoded updates and how many were dropped.
func (s *CounterSubscriber) Received() (received, rejected uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received, s.rejected
}

// Close unsubscribes and closes the NATS connection.
func (s *CounterSubscriber) Close() {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			logger.Warnf("CounterSubscriber: unsubscribe failed: %v", err)
		}
	}
	if s.nc != nil {
		s.nc.Close()
		logger.Infof("CounterSubscriber: NATS connection closed.")
	}
}
