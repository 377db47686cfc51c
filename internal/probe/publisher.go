package probe

import (
	"sort"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"Go2NetKPI/internal/config"
	"Go2NetKPI/internal/logger"
	"Go2NetKPI/internal/model"
)

// conn is the part of *nats.Conn the publishers use.
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// CounterPublisher publishes cumulative flow counters to a NATS subject,
// feeding a CounterSubscriber on the engine side.
type CounterPublisher struct {
	nc      conn
	subject string
}

// NewCounterPublisher creates a new NATS counter publisher.
func NewCounterPublisher(cfg config.ProbeConfig) (*CounterPublisher, error) {
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to NATS at %s", cfg.NATSURL)
	}
	logger.Infof("CounterPublisher: connected to NATS server at %s", cfg.NATSURL)
	return &CounterPublisher{nc: nc, subject: cfg.Subject}, nil
}

// Publish sends the counters of one flow.
func (p *CounterPublisher) Publish(st model.FlowStats) error {
	data, err := EncodeFlowStats(st)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject, data)
}

// PublishAll sends the counters of every flow in ascending flow id order and
// returns the number published.
func (p *CounterPublisher) PublishAll(stats map[uint32]model.FlowStats) (int, error) {
	ids := make([]uint32, 0, len(stats))
	for id := range stats {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for n, id := range ids {
		if err := p.Publish(stats[id]); err != nil {
			return n, errors.Wrapf(err, "failed to publish flow %d", id)
		}
	}
	return len(ids), nil
}

// Close drains and closes the NATS connection.
func (p *CounterPublisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			logger.Warnf("CounterPublisher: drain failed: %v", err)
		}
		logger.Infof("CounterPublisher: NATS connection drained and closed.")
	}
}
