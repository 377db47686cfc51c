package streamaggregator

import (
	"context"

	"Go2NetKPI/internal/config"
	"Go2NetKPI/internal/engine/manager"
	"Go2NetKPI/internal/engine/scheduler"
	"Go2NetKPI/internal/logger"
	"Go2NetKPI/internal/model"
	"Go2NetKPI/internal/probe"
)

// counterSource is the live counter feed: a FlowStatsSource that can be
// started and closed.
type counterSource interface {
	model.FlowStatsSource
	Start() error
	Close()
}

// StreamAggregator runs a live sampling run: counters arrive over NATS and
// the manager samples them on the wall clock.
type StreamAggregator struct {
	source  counterSource
	manager *manager.Manager
}

// NewStreamAggregator connects to the counter feed and opens the sinks.
func NewStreamAggregator(cfg *config.Config) (*StreamAggregator, error) {
	sub, err := probe.NewCounterSubscriber(cfg.Probe)
	if err != nil {
		return nil, err
	}
	sa, err := newStreamAggregator(cfg, sub, scheduler.NewWallClock())
	if err != nil {
		sub.Close()
		return nil, err
	}
	return sa, nil
}

func newStreamAggregator(cfg *config.Config, source counterSource, clock scheduler.Clock) (*StreamAggregator, error) {
	mgr, err := manager.NewManager(cfg, source, clock)
	if err != nil {
		return nil, err
	}
	return &StreamAggregator{source: source, manager: mgr}, nil
}

// Start subscribes to counters and arms the sampler. On failure the logs
// are finalized and the feed and mirrors closed before the error returns.
func (sa *StreamAggregator) Start(ctx context.Context) error {
	err := sa.source.Start()
	if err == nil {
		err = sa.manager.Start(ctx)
	}
	if err != nil {
		if stopErr := sa.Stop(); stopErr != nil {
			logger.Errorf("StreamAggregator: finalize after failed start: %v", stopErr)
		}
		return err
	}
	return nil
}

// Stop stops sampling, finalizes both logs and closes the feed.
func (sa *StreamAggregator) Stop() error {
	logger.Infof("StreamAggregator stopping...")
	sa.manager.Stop()
	err := sa.manager.Finalize()
	sa.source.Close()
	if tickErr := sa.manager.Err(); tickErr != nil {
		logger.Warnf("StreamAggregator: %d ticks failed, first: %v", sa.manager.FailedTicks(), tickErr)
	}
	logger.Infof("StreamAggregator stopped.")
	return err
}

// Manager exposes the run owner, for status reporting.
func (sa *StreamAggregator) Manager() *manager.Manager {
	return sa.manager
}
