package manager

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"Go2NetKPI/internal/alerter"
	"Go2NetKPI/internal/config"
	_ "Go2NetKPI/internal/engine/impl/clickhouse" // Registers the clickhouse mirror
	"Go2NetKPI/internal/engine/metrics"
	"Go2NetKPI/internal/engine/scheduler"
	"Go2NetKPI/internal/engine/sink"
	"Go2NetKPI/internal/factory"
	"Go2NetKPI/internal/logger"
	"Go2NetKPI/internal/model"
	"Go2NetKPI/internal/notification"
	_ "Go2NetKPI/internal/probe" // Registers the nats mirror
)

// Manager owns one sampling run: it samples the flow-stats source on every
// tick, derives KPIs, writes them to both sinks and then to the mirrors.
type Manager struct {
	runID     string
	source    model.FlowStatsSource
	computer  *metrics.Computer
	sinks     *sink.DualSinkWriter
	mirrors   []model.Writer
	sched     *scheduler.Scheduler
	interval  time.Duration
	firstFire time.Duration
	wallNow   func() time.Time

	// Tick failures are logged through limiter so a broken disk does not
	// flood the log.
	limiter *rate.Limiter

	mu          sync.Mutex
	failedTicks uint64
	suppressed  uint64
	firstErr    error

	finalizeMu    sync.Mutex
	mirrorsClosed bool
	finalized     bool
}

// NewManager opens both sinks and builds the configured mirrors. Extra
// writers are appended to the mirrors built from cfg.
func NewManager(cfg *config.Config, source model.FlowStatsSource, clock scheduler.Clock, extra ...model.Writer) (*Manager, error) {
	if source == nil {
		return nil, errors.New("flow stats source is required")
	}
	interval, err := cfg.Sampler.IntervalDuration()
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		return nil, errors.Errorf("sampler interval must be a positive duration, got %s", interval)
	}
	firstFire, err := cfg.Sampler.FirstFireDuration()
	if err != nil {
		return nil, err
	}

	run := factory.RunInfo{ID: uuid.NewString(), Extended: cfg.Sampler.Extended()}
	mirrors, err := factory.Create(cfg, run)
	if err != nil {
		return nil, err
	}

	if cfg.Alerter.Enabled {
		if cfg.SMTP.Host != "" {
			alertr, err := alerter.NewAlerter(&cfg.Alerter, notification.NewEmailNotifier(cfg.SMTP))
			if err != nil {
				closeMirrors(mirrors)
				return nil, errors.Wrap(err, "failed to create alerter")
			}
			mirrors = append(mirrors, alertr)
			logger.Infof("Manager: alerter enabled with %d rules", len(cfg.Alerter.Rules))
		} else {
			logger.Warnf("Manager: alerter is enabled in config, but no SMTP host is configured. Alerter will not run.")
		}
	}
	mirrors = append(mirrors, extra...)

	sinks, err := sink.Open(cfg.Sinks.TextPath, cfg.Sinks.JSONPath, cfg.Sinks.Fsync)
	if err != nil {
		closeMirrors(mirrors)
		return nil, err
	}

	m := &Manager{
		runID:     run.ID,
		source:    source,
		computer:  metrics.NewComputer(run.Extended),
		sinks:     sinks,
		mirrors:   mirrors,
		interval:  interval,
		firstFire: firstFire,
		wallNow:   time.Now,
		limiter:   rate.NewLimiter(rate.Every(10*time.Second), 5),
	}
	m.sched = scheduler.New(clock, m.tick)

	if run.Extended {
		logger.Warnf("Manager: jitter_ms=%g and packet_loss=%g are fixed placeholders, not measurements",
			metrics.PlaceholderJitterMs, metrics.PlaceholderLossRate)
	}
	return m, nil
}

// RunID identifies the run in every mirror.
func (m *Manager) RunID() string {
	return m.runID
}

// Start arms the sampling scheduler.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.sched.Start(ctx, m.interval, m.firstFire); err != nil {
		return err
	}
	text, json := m.sinks.Paths()
	logger.Infof("Manager started run %s: first tick at %s, every %s, writing %s and %s with %d mirrors.",
		m.runID, m.firstFire, m.interval, text, json, len(m.mirrors))
	return nil
}

// tick samples every flow once and appends one record per flow to both
// sinks, in ascending flow id order. Mirrors only see batches that reached
// both sinks.
func (m *Manager) tick(_ context.Context, now time.Duration) {
	records := m.sample(now)

	if err := m.sinks.WriteBatch(records); err != nil {
		m.tickFailed(now, err)
		return
	}
	logger.Debugf("Manager: tick at %s wrote %d records", now, len(records))

	for _, w := range m.mirrors {
		if err := w.Write(records); err != nil {
			logger.Warnf("Manager: mirror %s failed at %s: %v", w.Name(), now, err)
		}
	}
}

func (m *Manager) sample(now time.Duration) []model.LogRecord {
	stats := m.source.FlowStats()
	ids := make([]uint32, 0, len(stats))
	for id := range stats {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	stamp := m.wallNow()
	records := make([]model.LogRecord, 0, len(ids))
	for _, id := range ids {
		st := stats[id]
		records = append(records, model.LogRecord{
			Identity:  st.Identity,
			Metrics:   m.computer.Compute(st.Counters),
			Tick:      now,
			Timestamp: stamp,
		})
	}
	return records
}

func (m *Manager) tickFailed(now time.Duration, err error) {
	err = errors.Wrapf(err, "tick at %s", now)

	m.mu.Lock()
	m.failedTicks++
	if m.firstErr == nil {
		m.firstErr = err
	}
	if !m.limiter.Allow() {
		m.suppressed++
		m.mu.Unlock()
		return
	}
	suppressed := m.suppressed
	m.suppressed = 0
	m.mu.Unlock()

	if suppressed > 0 {
		logger.Errorf("Manager: %v (%d similar errors suppressed)", err, suppressed)
		return
	}
	logger.Errorf("Manager: %v", err)
}

// Stop cancels future ticks and waits for the tick in flight.
func (m *Manager) Stop() {
	m.sched.Stop()
}

// Finalize stops sampling and closes the mirrors, then the JSON array and
// both sinks. Once it has succeeded further calls do nothing; after a sink
// error it can be called again to retry closing the logs.
func (m *Manager) Finalize() error {
	m.finalizeMu.Lock()
	defer m.finalizeMu.Unlock()
	if m.finalized {
		return nil
	}

	m.sched.Stop()
	if !m.mirrorsClosed {
		closeMirrors(m.mirrors)
		m.mirrorsClosed = true
	}
	if err := m.sinks.Finalize(); err != nil {
		return err
	}
	m.finalized = true

	text, json := m.sinks.RecordsWritten()
	logger.Infof("Manager: run %s finalized after %d ticks (%d failed), %d text and %d json records.",
		m.runID, m.sched.Ticks(), m.FailedTicks(), text, json)
	return nil
}

// Ticks returns the number of ticks run so far.
func (m *Manager) Ticks() uint64 {
	return m.sched.Ticks()
}

// FailedTicks returns the number of ticks whose batch did not reach the sinks.
func (m *Manager) FailedTicks() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failedTicks
}

// Err returns the first tick failure, or nil.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.firstErr
}

// RecordsWritten returns the record count of each sink.
func (m *Manager) RecordsWritten() (text, json uint64) {
	return m.sinks.RecordsWritten()
}

func closeMirrors(mirrors []model.Writer) {
	for _, w := range mirrors {
		if err := w.Close(); err != nil {
			logger.Warnf("Manager: closing mirror %s: %v", w.Name(), err)
		}
	}
}
