package probe

import (
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/proto"

	"Go2NetKPI/internal/config"
	"Go2NetKPI/internal/factory"
	"Go2NetKPI/internal/logger"
	"Go2NetKPI/internal/model"
)

const defaultRecordSubject = "gokpi.records"

func init() {
	factory.RegisterWriter("nats", func(def config.MirrorDef, run factory.RunInfo) (model.Writer, error) {
		return NewKPIPublisher(def.NATS, run.ID)
	})
}

// KPIPublisher streams KPI records to NATS as a best-effort mirror. With
// MaxPerSec set, records over the rate are dropped and counted.
type KPIPublisher struct {
	nc      conn
	subject string
	runID   string
	limiter *rate.Limiter
	dropped atomic.Uint64
}

// NewKPIPublisher connects to NATS and returns the mirror writer.
func NewKPIPublisher(cfg config.NATSMirrorConfig, runID string) (*KPIPublisher, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to NATS at %s", cfg.URL)
	}
	logger.Infof("KPIPublisher: connected to NATS server at %s", cfg.URL)
	return newKPIPublisher(nc, cfg, runID), nil
}

func newKPIPublisher(nc conn, cfg config.NATSMirrorConfig, runID string) *KPIPublisher {
	subject := cfg.Subject
	if subject == "" {
		subject = defaultRecordSubject
	}
	p := &KPIPublisher{nc: nc, subject: subject, runID: runID}
	if cfg.MaxPerSec > 0 {
		burst := int(cfg.MaxPerSec)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.MaxPerSec), burst)
	}
	return p
}

// Name implements model.Writer.
func (p *KPIPublisher) Name() string {
	return "nats"
}

// Write publishes each record of a tick.
func (p *KPIPublisher) Write(records []model.LogRecord) error {
	for _, rec := range records {
		if p.limiter != nil && !p.limiter.Allow() {
			p.dropped.Add(1)
			continue
		}
		msg, err := RecordStruct(p.runID, rec)
		if err != nil {
			return errors.Wrapf(err, "failed to build record message for flow %d", rec.Identity.FlowID)
		}
		data, err := proto.Marshal(msg)
		if err != nil {
			return err
		}
		if err := p.nc.Publish(p.subject, data); err != nil {
			return errors.Wrapf(err, "failed to publish flow %d", rec.Identity.FlowID)
		}
	}
	return nil
}

// Dropped returns the number of records skipped by the rate limit.
func (p *KPIPublisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Close drains the NATS connection.
func (p *KPIPublisher) Close() error {
	if n := p.Dropped(); n > 0 {
		logger.Warnf("KPIPublisher: %d records dropped by the rate limit", n)
	}
	return p.nc.Drain()
}
