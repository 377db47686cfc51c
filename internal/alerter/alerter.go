package alerter

import (
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"Go2NetKPI/internal/config"
	"Go2NetKPI/internal/logger"
	"Go2NetKPI/internal/model"
)

// Metric names usable in rules; they match the JSON log keys.
const (
	MetricLatency    = "latency_ms"
	MetricThroughput = "throughput_mbps"
	MetricJitter     = "jitter_ms"
	MetricLoss       = "packet_loss"
)

const defaultCooldown = 30 * time.Second

type notification struct {
	subject string
	body    string
}

type cooldownKey struct {
	rule int
	flow uint32
}

// Alerter checks every tick's records against SLA rules and sends one
// consolidated notification per tick with breaches. A rule that fired for a
// flow stays quiet for that flow until the cooldown has passed in run time.
type Alerter struct {
	rules    []config.AlerterRule
	notifier model.Notifier
	cooldown time.Duration

	lastFired map[cooldownKey]time.Duration
	outbox    chan notification
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewAlerter validates the rules and starts the notification sender.
func NewAlerter(cfg *config.AlerterConfig, notifier model.Notifier) (*Alerter, error) {
	cooldown, err := config.ParseDuration("alerter.cooldown", cfg.Cooldown, defaultCooldown)
	if err != nil {
		return nil, err
	}
	for i, rule := range cfg.Rules {
		if err := validateRule(rule); err != nil {
			return nil, errors.Wrapf(err, "alerter rule %d (%s)", i, rule.Name)
		}
	}

	a := &Alerter{
		rules:     cfg.Rules,
		notifier:  notifier,
		cooldown:  cooldown,
		lastFired: make(map[cooldownKey]time.Duration),
		outbox:    make(chan notification, 16),
	}
	a.wg.Add(1)
	go a.run()
	logger.Infof("Alerter started with %d rules, cooldown %s", len(a.rules), a.cooldown)
	return a, nil
}

func validateRule(rule config.AlerterRule) error {
	switch rule.Metric {
	case MetricLatency, MetricThroughput, MetricJitter, MetricLoss:
	default:
		return errors.Errorf("unknown metric '%s'", rule.Metric)
	}
	switch rule.Operator {
	case ">", ">=", "<", "<=":
	default:
		return errors.Errorf("unknown operator '%s'", rule.Operator)
	}
	return nil
}

// Name implements model.Writer.
func (a *Alerter) Name() string {
	return "alerter"
}

// Write evaluates one tick's records. It never blocks on the notifier.
func (a *Alerter) Write(records []model.LogRecord) error {
	var messages []string
	var tick time.Duration
	for _, rec := range records {
		tick = rec.Tick
		for i, rule := range a.rules {
			if rule.Port != 0 && rule.Port != rec.Identity.DstPort {
				continue
			}
			value, ok := metricValue(rec.Metrics, rule.Metric)
			if !ok || !breached(value, rule.Operator, rule.Threshold) {
				continue
			}
			key := cooldownKey{rule: i, flow: rec.Identity.FlowID}
			if last, fired := a.lastFired[key]; fired && rec.Tick-last < a.cooldown {
				continue
			}
			a.lastFired[key] = rec.Tick
			messages = append(messages, formatBreach(rule, rec, value))
		}
	}
	if len(messages) == 0 {
		return nil
	}

	logger.Infof("Alerter: %d alert(s) triggered at %s", len(messages), tick)
	n := notification{
		subject: fmt.Sprintf("Go2NetKPI SLA Alert Summary (%d Triggered)", len(messages)),
		body: "<h1>Go2NetKPI SLA Alert Summary</h1>" +
			fmt.Sprintf("<p>The following rules were breached at run time %s:</p><hr>", tick) +
			strings.Join(messages, "<hr>"),
	}
	select {
	case a.outbox <- n:
		return nil
	default:
		return errors.New("alert notification queue is full, dropping notification")
	}
}

func (a *Alerter) run() {
	defer a.wg.Done()
	for n := range a.outbox {
		if a.notifier == nil {
			continue
		}
		if err := a.notifier.Send(n.subject, n.body); err != nil {
			logger.Errorf("Alerter: failed to send alert notification: %v", err)
		} else {
			logger.Infof("Alerter: alert notification sent successfully")
		}
	}
}

// Close sends the queued notifications and stops the sender.
func (a *Alerter) Close() error {
	a.closeOnce.Do(func() {
		close(a.outbox)
		a.wg.Wait()
		logger.Infof("Alerter stopped")
	})
	return nil
}

func metricValue(m model.DerivedMetrics, metric string) (float64, bool) {
	switch metric {
	case MetricLatency:
		return m.LatencyMs, true
	case MetricThroughput:
		return m.ThroughputMbps, true
	case MetricJitter:
		return m.JitterMs, m.Extended
	case MetricLoss:
		return m.LossRate, m.Extended
	}
	return 0, false
}

func breached(value float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return value > threshold
	case ">=":
		return value >= threshold
	case "<":
		return value < threshold
	case "<=":
		return value <= threshold
	}
	return false
}

func formatBreach(rule config.AlerterRule, rec model.LogRecord, value float64) string {
	id := rec.Identity
	return fmt.Sprintf("<h3>%s</h3><p>Flow %d (%s -> %s:%d): %s = %g, rule %s %g</p>",
		html.EscapeString(rule.Name), id.FlowID, id.SrcAddr, id.DstAddr, id.DstPort,
		rule.Metric, value, html.EscapeString(rule.Operator), rule.Threshold)
}
