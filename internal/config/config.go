package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Sampler variants.
const (
	VariantBasic    = "basic"
	VariantExtended = "extended"
)

// LogConfig controls the process logger.
type LogConfig struct {
	Level   string   `yaml:"level"`
	Outputs []string `yaml:"outputs"` // zap sink URLs or paths; stderr when empty
}

// SamplerConfig holds the KPI sampling cadence.
type SamplerConfig struct {
	Interval  string `yaml:"interval"`
	FirstFire string `yaml:"first_fire"`
	Horizon   string `yaml:"horizon"`
	Variant   string `yaml:"variant"`
}

// SinksConfig holds the paths of the two KPI log sinks.
type SinksConfig struct {
	TextPath string `yaml:"text_path"`
	JSONPath string `yaml:"json_path"`
	Fsync    bool   `yaml:"fsync"`
}

// FlowDef defines one synthetic UDP constant-bit-rate flow.
type FlowDef struct {
	Name       string `yaml:"name"`
	Src        string `yaml:"src"`
	Dst        string `yaml:"dst"`
	SrcPort    uint16 `yaml:"src_port"`
	DstPort    uint16 `yaml:"dst_port"`
	PacketSize int    `yaml:"packet_size"`
	Interval   string `yaml:"interval"`
	MaxPackets uint64 `yaml:"max_packets"`
	Start      string `yaml:"start"`
	Stop       string `yaml:"stop"`
}

// LinkDef defines the delay and loss applied to every synthetic packet.
type LinkDef struct {
	Delay    string  `yaml:"delay"`
	Jitter   string  `yaml:"jitter"`
	LossRate float64 `yaml:"loss_rate"`
}

// SimulationConfig configures the built-in traffic model.
type SimulationConfig struct {
	Seed     int64     `yaml:"seed"`
	MaxDelay string    `yaml:"max_delay"`
	Link     LinkDef   `yaml:"link"`
	Flows    []FlowDef `yaml:"flows"`
}

// ProbeConfig holds NATS connection settings for live counter feeds.
type ProbeConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// NATSMirrorConfig holds settings for streaming KPI records over NATS.
type NATSMirrorConfig struct {
	URL       string  `yaml:"url"`
	Subject   string  `yaml:"subject"`
	MaxPerSec float64 `yaml:"max_per_sec"`
}

// MirrorDef defines one best-effort KPI mirror.
type MirrorDef struct {
	Type       string           `yaml:"type"`
	Enabled    bool             `yaml:"enabled"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	NATS       NATSMirrorConfig `yaml:"nats"`
}

// AlerterRule defines a single SLA rule evaluated on every tick.
type AlerterRule struct {
	Name      string  `yaml:"name"`
	Port      uint16  `yaml:"port"`
	Metric    string  `yaml:"metric"`
	Operator  string  `yaml:"operator"`
	Threshold float64 `yaml:"threshold"`
}

// AlerterConfig holds the SLA alerter settings.
type AlerterConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Cooldown string        `yaml:"cooldown"`
	Rules    []AlerterRule `yaml:"rules"`
}

// SMTPConfig holds the SMTP server settings for email notifications.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// APIConfig holds the query API settings.
type APIConfig struct {
	ListenAddr string           `yaml:"listen_addr"`
	GRPCAddr   string           `yaml:"grpc_addr"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Sampler    SamplerConfig    `yaml:"sampler"`
	Sinks      SinksConfig      `yaml:"sinks"`
	Simulation SimulationConfig `yaml:"simulation"`
	Probe      ProbeConfig      `yaml:"probe"`
	Mirrors    []MirrorDef      `yaml:"mirrors"`
	Alerter    AlerterConfig    `yaml:"alerter"`
	SMTP       SMTPConfig       `yaml:"smtp"`
	API        APIConfig        `yaml:"api"`
}

// LoadConfig reads the configuration from a YAML file and returns a Config struct.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse decodes YAML configuration, fills in defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config YAML")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration of the reference 5G slicing run: three
// slices sampled every second from 2s until the 20s horizon.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Sampler: SamplerConfig{
			Interval:  "1s",
			FirstFire: "2s",
			Horizon:   "20s",
			Variant:   VariantExtended,
		},
		Sinks: SinksConfig{
			TextPath: "raw_kpi_log.txt",
			JSONPath: "raw_kpi_log.json",
		},
		Simulation: SimulationConfig{
			Seed:     1,
			MaxDelay: "10s",
			Link:     LinkDef{Delay: "10ms", Jitter: "2ms"},
		},
		Probe: ProbeConfig{
			NATSURL: "nats://127.0.0.1:4222",
			Subject: "gokpi.counters",
		},
		API: APIConfig{ListenAddr: ":8080", GRPCAddr: ":9090"},
	}
}

// DefaultFlows returns the eMBB, URLLC and mMTC downlink flows.
func DefaultFlows() []FlowDef {
	return []FlowDef{
		{Name: "eMBB", Src: "1.0.0.1", Dst: "10.1.2.2", SrcPort: 49153, DstPort: 5000, PacketSize: 1200, Interval: "10ms", MaxPackets: 10000, Start: "1s", Stop: "20s"},
		{Name: "URLLC", Src: "1.0.0.1", Dst: "10.1.3.2", SrcPort: 49154, DstPort: 5001, PacketSize: 200, Interval: "1ms", MaxPackets: 10000, Start: "1s", Stop: "20s"},
		{Name: "mMTC", Src: "1.0.0.1", Dst: "10.1.4.2", SrcPort: 49155, DstPort: 5002, PacketSize: 100, Interval: "5s", MaxPackets: 1000, Start: "1s", Stop: "20s"},
	}
}

func (c *Config) applyDefaults() {
	if len(c.Simulation.Flows) == 0 {
		c.Simulation.Flows = DefaultFlows()
	}
	if c.Sampler.Variant == "" {
		c.Sampler.Variant = VariantExtended
	}
}

// Validate checks that every duration parses and the sampler is usable.
func (c *Config) Validate() error {
	interval, err := c.Sampler.IntervalDuration()
	if err != nil {
		return err
	}
	if interval <= 0 {
		return errors.Errorf("sampler interval must be a positive duration, got %s", interval)
	}
	if _, err := c.Sampler.FirstFireDuration(); err != nil {
		return err
	}
	if _, err := c.Sampler.HorizonDuration(); err != nil {
		return err
	}
	switch c.Sampler.Variant {
	case VariantBasic, VariantExtended:
	default:
		return errors.Errorf("unknown sampler variant '%s'", c.Sampler.Variant)
	}
	if c.Sinks.TextPath == "" || c.Sinks.JSONPath == "" {
		return errors.New("both sink paths must be set")
	}
	if c.Sinks.TextPath == c.Sinks.JSONPath {
		return errors.New("text and json sinks must be different files")
	}
	return nil
}

// IntervalDuration returns the parsed sampling interval.
func (s SamplerConfig) IntervalDuration() (time.Duration, error) {
	return parseDuration("sampler.interval", s.Interval)
}

// FirstFireDuration returns the parsed run time of the first tick.
func (s SamplerConfig) FirstFireDuration() (time.Duration, error) {
	return parseDuration("sampler.first_fire", s.FirstFire)
}

// HorizonDuration returns the parsed run length. Zero means open-ended.
func (s SamplerConfig) HorizonDuration() (time.Duration, error) {
	return parseDuration("sampler.horizon", s.Horizon)
}

// Extended reports whether jitter and loss are attached to each record.
func (s SamplerConfig) Extended() bool {
	return s.Variant == VariantExtended
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", field)
	}
	if d < 0 {
		return 0, errors.Errorf("%s must not be negative, got %s", field, d)
	}
	return d, nil
}

// ParseDuration parses an optional duration field, returning def when empty.
func ParseDuration(field, value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	return parseDuration(field, value)
}
