package clickhouse

import (
	"context"
	"fmt"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/pkg/errors"

	"Go2NetKPI/internal/config"
	"Go2NetKPI/internal/factory"
	"Go2NetKPI/internal/logger"
	"Go2NetKPI/internal/model"
)

// TableName is the table KPI records are mirrored into.
const TableName = "flow_kpis"

const createTableStatement = `
CREATE TABLE IF NOT EXISTS flow_kpis (
    RunID          String,
    Timestamp      DateTime64(3),
    TickMs         UInt64,
    FlowID         UInt32,
    SrcIP          String,
    DstIP          String,
    DstPort        UInt16,
    LatencyMs      Float64,
    ThroughputMbps Float64,
    JitterMs       Nullable(Float64),
    PacketLoss     Nullable(Float64)
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (RunID, FlowID, TickMs);
`

const writeTimeout = 5 * time.Second

func init() {
	factory.RegisterWriter("clickhouse", func(def config.MirrorDef, run factory.RunInfo) (model.Writer, error) {
		return NewWriter(def.ClickHouse, run.ID)
	})
}

// Writer implements model.Writer by inserting each tick's records as one
// ClickHouse batch.
type Writer struct {
	conn  driver.Conn
	runID string
}

// NewWriter connects to ClickHouse and ensures the KPI table exists.
func NewWriter(cfg config.ClickHouseConfig, runID string) (*Writer, error) {
	conn, err := Connect(context.Background(), cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to clickhouse")
	}

	if err := conn.Exec(context.Background(), createTableStatement); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to create table")
	}
	logger.Infof("ClickHouseWriter: connected to %s:%d and ensured table %s exists", cfg.Host, cfg.Port, TableName)

	return &Writer{conn: conn, runID: runID}, nil
}

// Connect opens and pings a ClickHouse connection.
func Connect(ctx context.Context, cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := ch.Open(&ch.Options{
		Addr: []string{addr},
		Auth: ch.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &ch.Compression{
			Method: ch.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to ping clickhouse")
	}
	return conn, nil
}

// Name implements model.Writer.
func (w *Writer) Name() string {
	return "clickhouse"
}

// Write inserts one tick's records.
func (w *Writer) Write(records []model.LogRecord) error {
	if len(records) == 0 {
		return nil // Nothing to write
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO "+TableName)
	if err != nil {
		return errors.Wrap(err, "failed to prepare batch")
	}
	for _, rec := range records {
		if err := batch.Append(rowValues(w.runID, rec)...); err != nil {
			_ = batch.Abort()
			return errors.Wrapf(err, "failed to append flow %d to batch", rec.Identity.FlowID)
		}
	}
	if err := batch.Send(); err != nil {
		return errors.Wrap(err, "failed to send batch")
	}

	logger.Debugf("ClickHouseWriter: wrote %d records for tick %s", len(records), records[0].Tick)
	return nil
}

// Close closes the connection.
func (w *Writer) Close() error {
	return w.conn.Close()
}

// rowValues returns the column values of one record in table order.
// Jitter and loss are NULL for the basic variant.
func rowValues(runID string, rec model.LogRecord) []interface{} {
	var jitter, loss *float64
	if rec.Metrics.Extended {
		j, l := rec.Metrics.JitterMs, rec.Metrics.LossRate
		jitter, loss = &j, &l
	}
	return []interface{}{
		runID,
		rec.Timestamp,
		uint64(rec.Tick / time.Millisecond),
		rec.Identity.FlowID,
		rec.Identity.SrcAddr.String(),
		rec.Identity.DstAddr.String(),
		rec.Identity.DstPort,
		rec.Metrics.LatencyMs,
		rec.Metrics.ThroughputMbps,
		jitter,
		loss,
	}
}
