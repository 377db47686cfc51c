package query

import (
	"context"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/types/known/structpb"

	"Go2NetKPI/internal/config"
	"Go2NetKPI/internal/engine/impl/clickhouse"
)

// KPIRow is one stored KPI record.
type KPIRow struct {
	RunID          string
	Timestamp      time.Time
	TickMs         uint64
	FlowID         uint32
	SrcIP          string
	DstIP          string
	DstPort        uint16
	LatencyMs      float64
	ThroughputMbps float64
	JitterMs       *float64
	PacketLoss     *float64
}

// RunSummary describes one stored run.
type RunSummary struct {
	RunID     string
	FirstSeen time.Time
	LastSeen  time.Time
	Flows     uint64
	Records   uint64
}

// Querier defines the interface for querying stored KPIs.
type Querier interface {
	// Runs lists the most recent runs first.
	Runs(ctx context.Context, limit int) ([]RunSummary, error)
	// LatestKPIs returns the last record of every flow in a run. An empty
	// runID selects the most recent run.
	LatestKPIs(ctx context.Context, runID string) ([]KPIRow, error)
	// FlowHistory returns a flow's records in tick order.
	FlowHistory(ctx context.Context, runID string, flowID uint32, limit int) ([]KPIRow, error)
	Close() error
}

// clickhouseQuerier implements the Querier interface for ClickHouse.
type clickhouseQuerier struct {
	conn driver.Conn
}

// NewClickHouseQuerier creates a new querier for ClickHouse.
func NewClickHouseQuerier(ctx context.Context, cfg config.ClickHouseConfig) (Querier, error) {
	conn, err := clickhouse.Connect(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to clickhouse")
	}
	return &clickhouseQuerier{conn: conn}, nil
}

const kpiColumns = `RunID, Timestamp, TickMs, FlowID, SrcIP, DstIP, DstPort, LatencyMs, ThroughputMbps, JitterMs, PacketLoss`

const latestRunClause = `(SELECT RunID FROM ` + clickhouse.TableName + ` ORDER BY Timestamp DESC LIMIT 1)`

func buildRunsQuery(limit int) (string, []interface{}) {
	return `
		SELECT
			RunID,
			min(Timestamp) AS FirstSeen,
			max(Timestamp) AS LastSeen,
			uniqExact(FlowID) AS Flows,
			count() AS Records
		FROM ` + clickhouse.TableName + `
		GROUP BY RunID
		ORDER BY LastSeen DESC
		LIMIT ?`, []interface{}{clampLimit(limit)}
}

func buildLatestQuery(runID string) (string, []interface{}) {
	var qb strings.Builder
	qb.WriteString(`
		SELECT ` + kpiColumns + `
		FROM ` + clickhouse.TableName + `
		WHERE RunID = `)
	var args []interface{}
	if runID == "" {
		qb.WriteString(latestRunClause)
	} else {
		qb.WriteString("?")
		args = append(args, runID)
	}
	qb.WriteString(`
		ORDER BY FlowID, TickMs DESC
		LIMIT 1 BY FlowID`)
	return qb.String(), args
}

func buildHistoryQuery(runID string, flowID uint32, limit int) (string, []interface{}) {
	var qb strings.Builder
	qb.WriteString(`
		SELECT ` + kpiColumns + `
		FROM ` + clickhouse.TableName + `
		WHERE RunID = `)
	var args []interface{}
	if runID == "" {
		qb.WriteString(latestRunClause)
	} else {
		qb.WriteString("?")
		args = append(args, runID)
	}
	qb.WriteString(` AND FlowID = ?
		ORDER BY TickMs
		LIMIT ?`)
	args = append(args, flowID, clampLimit(limit))
	return qb.String(), args
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 10000 {
		return 10000
	}
	return limit
}

// Runs lists stored runs.
func (q *clickhouseQuerier) Runs(ctx context.Context, limit int) ([]RunSummary, error) {
	query, args := buildRunsQuery(limit)
	rows, err := q.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute query")
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.FirstSeen, &r.LastSeen, &r.Flows, &r.Records); err != nil {
			return nil, errors.Wrap(err, "failed to scan run summary")
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LatestKPIs returns the newest record of every flow.
func (q *clickhouseQuerier) LatestKPIs(ctx context.Context, runID string) ([]KPIRow, error) {
	query, args := buildLatestQuery(runID)
	return q.queryRows(ctx, query, args)
}

// FlowHistory returns the records of one flow.
func (q *clickhouseQuerier) FlowHistory(ctx context.Context, runID string, flowID uint32, limit int) ([]KPIRow, error) {
	query, args := buildHistoryQuery(runID, flowID, limit)
	return q.queryRows(ctx, query, args)
}

func (q *clickhouseQuerier) queryRows(ctx context.Context, query string, args []interface{}) ([]KPIRow, error) {
	rows, err := q.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute query")
	}
	defer rows.Close()

	var out []KPIRow
	for rows.Next() {
		var r KPIRow
		if err := rows.Scan(&r.RunID, &r.Timestamp, &r.TickMs, &r.FlowID, &r.SrcIP, &r.DstIP, &r.DstPort,
			&r.LatencyMs, &r.ThroughputMbps, &r.JitterMs, &r.PacketLoss); err != nil {
			return nil, errors.Wrap(err, "failed to scan kpi row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q *clickhouseQuerier) Close() error {
	return q.conn.Close()
}

// Struct converts the row to a protobuf Struct using the JSON log keys.
func (r KPIRow) Struct() (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"run_id":          r.RunID,
		"timestamp":       r.Timestamp.UTC().Format(time.RFC3339Nano),
		"tick_ms":         r.TickMs,
		"flow_id":         r.FlowID,
		"src":             r.SrcIP,
		"dst":             r.DstIP,
		"port":            uint32(r.DstPort),
		"latency_ms":      r.LatencyMs,
		"throughput_mbps": r.ThroughputMbps,
	}
	if r.JitterMs != nil {
		fields["jitter_ms"] = *r.JitterMs
	}
	if r.PacketLoss != nil {
		fields["packet_loss"] = *r.PacketLoss
	}
	return structpb.NewStruct(fields)
}

// Struct converts the summary to a protobuf Struct.
func (r RunSummary) Struct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"run_id":     r.RunID,
		"first_seen": r.FirstSeen.UTC().Format(time.RFC3339Nano),
		"last_seen":  r.LastSeen.UTC().Format(time.RFC3339Nano),
		"flows":      r.Flows,
		"records":    r.Records,
	})
}
