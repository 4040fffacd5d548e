// Package observability records rfpgen's operational data in a dedicated
// SQLite database: decoder and extractor counters, upload latencies, RFP
// lifecycle events and process heartbeats.
//
// Persistence is asynchronous. Record never blocks on the database for
// longer than one batch insert, and a failing flush is logged, not returned.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Metric names recorded by the proposal service.
const (
	MetricDecodeTotal         = "decode_total"          // labels: format
	MetricDecodeFallbackTotal = "decode_fallback_total" // labels: media_type
	MetricExtractFieldHit     = "extract_field_hit"     // labels: field, rule
	MetricUploadTotal         = "upload_total"          // labels: status
	MetricUploadDurationMs    = "upload_duration_ms"
	MetricMCPToolDurationMs   = "mcp_tool_duration_ms" // labels: tool, status
)

// Metric is a single timeseries datapoint.
type Metric struct {
	Name      string
	Timestamp time.Time
	Value     float64
	Labels    map[string]string
	Unit      string // "count", "milliseconds"
}

// Recorder accepts datapoints. *MetricsManager implements it; Nop discards.
type Recorder interface {
	Record(m *Metric)
}

// Nop is a Recorder that drops everything.
type Nop struct{}

func (Nop) Record(*Metric) {}

// Count records one occurrence of name.
func Count(r Recorder, name string, labels map[string]string) {
	r.Record(&Metric{Name: name, Timestamp: time.Now(), Value: 1, Labels: labels, Unit: "count"})
}

// Duration records d in milliseconds under name.
func Duration(r Recorder, name string, d time.Duration, labels map[string]string) {
	r.Record(&Metric{
		Name:      name,
		Timestamp: time.Now(),
		Value:     float64(d.Microseconds()) / 1000,
		Labels:    labels,
		Unit:      "milliseconds",
	})
}

// MetricsManager buffers metrics and flushes them to SQLite in batches.
type MetricsManager struct {
	db            *sql.DB
	logger        *slog.Logger
	bufferSize    int
	flushInterval time.Duration

	mu     sync.Mutex
	buffer []*Metric

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// MetricsOption configures a MetricsManager.
type MetricsOption func(*MetricsManager)

// WithMetricsLogger sets the logger used to report flush failures.
func WithMetricsLogger(l *slog.Logger) MetricsOption {
	return func(mm *MetricsManager) { mm.logger = l }
}

// NewMetricsManager creates a manager that flushes when bufferSize datapoints
// are pending or every flushInterval, whichever comes first.
// Recommended defaults: bufferSize=100, flushInterval=5s.
func NewMetricsManager(db *sql.DB, bufferSize int, flushInterval time.Duration, opts ...MetricsOption) *MetricsManager {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	mm := &MetricsManager{
		db:            db,
		logger:        slog.Default(),
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		buffer:        make([]*Metric, 0, bufferSize),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, o := range opts {
		o(mm)
	}
	go mm.flushLoop()
	return mm
}

// Record queues a metric for async persistence.
func (mm *MetricsManager) Record(m *Metric) {
	if m == nil || m.Name == "" {
		return
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.buffer = append(mm.buffer, m)
	if len(mm.buffer) >= mm.bufferSize {
		mm.flushLocked()
	}
}

// Flush persists pending metrics now.
func (mm *MetricsManager) Flush() {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.flushLocked()
}

// Query retrieves metrics filtered by name and time range, newest first.
// Pass an empty name for all metrics. Nil times mean unbounded; limit <= 0
// means no limit.
func (mm *MetricsManager) Query(ctx context.Context, name string, start, end *time.Time, limit int) ([]*Metric, error) {
	q := "SELECT metric_name, timestamp, value, labels, unit FROM metrics_timeseries WHERE 1=1"
	var args []any

	if name != "" {
		q += " AND metric_name = ?"
		args = append(args, name)
	}
	if start != nil {
		q += " AND timestamp >= ?"
		args = append(args, start.Unix())
	}
	if end != nil {
		q += " AND timestamp <= ?"
		args = append(args, end.Unix())
	}
	q += " ORDER BY timestamp DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := mm.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var out []*Metric
	for rows.Next() {
		var (
			m          Metric
			ts         int64
			labelsJSON sql.NullString
			unit       sql.NullString
		)
		if err := rows.Scan(&m.Name, &ts, &m.Value, &labelsJSON, &unit); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m.Timestamp = time.Unix(ts, 0)
		m.Unit = unit.String
		if labelsJSON.Valid {
			var labels map[string]string
			if json.Unmarshal([]byte(labelsJSON.String), &labels) == nil {
				m.Labels = labels
			}
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Totals sums every persisted metric by name.
func (mm *MetricsManager) Totals(ctx context.Context) (map[string]float64, error) {
	rows, err := mm.db.QueryContext(ctx,
		`SELECT metric_name, SUM(value) FROM metrics_timeseries GROUP BY metric_name`)
	if err != nil {
		return nil, fmt.Errorf("metric totals: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var name string
		var sum float64
		if err := rows.Scan(&name, &sum); err != nil {
			return nil, fmt.Errorf("scan total: %w", err)
		}
		out[name] = sum
	}
	return out, rows.Err()
}

// Cleanup deletes metrics older than retentionDays and returns the count removed.
func (mm *MetricsManager) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	threshold := time.Now().AddDate(0, 0, -retentionDays).Unix()
	result, err := mm.db.ExecContext(ctx, "DELETE FROM metrics_timeseries WHERE timestamp < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup metrics: %w", err)
	}
	return result.RowsAffected()
}

// Close flushes remaining metrics and stops the background goroutine.
// Safe to call more than once.
func (mm *MetricsManager) Close() error {
	mm.closeOnce.Do(func() {
		close(mm.stop)
		<-mm.done
	})
	return nil
}

func (mm *MetricsManager) flushLoop() {
	defer close(mm.done)
	ticker := time.NewTicker(mm.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-mm.stop:
			mm.Flush()
			return
		case <-ticker.C:
			mm.Flush()
		}
	}
}

func (mm *MetricsManager) flushLocked() {
	if len(mm.buffer) == 0 {
		return
	}
	batch := mm.buffer
	mm.buffer = make([]*Metric, 0, mm.bufferSize)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := mm.db.BeginTx(ctx, nil)
	if err != nil {
		mm.logger.Error("metrics: begin tx", "error", err, "dropped", len(batch))
		return
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO metrics_timeseries (metric_name, timestamp, value, labels, unit) VALUES (?,?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		mm.logger.Error("metrics: prepare", "error", err, "dropped", len(batch))
		return
	}
	defer stmt.Close()

	for _, m := range batch {
		if _, err := stmt.ExecContext(ctx, m.Name, m.Timestamp.Unix(), m.Value, encodeLabels(m.Labels), m.Unit); err != nil {
			mm.logger.Error("metrics: insert", "error", err, "metric", m.Name)
		}
	}
	if err := tx.Commit(); err != nil {
		mm.logger.Error("metrics: commit", "error", err, "dropped", len(batch))
	}
}

// encodeLabels returns the labels as a JSON object (keys sorted) or NULL.
func encodeLabels(labels map[string]string) sql.NullString {
	if len(labels) == 0 {
		return sql.NullString{}
	}
	b, err := json.Marshal(labels)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
