package observability

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migrations holds the versioned DDL of the observability database, for
// dbopen.WithMigrations. The observability database is separate from the
// RFP store so that metric flushes never contend with uploads.
var Migrations = []string{schemaV1}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS worker_heartbeats (
    heartbeat_id TEXT PRIMARY KEY DEFAULT ('hb_' || hex(randomblob(16))),
    worker_name TEXT NOT NULL,
    hostname TEXT NOT NULL,
    worker_pid INTEGER NOT NULL,
    timestamp INTEGER NOT NULL,
    goroutines_count INTEGER,
    memory_alloc_mb REAL,
    memory_sys_mb REAL,
    gc_count INTEGER
);
CREATE INDEX IF NOT EXISTS idx_heartbeats_worker_time
    ON worker_heartbeats(worker_name, timestamp DESC);

CREATE TABLE IF NOT EXISTS metrics_timeseries (
    metric_id TEXT PRIMARY KEY DEFAULT ('met_' || hex(randomblob(16))),
    metric_name TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    value REAL NOT NULL,
    labels TEXT,
    unit TEXT
);
CREATE INDEX IF NOT EXISTS idx_metrics_name_time
    ON metrics_timeseries(metric_name, timestamp DESC);

CREATE TABLE IF NOT EXISTS rfp_events (
    event_id TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    rfp_id TEXT,
    proposal_id TEXT,
    request_id TEXT,
    details TEXT,
    success INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rfp_events_type ON rfp_events(event_type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_rfp_events_rfp ON rfp_events(rfp_id);
`

// Init applies the schema without version tracking. Every statement is
// idempotent.
func Init(db *sql.DB) error {
	for _, s := range Migrations {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("observability: init: %w", err)
		}
	}
	return nil
}

// RetentionConfig specifies per-table retention in days. Zero means no cleanup.
type RetentionConfig struct {
	MetricsDays    int
	EventsDays     int
	HeartbeatsDays int
	RunVacuumAfter bool
}

// Cleanup deletes records older than the retention thresholds.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	now := time.Now()

	// Table and column names come from this fixed list only.
	targets := []struct {
		table  string
		column string
		days   int
	}{
		{"metrics_timeseries", "timestamp", cfg.MetricsDays},
		{"rfp_events", "created_at", cfg.EventsDays},
		{"worker_heartbeats", "timestamp", cfg.HeartbeatsDays},
	}

	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		cutoff := now.AddDate(0, 0, -t.days).Unix()
		q := fmt.Sprintf("DELETE FROM %s WHERE %s < ?", t.table, t.column)
		if _, err := db.ExecContext(ctx, q, cutoff); err != nil {
			return fmt.Errorf("cleanup %s: %w", t.table, err)
		}
	}

	if cfg.RunVacuumAfter {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("vacuum: %w", err)
		}
	}
	return nil
}
