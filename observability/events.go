package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/rfpgen/idgen"
)

// Event types written by the proposal service.
const (
	EventRFPUploaded       = "rfp.uploaded"
	EventProposalGenerated = "proposal.generated"
	EventUploadFailed      = "rfp.upload_failed"
)

// Event is one step of an RFP's lifecycle.
type Event struct {
	Type       string
	RFPID      string
	ProposalID string
	RequestID  string
	Details    any // marshalled to JSON; nil for none
	Success    bool
	At         time.Time
}

// EventLogger writes RFP lifecycle events.
type EventLogger struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// WithEventLogger sets the logger that reports write failures.
func WithEventLogger(logger *slog.Logger) EventLoggerOption {
	return func(l *EventLogger) { l.logger = logger }
}

// NewEventLogger creates a logger backed by the observability database.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:     db,
		newID:  idgen.Prefixed("evt_", idgen.Default),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogEvent records an event. Errors are logged, not returned: a failing
// observability store never fails an upload.
func (l *EventLogger) LogEvent(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	var details sql.NullString
	if e.Details != nil {
		if b, err := json.Marshal(e.Details); err == nil {
			details = sql.NullString{String: string(b), Valid: true}
		}
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO rfp_events (
			event_id, event_type, rfp_id, proposal_id, request_id, details, success, created_at
		) VALUES (?,?,?,?,?,?,?,?)`,
		l.newID(), e.Type, nullIfEmpty(e.RFPID), nullIfEmpty(e.ProposalID), nullIfEmpty(e.RequestID),
		details, e.Success, e.At.Unix())
	if err != nil {
		l.logger.Error("event log failed", "error", err, "event_type", e.Type)
	}
}

// EventRecord is a stored event as read back by Events.
type EventRecord struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	RFPID      string          `json:"rfp_id,omitempty"`
	ProposalID string          `json:"proposal_id,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`
	Success    bool            `json:"success"`
	At         time.Time       `json:"at"`
}

// Events returns the events of one RFP, oldest first.
func (l *EventLogger) Events(ctx context.Context, rfpID string) ([]EventRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT event_id, event_type, rfp_id, proposal_id, request_id, details, success, created_at
		FROM rfp_events WHERE rfp_id = ? ORDER BY created_at, rowid`, rfpID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var (
			r                  EventRecord
			rfp, prp, req, det sql.NullString
			ts                 int64
		)
		if err := rows.Scan(&r.ID, &r.Type, &rfp, &prp, &req, &det, &r.Success, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		r.RFPID, r.ProposalID, r.RequestID = rfp.String, prp.String, req.String
		if det.Valid {
			r.Details = json.RawMessage(det.String)
		}
		r.At = time.Unix(ts, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
