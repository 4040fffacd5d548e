package proposal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/rfpgen/dbopen"
	"github.com/hazyhaar/rfpgen/docpipe"
)

// Store persists RFPs and proposals. Implementations are safe for concurrent use.
type Store interface {
	// CreateRFPWithProposal writes both records atomically.
	CreateRFPWithProposal(ctx context.Context, r *RFP, p *Proposal) error
	// GetProposal and GetRFP return ErrNotFound when id is unknown.
	GetProposal(ctx context.Context, id string) (*Proposal, error)
	GetRFP(ctx context.Context, id string) (*RFP, error)
	// ListRFPs returns up to limit RFPs, newest first.
	ListRFPs(ctx context.Context, limit int) ([]RFPSummary, error)
	Ping(ctx context.Context) error
	// Collections names the tables holding records.
	Collections(ctx context.Context) ([]string, error)
	Driver() string
	Close() error
}

// timeLayout is fixed-width so that TEXT timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// sqliteMigrations is the versioned schema of the SQLite store.
var sqliteMigrations = []string{
	`
CREATE TABLE IF NOT EXISTS rfps (
    id          TEXT PRIMARY KEY,
    filename    TEXT NOT NULL,
    content     TEXT NOT NULL,
    filesize    INTEGER NOT NULL,
    mimetype    TEXT,
    uploaded_by TEXT,
    decoded_as  TEXT NOT NULL,
    sha256      TEXT NOT NULL,
    created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rfps_created ON rfps(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_rfps_sha256  ON rfps(sha256);

CREATE TABLE IF NOT EXISTS proposals (
    id           TEXT PRIMARY KEY,
    rfp_id       TEXT NOT NULL REFERENCES rfps(id) ON DELETE CASCADE,
    title        TEXT NOT NULL,
    summary      TEXT NOT NULL,
    client_name  TEXT,
    project_name TEXT,
    due_date     TEXT,
    sections     TEXT NOT NULL,
    status       TEXT NOT NULL DEFAULT 'generated',
    generated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_proposals_rfp ON proposals(rfp_id);
`,
}

// SQLiteStore is the default Store, backed by modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the database at path and migrates it.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithMigrations(sqliteMigrations...))
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// NewSQLiteStore wraps a database opened with
// dbopen.WithMigrations(SQLiteMigrations()...).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// SQLiteMigrations returns the versioned schema of the SQLite store.
func SQLiteMigrations() []string {
	return append([]string(nil), sqliteMigrations...)
}

// DB returns the underlying *sql.DB.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Driver() string { return DriverSQLite }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// CreateRFPWithProposal inserts both records in one transaction.
func (s *SQLiteStore) CreateRFPWithProposal(ctx context.Context, r *RFP, p *Proposal) error {
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := insertRFP(ctx, tx, r); err != nil {
			return err
		}
		return insertProposal(ctx, tx, p)
	})
}

func insertRFP(ctx context.Context, tx *sql.Tx, r *RFP) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO rfps (id, filename, content, filesize, mimetype, uploaded_by, decoded_as, sha256, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Filename, r.Content, r.SizeBytes, nullString(r.MimeType), nullString(r.UploadedBy),
		string(r.DecodedAs), r.SHA256, r.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert rfp: %w", err)
	}
	return nil
}

func insertProposal(ctx context.Context, tx *sql.Tx, p *Proposal) error {
	sections, err := json.Marshal(p.Sections)
	if err != nil {
		return fmt.Errorf("marshal sections: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO proposals (id, rfp_id, title, summary, client_name, project_name, due_date, sections, status, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.RFPID, p.Title, p.Summary, nullString(p.ClientName), nullString(p.ProjectName),
		nullString(p.DueDate), string(sections), p.Status, p.GeneratedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}
	return nil
}

// GetProposal returns the proposal with the given id.
func (s *SQLiteStore) GetProposal(ctx context.Context, id string) (*Proposal, error) {
	var (
		p                     Proposal
		client, project, due  sql.NullString
		sections, generatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, rfp_id, title, summary, client_name, project_name, due_date, sections, status, generated_at
		FROM proposals WHERE id = ?`, id).
		Scan(&p.ID, &p.RFPID, &p.Title, &p.Summary, &client, &project, &due, &sections, &p.Status, &generatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get proposal: %w", err)
	}
	p.ClientName, p.ProjectName, p.DueDate = client.String, project.String, due.String
	if err := json.Unmarshal([]byte(sections), &p.Sections); err != nil {
		return nil, fmt.Errorf("proposal %s: decode sections: %w", id, err)
	}
	if p.GeneratedAt, err = time.Parse(timeLayout, generatedAt); err != nil {
		return nil, fmt.Errorf("proposal %s: parse generated_at: %w", id, err)
	}
	return &p, nil
}

// GetRFP returns the RFP with the given id.
func (s *SQLiteStore) GetRFP(ctx context.Context, id string) (*RFP, error) {
	var (
		r                  RFP
		mime, uploadedBy   sql.NullString
		decodedAs, created string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, filename, content, filesize, mimetype, uploaded_by, decoded_as, sha256, created_at
		FROM rfps WHERE id = ?`, id).
		Scan(&r.ID, &r.Filename, &r.Content, &r.SizeBytes, &mime, &uploadedBy, &decodedAs, &r.SHA256, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rfp: %w", err)
	}
	r.MimeType, r.UploadedBy, r.DecodedAs = mime.String, uploadedBy.String, docpipe.Format(decodedAs)
	if r.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("rfp %s: parse created_at: %w", id, err)
	}
	return &r, nil
}

// ListRFPs returns up to limit RFPs, newest first.
func (s *SQLiteStore) ListRFPs(ctx context.Context, limit int) ([]RFPSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, filesize, mimetype FROM rfps
		ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list rfps: %w", err)
	}
	defer rows.Close()

	out := []RFPSummary{}
	for rows.Next() {
		var r RFPSummary
		var mime sql.NullString
		if err := rows.Scan(&r.ID, &r.Filename, &r.SizeBytes, &mime); err != nil {
			return nil, fmt.Errorf("scan rfp: %w", err)
		}
		if mime.Valid {
			r.MimeType = &mime.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Collections lists the user tables of the database.
func (s *SQLiteStore) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
