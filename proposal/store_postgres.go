package proposal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hazyhaar/rfpgen/docpipe"
	"github.com/hazyhaar/rfpgen/extract"
)

// PostgresStore implements Store on PostgreSQL. It accepts an externally
// owned *pgxpool.Pool: the caller creates and closes the pool, Close is a
// no-op.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)

// NewPostgresStore creates a store on pool. Call Init before use.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Init creates tables and indexes. Safe to call multiple times.
func (s *PostgresStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rfps (
			id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			content TEXT NOT NULL,
			filesize BIGINT NOT NULL,
			mimetype TEXT,
			uploaded_by TEXT,
			decoded_as TEXT NOT NULL,
			sha256 TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS rfps_created_idx ON rfps(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS rfps_sha256_idx ON rfps(sha256)`,
		`CREATE TABLE IF NOT EXISTS proposals (
			id TEXT PRIMARY KEY,
			rfp_id TEXT NOT NULL REFERENCES rfps(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			summary TEXT NOT NULL,
			client_name TEXT,
			project_name TEXT,
			due_date TEXT,
			sections JSONB NOT NULL,
			status TEXT NOT NULL DEFAULT 'generated',
			generated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS proposals_rfp_idx ON proposals(rfp_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres init: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Driver() string { return DriverPostgres }

// Close does nothing: the pool belongs to the caller.
func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// pgExecer is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// CreateRFPWithProposal inserts both records in one transaction.
func (s *PostgresStore) CreateRFPWithProposal(ctx context.Context, r *RFP, p *Proposal) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := pgInsertRFP(ctx, tx, r); err != nil {
			return err
		}
		return pgInsertProposal(ctx, tx, p)
	})
}

func pgInsertRFP(ctx context.Context, db pgExecer, r *RFP) error {
	_, err := db.Exec(ctx, `
		INSERT INTO rfps (id, filename, content, filesize, mimetype, uploaded_by, decoded_as, sha256, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, pgText(r.Filename), pgText(r.Content), r.SizeBytes,
		optional(pgText(r.MimeType)), optional(pgText(r.UploadedBy)),
		string(r.DecodedAs), r.SHA256, r.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert rfp: %w", err)
	}
	return nil
}

func pgInsertProposal(ctx context.Context, db pgExecer, p *Proposal) error {
	_, err := db.Exec(ctx, `
		INSERT INTO proposals (id, rfp_id, title, summary, client_name, project_name, due_date, sections, status, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.RFPID, pgText(p.Title), pgText(p.Summary), optional(pgText(p.ClientName)),
		optional(pgText(p.ProjectName)), optional(pgText(p.DueDate)), pgSections(p.Sections),
		p.Status, p.GeneratedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}
	return nil
}

// GetProposal returns the proposal with the given id.
func (s *PostgresStore) GetProposal(ctx context.Context, id string) (*Proposal, error) {
	var (
		p                    Proposal
		client, project, due *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, rfp_id, title, summary, client_name, project_name, due_date, sections, status, generated_at
		FROM proposals WHERE id = $1`, id).
		Scan(&p.ID, &p.RFPID, &p.Title, &p.Summary, &client, &project, &due, &p.Sections, &p.Status, &p.GeneratedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get proposal: %w", err)
	}
	p.ClientName, p.ProjectName, p.DueDate = deref(client), deref(project), deref(due)
	p.GeneratedAt = p.GeneratedAt.UTC()
	return &p, nil
}

// GetRFP returns the RFP with the given id.
func (s *PostgresStore) GetRFP(ctx context.Context, id string) (*RFP, error) {
	var (
		r                RFP
		mime, uploadedBy *string
		decodedAs        string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, filename, content, filesize, mimetype, uploaded_by, decoded_as, sha256, created_at
		FROM rfps WHERE id = $1`, id).
		Scan(&r.ID, &r.Filename, &r.Content, &r.SizeBytes, &mime, &uploadedBy, &decodedAs, &r.SHA256, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rfp: %w", err)
	}
	r.MimeType, r.UploadedBy, r.DecodedAs = deref(mime), deref(uploadedBy), docpipe.Format(decodedAs)
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

// ListRFPs returns up to limit RFPs, newest first.
func (s *PostgresStore) ListRFPs(ctx context.Context, limit int) ([]RFPSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, filename, filesize, mimetype FROM rfps
		ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list rfps: %w", err)
	}
	defer rows.Close()

	out := []RFPSummary{}
	for rows.Next() {
		var r RFPSummary
		if err := rows.Scan(&r.ID, &r.Filename, &r.SizeBytes, &r.MimeType); err != nil {
			return nil, fmt.Errorf("scan rfp: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Collections lists the tables of the current schema.
func (s *PostgresStore) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
		ORDER BY table_name`)
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

// pgText replaces NUL, which PostgreSQL rejects in text and jsonb values,
// with U+FFFD.
func pgText(s string) string {
	return strings.ReplaceAll(s, "\x00", "\uFFFD")
}

func pgSections(in []extract.Section) []extract.Section {
	out := make([]extract.Section, len(in))
	for i, sec := range in {
		out[i] = extract.Section{Heading: pgText(sec.Heading), Content: pgText(sec.Content)}
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
