package proposal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hazyhaar/rfpgen/dbopen"
	"github.com/hazyhaar/rfpgen/docpipe"
	"github.com/hazyhaar/rfpgen/extract"
	"github.com/hazyhaar/rfpgen/idgen"
)

func memStore(t *testing.T) *SQLiteStore {
	t.Helper()
	return NewSQLiteStore(dbopen.OpenMemory(t, dbopen.WithMigrations(SQLiteMigrations()...)))
}

func sampleRecords(at time.Time) (*RFP, *Proposal) {
	rfp := &RFP{
		ID:        idgen.RFP(),
		Filename:  "rfp.txt",
		Content:   "Client: Acme Corp\nProject: Website Redesign",
		SizeBytes: 44,
		MimeType:  "text/plain",
		DecodedAs: docpipe.FormatText,
		SHA256:    "abc123",
		CreatedAt: at,
	}
	prop := newProposal(idgen.Proposal(), rfp.ID, extract.Extract(rfp.Content), at)
	return rfp, prop
}

// storeContract runs the behaviour every Store implementation must share.
func storeContract(t *testing.T, s Store) {
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	rfp, prop := sampleRecords(at)
	if err := s.CreateRFPWithProposal(ctx, rfp, prop); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetProposal(ctx, prop.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, prop) {
		t.Fatalf("GetProposal mismatch:\n got %+v\nwant %+v", got, prop)
	}
	if len(got.Sections) != 6 || got.Sections[0].Heading != extract.HeadingExecutiveSummary {
		t.Fatalf("sections = %+v", got.Sections)
	}

	gotRFP, err := s.GetRFP(ctx, rfp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(gotRFP, rfp) {
		t.Fatalf("GetRFP mismatch:\n got %+v\nwant %+v", gotRFP, rfp)
	}

	if _, err := s.GetProposal(ctx, idgen.Proposal()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing proposal: err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetRFP(ctx, idgen.RFP()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing rfp: err = %v, want ErrNotFound", err)
	}

	// A second RFP without media type, one second later.
	bare := &RFP{
		ID:        idgen.RFP(),
		Filename:  DefaultFilename,
		Content:   "",
		SizeBytes: 3,
		DecodedAs: docpipe.FormatFallback,
		SHA256:    "def456",
		CreatedAt: at.Add(time.Second),
	}
	bareProp := newProposal(idgen.Proposal(), bare.ID, extract.Extract(bare.Content), bare.CreatedAt)
	if err := s.CreateRFPWithProposal(ctx, bare, bareProp); err != nil {
		t.Fatal(err)
	}

	rows, err := s.ListRFPs(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("ListRFPs: got %d rows", len(rows))
	}
	if rows[0].ID != bare.ID || rows[0].MimeType != nil {
		t.Errorf("newest row = %+v", rows[0])
	}
	if rows[1].ID != rfp.ID || rows[1].MimeType == nil || *rows[1].MimeType != "text/plain" || rows[1].SizeBytes != 44 {
		t.Errorf("oldest row = %+v", rows[1])
	}

	rows, err = s.ListRFPs(ctx, 1)
	if err != nil || len(rows) != 1 {
		t.Fatalf("ListRFPs(1) = %d rows, %v", len(rows), err)
	}

	if err := s.Ping(ctx); err != nil {
		t.Fatal(err)
	}
	cols, err := s.Collections(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{"rfps": false, "proposals": false}
	for _, c := range cols {
		if _, ok := want[c]; ok {
			want[c] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("collection %s missing from %v", name, cols)
		}
	}
}

func TestSQLiteStore(t *testing.T) {
	storeContract(t, memStore(t))
}

func TestSQLiteStore_EmptyList(t *testing.T) {
	rows, err := memStore(t).ListRFPs(context.Background(), 50)
	if err != nil {
		t.Fatal(err)
	}
	if rows == nil || len(rows) != 0 {
		t.Fatalf("want empty non-nil slice, got %#v", rows)
	}
}

func TestSQLiteStore_AtomicCreate(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()
	rfp, prop := sampleRecords(time.Now())
	prop.RFPID = "rfp_missing"

	if err := s.CreateRFPWithProposal(ctx, rfp, prop); err == nil {
		t.Fatal("proposal without its RFP should violate the foreign key")
	}
	if _, err := s.GetRFP(ctx, rfp.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RFP should have been rolled back, err = %v", err)
	}
}

func TestOpenSQLiteStore_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "rfpgen.db")
	s, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	rfp, prop := sampleRecords(time.Now().UTC().Truncate(time.Millisecond))
	if err := s.CreateRFPWithProposal(context.Background(), rfp, prop); err != nil {
		t.Fatal(err)
	}
	s.Close()

	// Reopening keeps data and does not re-run migrations.
	s, err = OpenSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, err := s.GetProposal(context.Background(), prop.ID); err != nil {
		t.Fatalf("after reopen: %v", err)
	}
	if v, _ := dbopen.SchemaVersion(context.Background(), s.DB()); v != len(SQLiteMigrations()) {
		t.Fatalf("schema version = %d", v)
	}
}

// TestPostgresStore runs against a real server when RFPGEN_TEST_POSTGRES_DSN is set.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("RFPGEN_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RFPGEN_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	pool.Exec(ctx, "DROP TABLE IF EXISTS proposals, rfps")
	s := NewPostgresStore(pool)
	if err := s.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Init(ctx); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	storeContract(t, s)

	t.Run("NUL bytes", func(t *testing.T) {
		rfp, prop := sampleRecords(time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC))
		rfp.Content = "%PDF-1.4\x00\x01binary"
		rfp.MimeType = "application/pdf\x00"
		prop.ClientName = "Acme\x00Corp"
		prop.Sections[0].Content = "excerpt\x00"
		if err := s.CreateRFPWithProposal(ctx, rfp, prop); err != nil {
			t.Fatalf("insert with NUL: %v", err)
		}
		got, err := s.GetRFP(ctx, rfp.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Content != "%PDF-1.4\uFFFD\x01binary" || got.MimeType != "application/pdf\uFFFD" {
			t.Errorf("rfp = %q / %q", got.Content, got.MimeType)
		}
		p, err := s.GetProposal(ctx, prop.ID)
		if err != nil {
			t.Fatal(err)
		}
		if p.ClientName != "Acme\uFFFDCorp" || p.Sections[0].Content != "excerpt\uFFFD" {
			t.Errorf("proposal = %q / %q", p.ClientName, p.Sections[0].Content)
		}
	})
}
