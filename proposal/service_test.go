package proposal

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/rfpgen/dbopen"
	"github.com/hazyhaar/rfpgen/docpipe"
	"github.com/hazyhaar/rfpgen/idgen"
	"github.com/hazyhaar/rfpgen/kit"
	"github.com/hazyhaar/rfpgen/observability"
)

const sampleRFP = "Request for Proposal\nClient: Acme Corp\nProject: Website Redesign\nDue Date: 2024-12-01\n"

// recorder collects metrics in memory.
type recorder struct {
	mu      sync.Mutex
	metrics []observability.Metric
}

func (r *recorder) Record(m *observability.Metric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = append(r.metrics, *m)
}

func (r *recorder) count(name string, labels map[string]string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
next:
	for _, m := range r.metrics {
		if m.Name != name {
			continue
		}
		for k, v := range labels {
			if m.Labels[k] != v {
				continue next
			}
		}
		n++
	}
	return n
}

// failingStore fails writes or pings on demand.
type failingStore struct {
	*SQLiteStore
	writeErr, pingErr, colErr error
}

func (f *failingStore) CreateRFPWithProposal(ctx context.Context, r *RFP, p *Proposal) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	return f.SQLiteStore.CreateRFPWithProposal(ctx, r, p)
}

func (f *failingStore) Ping(ctx context.Context) error {
	if f.pingErr != nil {
		return f.pingErr
	}
	return f.SQLiteStore.Ping(ctx)
}

func (f *failingStore) Collections(ctx context.Context) ([]string, error) {
	if f.colErr != nil {
		return nil, f.colErr
	}
	return f.SQLiteStore.Collections(ctx)
}

var fixedNow = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	store   Store
	metrics *recorder
	events  *observability.EventLogger
}

func newFixture(t *testing.T, store Store, opts ...Option) *fixture {
	t.Helper()
	if store == nil {
		store = memStore(t)
	}
	rec := &recorder{}
	events := observability.NewEventLogger(dbopen.OpenMemory(t, dbopen.WithMigrations(observability.Migrations...)))
	base := []Option{
		WithMetrics(rec),
		WithEvents(events),
		WithClock(func() time.Time { return fixedNow }),
	}
	svc := New(store, docpipe.New(docpipe.Config{}), append(base, opts...)...)
	return &fixture{svc: svc, store: store, metrics: rec, events: events}
}

func TestService_Upload(t *testing.T) {
	f := newFixture(t, nil)
	ctx := kit.WithRequestID(context.Background(), "req_test")

	res, err := f.svc.Upload(ctx, Upload{Data: []byte(sampleRFP), Filename: "rfp.txt", MimeType: "text/plain"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(res.RFPID, idgen.PrefixRFP) || !strings.HasPrefix(res.ProposalID, idgen.PrefixProposal) {
		t.Fatalf("ids = %+v", res)
	}

	p, err := f.svc.Proposal(ctx, res.ProposalID)
	if err != nil {
		t.Fatal(err)
	}
	if p.RFPID != res.RFPID || p.Status != StatusGenerated || !p.GeneratedAt.Equal(fixedNow) {
		t.Errorf("proposal = %+v", p)
	}
	if p.ClientName != "Acme Corp" || p.ProjectName != "Website Redesign" || p.DueDate != "2024-12-01" {
		t.Errorf("fields = %q %q %q", p.ClientName, p.ProjectName, p.DueDate)
	}
	if p.Title != "Website Redesign" {
		t.Errorf("title = %q", p.Title)
	}
	if len(p.Sections) != 6 {
		t.Errorf("sections = %d", len(p.Sections))
	}

	r, err := f.svc.RFP(ctx, res.RFPID)
	if err != nil {
		t.Fatal(err)
	}
	if r.Content != sampleRFP || r.SizeBytes != int64(len(sampleRFP)) || r.DecodedAs != docpipe.FormatText {
		t.Errorf("rfp = %+v", r)
	}
	if len(r.SHA256) != 64 {
		t.Errorf("sha256 = %q", r.SHA256)
	}

	if n := f.metrics.count(observability.MetricUploadTotal, map[string]string{"status": "ok"}); n != 1 {
		t.Errorf("upload_total{ok} = %d", n)
	}
	if n := f.metrics.count(observability.MetricDecodeTotal, map[string]string{"format": "text"}); n != 1 {
		t.Errorf("decode_total{text} = %d", n)
	}
	if n := f.metrics.count(observability.MetricExtractFieldHit, map[string]string{"field": "client", "rule": "client_label"}); n != 1 {
		t.Errorf("extract_field_hit{client_label} = %d", n)
	}
	if n := f.metrics.count(observability.MetricDecodeFallbackTotal, nil); n != 0 {
		t.Errorf("fallback counted for a text upload")
	}

	evs, err := f.events.Events(ctx, res.RFPID)
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 2 || evs[0].Type != observability.EventRFPUploaded || evs[1].Type != observability.EventProposalGenerated {
		t.Fatalf("events = %+v", evs)
	}
	if evs[1].ProposalID != res.ProposalID || evs[0].RequestID != "req_test" || !evs[0].Success {
		t.Errorf("event = %+v", evs[1])
	}
	var rules map[string]string
	if err := json.Unmarshal(evs[1].Details, &rules); err != nil {
		t.Fatal(err)
	}
	if rules["client"] != "client_label" || rules["due_date"] != "due_date" {
		t.Errorf("rules = %v", rules)
	}
}

func TestService_UploadEmpty(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Upload(context.Background(), Upload{Filename: "empty.txt"})
	if !errors.Is(err, ErrEmptyUpload) {
		t.Fatalf("err = %v, want ErrEmptyUpload", err)
	}
	if n := f.metrics.count(observability.MetricUploadTotal, map[string]string{"status": "error"}); n != 1 {
		t.Errorf("upload_total{error} = %d", n)
	}
	rows, _ := f.svc.RFPs(context.Background(), 0)
	if len(rows) != 0 {
		t.Fatalf("empty upload stored %d rows", len(rows))
	}
}

func TestService_UploadTooLarge(t *testing.T) {
	f := newFixture(t, nil, WithMaxUpload(8))
	ctx := context.Background()

	if f.svc.MaxUpload() != 8 {
		t.Fatalf("MaxUpload = %d", f.svc.MaxUpload())
	}
	_, err := f.svc.Upload(ctx, Upload{Data: []byte("123456789"), Filename: "big.txt"})
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
	rows, _ := f.svc.RFPs(ctx, 0)
	if len(rows) != 0 {
		t.Fatalf("oversize upload stored %d rows", len(rows))
	}
	if _, err := f.svc.Upload(ctx, Upload{Data: []byte("12345678"), Filename: "fits.txt"}); err != nil {
		t.Fatalf("upload at the cap: %v", err)
	}
	if n := f.metrics.count(observability.MetricUploadTotal, map[string]string{"status": "error"}); n != 1 {
		t.Errorf("upload_total{error} = %d", n)
	}
}

func TestService_UploadDefaultsAndFallback(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// Not a PDF despite the declared type: every parser fails, raw decode wins.
	res, err := f.svc.Upload(ctx, Upload{Data: []byte("Client: Fallback Co\n"), MimeType: "application/pdf"})
	if err != nil {
		t.Fatal(err)
	}
	r, err := f.svc.RFP(ctx, res.RFPID)
	if err != nil {
		t.Fatal(err)
	}
	if r.Filename != DefaultFilename {
		t.Errorf("filename = %q", r.Filename)
	}
	if r.DecodedAs != docpipe.FormatFallback || r.Content != "Client: Fallback Co\n" {
		t.Errorf("rfp = %+v", r)
	}
	if n := f.metrics.count(observability.MetricDecodeFallbackTotal, map[string]string{"media_type": "application/pdf"}); n != 1 {
		t.Errorf("decode_fallback_total = %d", n)
	}
	p, err := f.svc.Proposal(ctx, res.ProposalID)
	if err != nil {
		t.Fatal(err)
	}
	if p.ClientName != "Fallback Co" {
		t.Errorf("client = %q", p.ClientName)
	}
}

func TestService_UploadStoreFailure(t *testing.T) {
	boom := errors.New("disk full")
	f := newFixture(t, &failingStore{SQLiteStore: memStore(t), writeErr: boom})

	_, err := f.svc.Upload(context.Background(), Upload{Data: []byte(sampleRFP), MimeType: "text/plain"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
	if n := f.metrics.count(observability.MetricUploadTotal, map[string]string{"status": "error"}); n != 1 {
		t.Errorf("upload_total{error} = %d", n)
	}
}

func TestService_ProposalErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for _, id := range []string{"", "42", "not-an-id", "rfp_0190f1b2-7c3d-7a4e-8f00-0123456789ab"} {
		if _, err := f.svc.Proposal(ctx, id); !errors.Is(err, ErrInvalidID) {
			t.Errorf("Proposal(%q) err = %v, want ErrInvalidID", id, err)
		}
	}
	if _, err := f.svc.Proposal(ctx, idgen.Proposal()); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown proposal err = %v, want ErrNotFound", err)
	}
	if _, err := f.svc.RFP(ctx, "prp_0190f1b2-7c3d-7a4e-8f00-0123456789ab"); !errors.Is(err, ErrInvalidID) {
		t.Errorf("RFP with proposal id err = %v, want ErrInvalidID", err)
	}
	if _, err := f.svc.RFP(ctx, idgen.RFP()); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown rfp err = %v, want ErrNotFound", err)
	}
}

func TestService_ProposalCanonicalisesID(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	res, err := f.svc.Upload(ctx, Upload{Data: []byte(sampleRFP), MimeType: "text/plain"})
	if err != nil {
		t.Fatal(err)
	}
	upper := idgen.PrefixProposal + strings.ToUpper(strings.TrimPrefix(res.ProposalID, idgen.PrefixProposal))
	p, err := f.svc.Proposal(ctx, upper)
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != res.ProposalID {
		t.Fatalf("id = %q, want %q", p.ID, res.ProposalID)
	}
}

func TestService_CustomIDs(t *testing.T) {
	n := 0
	seq := func(prefix string) idgen.Generator {
		return func() string {
			n++
			return prefix + strings.Repeat("0", 3) + string(rune('0'+n))
		}
	}
	f := newFixture(t, nil,
		WithIDGenerators(seq("r"), seq("p")),
		WithIDValidator(func(id string) (string, error) {
			if !strings.HasPrefix(id, "p") {
				return "", errors.New("bad prefix")
			}
			return id, nil
		}),
	)
	ctx := context.Background()
	res, err := f.svc.Upload(ctx, Upload{Data: []byte("x"), MimeType: "text/plain"})
	if err != nil {
		t.Fatal(err)
	}
	if res.RFPID != "r0001" || res.ProposalID != "p0002" {
		t.Fatalf("ids = %+v", res)
	}
	if _, err := f.svc.Proposal(ctx, "p0002"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Proposal(ctx, "x"); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("err = %v", err)
	}
}

func TestService_RFPsLimits(t *testing.T) {
	f := newFixture(t, nil, WithListMax(3))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := f.svc.Upload(ctx, Upload{Data: []byte(sampleRFP), MimeType: "text/plain"}); err != nil {
			t.Fatal(err)
		}
	}
	tests := []struct {
		limit, want int
	}{
		{0, 3},
		{-1, 3},
		{2, 2},
		{100, 3},
	}
	for _, tt := range tests {
		rows, err := f.svc.RFPs(ctx, tt.limit)
		if err != nil {
			t.Fatal(err)
		}
		if len(rows) != tt.want {
			t.Errorf("RFPs(%d) = %d rows, want %d", tt.limit, len(rows), tt.want)
		}
	}
}

func TestService_Draft(t *testing.T) {
	f := newFixture(t, nil)
	r := f.svc.Draft(sampleRFP)
	if r.Fields.Client != "Acme Corp" {
		t.Fatalf("client = %q", r.Fields.Client)
	}
	rows, _ := f.svc.RFPs(context.Background(), 0)
	if len(rows) != 0 {
		t.Fatal("Draft stored an RFP")
	}
}

func TestService_Health(t *testing.T) {
	f := newFixture(t, nil)
	h := f.svc.Health(context.Background())
	if h.Backend != "running" || h.Database != "connected & working" || h.ConnectionStatus != "connected" {
		t.Fatalf("health = %+v", h)
	}
	if h.DatabaseDriver != DriverSQLite {
		t.Errorf("driver = %q", h.DatabaseDriver)
	}
	if len(h.Collections) != 2 {
		t.Errorf("collections = %v", h.Collections)
	}
	if !h.Decoders[docpipe.FormatPDF] || !h.Decoders[docpipe.FormatDocx] {
		t.Errorf("decoders = %v", h.Decoders)
	}
	if h.Heartbeat != nil {
		t.Errorf("heartbeat reported without a probe")
	}
}

func TestService_HealthDegraded(t *testing.T) {
	long := errors.New(strings.Repeat("connection refused ", 10))
	tests := []struct {
		name   string
		store  *failingStore
		prefix string
		status string
	}{
		{"ping fails", &failingStore{pingErr: long}, "error: ", "not connected"},
		{"collections fail", &failingStore{colErr: long}, "connected but error: ", "connected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.store.SQLiteStore = memStore(t)
			h := newFixture(t, tt.store).svc.Health(context.Background())
			if !strings.HasPrefix(h.Database, tt.prefix) {
				t.Fatalf("database = %q", h.Database)
			}
			if got := len(strings.TrimPrefix(h.Database, tt.prefix)); got != 50 {
				t.Errorf("error text length = %d, want 50", got)
			}
			if h.ConnectionStatus != tt.status || h.Backend != "running" {
				t.Errorf("health = %+v", h)
			}
			if h.Collections == nil || len(h.Collections) != 0 {
				t.Errorf("collections = %#v", h.Collections)
			}
		})
	}
}

func TestService_HealthHeartbeat(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithMigrations(observability.Migrations...))
	hw := observability.NewHeartbeatWriter(db, "rfpgen", time.Minute, nil)
	if err := hw.WriteHeartbeat(context.Background()); err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, nil, WithHeartbeat(func(ctx context.Context) (*observability.HeartbeatStatus, error) {
		return observability.LatestHeartbeat(ctx, db, "rfpgen", 3*time.Minute)
	}))
	h := f.svc.Health(context.Background())
	if h.Heartbeat == nil || !h.Heartbeat.Alive || h.Heartbeat.WorkerName != "rfpgen" {
		t.Fatalf("heartbeat = %+v", h.Heartbeat)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("héllo wörld", 5); got != "héllo" {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("short", 50); got != "short" {
		t.Fatalf("truncate = %q", got)
	}
}

func TestService_UploadCleansFilename(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tests := map[string]string{
		`C:\bids\2025\rfp.txt`: "rfp.txt",
		"../../etc/passwd":     "passwd",
		"\x00\x01":             DefaultFilename,
	}
	for in, want := range tests {
		res, err := f.svc.Upload(ctx, Upload{Data: []byte("x"), Filename: in, MimeType: "text/plain"})
		if err != nil {
			t.Fatal(err)
		}
		r, err := f.svc.RFP(ctx, res.RFPID)
		if err != nil {
			t.Fatal(err)
		}
		if r.Filename != want {
			t.Errorf("filename %q stored as %q, want %q", in, r.Filename, want)
		}
	}
}
