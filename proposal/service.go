// Package proposal is the rfpgen service: it accepts RFP uploads, decodes
// them to text, drafts a proposal from the extracted fields and stores both
// records. HTTP and MCP transports sit on top of Service.
package proposal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/rfpgen/docpipe"
	"github.com/hazyhaar/rfpgen/extract"
	"github.com/hazyhaar/rfpgen/idgen"
	"github.com/hazyhaar/rfpgen/kit"
	"github.com/hazyhaar/rfpgen/observability"
	"github.com/hazyhaar/rfpgen/uploadsafe"
)

// List limits.
const (
	DefaultListLimit = 50
	DefaultListMax   = 500
)

// DefaultMaxUpload caps the size of one upload on every transport.
const DefaultMaxUpload = 25 << 20

// Decoder turns an upload into text. *docpipe.Pipeline implements it.
type Decoder interface {
	DecodeDetailed(in docpipe.Input) docpipe.Result
	Capabilities() map[docpipe.Format]bool
}

// Service orchestrates decode, extraction and persistence.
type Service struct {
	store   Store
	decoder Decoder
	logger  *slog.Logger
	metrics observability.Recorder
	events  *observability.EventLogger
	now     func() time.Time
	listMax int
	// maxUpload bounds len(Upload.Data).
	maxUpload int64

	newRFPID      idgen.Generator
	newProposalID idgen.Generator
	parseID       func(string) (string, error)

	heartbeat func(context.Context) (*observability.HeartbeatStatus, error)
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics sets the metrics recorder. Default: observability.Nop.
func WithMetrics(r observability.Recorder) Option {
	return func(s *Service) { s.metrics = r }
}

// WithEvents sets the RFP lifecycle event logger.
func WithEvents(e *observability.EventLogger) Option {
	return func(s *Service) { s.events = e }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithListMax caps the limit accepted by RFPs. Default: DefaultListMax.
func WithListMax(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.listMax = n
		}
	}
}

// WithMaxUpload caps the upload size in bytes. Default: DefaultMaxUpload.
func WithMaxUpload(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// MaxUpload returns the upload cap in bytes.
func (s *Service) MaxUpload() int64 { return s.maxUpload }

// WithIDGenerators sets the RFP and proposal ID generators. Generated IDs
// must pass the ID validator; see WithIDValidator.
func WithIDGenerators(rfp, proposal idgen.Generator) Option {
	return func(s *Service) {
		s.newRFPID = rfp
		s.newProposalID = proposal
	}
}

// WithIDValidator sets the function that validates and canonicalises a
// proposal ID received from a client.
func WithIDValidator(parse func(string) (string, error)) Option {
	return func(s *Service) { s.parseID = parse }
}

// WithHeartbeat sets the probe whose result is included in Health.
func WithHeartbeat(probe func(context.Context) (*observability.HeartbeatStatus, error)) Option {
	return func(s *Service) { s.heartbeat = probe }
}

// New creates a Service.
func New(store Store, decoder Decoder, opts ...Option) *Service {
	s := &Service{
		store:         store,
		decoder:       decoder,
		logger:        slog.Default(),
		metrics:       observability.Nop{},
		now:           time.Now,
		listMax:       DefaultListMax,
		maxUpload:     DefaultMaxUpload,
		newRFPID:      idgen.RFP,
		newProposalID: idgen.Proposal,
		parseID: func(id string) (string, error) {
			return idgen.ParsePrefixed(idgen.PrefixProposal, id)
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Upload decodes u, stores it as an RFP, drafts and stores its proposal.
// An empty upload fails with ErrEmptyUpload and one over the cap with
// ErrTooLarge, both before anything is decoded. The stored filename is the
// cleaned last path element of u.Filename.
func (s *Service) Upload(ctx context.Context, u Upload) (res *UploadResult, err error) {
	start := s.now()
	logger := s.logger.With("filename", u.Filename, "mimetype", u.MimeType, "size", len(u.Data))
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		observability.Count(s.metrics, observability.MetricUploadTotal, map[string]string{"status": status})
		observability.Duration(s.metrics, observability.MetricUploadDurationMs, s.now().Sub(start), nil)
	}()

	if len(u.Data) == 0 {
		return nil, ErrEmptyUpload
	}
	if int64(len(u.Data)) > s.maxUpload {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(u.Data), s.maxUpload)
	}

	decoded := s.decoder.DecodeDetailed(docpipe.Input{
		Data:      u.Data,
		MediaType: u.MimeType,
		Filename:  u.Filename,
	})
	s.recordDecode(u, decoded, logger)

	filename := uploadsafe.CleanFilename(u.Filename)
	if filename == "" {
		filename = DefaultFilename
	}
	sum := sha256.Sum256(u.Data)
	now := s.now().UTC()

	rfp := &RFP{
		ID:        s.newRFPID(),
		Filename:  filename,
		Content:   decoded.Text,
		SizeBytes: int64(len(u.Data)),
		MimeType:  u.MimeType,
		DecodedAs: decoded.Format,
		SHA256:    hex.EncodeToString(sum[:]),
		CreatedAt: now,
	}

	drafted := extract.Extract(decoded.Text)
	s.recordExtract(drafted)
	prop := newProposal(s.newProposalID(), rfp.ID, drafted, now)

	if err := s.store.CreateRFPWithProposal(ctx, rfp, prop); err != nil {
		s.logEvent(ctx, observability.Event{
			Type:    observability.EventUploadFailed,
			Details: map[string]any{"filename": filename, "error": err.Error()},
		})
		return nil, fmt.Errorf("store upload: %w", err)
	}

	s.logEvent(ctx, observability.Event{
		Type:    observability.EventRFPUploaded,
		RFPID:   rfp.ID,
		Success: true,
		Details: map[string]any{
			"filename":   filename,
			"filesize":   rfp.SizeBytes,
			"decoded_as": rfp.DecodedAs,
			"tried":      decoded.Tried,
		},
	})
	s.logEvent(ctx, observability.Event{
		Type:       observability.EventProposalGenerated,
		RFPID:      rfp.ID,
		ProposalID: prop.ID,
		Success:    true,
		Details: map[string]any{
			"client":   extract.RuleName("client", drafted.Matched.Client),
			"project":  extract.RuleName("project", drafted.Matched.Project),
			"due_date": extract.RuleName("due_date", drafted.Matched.DueDate),
		},
	})

	logger.Info("rfp uploaded", "rfp_id", rfp.ID, "proposal_id", prop.ID, "decoded_as", rfp.DecodedAs)
	return &UploadResult{ProposalID: prop.ID, RFPID: rfp.ID}, nil
}

func (s *Service) recordDecode(u Upload, r docpipe.Result, logger *slog.Logger) {
	observability.Count(s.metrics, observability.MetricDecodeTotal, map[string]string{"format": string(r.Format)})
	if !r.Fallback() {
		return
	}
	observability.Count(s.metrics, observability.MetricDecodeFallbackTotal, map[string]string{"media_type": u.MimeType})
	if r.Quality.LooksBinary() {
		logger.Warn("fallback decode produced binary-looking text",
			"printable_ratio", r.Quality.PrintableRatio, "tried", r.Tried)
	}
}

func (s *Service) recordExtract(r extract.Result) {
	for field, idx := range map[string]int{
		"client":   r.Matched.Client,
		"project":  r.Matched.Project,
		"due_date": r.Matched.DueDate,
	} {
		if idx < 0 {
			continue
		}
		observability.Count(s.metrics, observability.MetricExtractFieldHit, map[string]string{
			"field": field,
			"rule":  extract.RuleName(field, idx),
		})
	}
}

func (s *Service) logEvent(ctx context.Context, e observability.Event) {
	if s.events == nil {
		return
	}
	e.RequestID = kit.GetRequestID(ctx)
	e.At = s.now()
	s.events.LogEvent(ctx, e)
}

// Draft extracts fields and sections from text without storing anything.
func (s *Service) Draft(text string) extract.Result {
	r := extract.Extract(text)
	s.recordExtract(r)
	return r
}

// Proposal returns the stored proposal with the given id. Malformed ids fail
// with ErrInvalidID, unknown ones with ErrNotFound.
func (s *Service) Proposal(ctx context.Context, id string) (*Proposal, error) {
	canonical, err := s.parseID(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	p, err := s.store.GetProposal(ctx, canonical)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get proposal %s: %w", canonical, err)
	}
	return p, nil
}

// RFP returns the stored RFP with the given id, decoded text included.
func (s *Service) RFP(ctx context.Context, id string) (*RFP, error) {
	canonical, err := idgen.ParsePrefixed(idgen.PrefixRFP, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	r, err := s.store.GetRFP(ctx, canonical)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get rfp %s: %w", canonical, err)
	}
	return r, nil
}

// RFPs lists stored RFPs, newest first. limit <= 0 means DefaultListLimit;
// larger values are clamped to the configured maximum.
func (s *Service) RFPs(ctx context.Context, limit int) ([]RFPSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > s.listMax {
		limit = s.listMax
	}
	rows, err := s.store.ListRFPs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list rfps: %w", err)
	}
	return rows, nil
}

// Health is the report served at /test.
type Health struct {
	Backend          string                         `json:"backend"`
	Database         string                         `json:"database"`
	DatabaseDriver   string                         `json:"database_driver"`
	ConnectionStatus string                         `json:"connection_status"`
	Collections      []string                       `json:"collections"`
	Decoders         map[docpipe.Format]bool        `json:"decoders"`
	Heartbeat        *observability.HeartbeatStatus `json:"heartbeat,omitempty"`
}

// maxHealthCollections bounds the collection list in Health.
const maxHealthCollections = 10

// Health probes the store. It never fails: problems are reported in the
// returned fields.
func (s *Service) Health(ctx context.Context) Health {
	h := Health{
		Backend:          "running",
		Database:         "not available",
		DatabaseDriver:   s.store.Driver(),
		ConnectionStatus: "not connected",
		Collections:      []string{},
		Decoders:         s.decoder.Capabilities(),
	}
	if s.heartbeat != nil {
		if hb, err := s.heartbeat(ctx); err != nil {
			s.logger.Warn("heartbeat probe failed", "error", err)
		} else {
			h.Heartbeat = hb
		}
	}
	if err := s.store.Ping(ctx); err != nil {
		h.Database = "error: " + truncate(err.Error(), 50)
		return h
	}
	h.Database = "available"
	h.ConnectionStatus = "connected"

	cols, err := s.store.Collections(ctx)
	if err != nil {
		h.Database = "connected but error: " + truncate(err.Error(), 50)
		return h
	}
	if len(cols) > maxHealthCollections {
		cols = cols[:maxHealthCollections]
	}
	if cols != nil {
		h.Collections = cols
	}
	h.Database = "connected & working"
	return h
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
