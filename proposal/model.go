// CLAUDE:SUMMARY RFP and Proposal records, list rows, upload input/output and the service's sentinel errors.
package proposal

import (
	"errors"
	"time"

	"github.com/hazyhaar/rfpgen/docpipe"
	"github.com/hazyhaar/rfpgen/extract"
)

// Sentinel errors. The HTTP layer maps them to status codes with errors.Is.
var (
	ErrEmptyUpload = errors.New("empty file")
	ErrNotFound    = errors.New("not found")
	ErrInvalidID   = errors.New("invalid id")
	ErrTooLarge    = errors.New("upload too large")
)

// StatusGenerated is the only status a proposal is created with.
const StatusGenerated = "generated"

// DefaultFilename is stored when an upload carries no filename.
const DefaultFilename = "rfp"

// RFP is an uploaded request for proposal and its decoded text.
type RFP struct {
	ID         string         `json:"id"`
	Filename   string         `json:"filename"`
	Content    string         `json:"content"`
	SizeBytes  int64          `json:"filesize"`
	MimeType   string         `json:"mimetype,omitempty"`
	UploadedBy string         `json:"uploaded_by,omitempty"`
	DecodedAs  docpipe.Format `json:"decoded_as"`
	SHA256     string         `json:"sha256"`
	CreatedAt  time.Time      `json:"created_at"`
}

// RFPSummary is one row of the RFP listing. MimeType is null when the
// upload declared none.
type RFPSummary struct {
	ID        string  `json:"id"`
	Filename  string  `json:"filename"`
	SizeBytes int64   `json:"filesize"`
	MimeType  *string `json:"mimetype"`
}

// Proposal is a generated proposal draft.
type Proposal struct {
	ID          string            `json:"id"`
	RFPID       string            `json:"rfp_id"`
	Title       string            `json:"title"`
	Summary     string            `json:"summary"`
	ClientName  string            `json:"client_name,omitempty"`
	ProjectName string            `json:"project_name,omitempty"`
	DueDate     string            `json:"due_date,omitempty"`
	Sections    []extract.Section `json:"sections"`
	Status      string            `json:"status"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// Upload is a received file, held in memory for the duration of the request.
type Upload struct {
	Data     []byte
	Filename string
	MimeType string
}

// UploadResult identifies the records created by an upload.
type UploadResult struct {
	ProposalID string `json:"proposal_id"`
	RFPID      string `json:"rfp_id"`
}

// newProposal builds the stored proposal from an extraction result.
func newProposal(id, rfpID string, res extract.Result, at time.Time) *Proposal {
	return &Proposal{
		ID:          id,
		RFPID:       rfpID,
		Title:       res.Fields.Title,
		Summary:     res.Fields.Summary,
		ClientName:  res.Fields.Client,
		ProjectName: res.Fields.Project,
		DueDate:     res.Fields.DueDate,
		Sections:    res.Sections.Slice(),
		Status:      StatusGenerated,
		GeneratedAt: at.UTC(),
	}
}
