// CLAUDE:SUMMARY Defines Format, Input, Result and the media types recognised by the RFP decoder.
package docpipe

// Format identifies the decoding path that produced a text.
type Format string

const (
	FormatText     Format = "text"
	FormatPDF      Format = "pdf"
	FormatDocx     Format = "docx"
	FormatODT      Format = "odt"
	FormatHTML     Format = "html"
	FormatFallback Format = "fallback"
)

// Declared media types matched by the dispatcher (compared after normalisation).
const (
	MediaTypePDF    = "application/pdf"
	MediaTypeDocx   = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MediaTypeMSWord = "application/msword"
	MediaTypeODT    = "application/vnd.oasis.opendocument.text"
	MediaTypeXHTML  = "application/xhtml+xml"
)

// Input is an uploaded document as handed over by the request scope.
// The pipeline never retains it.
type Input struct {
	Data      []byte
	MediaType string
	Filename  string
}

// Result is the outcome of a decode. Text is always valid UTF-8.
type Result struct {
	Text    string   `json:"text"`
	Format  Format   `json:"format"`          // path that produced Text
	Tried   []Format `json:"tried,omitempty"` // specialized parsers that ran and failed
	Quality Quality  `json:"quality"`
}

// Fallback reports whether the raw lossy decode produced the text.
func (r Result) Fallback() bool { return r.Format == FormatFallback }
