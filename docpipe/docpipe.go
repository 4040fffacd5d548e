// CLAUDE:SUMMARY Core decoder that turns an uploaded blob into plain text, dispatching on media type and extension.
// Package docpipe decodes uploaded RFP documents into plain text.
//
// Dispatch order (first matching rule wins):
//   - text/* media type or .txt filename: lossy UTF-8 decode
//   - PDF (application/pdf or .pdf): page-by-page text, pages joined by "\n"
//   - Word (OOXML or application/msword, or .docx): paragraphs joined by "\n"
//   - OpenDocument text (.odt) and HTML (.html, .htm): same shape
//   - anything else, or any specialized parser that failed: lossy UTF-8 decode
//
// Each specialized parser is a Capability injected at construction. A
// capability that reports itself unavailable is skipped, so a deployment
// without a given parser still decodes, degraded, through the text path.
//
// Decoding never fails: the worst case is the raw bytes with invalid
// sequences replaced by U+FFFD.
//
// Usage:
//
//	pipe := docpipe.New(docpipe.Config{})
//	text := pipe.Decode(docpipe.Input{Data: data, MediaType: ct, Filename: name})
package docpipe

import (
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strings"
)

// Capability is an optional format-specific parser.
type Capability interface {
	// Format is the decoding path this capability serves.
	Format() Format
	// Available reports whether the parser can run in this process.
	Available() bool
	// Extract returns the document text. An error means the caller
	// should try the next rule.
	Extract(data []byte) (string, error)
}

// errNoText is returned by capabilities that parsed the document but found nothing to return.
var errNoText = errors.New("no text content found")

// specialized is the order in which structured formats are tried.
var specialized = []Format{FormatPDF, FormatDocx, FormatODT, FormatHTML}

// Pipeline is the decoding engine. It is safe for concurrent use.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger
	caps   map[Format]Capability
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithCapabilities replaces the stock capability for each given format.
func WithCapabilities(caps ...Capability) Option {
	return func(p *Pipeline) {
		for _, c := range caps {
			p.caps[c.Format()] = c
		}
	}
}

// New creates a Pipeline with the stock capabilities for cfg, then applies opts.
func New(cfg Config, opts ...Option) *Pipeline {
	cfg.defaults()
	p := &Pipeline{
		cfg:    cfg,
		logger: cfg.Logger,
		caps:   make(map[Format]Capability, len(specialized)),
	}
	for _, c := range DefaultCapabilities(cfg) {
		p.caps[c.Format()] = c
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// DefaultCapabilities returns the stock parsers for cfg. Formats listed in
// cfg.Disable are returned as unavailable.
func DefaultCapabilities(cfg Config) []Capability {
	cfg.defaults()

	var pdf Capability = PDFCPU{}
	if cfg.PDFEngine == PDFEnginePlain {
		pdf = PlainPDF{}
	}
	caps := []Capability{pdf, Docx{}, ODT{}, HTML{}}
	for i, c := range caps {
		if cfg.disabled(c.Format()) {
			caps[i] = Unavailable(c.Format())
		}
	}
	return caps
}

// Available reports the capability flag for a specialized format.
// Text and fallback decoding are always available.
func (p *Pipeline) Available(f Format) bool {
	switch f {
	case FormatText, FormatFallback:
		return true
	}
	c, ok := p.caps[f]
	return ok && c.Available()
}

// Capabilities returns the availability flag of every specialized format.
func (p *Pipeline) Capabilities() map[Format]bool {
	out := make(map[Format]bool, len(specialized))
	for _, f := range specialized {
		out[f] = p.Available(f)
	}
	return out
}

// Detect returns the specialized formats an input qualifies for, in the order
// they would be tried. It returns FormatText alone when the text rule applies.
func (p *Pipeline) Detect(mediaType, filename string) []Format {
	mt := normalizeMediaType(mediaType)
	name := strings.ToLower(filename)

	if strings.HasPrefix(mt, "text/") || strings.HasSuffix(name, ".txt") {
		return []Format{FormatText}
	}
	var out []Format
	for _, f := range specialized {
		if matches(f, mt, name) {
			out = append(out, f)
		}
	}
	return out
}

// Decode returns the plain text of in. It never fails.
func (p *Pipeline) Decode(in Input) string {
	return p.DecodeDetailed(in).Text
}

// DecodeDetailed is Decode plus the path taken and quality metrics.
func (p *Pipeline) DecodeDetailed(in Input) Result {
	candidates := p.Detect(in.MediaType, in.Filename)

	if len(candidates) == 1 && candidates[0] == FormatText {
		return finish(Result{Text: DecodeUTF8(in.Data), Format: FormatText})
	}

	var tried []Format
	if int64(len(in.Data)) > p.cfg.MaxInputSize {
		p.logger.Warn("input exceeds parser limit, decoding as text",
			"filename", in.Filename, "size", len(in.Data), "max", p.cfg.MaxInputSize)
		candidates = nil
	}

	for _, f := range candidates {
		c, ok := p.caps[f]
		if !ok || !c.Available() {
			p.logger.Debug("capability unavailable", "format", f, "filename", in.Filename)
			continue
		}
		text, err := safeExtract(c, in.Data)
		if err != nil {
			tried = append(tried, f)
			p.logger.Debug("parser failed, trying next rule",
				"format", f, "filename", in.Filename, "error", err)
			continue
		}
		return finish(Result{Text: text, Format: f, Tried: tried})
	}

	return finish(Result{Text: DecodeUTF8(in.Data), Format: FormatFallback, Tried: tried})
}

// SpecializedFormats returns the formats backed by a Capability, in the
// order they are tried.
func SpecializedFormats() []Format {
	return append([]Format(nil), specialized...)
}

// SupportedFormats returns every decoding path, specialized ones first.
func SupportedFormats() []Format {
	return append(SpecializedFormats(), FormatText, FormatFallback)
}

func finish(r Result) Result {
	r.Quality = Measure(r.Text)
	return r
}

// safeExtract runs a capability and turns a parser panic into an error.
// Third-party parsers panic on some malformed inputs.
func safeExtract(c Capability, data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%s parser panic: %v", c.Format(), r)
		}
	}()
	text, err = c.Extract(data)
	if err == nil {
		text = DecodeUTF8([]byte(text))
	}
	return text, err
}

func matches(f Format, mt, name string) bool {
	switch f {
	case FormatPDF:
		return mt == MediaTypePDF || strings.HasSuffix(name, ".pdf")
	case FormatDocx:
		return mt == MediaTypeDocx || mt == MediaTypeMSWord || strings.HasSuffix(name, ".docx")
	case FormatODT:
		return mt == MediaTypeODT || strings.HasSuffix(name, ".odt")
	case FormatHTML:
		return mt == MediaTypeXHTML || strings.HasSuffix(name, ".html") || strings.HasSuffix(name, ".htm")
	}
	return false
}

// normalizeMediaType lowercases a declared media type and drops its parameters.
func normalizeMediaType(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(s); err == nil {
		return mt
	}
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// unavailable is a capability that is never available.
type unavailable Format

// Unavailable returns a capability for f whose Available always reports false.
func Unavailable(f Format) Capability { return unavailable(f) }

func (u unavailable) Format() Format  { return Format(u) }
func (u unavailable) Available() bool { return false }
func (u unavailable) Extract([]byte) (string, error) {
	return "", fmt.Errorf("%s capability unavailable", Format(u))
}
