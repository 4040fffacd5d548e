// CLAUDE:SUMMARY Configuration struct and defaults for the docpipe decoder.
package docpipe

import "log/slog"

// PDF engines selectable through Config.PDFEngine.
const (
	PDFEnginePDFCPU = "pdfcpu"
	PDFEnginePlain  = "plain"
)

// Config configures the decoder.
type Config struct {
	// MaxInputSize is the largest input handed to a specialized parser
	// (default: 100 MB). Larger inputs go straight to the lossy text path.
	MaxInputSize int64 `json:"max_input_size" yaml:"max_input_size"`

	// PDFEngine selects the PDF capability: "pdfcpu" (default) or "plain".
	PDFEngine string `json:"pdf_engine" yaml:"pdf_engine"`

	// Disable lists formats whose capability is reported unavailable.
	Disable []Format `json:"disable,omitempty" yaml:"disable"`

	// Logger for debug/warn messages.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxInputSize <= 0 {
		c.MaxInputSize = 100 * 1024 * 1024
	}
	if c.PDFEngine == "" {
		c.PDFEngine = PDFEnginePDFCPU
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

func (c *Config) disabled(f Format) bool {
	for _, d := range c.Disable {
		if d == f {
			return true
		}
	}
	return false
}
