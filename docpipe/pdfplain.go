package docpipe

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PlainPDF extracts PDF text with ledongthuc/pdf. It handles font encodings
// that the pdfcpu operator scan does not decode.
type PlainPDF struct{}

func (PlainPDF) Format() Format  { return FormatPDF }
func (PlainPDF) Available() bool { return true }

// Extract returns the plain text of every readable page joined by "\n".
func (PlainPDF) Extract(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var pages []string
	found := false
	for i := 1; i <= r.NumPage(); i++ {
		text, ok := plainPageText(r, i)
		if !ok {
			continue
		}
		if text != "" {
			found = true
		}
		pages = append(pages, text)
	}
	if !found {
		return "", fmt.Errorf("pdf: %w", errNoText)
	}
	return strings.Join(pages, "\n"), nil
}

func plainPageText(r *pdf.Reader, i int) (text string, ok bool) {
	defer func() {
		if recover() != nil {
			text, ok = "", false
		}
	}()
	page := r.Page(i)
	if page.V.IsNull() {
		return "", false
	}
	text, err := page.GetPlainText(nil)
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(text), true
}
