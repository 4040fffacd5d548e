// CLAUDE:SUMMARY PDF capability backed by pdfcpu: validates the document and reads text operators page by page.
// CLAUDE:DEPENDS docpipe/docpipe.go
// CLAUDE:EXPORTS PDFCPU
package docpipe

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFCPU extracts PDF text with pdfcpu.
type PDFCPU struct{}

func (PDFCPU) Format() Format  { return FormatPDF }
func (PDFCPU) Available() bool { return true }

// Extract returns the text of every readable page joined by "\n".
// Unreadable pages are skipped. A document with no page text is an error
// so that the caller falls through to the next rule.
func (PDFCPU) Extract(data []byte) (string, error) {
	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return "", fmt.Errorf("pdfcpu read: %w", err)
	}

	pages := make([]string, 0, ctx.PageCount)
	found := false
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		text, ok := pdfcpuPageText(ctx, pageNr)
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

// pdfcpuPageText extracts one page. ok is false when the page could not be read.
func pdfcpuPageText(ctx *model.Context, pageNr int) (text string, ok bool) {
	defer func() {
		if recover() != nil {
			text, ok = "", false
		}
	}()
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil || r == nil {
		return "", false
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", false
	}
	return extractTextFromStream(data), true
}

// pdfStringRe matches PDF string literals in parentheses: (text here)
var pdfStringRe = regexp.MustCompile(`\(((?:\\.|[^\\)])*)\)`)

// extractTextFromStream parses PDF content stream operators for text.
// Line moves (T*, ', and Td/TD with a vertical offset) become newlines.
func extractTextFromStream(data []byte) string {
	var sb strings.Builder

	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		switch {
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			writePDFStrings(&sb, line)

		case bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")):
			sb.WriteByte('\n')
			writePDFStrings(&sb, line)

		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			if sb.Len() == 0 {
				break
			}
			if pdfMovesLine(line) {
				sb.WriteByte('\n')
			} else {
				sb.WriteByte(' ')
			}

		case bytes.Equal(line, []byte("T*")), bytes.Equal(line, []byte("ET")):
			sb.WriteByte('\n')
		}
	}

	return cleanPDFText(sb.String())
}

func writePDFStrings(sb *strings.Builder, line []byte) {
	for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
		sb.WriteString(decodePDFString(m[1]))
	}
}

// pdfMovesLine reports whether a "tx ty Td" operator has a non-zero ty.
func pdfMovesLine(line []byte) bool {
	fields := strings.Fields(string(line))
	if len(fields) < 3 {
		return false
	}
	ty, err := strconv.ParseFloat(fields[len(fields)-2], 64)
	return err == nil && ty != 0
}

// decodePDFString handles basic PDF escape sequences.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			sb.WriteByte(raw[i])
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '\\', '(', ')':
			sb.WriteByte(raw[i])
		default:
			// Octal escape (e.g. \040 for space).
			if raw[i] < '0' || raw[i] > '7' {
				sb.WriteByte(raw[i])
				continue
			}
			val := int(raw[i] - '0')
			for n := 0; n < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; n++ {
				i++
				val = val*8 + int(raw[i]-'0')
			}
			sb.WriteByte(byte(val))
		}
	}
	return sb.String()
}

// cleanPDFText collapses horizontal whitespace, drops non-printable runes and
// blank lines.
func cleanPDFText(text string) string {
	var lines []string
	for _, raw := range strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' }) {
		var sb strings.Builder
		prevSpace := false
		for _, r := range raw {
			switch {
			case unicode.IsSpace(r):
				if !prevSpace && sb.Len() > 0 {
					sb.WriteByte(' ')
					prevSpace = true
				}
			case unicode.IsPrint(r):
				sb.WriteRune(r)
				prevSpace = false
			}
		}
		if l := strings.TrimSpace(sb.String()); l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n")
}
