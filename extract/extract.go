// CLAUDE:SUMMARY Field extractor: infers title, client, project and due date from decoded RFP text and assembles six fixed proposal sections.
// CLAUDE:DEPENDS extract/rules.go, extract/sections.go
// CLAUDE:EXPORTS Extract, Result, Fields, Section, Sections, Matches, Headings
// Package extract derives proposal fields from the plain text of an RFP.
//
// Extraction is shallow pattern scanning, not language understanding. Each
// field has an ordered list of case-insensitive rules; the first rule that
// matches wins and the rest are not tried. A field no rule matches is absent
// (empty string), which is normal output.
//
// Extract is pure and total: it never fails, keeps no state between calls
// and returns byte-identical output for identical input.
package extract

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxTitleRunes   = 120
	maxExcerptRunes = 800
	excerptLines    = 20
	defaultTitle    = "Proposal"
)

// Fields are the values inferred from an RFP. Empty means absent.
type Fields struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Client  string `json:"client_name,omitempty"`
	Project string `json:"project_name,omitempty"`
	DueDate string `json:"due_date,omitempty"`
}

// Matches records which rule produced each field: the rule's index in its
// ordered list, or -1 when no rule matched.
type Matches struct {
	Client  int `json:"client"`
	Project int `json:"project"`
	DueDate int `json:"due_date"`
}

// Result is the output of Extract.
type Result struct {
	Fields   Fields   `json:"fields"`
	Sections Sections `json:"sections"`
	Matched  Matches  `json:"matched"`
}

// Extract infers fields from text and assembles the proposal sections.
func Extract(text string) Result {
	lines := splitLines(text)

	var firstLine string
	if len(lines) > 0 {
		firstLine = truncateRunes(lines[0], maxTitleRunes)
	}

	buf := strings.Join(lines, "\n")
	client, ci := clientRules.find(buf)
	project, pi := projectRules.find(buf)
	due, di := dueDateRules.find(buf)

	f := Fields{
		Client:  client,
		Project: project,
		DueDate: due,
		Summary: summary(client, project),
	}
	switch {
	case project != "":
		f.Title = project
	case firstLine != "":
		f.Title = firstLine
	default:
		f.Title = defaultTitle
	}

	return Result{
		Fields:   f,
		Sections: buildSections(f.Summary, excerpt(lines)),
		Matched:  Matches{Client: ci, Project: pi, DueDate: di},
	}
}

// summary renders the executive summary sentence.
func summary(client, project string) string {
	var sb strings.Builder
	sb.WriteString("This proposal responds to the RFP")
	if client != "" {
		sb.WriteString(" for ")
		sb.WriteString(client)
	}
	sb.WriteString(". It outlines our understanding, approach, timeline, and pricing to deliver the ")
	if project != "" {
		sb.WriteString(project)
	} else {
		sb.WriteString("requested solution")
	}
	sb.WriteByte('.')
	return sb.String()
}

// excerpt joins the leading lines with spaces for the requirements section.
func excerpt(lines []string) string {
	if len(lines) > excerptLines {
		lines = lines[:excerptLines]
	}
	return truncateRunes(strings.Join(lines, " "), maxExcerptRunes)
}

// splitLines breaks text on every line boundary, trims each line and drops
// the blank ones. Besides \n, \r and \r\n it honours \v, \f, the ASCII
// file/group/record separators, NEL and the Unicode line and paragraph
// separators.
func splitLines(text string) []string {
	var out []string
	for _, l := range strings.FieldsFunc(text, isLineBreak) {
		if l = trimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func isLineBreak(r rune) bool {
	switch r {
	case '\n', '\r', '\v', '\f', '\x1c', '\x1d', '\x1e', '\u0085', '\u2028', '\u2029':
		return true
	}
	return false
}

// isSpace is unicode.IsSpace plus the ASCII information separators.
func isSpace(r rune) bool {
	if r >= '\x1c' && r <= '\x1f' {
		return true
	}
	return unicode.IsSpace(r)
}

func trimSpace(s string) string { return strings.TrimFunc(s, isSpace) }

// truncateRunes keeps the first n characters of s.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
