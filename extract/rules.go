package extract

import (
	"regexp"
	"strings"
)

// Character classes shared by the patterns. Whitespace is horizontal only so
// that no match crosses a line; \w is Unicode-aware.
const (
	hspace = `\t\x{1f}\p{Zs}`
	word   = `\p{L}\p{N}_`
	// wordStart stands in for \b before a word: start of text or a non-word rune.
	wordStart = `(?:^|[^` + word + `])`
	dateChars = `[A-Za-z0-9,\-/ ]`
)

// rule is one pattern of a field's ordered list. Group 1 of re is the value.
type rule struct {
	name  string
	re    *regexp.Regexp
	clean func(string) string
}

type rules []rule

// find applies the rules in order and returns the cleaned capture of the
// first one that matches, with that rule's index. A matching rule whose
// capture cleans down to nothing still ends the search. ("", -1) means no
// rule matched.
func (rs rules) find(buf string) (string, int) {
	for i, r := range rs {
		m := r.re.FindStringSubmatch(buf)
		if m == nil {
			continue
		}
		return r.clean(m[1]), i
	}
	return "", -1
}

// Names returns the rule names in evaluation order.
func (rs rules) Names() []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.name
	}
	return out
}

const labelPunct = ".:,;-"

// cleanLabel trims surrounding whitespace and label punctuation.
func cleanLabel(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return isSpace(r) || strings.ContainsRune(labelPunct, r)
	})
}

var (
	clientRules = rules{
		{
			name:  "client_label",
			re:    regexp.MustCompile(`(?i)(?:client|agency|organization|company)[:` + hspace + `]+(.{2,80})`),
			clean: cleanLabel,
		},
		{
			name:  "client_for",
			re:    regexp.MustCompile(`(?i)` + wordStart + `for[` + hspace + `]+(?:the[` + hspace + `]+)?([A-Z][` + word + `&\-` + hspace + `]{2,60})`),
			clean: cleanLabel,
		},
	}

	projectRules = rules{
		{
			name:  "project_label",
			re:    regexp.MustCompile(`(?i)(?:project|rfp title|subject)[:` + hspace + `]+(.{2,120})`),
			clean: cleanLabel,
		},
	}

	dueDateRules = rules{
		{
			name:  "due_date",
			re:    regexp.MustCompile(`(?i)due[` + hspace + `]+date[:` + hspace + `]+(` + dateChars + `{4,40})`),
			clean: trimSpace,
		},
		{
			name:  "proposals_due",
			re:    regexp.MustCompile(`(?i)proposals?[` + hspace + `]+due[:` + hspace + `]+(` + dateChars + `{4,40})`),
			clean: trimSpace,
		},
	}
)

// RuleNames lists the rule names per field, in evaluation order. Indexes in
// Matches refer to these lists.
func RuleNames() map[string][]string {
	return map[string][]string{
		"client":   clientRules.Names(),
		"project":  projectRules.Names(),
		"due_date": dueDateRules.Names(),
	}
}

// RuleName returns the name of the rule at index i of field's list, or "none".
func RuleName(field string, i int) string {
	names := RuleNames()[field]
	if i < 0 || i >= len(names) {
		return "none"
	}
	return names[i]
}
