// CLAUDE:SUMMARY Extracts paragraph and heading text from .odt (OpenDocument) files by parsing content.xml from the ZIP archive.
package docpipe

import (
	"encoding/xml"
	"strconv"
	"strings"
)

// ODT extracts text from OpenDocument text files.
type ODT struct{}

func (ODT) Format() Format  { return FormatODT }
func (ODT) Available() bool { return true }

// Extract returns each top-level text:p and text:h outside tables, joined
// by "\n". List items count as top-level paragraphs.
func (ODT) Extract(data []byte) (string, error) {
	content, err := readZipEntry(data, "content.xml")
	if err != nil {
		return "", err
	}
	paras, err := paragraphs(odtParagraphs(content))
	if err != nil {
		return "", err
	}
	return strings.Join(paras, "\n"), nil
}

func odtParagraphs(content []byte) ([]string, error) {
	var (
		out   []string
		cur   strings.Builder
		depth int // path length of the open paragraph, 0 when none
	)
	isPara := func(name string) bool { return name == "p" || name == "h" }

	err := walkXML(content, func(tok xml.Token, path []string) {
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				if isPara(t.Name.Local) && within(path, "text") && !within(path, "table") {
					depth = len(path)
					cur.Reset()
				}
				return
			}
			switch t.Name.Local {
			case "tab":
				cur.WriteByte('\t')
			case "line-break":
				cur.WriteByte('\n')
			case "s":
				n := 1
				for _, a := range t.Attr {
					if a.Name.Local == "c" {
						if v, err := strconv.Atoi(a.Value); err == nil && v > 0 && v < 1024 {
							n = v
						}
					}
				}
				cur.WriteString(strings.Repeat(" ", n))
			}
		case xml.CharData:
			if depth > 0 && !within(path[depth:], "note") {
				cur.Write(t)
			}
		case xml.EndElement:
			if depth > 0 && len(path) == depth {
				depth = 0
				out = append(out, cur.String())
			}
		}
	})
	return out, err
}
