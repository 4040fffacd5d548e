package docpipe

import (
	"encoding/xml"
	"strings"
)

// Docx extracts paragraph text from OOXML word-processing documents.
// Legacy binary .doc uploads declared as application/msword are not zip
// archives, so they fail here and fall through to the text path.
type Docx struct{}

func (Docx) Format() Format  { return FormatDocx }
func (Docx) Available() bool { return true }

// Extract returns every body-level paragraph of word/document.xml, empty
// ones included, joined by "\n". Tables are skipped.
func (Docx) Extract(data []byte) (string, error) {
	doc, err := readZipEntry(data, "word/document.xml")
	if err != nil {
		return "", err
	}
	paras, err := paragraphs(docxParagraphs(doc))
	if err != nil {
		return "", err
	}
	return strings.Join(paras, "\n"), nil
}

func docxParagraphs(doc []byte) ([]string, error) {
	var (
		out  []string
		cur  strings.Builder
		inP  bool
		isBP = func(path []string) bool {
			n := len(path)
			return n >= 2 && path[n-1] == "p" && path[n-2] == "body"
		}
	)

	err := walkXML(doc, func(tok xml.Token, path []string) {
		switch t := tok.(type) {
		case xml.StartElement:
			if isBP(path) {
				inP = true
				cur.Reset()
				return
			}
			if !inP || within(path, "pPr") || within(path, "rPr") {
				return
			}
			switch t.Name.Local {
			case "tab":
				cur.WriteByte('\t')
			case "br", "cr":
				cur.WriteByte('\n')
			}
		case xml.CharData:
			if inP && len(path) > 0 && path[len(path)-1] == "t" {
				cur.Write(t)
			}
		case xml.EndElement:
			if inP && isBP(path) {
				inP = false
				out = append(out, cur.String())
			}
		}
	})
	return out, err
}
