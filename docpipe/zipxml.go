// CLAUDE:SUMMARY Shared helpers for zipped XML documents (docx, odt): bounded entry reads and a depth-limited token walk.
package docpipe

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
)

const (
	maxXMLDepth = 256
	// maxXMLEntry caps the decompressed size of a single archive entry.
	maxXMLEntry = 64 << 20
)

// errNestingDepth is returned when an XML document nests deeper than maxXMLDepth.
var errNestingDepth = fmt.Errorf("xml nesting depth exceeds %d", maxXMLDepth)

// readZipEntry returns the decompressed content of the named entry.
func readZipEntry(data []byte, name string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		b, err := io.ReadAll(io.LimitReader(rc, maxXMLEntry+1))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if len(b) > maxXMLEntry {
			return nil, fmt.Errorf("%s exceeds %d bytes", name, maxXMLEntry)
		}
		return b, nil
	}
	return nil, fmt.Errorf("%s not found in archive", name)
}

// xmlVisitor receives every token with the local names of its open ancestors.
// For a StartElement the element itself is the last entry of path.
type xmlVisitor func(tok xml.Token, path []string)

// walkXML streams the document through visit. It stops with errNestingDepth
// when the element stack grows past maxXMLDepth.
func walkXML(data []byte, visit xmlVisitor) error {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	var path []string
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if len(path) >= maxXMLDepth {
				return errNestingDepth
			}
			path = append(path, t.Name.Local)
			visit(t, path)
		case xml.EndElement:
			visit(t, path)
			if len(path) > 0 {
				path = path[:len(path)-1]
			}
		default:
			visit(t, path)
		}
	}
}

// within reports whether any ancestor in path has the local name.
func within(path []string, name string) bool {
	for _, p := range path {
		if p == name {
			return true
		}
	}
	return false
}

// paragraphs collects the output of a paragraph-oriented walk and decides
// what to return when the XML turns out to be malformed.
func paragraphs(out []string, err error) ([]string, error) {
	if errors.Is(err, errNestingDepth) {
		return nil, err
	}
	if err != nil && len(out) == 0 {
		return nil, fmt.Errorf("parse xml: %w", err)
	}
	return out, nil
}
