package docpipe

import (
	"archive/zip"
	"bytes"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

const docxNS = `xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"`

func buildDocx(t *testing.T, body string) []byte {
	t.Helper()
	return buildZip(t, map[string]string{
		"word/document.xml": `<?xml version="1.0" encoding="UTF-8"?><w:document ` + docxNS + `><w:body>` + body + `</w:body></w:document>`,
	})
}

const odtNS = `xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0" xmlns:text="urn:oasis:names:tc:opendocument:xmlns:text:1.0" xmlns:table="urn:oasis:names:tc:opendocument:xmlns:table:1.0"`

func buildODT(t *testing.T, body string) []byte {
	t.Helper()
	return buildZip(t, map[string]string{
		"content.xml": `<?xml version="1.0" encoding="UTF-8"?><office:document-content ` + odtNS + `><office:body><office:text>` + body + `</office:text></office:body></office:document-content>`,
	})
}

// stubCapability is a capability with scripted behaviour.
type stubCapability struct {
	format    Format
	available bool
	text      string
	err       error
	panics    bool
	calls     int
}

func (s *stubCapability) Format() Format  { return s.format }
func (s *stubCapability) Available() bool { return s.available }
func (s *stubCapability) Extract([]byte) (string, error) {
	s.calls++
	if s.panics {
		panic("malformed input")
	}
	return s.text, s.err
}

func TestDetect(t *testing.T) {
	pipe := New(Config{})

	tests := []struct {
		mediaType string
		filename  string
		want      []Format
	}{
		{"text/plain", "rfp.pdf", []Format{FormatText}},
		{"", "notes.TXT", []Format{FormatText}},
		{"text/markdown; charset=utf-8", "", []Format{FormatText}},
		{"application/pdf", "", []Format{FormatPDF}},
		{"Application/PDF; name=x", "", []Format{FormatPDF}},
		{"", "RFP.PDF", []Format{FormatPDF}},
		{MediaTypeDocx, "", []Format{FormatDocx}},
		{MediaTypeMSWord, "legacy.doc", []Format{FormatDocx}},
		{"", "rfp.docx", []Format{FormatDocx}},
		{"application/pdf", "rfp.docx", []Format{FormatPDF, FormatDocx}},
		{"", "rfp.odt", []Format{FormatODT}},
		{"", "page.htm", []Format{FormatHTML}},
		{MediaTypeXHTML, "", []Format{FormatHTML}},
		{"application/octet-stream", "blob.bin", nil},
		{"", "", nil},
	}

	for _, tt := range tests {
		got := pipe.Detect(tt.mediaType, tt.filename)
		if len(got) != len(tt.want) {
			t.Errorf("Detect(%q, %q) = %v, want %v", tt.mediaType, tt.filename, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Detect(%q, %q) = %v, want %v", tt.mediaType, tt.filename, got, tt.want)
				break
			}
		}
	}
}

func TestDecode_PlainText(t *testing.T) {
	pipe := New(Config{})
	res := pipe.DecodeDetailed(Input{Data: []byte("Hello RFP"), MediaType: "text/plain", Filename: "a.txt"})
	if res.Text != "Hello RFP" {
		t.Fatalf("text = %q, want %q", res.Text, "Hello RFP")
	}
	if res.Format != FormatText {
		t.Fatalf("format = %s, want text", res.Format)
	}
}

func TestDecode_TextRuleBeatsExtension(t *testing.T) {
	pdf := &stubCapability{format: FormatPDF, available: true, text: "from pdf"}
	pipe := New(Config{}, WithCapabilities(pdf))

	got := pipe.Decode(Input{Data: []byte("plain body"), MediaType: "text/plain", Filename: "rfp.pdf"})
	if got != "plain body" {
		t.Fatalf("got %q", got)
	}
	if pdf.calls != 0 {
		t.Fatal("pdf capability must not run when the text rule applies")
	}
}

func TestDecode_InvalidUTF8(t *testing.T) {
	pipe := New(Config{})
	got := pipe.Decode(Input{Data: []byte{'a', 0xff, 'b'}, MediaType: "text/plain"})
	if got != "a\uFFFDb" {
		t.Fatalf("got %q, want %q", got, "a\uFFFDb")
	}
}

func TestDecode_EmptyInput(t *testing.T) {
	pipe := New(Config{})
	for _, in := range []Input{
		{},
		{MediaType: "application/pdf"},
		{Filename: "x.docx"},
		{Filename: "x.odt"},
		{Filename: "x.html"},
	} {
		if got := pipe.Decode(in); got != "" {
			t.Errorf("Decode(%+v) = %q, want empty", in, got)
		}
	}
}

func TestDecode_NeverPanics(t *testing.T) {
	pipe := New(Config{})
	rng := rand.New(rand.NewSource(42))
	types := []string{"", "text/plain", "application/pdf", MediaTypeDocx, MediaTypeMSWord, MediaTypeODT, "image/png", ";;;"}
	names := []string{"", "a.pdf", "a.docx", "a.odt", "a.html", "a.txt", "a"}

	for i := 0; i < 200; i++ {
		data := make([]byte, rng.Intn(512))
		rng.Read(data)
		if i%3 == 0 {
			data = append([]byte("%PDF-1.4\n"), data...)
		}
		if i%5 == 0 {
			data = append([]byte("PK\x03\x04"), data...)
		}
		in := Input{Data: data, MediaType: types[i%len(types)], Filename: names[i%len(names)]}
		res := pipe.DecodeDetailed(in)
		if !utf8.ValidString(res.Text) || res.Format == "" {
			t.Fatalf("unexpected result %+v", res)
		}
	}
}

func TestDecode_PDFUnavailableFallsBack(t *testing.T) {
	pipe := New(Config{Disable: []Format{FormatPDF}})
	if pipe.Available(FormatPDF) {
		t.Fatal("pdf should be reported unavailable")
	}

	res := pipe.DecodeDetailed(Input{Data: []byte("%PDF-1.4 raw"), MediaType: "application/pdf"})
	if res.Format != FormatFallback {
		t.Fatalf("format = %s, want fallback", res.Format)
	}
	if res.Text != "%PDF-1.4 raw" {
		t.Fatalf("text = %q", res.Text)
	}
	if len(res.Tried) != 0 {
		t.Fatalf("tried = %v, want none", res.Tried)
	}
}

func TestDecode_CapabilityErrorFallsThrough(t *testing.T) {
	pdf := &stubCapability{format: FormatPDF, available: true, err: errors.New("broken xref")}
	docx := &stubCapability{format: FormatDocx, available: true, text: "docx text"}
	pipe := New(Config{}, WithCapabilities(pdf, docx))

	res := pipe.DecodeDetailed(Input{Data: []byte("x"), MediaType: "application/pdf", Filename: "rfp.docx"})
	if res.Text != "docx text" || res.Format != FormatDocx {
		t.Fatalf("got %+v", res)
	}
	if len(res.Tried) != 1 || res.Tried[0] != FormatPDF {
		t.Fatalf("tried = %v, want [pdf]", res.Tried)
	}
}

func TestDecode_CapabilityPanicRecovered(t *testing.T) {
	pdf := &stubCapability{format: FormatPDF, available: true, panics: true}
	pipe := New(Config{}, WithCapabilities(pdf))

	res := pipe.DecodeDetailed(Input{Data: []byte("raw bytes"), Filename: "x.pdf"})
	if res.Format != FormatFallback || res.Text != "raw bytes" {
		t.Fatalf("got %+v", res)
	}
}

func TestDecode_CapabilityEmptyTextIsSuccess(t *testing.T) {
	docx := &stubCapability{format: FormatDocx, available: true, text: ""}
	pipe := New(Config{}, WithCapabilities(docx))

	res := pipe.DecodeDetailed(Input{Data: []byte("zip bytes"), Filename: "x.docx"})
	if res.Format != FormatDocx || res.Text != "" {
		t.Fatalf("got %+v", res)
	}
}

func TestDecode_OversizeSkipsParsers(t *testing.T) {
	pdf := &stubCapability{format: FormatPDF, available: true, text: "parsed"}
	pipe := New(Config{MaxInputSize: 4}, WithCapabilities(pdf))

	res := pipe.DecodeDetailed(Input{Data: []byte("0123456789"), Filename: "x.pdf"})
	if res.Format != FormatFallback || pdf.calls != 0 {
		t.Fatalf("got %+v, calls=%d", res, pdf.calls)
	}
}

func TestDecode_UnknownTypeFallback(t *testing.T) {
	pipe := New(Config{})
	res := pipe.DecodeDetailed(Input{Data: []byte("Client: Acme"), MediaType: "application/octet-stream"})
	if res.Format != FormatFallback || res.Text != "Client: Acme" {
		t.Fatalf("got %+v", res)
	}
	if !res.Fallback() {
		t.Fatal("Fallback() = false")
	}
}

func TestDecode_BinaryQuality(t *testing.T) {
	pipe := New(Config{})
	data := bytes.Repeat([]byte{0x00, 0x01, 0xfe, 0xff}, 64)
	res := pipe.DecodeDetailed(Input{Data: data, MediaType: "image/png"})
	if !res.Quality.LooksBinary() {
		t.Fatalf("binary upload not flagged: %+v", res.Quality)
	}
}

func TestCapabilities(t *testing.T) {
	pipe := New(Config{Disable: []Format{FormatDocx}})
	caps := pipe.Capabilities()
	if !caps[FormatPDF] || caps[FormatDocx] || !caps[FormatODT] || !caps[FormatHTML] {
		t.Fatalf("capabilities = %v", caps)
	}
	if !pipe.Available(FormatText) || !pipe.Available(FormatFallback) {
		t.Fatal("text paths must always be available")
	}
}

func TestDefaultCapabilities_PlainEngine(t *testing.T) {
	caps := DefaultCapabilities(Config{PDFEngine: PDFEnginePlain})
	if _, ok := caps[0].(PlainPDF); !ok {
		t.Fatalf("pdf capability = %T, want PlainPDF", caps[0])
	}
}

func TestSupportedFormats(t *testing.T) {
	formats := SupportedFormats()
	if len(formats) != 6 {
		t.Fatalf("expected 6 formats, got %d", len(formats))
	}
}

func TestExtractDocx(t *testing.T) {
	data := buildDocx(t, `
<w:p><w:pPr><w:pStyle w:val="Title"/><w:tabs><w:tab w:val="left" w:pos="720"/></w:tabs></w:pPr><w:r><w:t>Request for Proposal</w:t></w:r></w:p>
<w:p/>
<w:p><w:r><w:t>Client:</w:t></w:r><w:r><w:tab/><w:t xml:space="preserve">Acme </w:t></w:r><w:r><w:t>Corp</w:t></w:r></w:p>
<w:tbl><w:tr><w:tc><w:p><w:r><w:t>cell text</w:t></w:r></w:p></w:tc></w:tr></w:tbl>
<w:p><w:r><w:t>Line one</w:t><w:br/><w:t>Line two</w:t></w:r></w:p>`)

	pipe := New(Config{})
	res := pipe.DecodeDetailed(Input{Data: data, MediaType: MediaTypeDocx})
	if res.Format != FormatDocx {
		t.Fatalf("format = %s (tried %v)", res.Format, res.Tried)
	}
	want := "Request for Proposal\n\nClient:\tAcme Corp\nLine one\nLine two"
	if res.Text != want {
		t.Fatalf("text = %q, want %q", res.Text, want)
	}
}

func TestExtractDocx_LegacyDocFallsBack(t *testing.T) {
	pipe := New(Config{})
	data := []byte("\xd0\xcf\x11\xe0legacy binary Client: Acme")
	res := pipe.DecodeDetailed(Input{Data: data, MediaType: MediaTypeMSWord, Filename: "old.doc"})
	if res.Format != FormatFallback {
		t.Fatalf("format = %s, want fallback", res.Format)
	}
	if !strings.Contains(res.Text, "Client: Acme") {
		t.Fatalf("text = %q", res.Text)
	}
	if len(res.Tried) != 1 || res.Tried[0] != FormatDocx {
		t.Fatalf("tried = %v", res.Tried)
	}
}

func TestExtractDocx_MissingDocument(t *testing.T) {
	data := buildZip(t, map[string]string{"other.xml": "<a/>"})
	if _, err := (Docx{}).Extract(data); err == nil {
		t.Fatal("expected error for archive without word/document.xml")
	}
}

func TestExtractDocx_TruncatedXMLKeepsParagraphs(t *testing.T) {
	data := buildZip(t, map[string]string{
		"word/document.xml": `<w:document ` + docxNS + `><w:body><w:p><w:r><w:t>kept</w:t></w:r></w:p><w:p><w:r><w:t>lost`,
	})
	got, err := (Docx{}).Extract(data)
	if err != nil {
		t.Fatal(err)
	}
	if got != "kept" {
		t.Fatalf("got %q, want %q", got, "kept")
	}
}

func TestExtractODT(t *testing.T) {
	data := buildODT(t, `
<text:h text:outline-level="1">Request for Proposal</text:h>
<text:p>Agency: City<text:s text:c="2"/>Works</text:p>
<text:list><text:list-item><text:p>Due date: March 3, 2025</text:p></text:list-item></text:list>
<table:table><table:table-row><table:table-cell><text:p>cell</text:p></table:table-cell></table:table-row></table:table>
<text:p>A<text:tab/>B<text:line-break/>C</text:p>`)

	pipe := New(Config{})
	res := pipe.DecodeDetailed(Input{Data: data, Filename: "rfp.odt"})
	if res.Format != FormatODT {
		t.Fatalf("format = %s (tried %v)", res.Format, res.Tried)
	}
	want := "Request for Proposal\nAgency: City  Works\nDue date: March 3, 2025\nA\tB\nC"
	if res.Text != want {
		t.Fatalf("text = %q, want %q", res.Text, want)
	}
}

func TestExtractHTML(t *testing.T) {
	doc := `<!DOCTYPE html><html><head><title>City RFP</title><style>p{}</style></head><body>
<nav><ul><li>Home</li></ul></nav>
<h1>Request for Proposal</h1>
<p>Client: Riverside  County</p>
<script>var x = "secret";</script>
<p>Due date: June 1, 2025</p>
</body></html>`

	pipe := New(Config{})
	res := pipe.DecodeDetailed(Input{Data: []byte(doc), Filename: "rfp.html"})
	if res.Format != FormatHTML {
		t.Fatalf("format = %s", res.Format)
	}
	lines := strings.Split(res.Text, "\n")
	if lines[0] != "City RFP" {
		t.Fatalf("first line = %q", lines[0])
	}
	if !strings.Contains(res.Text, "Client: Riverside County") {
		t.Fatalf("text = %q", res.Text)
	}
	if strings.Contains(res.Text, "secret") {
		t.Fatal("script content leaked")
	}
}

func TestHTML_HiddenContentExcluded(t *testing.T) {
	tests := []struct {
		name  string
		style string
	}{
		{"display none", "display:none"},
		{"visibility hidden", "visibility: hidden"},
		{"font-size zero", "font-size:0"},
		{"opacity zero", "opacity:0"},
		{"offscreen", "position:absolute; left:-99999px"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := `<html><body><p>Real content</p><p style="` + tt.style + `">ghost text</p></body></html>`
			got, err := (HTML{}).Extract([]byte(doc))
			if err != nil {
				t.Fatal(err)
			}
			if strings.Contains(got, "ghost text") {
				t.Errorf("%s text should be excluded: %q", tt.style, got)
			}
			if !strings.Contains(got, "Real content") {
				t.Errorf("visible text dropped: %q", got)
			}
		})
	}
}

func TestHTML_VisibleStyledTextKept(t *testing.T) {
	doc := `<html><body><p style="color:red; opacity:0.9">Styled but visible</p></body></html>`
	got, err := (HTML{}).Extract([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if got != "Styled but visible" {
		t.Fatalf("got %q", got)
	}
}

func TestDOCX_XMLBomb(t *testing.T) {
	var body strings.Builder
	for i := 0; i < 300; i++ {
		body.WriteString("<w:p>")
	}
	body.WriteString("<w:r><w:t>deep</w:t></w:r>")
	for i := 0; i < 300; i++ {
		body.WriteString("</w:p>")
	}
	data := buildDocx(t, body.String())

	_, err := (Docx{}).Extract(data)
	if err == nil {
		t.Fatal("expected error for deeply nested XML")
	}
	if !strings.Contains(err.Error(), "nesting depth") {
		t.Errorf("expected 'nesting depth' error, got: %v", err)
	}

	res := New(Config{}).DecodeDetailed(Input{Data: data, Filename: "bomb.docx"})
	if res.Format != FormatFallback {
		t.Fatalf("format = %s, want fallback", res.Format)
	}
}

func TestODT_XMLBomb(t *testing.T) {
	var body strings.Builder
	for i := 0; i < 300; i++ {
		body.WriteString("<text:p>")
	}
	body.WriteString("deep text")
	for i := 0; i < 300; i++ {
		body.WriteString("</text:p>")
	}

	_, err := (ODT{}).Extract(buildODT(t, body.String()))
	if err == nil {
		t.Fatal("expected error for deeply nested XML")
	}
	if !strings.Contains(err.Error(), "nesting depth") {
		t.Errorf("expected 'nesting depth' error, got: %v", err)
	}
}

func TestNormalizeMediaType(t *testing.T) {
	tests := map[string]string{
		"":                           "",
		"application/PDF":            "application/pdf",
		" text/plain; charset=utf-8": "text/plain",
		"application/pdf;;":          "application/pdf",
	}
	for in, want := range tests {
		if got := normalizeMediaType(in); got != want {
			t.Errorf("normalizeMediaType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDecodeUTF8_BOM(t *testing.T) {
	if got := DecodeUTF8([]byte("\xef\xbb\xbfHello")); got != "Hello" {
		t.Fatalf("got %q", got)
	}
}
