package pdf

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

// buildPDF writes a minimal PDF 1.4 file with one Helvetica text line per
// page. An empty string produces a page with no content stream text.
func buildPDF(pages ...string) []byte {
	var buf bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	obj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")
	for i, text := range pages {
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i))
		stream := ""
		if text != "" {
			stream = fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		}
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func TestReaderPageCount(t *testing.T) {
	r := NewReader()
	for _, n := range []int{1, 2, 5} {
		pages := make([]string, n)
		for i := range pages {
			pages[i] = fmt.Sprintf("Page %d", i+1)
		}
		got, err := r.PageCount(buildPDF(pages...))
		if err != nil {
			t.Fatalf("PageCount(%d pages) error = %v", n, err)
		}
		if got != n {
			t.Fatalf("PageCount() = %d, want %d", got, n)
		}
	}
}

func TestReaderPageTexts(t *testing.T) {
	data := buildPDF("Quarterly planning notes", "", "Action items follow")
	if !IsPDF(data) {
		t.Fatal("generated document lacks PDF header")
	}

	got, err := NewReader().PageTexts(data)
	if err != nil {
		t.Fatalf("PageTexts() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("PageTexts() returned %d pages, want 3", len(got))
	}
	if got[0] != "Quarterly planning notes" {
		t.Fatalf("page 1 = %q", got[0])
	}
	if got[1] != "" {
		t.Fatalf("page 2 = %q, want empty", got[1])
	}
	if got[2] != "Action items follow" {
		t.Fatalf("page 3 = %q", got[2])
	}
}

func TestReaderRejectsGarbage(t *testing.T) {
	r := NewReader()
	if _, err := r.PageCount([]byte("definitely not a pdf")); err == nil {
		t.Fatal("PageCount() on garbage should fail")
	}
	if _, err := r.PageTexts([]byte("definitely not a pdf")); err == nil {
		t.Fatal("PageTexts() on garbage should fail")
	}
}

func TestIsPDF(t *testing.T) {
	if !IsPDF([]byte("%PDF-1.7\n")) {
		t.Fatal("IsPDF() = false for PDF header")
	}
	if IsPDF([]byte("\x89PNG")) || IsPDF(nil) {
		t.Fatal("IsPDF() = true for non-PDF")
	}
}
