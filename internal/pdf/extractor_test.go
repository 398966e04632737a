package pdfutil

import (
	"bytes"
	"fmt"
	"testing"
)

// buildPDF writes a minimal document with n blank pages and a valid xref
// table.
func buildPDF(n int) []byte {
	var buf bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}
	buf.WriteString("%PDF-1.4\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	kids := ""
	for i := range n {
		kids += fmt.Sprintf("%d 0 R ", i+3)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, n))
	for range n {
		obj("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func TestCountPages(t *testing.T) {
	pages, err := CountPages(buildPDF(3))
	if err != nil {
		t.Fatalf("CountPages: %v", err)
	}
	if pages != 3 {
		t.Fatalf("pages = %d, want 3", pages)
	}
}

func TestCountPagesRejectsGarbage(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("not a pdf at all"), []byte("%PDF-1.4\ntruncated")} {
		if _, err := CountPages(data); err == nil {
			t.Fatalf("expected error for %q", data)
		}
	}
}
