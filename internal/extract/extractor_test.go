package extract

import (
	"context"
	"errors"
	"testing"
)

func TestResolveKind(t *testing.T) {
	tests := []struct {
		contentType string
		filename    string
		want        string
	}{
		{"text/plain", "notes.txt", kindText},
		{"text/plain; charset=utf-8", "notes.txt", kindText},
		{"text/plain", "readme.md", kindMarkdown},
		{"text/plain", "guide.markdown", kindMarkdown},
		{"text/markdown", "anything.bin", kindMarkdown},
		{"text/x-markdown", "", kindMarkdown},
		{"application/pdf", "paper.pdf", kindPDF},
		{"application/x-pdf", "paper", kindPDF},
		{"APPLICATION/PDF", "paper", kindPDF},
		{"application/msword", "old.doc", kindWord},
		{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", "report.docx", kindWord},
		{"application/zip", "report.docx", kindWord},
		{"application/octet-stream", "report.doc", kindWord},
		{"application/zip", "bundle.zip", kindUnknown},
		{"application/octet-stream", "blob", kindUnknown},
		{"text/html", "page.html", kindText},
		{"", "notes.md", kindMarkdown},
		{"", "paper.pdf", kindPDF},
		{"", "report.docx", kindWord},
		{"", "notes.txt", kindText},
		{"", "", kindText},
		{"", "image.png", kindUnknown},
	}
	for _, tt := range tests {
		if got := resolveKind(tt.contentType, tt.filename); got != tt.want {
			t.Errorf("resolveKind(%q, %q) = %q, want %q", tt.contentType, tt.filename, got, tt.want)
		}
	}
}

func TestExtractPlainText(t *testing.T) {
	e := New(nil)
	data := []byte("First paragraph.\r\n\r\nSecond paragraph.\r\n")

	res, err := e.Extract(context.Background(), "text/plain", "notes.txt", data)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Text != "First paragraph.\n\nSecond paragraph.\n" {
		t.Fatalf("newlines not normalized: %q", res.Text)
	}
	if res.ParagraphCount != 2 {
		t.Fatalf("paragraph count %d, want 2", res.ParagraphCount)
	}
	if res.ElementCount != 2 {
		t.Fatalf("element count %d, want 2", res.ElementCount)
	}
	if res.PageCount != 0 {
		t.Fatalf("page count %d for plain text", res.PageCount)
	}
}

func TestExtractUnsupported(t *testing.T) {
	e := New(nil)
	_, err := e.Extract(context.Background(), "application/zip", "bundle.zip", []byte{0x50, 0x4b})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
}

func TestExtractEmpty(t *testing.T) {
	e := New(nil)
	for _, data := range []string{"", "   ", "\n\n\t\n"} {
		_, err := e.Extract(context.Background(), "text/plain", "blank.txt", []byte(data))
		if !errors.Is(err, ErrEmpty) {
			t.Fatalf("input %q: expected empty error, got %v", data, err)
		}
	}
}

func TestExtractInvalidPDFRejected(t *testing.T) {
	e := New(nil)
	_, err := e.Extract(context.Background(), "application/pdf", "broken.pdf", []byte("not a pdf at all"))
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected rejected, got %v", err)
	}
}

func TestCountParagraphs(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"one block", 1},
		{"a\n\nb\n\nc", 3},
		{"a\n\n   \n\nb", 2},
		{"\n\n\n\n", 0},
	}
	for _, tt := range tests {
		if got := countParagraphs(tt.in); got != tt.want {
			t.Errorf("countParagraphs(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
