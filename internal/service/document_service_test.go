package service

import "testing"

func TestDocumentTitle(t *testing.T) {
	cases := []struct {
		title    string
		filename string
		want     string
	}{
		{"My Notes", "notes.md", "My Notes"},
		{"  ", "notes.md", "notes.md"},
		{"", "", defaultTitle},
		{"", "  report.pdf  ", "report.pdf"},
	}
	for _, c := range cases {
		if got := documentTitle(c.title, c.filename); got != c.want {
			t.Fatalf("documentTitle(%q, %q) = %q, want %q", c.title, c.filename, got, c.want)
		}
	}
}

func TestDocumentMimeType(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"text/plain; charset=utf-8", "text/plain"},
		{"TEXT/MarkDown", "text/markdown"},
		{"application/pdf", "application/pdf"},
		{"", "application/octet-stream"},
		{"  ", "application/octet-stream"},
	}
	for _, c := range cases {
		if got := documentMimeType(c.in); got != c.want {
			t.Fatalf("documentMimeType(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestBlobKey(t *testing.T) {
	if got := blobKey("s1", "d1", "Report.PDF"); got != "s1/d1.pdf" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := blobKey("s1", "d1", "noext"); got != "s1/d1" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestContentHash(t *testing.T) {
	got := contentHash([]byte("hello"))
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got != want {
		t.Fatalf("contentHash(hello) = %q, want %q", got, want)
	}
	if contentHash([]byte("hello")) != got {
		t.Fatalf("hash is not stable")
	}
	if contentHash([]byte("world")) == got {
		t.Fatalf("different inputs must not collide")
	}
}
