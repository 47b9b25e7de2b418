package filestore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"testing"
)

func TestCleanKey(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"s1/d1.pdf", "s1/d1.pdf", false},
		{"/s1/d1.pdf", "s1/d1.pdf", false},
		{"s1//d1.pdf", "s1/d1.pdf", false},
		{"", "", true},
		{"..", "", true},
		{"../etc/passwd", "", true},
		{"s1/../../etc", "", true},
		{"a\\b", "", true},
	}
	for _, c := range cases {
		got, err := cleanKey(c.in)
		if c.wantErr {
			if err == nil {
				t.Fatalf("cleanKey(%q) expected error, got %q", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("cleanKey(%q) unexpected error: %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("cleanKey(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestLocalStoreRoundTrip(t *testing.T) {
	store, err := createLocalStore(map[string]interface{}{"dir": t.TempDir()})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	ctx := context.Background()
	payload := []byte("hello world")
	if err := store.Save(ctx, "s1/d1.txt", bytes.NewReader(payload), int64(len(payload))); err != nil {
		t.Fatalf("save: %v", err)
	}
	rc, err := store.Open(ctx, "s1/d1.txt")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	got, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("read back %q, want %q", got, payload)
	}

	if _, err := store.SignedURL(ctx, "s1/d1.txt", 0); !errors.Is(err, ErrNoSignedURL) {
		t.Fatalf("expected ErrNoSignedURL, got %v", err)
	}

	if err := store.Delete(ctx, "s1/d1.txt"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Open(ctx, "s1/d1.txt"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist after delete, got %v", err)
	}
	// Deleting a missing key is a no-op.
	if err := store.Delete(ctx, "s1/d1.txt"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}
