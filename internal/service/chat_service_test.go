package service

import (
	"strings"
	"testing"

	"github.com/xxxsen/docask/internal/model"
)

func TestTruncateRunes(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 4, "hell"},
		{"", 3, ""},
		{"héllo", 2, "hé"},
		{"你好世界", 2, "你好"},
		{"abc", 0, ""},
	}
	for _, c := range cases {
		if got := truncateRunes(c.in, c.max); got != c.want {
			t.Fatalf("truncateRunes(%q, %d) = %q, want %q", c.in, c.max, got, c.want)
		}
	}
}

func TestBuildCitations(t *testing.T) {
	long := strings.Repeat("x", excerptMaxRunes+50)
	matches := []model.ChunkMatch{
		{Chunk: model.Chunk{ID: "c1", Content: "first"}, Similarity: 0.9},
		{Chunk: model.Chunk{ID: "c2", Content: long}, Similarity: 0.8},
	}
	rows := buildCitations("m1", matches)
	if len(rows) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(rows))
	}
	for i, row := range rows {
		if row.Ordinal != i+1 {
			t.Fatalf("citation %d has ordinal %d", i, row.Ordinal)
		}
		if row.MessageID != "m1" {
			t.Fatalf("citation %d has message id %q", i, row.MessageID)
		}
		if row.ID == "" {
			t.Fatalf("citation %d has no id", i)
		}
	}
	if rows[0].ChunkID != "c1" || rows[1].ChunkID != "c2" {
		t.Fatalf("chunk ids out of order: %q, %q", rows[0].ChunkID, rows[1].ChunkID)
	}
	if rows[0].Score != 0.9 {
		t.Fatalf("unexpected score %v", rows[0].Score)
	}
	if rows[0].Excerpt != "first" {
		t.Fatalf("short content should be kept whole, got %q", rows[0].Excerpt)
	}
	if len([]rune(rows[1].Excerpt)) != excerptMaxRunes {
		t.Fatalf("long excerpt not truncated to %d runes, got %d", excerptMaxRunes, len([]rune(rows[1].Excerpt)))
	}
}
