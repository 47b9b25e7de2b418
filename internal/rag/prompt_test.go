package rag

import (
	"strings"
	"testing"

	"github.com/xxxsen/docask/internal/ai"
	"github.com/xxxsen/docask/internal/model"
)

func TestBuildMessagesNumbersContext(t *testing.T) {
	matches := []model.ChunkMatch{
		{Chunk: model.Chunk{Content: "Alpha is first."}, DocumentTitle: "Basics", Similarity: 0.9},
		{Chunk: model.Chunk{Content: "Beta is second."}, DocumentTitle: "Advanced", Similarity: 0.8},
	}
	msgs := BuildMessages("what comes first?", nil, matches)

	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want system plus question", len(msgs))
	}
	sys := msgs[0]
	if sys.Role != ai.RoleSystem {
		t.Fatalf("first message role %q", sys.Role)
	}
	first := strings.Index(sys.Content, "[1] Basics\nAlpha is first.")
	second := strings.Index(sys.Content, "[2] Advanced\nBeta is second.")
	if first < 0 || second < 0 {
		t.Fatalf("passages missing or misnumbered:\n%s", sys.Content)
	}
	if first > second {
		t.Fatal("passages out of order")
	}
	last := msgs[len(msgs)-1]
	if last.Role != ai.RoleUser || last.Content != "what comes first?" {
		t.Fatalf("question not last: %+v", last)
	}
}

func TestBuildMessagesHistoryRoles(t *testing.T) {
	history := []model.Message{
		{Role: model.MessageRoleQuestion, Content: "first question"},
		{Role: model.MessageRoleAnswer, Content: "first answer [1]"},
		{Role: model.MessageRoleAnswer, Content: "   "},
		{Role: model.MessageRoleQuestion, Content: "second question"},
	}
	msgs := BuildMessages("third question", history, nil)

	wantRoles := []string{ai.RoleSystem, ai.RoleUser, ai.RoleAssistant, ai.RoleUser, ai.RoleUser}
	if len(msgs) != len(wantRoles) {
		t.Fatalf("got %d messages, want %d (blank turn dropped)", len(msgs), len(wantRoles))
	}
	for i, want := range wantRoles {
		if msgs[i].Role != want {
			t.Errorf("message %d role %q, want %q", i, msgs[i].Role, want)
		}
	}
	if msgs[1].Content != "first question" || msgs[2].Content != "first answer [1]" {
		t.Fatal("history not in oldest-first order")
	}
	if msgs[len(msgs)-1].Content != "third question" {
		t.Fatal("current question not last")
	}
}

func TestBuildMessagesEmptyContext(t *testing.T) {
	msgs := BuildMessages("anything", nil, nil)
	sys := msgs[0].Content
	if !strings.HasSuffix(sys, "Context:\n") {
		t.Fatalf("system message should end with an empty context block:\n%s", sys)
	}
}
