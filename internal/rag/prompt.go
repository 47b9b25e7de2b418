package rag

import (
	"fmt"
	"strings"

	"github.com/xxxsen/docask/internal/ai"
	"github.com/xxxsen/docask/internal/model"
)

const answerInstruction = `You are a question answering assistant for a private document collection.
Answer the question using ONLY the context passages below.
- If the context does not contain the answer, say that you do not know.
- Cite every passage you rely on with its bracketed number, like [1] or [2].
- Use the same language as the question.
- Do not invent sources or information.`

// BuildMessages assembles the full prompt: instruction plus numbered
// context passages, then prior turns oldest first, then the question.
// Passage numbering matches the order of matches, so citation ordinals
// stored later line up with the bracket references in the answer.
func BuildMessages(question string, history []model.Message, matches []model.ChunkMatch) []ai.Message {
	var sb strings.Builder
	sb.WriteString(answerInstruction)
	sb.WriteString("\n\nContext:\n")
	for i, match := range matches {
		fmt.Fprintf(&sb, "\n[%d] %s\n%s\n", i+1, match.DocumentTitle, match.Chunk.Content)
	}
	msgs := make([]ai.Message, 0, len(history)+2)
	msgs = append(msgs, ai.Message{Role: ai.RoleSystem, Content: sb.String()})
	for _, msg := range history {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		role := ai.RoleUser
		if msg.Role == model.MessageRoleAnswer {
			role = ai.RoleAssistant
		}
		msgs = append(msgs, ai.Message{Role: role, Content: msg.Content})
	}
	msgs = append(msgs, ai.Message{Role: ai.RoleUser, Content: question})
	return msgs
}
