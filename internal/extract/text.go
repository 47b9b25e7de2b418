package extract

import (
	"strings"
)

func extractText(data []byte) (*Result, error) {
	text := normalizeNewlines(string(data))
	paragraphs := countParagraphs(text)
	return &Result{
		Text:           text,
		ParagraphCount: paragraphs,
		ElementCount:   paragraphs,
	}, nil
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

func countParagraphs(s string) int {
	count := 0
	for _, block := range strings.Split(s, "\n\n") {
		if strings.TrimSpace(block) != "" {
			count++
		}
	}
	return count
}
