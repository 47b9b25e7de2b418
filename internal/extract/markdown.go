package extract

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// extractMarkdown strips formatting by walking the AST: headings,
// paragraphs, list items and code blocks survive as plain text blocks,
// markup does not. Chunk offsets later refer to this stripped text.
func extractMarkdown(data []byte) (*Result, error) {
	source := []byte(normalizeNewlines(string(data)))
	md := goldmark.New()
	reader := text.NewReader(source)
	doc := md.Parser().Parse(reader)

	blocks := make([]string, 0, 16)
	elements := 0
	paragraphs := 0
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		elements++
		switch n := node.(type) {
		case *ast.Paragraph:
			paragraphs++
			if txt := blockText(n, source); txt != "" {
				blocks = append(blocks, txt)
			}
		case *ast.FencedCodeBlock:
			if code := codeLines(n, source); code != "" {
				blocks = append(blocks, code)
			}
		case *ast.CodeBlock:
			if code := codeLines(n, source); code != "" {
				blocks = append(blocks, code)
			}
		case *ast.List:
			items := make([]string, 0, 4)
			for item := node.FirstChild(); item != nil; item = item.NextSibling() {
				elements++
				if txt := blockText(item, source); txt != "" {
					items = append(items, "- "+txt)
				}
			}
			if len(items) > 0 {
				blocks = append(blocks, strings.Join(items, "\n"))
			}
		case *ast.ThematicBreak:
			// Pure formatting, nothing to keep.
		default:
			if txt := blockText(node, source); txt != "" {
				blocks = append(blocks, txt)
			}
		}
	}
	return &Result{
		Text:           strings.Join(blocks, "\n\n"),
		ParagraphCount: paragraphs,
		ElementCount:   elements,
	}, nil
}

func blockText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if node.Kind() == ast.KindText {
			sb.Write(node.(*ast.Text).Segment.Value(source))
			if node.(*ast.Text).SoftLineBreak() || node.(*ast.Text).HardLineBreak() {
				sb.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}

func codeLines(n ast.Node, source []byte) string {
	var sb strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		sb.Write(line.Value(source))
	}
	return strings.TrimRight(sb.String(), "\n")
}
