package extract

import (
	"context"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// extractWord has no local validator; structural checks are the parser's
// job, and its 4xx answers come back as permanent rejections.
func (e *Extractor) extractWord(ctx context.Context, filename string, data []byte) (*Result, error) {
	return e.parseRemote(ctx, kindWord, filename, data)
}

func (e *Extractor) parseRemote(ctx context.Context, kind string, filename string, data []byte) (*Result, error) {
	if e.parser == nil {
		return nil, fmt.Errorf("%w: %s, no parser endpoint configured", ErrUnsupported, kind)
	}
	logutil.GetLogger(ctx).Info("sending document to parser",
		zap.String("kind", kind),
		zap.String("filename", filename),
		zap.Int("size", len(data)))
	parsed, err := e.parser.Parse(ctx, filename, data)
	if err != nil {
		return nil, err
	}
	text := normalizeNewlines(parsed.Text)
	return &Result{
		Text:           text,
		ParagraphCount: countParagraphs(text),
		ElementCount:   parsed.ElementCount,
	}, nil
}
