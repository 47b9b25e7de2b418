package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

var (
	ErrUnsupported = errors.New("unsupported content type")
	ErrRejected    = errors.New("document rejected by parser")
	ErrEmpty       = errors.New("document has no extractable text")
)

// Result carries the extracted text plus the structural counters that
// end up in document metadata.
type Result struct {
	Text           string
	PageCount      int
	ParagraphCount int
	ElementCount   int
}

type Extractor struct {
	parser *ParserClient
}

func New(parser *ParserClient) *Extractor {
	return &Extractor{parser: parser}
}

func (e *Extractor) Extract(ctx context.Context, contentType string, filename string, data []byte) (*Result, error) {
	kind := resolveKind(contentType, filename)
	logutil.GetLogger(ctx).Debug("extracting document",
		zap.String("kind", kind),
		zap.String("content_type", contentType),
		zap.Int("size", len(data)))

	var res *Result
	var err error
	switch kind {
	case kindText:
		res, err = extractText(data)
	case kindMarkdown:
		res, err = extractMarkdown(data)
	case kindPDF:
		res, err = e.extractPDF(ctx, filename, data)
	case kindWord:
		res, err = e.extractWord(ctx, filename, data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, contentType)
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(res.Text) == "" {
		return nil, ErrEmpty
	}
	return res, nil
}

const (
	kindText     = "text"
	kindMarkdown = "markdown"
	kindPDF      = "pdf"
	kindWord     = "word"
	kindUnknown  = "unknown"
)

func resolveKind(contentType string, filename string) string {
	mime := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	ext := strings.ToLower(filepath.Ext(filename))
	switch mime {
	case "text/markdown", "text/x-markdown":
		return kindMarkdown
	case "application/pdf", "application/x-pdf":
		return kindPDF
	case "application/msword", "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return kindWord
	case "application/zip", "application/octet-stream":
		// DOCX is a zip container; content sniffing reports it as one.
		switch ext {
		case ".doc", ".docx":
			return kindWord
		}
		return kindUnknown
	case "text/plain":
		if ext == ".md" || ext == ".markdown" {
			return kindMarkdown
		}
		return kindText
	case "":
		switch ext {
		case ".md", ".markdown":
			return kindMarkdown
		case ".pdf":
			return kindPDF
		case ".doc", ".docx":
			return kindWord
		case ".txt", "":
			return kindText
		}
		return kindUnknown
	}
	if strings.HasPrefix(mime, "text/") {
		return kindText
	}
	return kindUnknown
}
