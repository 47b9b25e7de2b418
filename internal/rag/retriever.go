package rag

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docask/internal/ai"
	"github.com/xxxsen/docask/internal/model"
)

type ChunkSearcher interface {
	TopSimilar(ctx context.Context, spaceID string, query []float32, limit int) ([]model.ChunkMatch, error)
}

type Retriever struct {
	embedder  ai.IEmbedder
	searcher  ChunkSearcher
	topK      int
	threshold float64
}

func NewRetriever(embedder ai.IEmbedder, searcher ChunkSearcher, topK int, threshold float64) *Retriever {
	if topK <= 0 {
		topK = 5
	}
	return &Retriever{
		embedder:  embedder,
		searcher:  searcher,
		topK:      topK,
		threshold: threshold,
	}
}

// Retrieve embeds the question and returns the chunks at or above the
// similarity threshold, best match first. Failures come back as an
// empty result: for callers, missing context is a normal answer-path
// outcome, not a system fault.
func (r *Retriever) Retrieve(ctx context.Context, spaceID string, query string) []model.ChunkMatch {
	logger := logutil.GetLogger(ctx).With(zap.String("space_id", spaceID))
	vec, err := r.embedder.Embed(ctx, query, ai.TaskTypeQuery)
	if err != nil {
		logger.Warn("query embedding failed", zap.Error(err))
		return nil
	}
	matches, err := r.searcher.TopSimilar(ctx, spaceID, vec, r.topK)
	if err != nil {
		logger.Warn("vector search failed", zap.Error(err))
		return nil
	}
	out := make([]model.ChunkMatch, 0, len(matches))
	for _, match := range matches {
		if match.Similarity < r.threshold {
			continue
		}
		out = append(out, match)
	}
	logger.Debug("chunks retrieved", zap.Int("candidates", len(matches)), zap.Int("kept", len(out)))
	return out
}
