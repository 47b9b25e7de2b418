package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docask/internal/ai"
	"github.com/xxxsen/docask/internal/model"
	"github.com/xxxsen/docask/internal/repo"
)

func WrapDBCacheToEmbedder(e ai.IEmbedder, cacheRepo *repo.EmbeddingCacheRepo) ai.IEmbedder {
	if e == nil || cacheRepo == nil {
		return e
	}
	return &dbEmbedder{next: e, repo: cacheRepo}
}

type dbEmbedder struct {
	next ai.IEmbedder
	repo *repo.EmbeddingCacheRepo
}

func (d *dbEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if d == nil || d.next == nil {
		return nil, nil
	}
	_, contentHash, modelName := buildCacheKey(d.next.ModelName(), taskType, text)
	values, ok, err := d.repo.Get(ctx, modelName, taskType, contentHash)
	if err != nil {
		return nil, err
	}
	if ok {
		logutil.GetLogger(ctx).Debug("embedding cache hit (db)", zap.String("task_type", taskType))
		return values, nil
	}
	res, err := d.next.Embed(ctx, text, taskType)
	if err != nil {
		return nil, err
	}
	d.save(ctx, modelName, taskType, contentHash, res)
	return res, nil
}

// EmbedBatch resolves what it can from the cache and sends only the
// misses upstream, keeping the result aligned with the input order.
func (d *dbEmbedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	if d == nil || d.next == nil {
		return nil, nil
	}
	if len(texts) == 0 {
		return nil, nil
	}
	modelName := cacheModelName(d.next.ModelName())
	hashes := make([]string, len(texts))
	for i, text := range texts {
		hashes[i] = contentHash(text)
	}
	cached, err := d.repo.BatchGet(ctx, modelName, taskType, hashes)
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	for i := range texts {
		if values, ok := cached[hashes[i]]; ok {
			out[i] = values
			continue
		}
		missIdx = append(missIdx, i)
	}
	if len(missIdx) == 0 {
		logutil.GetLogger(ctx).Debug("embedding batch fully cached (db)", zap.Int("size", len(texts)))
		return out, nil
	}
	missTexts := make([]string, 0, len(missIdx))
	for _, i := range missIdx {
		missTexts = append(missTexts, texts[i])
	}
	vecs, err := d.next.EmbedBatch(ctx, missTexts, taskType)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		d.save(ctx, modelName, taskType, hashes[i], vecs[j])
	}
	logutil.GetLogger(ctx).Debug("embedding batch resolved",
		zap.Int("size", len(texts)), zap.Int("misses", len(missIdx)))
	return out, nil
}

func (d *dbEmbedder) save(ctx context.Context, modelName, taskType, hash string, values []float32) {
	if len(values) == 0 {
		return
	}
	if err := d.repo.Save(ctx, &model.EmbeddingCache{
		ModelName:   modelName,
		TaskType:    taskType,
		ContentHash: hash,
		Embedding:   values,
		Ctime:       time.Now().UnixMilli(),
	}); err != nil {
		logutil.GetLogger(ctx).Warn("failed to cache embedding", zap.Error(err))
	}
}

func (d *dbEmbedder) ModelName() string {
	if d == nil || d.next == nil {
		return ""
	}
	return d.next.ModelName()
}

func buildCacheKey(modelName, taskType, text string) (string, string, string) {
	modelName = cacheModelName(modelName)
	hash := contentHash(text)
	return "embed:" + modelName + ":" + taskType + ":" + hash, hash, modelName
}

func cacheModelName(modelName string) string {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		return "unknown"
	}
	return modelName
}

func contentHash(text string) string {
	hash := sha256.Sum256([]byte(text))
	return hex.EncodeToString(hash[:])
}
