package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xxxsen/docask/internal/ai"
	"github.com/xxxsen/docask/internal/chunker"
	"github.com/xxxsen/docask/internal/extract"
	"github.com/xxxsen/docask/internal/model"
	appErr "github.com/xxxsen/docask/internal/pkg/errors"
	"github.com/xxxsen/docask/internal/task"
)

const (
	TaskExtract = "document.extract"
	TaskChunk   = "document.chunk"
	TaskEmbed   = "document.embed"
)

type DocumentStore interface {
	GetByID(ctx context.Context, docID string) (*model.Document, error)
	UpdateStatusIf(ctx context.Context, docID, fromStatus, toStatus string, mtime int64) error
	SaveExtracted(ctx context.Context, docID, content string, meta model.DocumentMeta, mtime int64) error
	MarkChunked(ctx context.Context, docID string, chunkCount int, mtime int64) error
	MarkReady(ctx context.Context, docID string, mtime int64) error
	SetError(ctx context.Context, docID, stage, message string, now int64) error
	ResetForReprocess(ctx context.Context, docID string, mtime int64) error
}

type ChunkStore interface {
	ReplaceForDocument(ctx context.Context, docID string, chunks []model.Chunk) error
	ListPending(ctx context.Context, docID string) ([]model.Chunk, error)
	SetEmbedding(ctx context.Context, chunkID string, embedding []float32) error
	DeleteByDocument(ctx context.Context, docID string) error
}

type BlobStore interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

type Extractor interface {
	Extract(ctx context.Context, contentType string, filename string, data []byte) (*extract.Result, error)
}

type Splitter interface {
	Split(text string) []chunker.Chunk
}

type Options struct {
	Retry              task.RetryPolicy
	EmbedDimension     int
	EmbedBatchSize     int
	EmbedBatchDelay    time.Duration
	EmbedRatePerSecond float64
	EmbedTimeout       time.Duration
}

// Coordinator drives a document through extract, chunk and embed. Every
// transition is a conditional update keyed on the current status, so a
// stale or duplicate run degrades to a logged no-op instead of
// clobbering fresher state.
type Coordinator struct {
	docs     DocumentStore
	chunks   ChunkStore
	blobs    BlobStore
	extract  Extractor
	splitter Splitter
	embedder ai.IEmbedder
	runner   *task.Runner
	locks    *keyedMutex
	opts     Options
	limiter  *rate.Limiter
}

func New(docs DocumentStore, chunks ChunkStore, blobs BlobStore, extractor Extractor,
	splitter Splitter, embedder ai.IEmbedder, runner *task.Runner, opts Options) (*Coordinator, error) {
	if opts.EmbedBatchSize <= 0 {
		opts.EmbedBatchSize = 64
	}
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = 30 * time.Second
	}
	var limiter *rate.Limiter
	if opts.EmbedRatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.EmbedRatePerSecond), 1)
	}
	c := &Coordinator{
		docs:     docs,
		chunks:   chunks,
		blobs:    blobs,
		extract:  extractor,
		splitter: splitter,
		embedder: embedder,
		runner:   runner,
		locks:    newKeyedMutex(),
		opts:     opts,
		limiter:  limiter,
	}
	defs := []task.Definition{
		{ID: TaskExtract, Retry: opts.Retry, Handler: c.runExtract,
			OnExhausted: c.recordFailure(model.StageExtract, model.DocumentStatusUploaded, model.DocumentStatusExtracting)},
		{ID: TaskChunk, Retry: opts.Retry, Handler: c.runChunk,
			OnExhausted: c.recordFailure(model.StageChunk, model.DocumentStatusChunking)},
		{ID: TaskEmbed, Retry: opts.Retry, Handler: c.runEmbed,
			OnExhausted: c.recordFailure(model.StageEmbed, model.DocumentStatusEmbedding)},
	}
	for _, def := range defs {
		if err := runner.Register(def); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Kick schedules the pipeline for a document sitting in UPLOADED.
func (c *Coordinator) Kick(ctx context.Context, docID string) error {
	_, err := c.runner.Trigger(ctx, TaskExtract, docID)
	return err
}

// Reprocess resets a settled document back to UPLOADED, drops its
// chunks and re-enters the pipeline. A document still being processed
// is left alone and the caller gets a conflict.
func (c *Coordinator) Reprocess(ctx context.Context, docID string) error {
	c.locks.Lock(docID)
	defer c.locks.Unlock(docID)
	if err := c.docs.ResetForReprocess(ctx, docID, time.Now().UnixMilli()); err != nil {
		return err
	}
	if err := c.chunks.DeleteByDocument(ctx, docID); err != nil {
		return err
	}
	return c.Kick(ctx, docID)
}

func (c *Coordinator) runExtract(ctx context.Context, docID string) error {
	logger := logutil.GetLogger(ctx).With(zap.String("document_id", docID))
	doc, err := c.docs.GetByID(ctx, docID)
	if err != nil {
		if appErr.IsNotFound(err) {
			return task.Permanent(err)
		}
		return err
	}
	switch doc.Status {
	case model.DocumentStatusUploaded:
		if err := c.docs.UpdateStatusIf(ctx, docID, model.DocumentStatusUploaded,
			model.DocumentStatusExtracting, time.Now().UnixMilli()); err != nil {
			if appErr.IsConflict(err) {
				logger.Info("skip extract, lost entry race")
				return nil
			}
			return err
		}
	case model.DocumentStatusExtracting:
		// Previous attempt already claimed the stage, carry on.
	default:
		logger.Info("skip extract, unexpected status", zap.String("status", doc.Status))
		return nil
	}
	if doc.FileKey == "" {
		return task.Permanent(fmt.Errorf("document has no stored file"))
	}
	data, err := c.readBlob(ctx, doc.FileKey)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return task.Permanent(err)
		}
		return err
	}
	res, err := c.extract.Extract(ctx, doc.MimeType, doc.SourceName, data)
	if err != nil {
		if errors.Is(err, extract.ErrUnsupported) || errors.Is(err, extract.ErrRejected) || errors.Is(err, extract.ErrEmpty) {
			return task.Permanent(err)
		}
		return err
	}
	meta := doc.Metadata
	meta.SizeBytes = int64(len(data))
	meta.PageCount = res.PageCount
	meta.ParagraphCount = res.ParagraphCount
	meta.ElementCount = res.ElementCount
	if err := c.docs.SaveExtracted(ctx, docID, res.Text, meta, time.Now().UnixMilli()); err != nil {
		if appErr.IsConflict(err) {
			logger.Info("skip extract commit, document moved on")
			return nil
		}
		return err
	}
	logger.Info("document extracted", zap.Int("chars", len(res.Text)), zap.Int("pages", res.PageCount))
	if _, err := c.runner.Trigger(ctx, TaskChunk, docID); err != nil {
		return err
	}
	return nil
}

func (c *Coordinator) runChunk(ctx context.Context, docID string) error {
	logger := logutil.GetLogger(ctx).With(zap.String("document_id", docID))
	c.locks.Lock(docID)
	defer c.locks.Unlock(docID)
	doc, err := c.docs.GetByID(ctx, docID)
	if err != nil {
		if appErr.IsNotFound(err) {
			return task.Permanent(err)
		}
		return err
	}
	if doc.Status != model.DocumentStatusChunking {
		logger.Info("skip chunk, unexpected status", zap.String("status", doc.Status))
		return nil
	}
	if strings.TrimSpace(doc.Content) == "" {
		return task.Permanent(fmt.Errorf("document has no extracted content"))
	}
	pieces := c.splitter.Split(doc.Content)
	if len(pieces) == 0 {
		return task.Permanent(fmt.Errorf("no chunks produced"))
	}
	now := time.Now().UnixMilli()
	items := make([]model.Chunk, 0, len(pieces))
	for _, piece := range pieces {
		items = append(items, model.Chunk{
			ID:          newID(),
			DocumentID:  docID,
			Ordinal:     piece.Ordinal,
			Content:     piece.Content,
			StartOffset: piece.StartOffset,
			EndOffset:   piece.EndOffset,
			TokenCount:  piece.TokenCount,
			Ctime:       now,
		})
	}
	if err := c.chunks.ReplaceForDocument(ctx, docID, items); err != nil {
		return err
	}
	if err := c.docs.MarkChunked(ctx, docID, len(items), now); err != nil {
		if appErr.IsConflict(err) {
			logger.Info("skip chunk commit, document moved on")
			return nil
		}
		return err
	}
	logger.Info("document chunked", zap.Int("chunks", len(items)))
	if _, err := c.runner.Trigger(ctx, TaskEmbed, docID); err != nil {
		return err
	}
	return nil
}

// runEmbed fills in missing vectors only, so a retry after a partial
// failure never re-embeds finished chunks, and a document whose chunks
// are already all embedded goes straight to READY.
func (c *Coordinator) runEmbed(ctx context.Context, docID string) error {
	logger := logutil.GetLogger(ctx).With(zap.String("document_id", docID))
	doc, err := c.docs.GetByID(ctx, docID)
	if err != nil {
		if appErr.IsNotFound(err) {
			return task.Permanent(err)
		}
		return err
	}
	if doc.Status != model.DocumentStatusEmbedding {
		logger.Info("skip embed, unexpected status", zap.String("status", doc.Status))
		return nil
	}
	pending, err := c.chunks.ListPending(ctx, docID)
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		if err := c.embedPending(ctx, docID, pending); err != nil {
			return err
		}
	}
	if err := c.docs.MarkReady(ctx, docID, time.Now().UnixMilli()); err != nil {
		if appErr.IsConflict(err) {
			logger.Info("skip ready transition, document moved on")
			return nil
		}
		return err
	}
	logger.Info("document ready", zap.Int("embedded", len(pending)))
	return nil
}

func (c *Coordinator) embedPending(ctx context.Context, docID string, pending []model.Chunk) error {
	logger := logutil.GetLogger(ctx).With(zap.String("document_id", docID))
	for start := 0; start < len(pending); start += c.opts.EmbedBatchSize {
		end := start + c.opts.EmbedBatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		texts := make([]string, 0, len(batch))
		for _, chunk := range batch {
			texts = append(texts, chunk.Content)
		}
		vecs, err := c.embedBatch(ctx, texts)
		if err != nil {
			return err
		}
		for i, vec := range vecs {
			if !validVector(vec, c.opts.EmbedDimension) {
				logger.Warn("skip invalid embedding",
					zap.String("chunk_id", batch[i].ID),
					zap.Int("ordinal", batch[i].Ordinal),
					zap.Int("dimension", len(vec)))
				continue
			}
			if err := c.chunks.SetEmbedding(ctx, batch[i].ID, vec); err != nil {
				return err
			}
		}
		if end < len(pending) && c.opts.EmbedBatchDelay > 0 {
			select {
			case <-time.After(c.opts.EmbedBatchDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

func (c *Coordinator) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if c.opts.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.EmbedTimeout)
		defer cancel()
	}
	return c.embedder.EmbedBatch(ctx, texts, ai.TaskTypeDocument)
}

// recordFailure marks the document failed once a stage gives up. The
// status guard keeps a stale run from clobbering a document that was
// reprocessed or completed by a newer run in the meantime.
func (c *Coordinator) recordFailure(stage string, expectStatus ...string) func(context.Context, string, error) {
	return func(ctx context.Context, docID string, cause error) {
		logger := logutil.GetLogger(ctx).With(zap.String("document_id", docID), zap.String("stage", stage))
		c.locks.Lock(docID)
		defer c.locks.Unlock(docID)
		doc, err := c.docs.GetByID(ctx, docID)
		if err != nil {
			logger.Error("load document for failure record failed", zap.Error(err))
			return
		}
		matched := false
		for _, status := range expectStatus {
			if doc.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			logger.Warn("skip failure record, document moved on", zap.String("status", doc.Status))
			return
		}
		msg := "unknown error"
		if cause != nil {
			msg = cause.Error()
		}
		if err := c.docs.SetError(ctx, docID, stage, msg, time.Now().UnixMilli()); err != nil {
			logger.Error("record stage failure failed", zap.Error(err))
			return
		}
		logger.Info("document marked failed", zap.String("message", msg))
	}
}

func (c *Coordinator) readBlob(ctx context.Context, key string) ([]byte, error) {
	rc, err := c.blobs.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}

func validVector(vec []float32, dimension int) bool {
	if len(vec) == 0 {
		return false
	}
	if dimension > 0 && len(vec) != dimension {
		return false
	}
	for _, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
