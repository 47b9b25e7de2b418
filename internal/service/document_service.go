package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/docask/internal/filestore"
	"github.com/xxxsen/docask/internal/model"
	"github.com/xxxsen/docask/internal/pipeline"
	appErr "github.com/xxxsen/docask/internal/pkg/errors"
	"github.com/xxxsen/docask/internal/repo"
)

const (
	// syncBatchLimit bounds one sync pass; anything beyond it is picked up
	// by the next run.
	syncBatchLimit = 200
	signedURLTTL   = 15 * time.Minute
	defaultTitle   = "Untitled"
)

type DocumentService struct {
	docs        *repo.DocumentRepo
	spaces      *SpaceService
	store       filestore.Store
	coord       *pipeline.Coordinator
	maxBytes    int64
	syncMinAge  time.Duration
	syncWorkers int
}

func NewDocumentService(docs *repo.DocumentRepo, spaces *SpaceService, store filestore.Store, coord *pipeline.Coordinator, maxBytes int64, syncMinAge time.Duration, syncWorkers int) *DocumentService {
	if syncWorkers <= 0 {
		syncWorkers = 4
	}
	return &DocumentService{docs: docs, spaces: spaces, store: store, coord: coord, maxBytes: maxBytes, syncMinAge: syncMinAge, syncWorkers: syncWorkers}
}

type DocumentUpload struct {
	SpaceID  string
	Title    string
	Filename string
	MimeType string
	Data     []byte
}

// Create stores the uploaded file, registers the document and triggers the
// processing pipeline. When the same bytes were already uploaded into the
// space it returns the existing document and created=false without touching
// the pipeline.
func (s *DocumentService) Create(ctx context.Context, userID string, in DocumentUpload) (*model.Document, bool, error) {
	if _, err := s.spaces.Get(ctx, userID, in.SpaceID); err != nil {
		return nil, false, err
	}
	if len(in.Data) == 0 {
		return nil, false, fmt.Errorf("%w: file is empty", appErr.ErrInvalid)
	}
	if s.maxBytes > 0 && int64(len(in.Data)) > s.maxBytes {
		return nil, false, fmt.Errorf("%w: file exceeds %d bytes", appErr.ErrInvalid, s.maxBytes)
	}
	hash := contentHash(in.Data)
	existing, err := s.docs.GetBySpaceHash(ctx, in.SpaceID, hash)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, appErr.ErrNotFound) {
		return nil, false, err
	}

	docID := newID()
	key := blobKey(in.SpaceID, docID, in.Filename)
	if err := s.store.Save(ctx, key, bytes.NewReader(in.Data), int64(len(in.Data))); err != nil {
		return nil, false, fmt.Errorf("save file: %w", err)
	}
	now := time.Now().UnixMilli()
	doc := &model.Document{
		ID:          docID,
		SpaceID:     in.SpaceID,
		Title:       documentTitle(in.Title, in.Filename),
		SourceName:  in.Filename,
		MimeType:    documentMimeType(in.MimeType),
		FileKey:     key,
		ContentHash: hash,
		Status:      model.DocumentStatusUploaded,
		Metadata:    model.DocumentMeta{SizeBytes: int64(len(in.Data))},
		Ctime:       now,
		Mtime:       now,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		if errors.Is(err, appErr.ErrConflict) {
			// Lost a concurrent upload of the same bytes; hand back the winner.
			s.deleteBlob(ctx, key)
			if existing, gerr := s.docs.GetBySpaceHash(ctx, in.SpaceID, hash); gerr == nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}
	if err := s.coord.Kick(ctx, doc.ID); err != nil {
		// The document stays UPLOADED and the sync sweep re-triggers it.
		logutil.GetLogger(ctx).Warn("trigger pipeline failed", zap.String("doc_id", doc.ID), zap.Error(err))
	}
	return doc, true, nil
}

func (s *DocumentService) Get(ctx context.Context, userID, docID string) (*model.Document, error) {
	doc, err := s.docs.GetByID(ctx, docID)
	if err != nil {
		return nil, err
	}
	if _, err := s.spaces.Get(ctx, userID, doc.SpaceID); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *DocumentService) List(ctx context.Context, userID, spaceID string, limit, offset uint) ([]model.Document, error) {
	if _, err := s.spaces.Get(ctx, userID, spaceID); err != nil {
		return nil, err
	}
	return s.docs.ListBySpace(ctx, spaceID, limit, offset)
}

// Delete removes the document row first so chunks and citations cascade with
// it; the stored file is cleaned up best effort afterwards.
func (s *DocumentService) Delete(ctx context.Context, userID, docID string) error {
	doc, err := s.Get(ctx, userID, docID)
	if err != nil {
		return err
	}
	if err := s.docs.Delete(ctx, docID); err != nil {
		return err
	}
	if doc.FileKey != "" {
		s.deleteBlob(ctx, doc.FileKey)
	}
	return nil
}

type DocumentFile struct {
	URL      string
	Reader   io.ReadCloser
	Name     string
	MimeType string
}

// OpenFile hands back either a signed URL for the client to follow or, when
// the backing store cannot sign, a reader to stream through.
func (s *DocumentService) OpenFile(ctx context.Context, userID, docID string) (*DocumentFile, error) {
	doc, err := s.Get(ctx, userID, docID)
	if err != nil {
		return nil, err
	}
	if doc.FileKey == "" {
		return nil, fmt.Errorf("%w: document has no stored file", appErr.ErrNotFound)
	}
	out := &DocumentFile{Name: fileDownloadName(doc), MimeType: doc.MimeType}
	url, err := s.store.SignedURL(ctx, doc.FileKey, signedURLTTL)
	if err == nil {
		out.URL = url
		return out, nil
	}
	if !errors.Is(err, filestore.ErrNoSignedURL) {
		return nil, err
	}
	rc, err := s.store.Open(ctx, doc.FileKey)
	if err != nil {
		return nil, err
	}
	out.Reader = rc
	return out, nil
}

func (s *DocumentService) Reprocess(ctx context.Context, userID, docID string) error {
	if _, err := s.Get(ctx, userID, docID); err != nil {
		return err
	}
	return s.coord.Reprocess(ctx, docID)
}

// SyncUploaded re-triggers documents stuck in UPLOADED within the caller's
// spaces, either a single named space or all of them, and returns how many
// it kicked.
func (s *DocumentService) SyncUploaded(ctx context.Context, userID, spaceID string) (int, error) {
	if spaceID != "" {
		if _, err := s.spaces.Get(ctx, userID, spaceID); err != nil {
			return 0, err
		}
		return s.syncSpace(ctx, spaceID)
	}
	spaces, err := s.spaces.List(ctx, userID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, space := range spaces {
		count, err := s.syncSpace(ctx, space.ID)
		if err != nil {
			return total, err
		}
		total += count
	}
	return total, nil
}

// SyncAllUploaded sweeps every space; it backs the scheduled job.
func (s *DocumentService) SyncAllUploaded(ctx context.Context) (int, error) {
	return s.syncSpace(ctx, "")
}

func (s *DocumentService) syncSpace(ctx context.Context, spaceID string) (int, error) {
	before := time.Now().Add(-s.syncMinAge).UnixMilli()
	stuck, err := s.docs.ListByStatusBefore(ctx, model.DocumentStatusUploaded, spaceID, before, syncBatchLimit)
	if err != nil {
		return 0, err
	}
	if len(stuck) == 0 {
		return 0, nil
	}
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.syncWorkers)
	for _, doc := range stuck {
		docID := doc.ID
		eg.Go(func() error {
			if err := s.coord.Kick(gctx, docID); err != nil {
				return fmt.Errorf("document %s: %w", docID, err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, err
	}
	logutil.GetLogger(ctx).Info("re-triggered stuck documents",
		zap.Int("count", len(stuck)), zap.String("space_id", spaceID))
	return len(stuck), nil
}

func (s *DocumentService) deleteBlob(ctx context.Context, key string) {
	if err := s.store.Delete(ctx, key); err != nil {
		logutil.GetLogger(ctx).Warn("delete stored file failed", zap.String("key", key), zap.Error(err))
	}
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func blobKey(spaceID, docID, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return fmt.Sprintf("%s/%s%s", spaceID, docID, ext)
}

func documentTitle(title, filename string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	if f := strings.TrimSpace(filename); f != "" {
		return f
	}
	return defaultTitle
}

func documentMimeType(mimeType string) string {
	mt := strings.TrimSpace(mimeType)
	if mt == "" {
		return "application/octet-stream"
	}
	// Strip parameters such as charset; routing keys off the bare type.
	if idx := strings.IndexByte(mt, ';'); idx >= 0 {
		mt = strings.TrimSpace(mt[:idx])
	}
	return strings.ToLower(mt)
}

func fileDownloadName(doc *model.Document) string {
	if doc.SourceName != "" {
		return doc.SourceName
	}
	return doc.Title
}
