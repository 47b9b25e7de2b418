package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/docask/internal/model"
	"github.com/xxxsen/docask/internal/pkg/dbutil"
	appErr "github.com/xxxsen/docask/internal/pkg/errors"
)

var documentColumns = []string{
	"id", "space_id", "title", "source_name", "mime_type", "file_key", "content",
	"content_hash", "status", "error_stage", "error_message", "error_time",
	"chunk_count", "metadata", "ctime", "mtime",
}

type DocumentRepo struct {
	db *sql.DB
}

func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

func (r *DocumentRepo) Create(ctx context.Context, doc *model.Document) error {
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return err
	}
	data := map[string]interface{}{
		"id":            doc.ID,
		"space_id":      doc.SpaceID,
		"title":         doc.Title,
		"source_name":   doc.SourceName,
		"mime_type":     doc.MimeType,
		"file_key":      doc.FileKey,
		"content":       doc.Content,
		"content_hash":  doc.ContentHash,
		"status":        doc.Status,
		"error_stage":   doc.ErrorStage,
		"error_message": doc.ErrorMessage,
		"error_time":    doc.ErrorTime,
		"chunk_count":   doc.ChunkCount,
		"metadata":      meta,
		"ctime":         doc.Ctime,
		"mtime":         doc.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("documents", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *DocumentRepo) GetByID(ctx context.Context, docID string) (*model.Document, error) {
	sqlStr, args, err := builder.BuildSelect("documents", map[string]interface{}{"id": docID}, documentColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return nil, appErr.ErrNotFound
	}
	return scanDocument(rows)
}

func (r *DocumentRepo) GetBySpaceHash(ctx context.Context, spaceID, contentHash string) (*model.Document, error) {
	sqlStr, args, err := builder.BuildSelect("documents", map[string]interface{}{
		"space_id":     spaceID,
		"content_hash": contentHash,
	}, documentColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return nil, appErr.ErrNotFound
	}
	return scanDocument(rows)
}

// ListBySpace returns documents without their extracted content, newest first.
func (r *DocumentRepo) ListBySpace(ctx context.Context, spaceID string, limit, offset uint) ([]model.Document, error) {
	sqlStr := `
		SELECT id, space_id, title, source_name, mime_type, file_key, content_hash,
			status, error_stage, error_message, error_time, chunk_count, metadata, ctime, mtime
		FROM documents
		WHERE space_id = ?
		ORDER BY ctime DESC
	`
	args := []interface{}{spaceID}
	if limit > 0 {
		sqlStr += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	items := make([]model.Document, 0)
	for rows.Next() {
		var doc model.Document
		var meta []byte
		if err := rows.Scan(&doc.ID, &doc.SpaceID, &doc.Title, &doc.SourceName, &doc.MimeType,
			&doc.FileKey, &doc.ContentHash, &doc.Status, &doc.ErrorStage, &doc.ErrorMessage,
			&doc.ErrorTime, &doc.ChunkCount, &meta, &doc.Ctime, &doc.Mtime); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
				return nil, err
			}
		}
		items = append(items, doc)
	}
	return items, rows.Err()
}

// ListByStatusBefore returns documents in the given status whose mtime is older
// than the cutoff. Pass an empty spaceID to scan all spaces.
func (r *DocumentRepo) ListByStatusBefore(ctx context.Context, status, spaceID string, before int64, limit uint) ([]model.Document, error) {
	sqlStr := `SELECT id, space_id, status, mtime FROM documents WHERE status = ? AND mtime < ?`
	args := []interface{}{status, before}
	if spaceID != "" {
		sqlStr += ` AND space_id = ?`
		args = append(args, spaceID)
	}
	sqlStr += ` ORDER BY mtime ASC`
	if limit > 0 {
		sqlStr += ` LIMIT ?`
		args = append(args, limit)
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	items := make([]model.Document, 0)
	for rows.Next() {
		var doc model.Document
		if err := rows.Scan(&doc.ID, &doc.SpaceID, &doc.Status, &doc.Mtime); err != nil {
			return nil, err
		}
		items = append(items, doc)
	}
	return items, rows.Err()
}

// UpdateStatusIf moves a document from one status to another. It returns
// ErrConflict when the document is no longer in the expected status.
// UpdateStatusIf advances the status only when the current value still
// matches fromStatus, and wipes any stale error from a prior run.
func (r *DocumentRepo) UpdateStatusIf(ctx context.Context, docID, fromStatus, toStatus string, mtime int64) error {
	sqlStr, args, err := builder.BuildUpdate("documents",
		map[string]interface{}{"id": docID, "status": fromStatus},
		map[string]interface{}{
			"status":        toStatus,
			"mtime":         mtime,
			"error_stage":   "",
			"error_message": "",
			"error_time":    0,
		})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrConflict
	}
	return nil
}

// SaveExtracted stores extraction output and advances EXTRACTING -> CHUNKING.
func (r *DocumentRepo) SaveExtracted(ctx context.Context, docID, content string, meta model.DocumentMeta, mtime int64) error {
	blob, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	sqlStr := `
		UPDATE documents
		SET content = ?, metadata = ?, status = ?, mtime = ?
		WHERE id = ? AND status = ?
	`
	args := []interface{}{content, blob, model.DocumentStatusChunking, mtime, docID, model.DocumentStatusExtracting}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrConflict
	}
	return nil
}

// MarkChunked stores the chunk count and advances CHUNKING -> EMBEDDING.
func (r *DocumentRepo) MarkChunked(ctx context.Context, docID string, chunkCount int, mtime int64) error {
	sqlStr := `
		UPDATE documents
		SET chunk_count = ?, status = ?, mtime = ?
		WHERE id = ? AND status = ?
	`
	args := []interface{}{chunkCount, model.DocumentStatusEmbedding, mtime, docID, model.DocumentStatusChunking}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrConflict
	}
	return nil
}

// MarkReady advances EMBEDDING -> READY.
func (r *DocumentRepo) MarkReady(ctx context.Context, docID string, mtime int64) error {
	return r.UpdateStatusIf(ctx, docID, model.DocumentStatusEmbedding, model.DocumentStatusReady, mtime)
}

// SetError moves a document into the terminal ERROR state, recording which
// stage failed and why.
func (r *DocumentRepo) SetError(ctx context.Context, docID, stage, message string, now int64) error {
	sqlStr := `
		UPDATE documents
		SET status = ?, error_stage = ?, error_message = ?, error_time = ?, mtime = ?
		WHERE id = ?
	`
	args := []interface{}{model.DocumentStatusError, stage, message, now, now, docID}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

// ResetForReprocess puts a READY, ERROR or UPLOADED document back to UPLOADED
// and clears all processing output. Documents mid-pipeline are left alone.
func (r *DocumentRepo) ResetForReprocess(ctx context.Context, docID string, mtime int64) error {
	sqlStr := `
		UPDATE documents
		SET status = ?, error_stage = '', error_message = '', error_time = 0, chunk_count = 0, mtime = ?
		WHERE id = ? AND status IN (?, ?, ?)
	`
	args := []interface{}{model.DocumentStatusUploaded, mtime, docID,
		model.DocumentStatusReady, model.DocumentStatusError, model.DocumentStatusUploaded}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrConflict
	}
	return nil
}

func (r *DocumentRepo) Delete(ctx context.Context, docID string) error {
	sqlStr := `DELETE FROM documents WHERE id = ?`
	args := []interface{}{docID}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func scanDocument(rows *sql.Rows) (*model.Document, error) {
	var doc model.Document
	var meta []byte
	if err := rows.Scan(&doc.ID, &doc.SpaceID, &doc.Title, &doc.SourceName, &doc.MimeType,
		&doc.FileKey, &doc.Content, &doc.ContentHash, &doc.Status, &doc.ErrorStage,
		&doc.ErrorMessage, &doc.ErrorTime, &doc.ChunkCount, &meta, &doc.Ctime, &doc.Mtime); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
			return nil, err
		}
	}
	return &doc, nil
}
