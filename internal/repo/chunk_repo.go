package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/docask/internal/model"
	"github.com/xxxsen/docask/internal/pkg/dbutil"
	appErr "github.com/xxxsen/docask/internal/pkg/errors"
)

type ChunkRepo struct {
	db *sql.DB
}

func NewChunkRepo(db *sql.DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// ReplaceForDocument atomically swaps the chunk set of a document.
func (r *ChunkRepo) ReplaceForDocument(ctx context.Context, docID string, chunks []model.Chunk) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	delStr, delArgs := dbutil.Finalize(`DELETE FROM chunks WHERE document_id = ?`, []interface{}{docID})
	if _, err := tx.ExecContext(ctx, delStr, delArgs...); err != nil {
		return err
	}
	if len(chunks) > 0 {
		rows := make([]map[string]interface{}, 0, len(chunks))
		for _, chunk := range chunks {
			rows = append(rows, map[string]interface{}{
				"id":           chunk.ID,
				"document_id":  chunk.DocumentID,
				"ordinal":      chunk.Ordinal,
				"content":      chunk.Content,
				"start_offset": chunk.StartOffset,
				"end_offset":   chunk.EndOffset,
				"token_count":  chunk.TokenCount,
				"ctime":        chunk.Ctime,
			})
		}
		sqlStr, args, err := builder.BuildInsert("chunks", rows)
		if err != nil {
			return err
		}
		sqlStr, args = dbutil.Finalize(sqlStr, args)
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *ChunkRepo) DeleteByDocument(ctx context.Context, docID string) error {
	sqlStr, args := dbutil.Finalize(`DELETE FROM chunks WHERE document_id = ?`, []interface{}{docID})
	_, err := r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

// ListPending returns the chunks of a document that have no embedding yet,
// in ordinal order.
func (r *ChunkRepo) ListPending(ctx context.Context, docID string) ([]model.Chunk, error) {
	sqlStr := `
		SELECT id, document_id, ordinal, content, start_offset, end_offset, token_count, ctime
		FROM chunks
		WHERE document_id = ? AND embedding IS NULL
		ORDER BY ordinal
	`
	sqlStr, args := dbutil.Finalize(sqlStr, []interface{}{docID})
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	items := make([]model.Chunk, 0)
	for rows.Next() {
		var chunk model.Chunk
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.Ordinal, &chunk.Content,
			&chunk.StartOffset, &chunk.EndOffset, &chunk.TokenCount, &chunk.Ctime); err != nil {
			return nil, err
		}
		items = append(items, chunk)
	}
	return items, rows.Err()
}

func (r *ChunkRepo) SetEmbedding(ctx context.Context, chunkID string, embedding []float32) error {
	sqlStr, args := dbutil.Finalize(`UPDATE chunks SET embedding = ? WHERE id = ?`,
		[]interface{}{pgvector.NewVector(embedding), chunkID})
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

// TopSimilar runs the vector search: cosine similarity of embedded chunks in
// READY documents of the space, best first, ties broken by insertion order.
func (r *ChunkRepo) TopSimilar(ctx context.Context, spaceID string, query []float32, limit int) ([]model.ChunkMatch, error) {
	const sqlStr = `
		SELECT c.id, c.document_id, c.ordinal, c.content, c.start_offset, c.end_offset,
			c.token_count, c.ctime, d.title, 1 - (c.embedding <=> $1) AS similarity
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.space_id = $2 AND d.status = $3 AND c.embedding IS NOT NULL
		ORDER BY c.embedding <=> $1, c.seq
		LIMIT $4
	`
	rows, err := r.db.QueryContext(ctx, sqlStr, pgvector.NewVector(query), spaceID, model.DocumentStatusReady, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	items := make([]model.ChunkMatch, 0, limit)
	for rows.Next() {
		var match model.ChunkMatch
		if err := rows.Scan(&match.Chunk.ID, &match.Chunk.DocumentID, &match.Chunk.Ordinal,
			&match.Chunk.Content, &match.Chunk.StartOffset, &match.Chunk.EndOffset,
			&match.Chunk.TokenCount, &match.Chunk.Ctime, &match.DocumentTitle, &match.Similarity); err != nil {
			return nil, err
		}
		items = append(items, match)
	}
	return items, rows.Err()
}
