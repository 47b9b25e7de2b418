package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/docask/internal/model"
	"github.com/xxxsen/docask/internal/pkg/dbutil"
)

type CitationRepo struct {
	db *sql.DB
}

func NewCitationRepo(db *sql.DB) *CitationRepo {
	return &CitationRepo{db: db}
}

func (r *CitationRepo) BatchInsert(ctx context.Context, items []model.Citation) error {
	if len(items) == 0 {
		return nil
	}
	rows := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		rows = append(rows, map[string]interface{}{
			"id":         item.ID,
			"message_id": item.MessageID,
			"chunk_id":   item.ChunkID,
			"score":      item.Score,
			"excerpt":    item.Excerpt,
			"ordinal":    item.Ordinal,
			"ctime":      item.Ctime,
		})
	}
	sqlStr, args, err := builder.BuildInsert("citations", rows)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

// ListByMessage returns the citations of an answer joined with the cited
// chunk and its document title, in citation order.
func (r *CitationRepo) ListByMessage(ctx context.Context, messageID string) ([]model.CitationWithChunk, error) {
	sqlStr := `
		SELECT ci.id, ci.message_id, ci.chunk_id, ci.score, ci.excerpt, ci.ordinal, ci.ctime,
			c.content, d.id, d.title
		FROM citations ci
		JOIN chunks c ON c.id = ci.chunk_id
		JOIN documents d ON d.id = c.document_id
		WHERE ci.message_id = ?
		ORDER BY ci.ordinal
	`
	sqlStr, args := dbutil.Finalize(sqlStr, []interface{}{messageID})
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	items := make([]model.CitationWithChunk, 0)
	for rows.Next() {
		var item model.CitationWithChunk
		if err := rows.Scan(&item.ID, &item.MessageID, &item.ChunkID, &item.Score, &item.Excerpt,
			&item.Ordinal, &item.Ctime, &item.ChunkContent, &item.DocumentID, &item.DocumentTitle); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
