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

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

func (r *MessageRepo) Create(ctx context.Context, msg *model.Message) error {
	meta, err := json.Marshal(msg.Metadata)
	if err != nil {
		return err
	}
	data := map[string]interface{}{
		"id":              msg.ID,
		"conversation_id": msg.ConversationID,
		"role":            msg.Role,
		"content":         msg.Content,
		"metadata":        meta,
		"ctime":           msg.Ctime,
	}
	sqlStr, args, err := builder.BuildInsert("messages", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *MessageRepo) GetByID(ctx context.Context, msgID string) (*model.Message, error) {
	sqlStr := `
		SELECT id, seq, conversation_id, role, content, metadata, ctime
		FROM messages
		WHERE id = ?
	`
	sqlStr, args := dbutil.Finalize(sqlStr, []interface{}{msgID})
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return nil, appErr.ErrNotFound
	}
	return scanMessage(rows)
}

// ListByConversation returns the full transcript in insertion order.
func (r *MessageRepo) ListByConversation(ctx context.Context, convID string) ([]model.Message, error) {
	sqlStr := `
		SELECT id, seq, conversation_id, role, content, metadata, ctime
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq
	`
	sqlStr, args := dbutil.Finalize(sqlStr, []interface{}{convID})
	return r.queryMessages(ctx, sqlStr, args)
}

// ListRecent returns the last limit messages, newest first. Callers that need
// chronological order reverse the slice.
func (r *MessageRepo) ListRecent(ctx context.Context, convID string, limit uint) ([]model.Message, error) {
	sqlStr := `
		SELECT id, seq, conversation_id, role, content, metadata, ctime
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`
	sqlStr, args := dbutil.Finalize(sqlStr, []interface{}{convID, limit})
	return r.queryMessages(ctx, sqlStr, args)
}

// Finalize fills in the content and metadata of a placeholder answer.
func (r *MessageRepo) Finalize(ctx context.Context, msgID, content string, meta model.MessageMeta) error {
	blob, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	sqlStr, args := dbutil.Finalize(`UPDATE messages SET content = ?, metadata = ? WHERE id = ?`,
		[]interface{}{content, blob, msgID})
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

func (r *MessageRepo) Delete(ctx context.Context, msgID string) error {
	sqlStr, args := dbutil.Finalize(`DELETE FROM messages WHERE id = ?`, []interface{}{msgID})
	_, err := r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *MessageRepo) queryMessages(ctx context.Context, sqlStr string, args []interface{}) ([]model.Message, error) {
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	items := make([]model.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *msg)
	}
	return items, rows.Err()
}

func scanMessage(rows *sql.Rows) (*model.Message, error) {
	var msg model.Message
	var meta []byte
	if err := rows.Scan(&msg.ID, &msg.Seq, &msg.ConversationID, &msg.Role, &msg.Content, &meta, &msg.Ctime); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &msg.Metadata); err != nil {
			return nil, err
		}
	}
	return &msg, nil
}
