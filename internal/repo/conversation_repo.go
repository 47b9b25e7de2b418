package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/docask/internal/model"
	"github.com/xxxsen/docask/internal/pkg/dbutil"
	appErr "github.com/xxxsen/docask/internal/pkg/errors"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

func (r *ConversationRepo) Create(ctx context.Context, conv *model.Conversation) error {
	data := map[string]interface{}{
		"id":       conv.ID,
		"space_id": conv.SpaceID,
		"user_id":  conv.UserID,
		"title":    conv.Title,
		"ctime":    conv.Ctime,
		"mtime":    conv.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("conversations", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *ConversationRepo) GetByID(ctx context.Context, convID string) (*model.Conversation, error) {
	sqlStr, args, err := builder.BuildSelect("conversations", map[string]interface{}{"id": convID}, []string{
		"id", "space_id", "user_id", "title", "ctime", "mtime",
	})
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
	var conv model.Conversation
	if err := rows.Scan(&conv.ID, &conv.SpaceID, &conv.UserID, &conv.Title, &conv.Ctime, &conv.Mtime); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListBySpace returns conversations most recently active first.
func (r *ConversationRepo) ListBySpace(ctx context.Context, spaceID string, limit, offset uint) ([]model.Conversation, error) {
	where := map[string]interface{}{
		"space_id": spaceID,
		"_orderby": "mtime desc",
	}
	if limit > 0 {
		where["_limit"] = []uint{offset, limit}
	}
	sqlStr, args, err := builder.BuildSelect("conversations", where, []string{
		"id", "space_id", "user_id", "title", "ctime", "mtime",
	})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	items := make([]model.Conversation, 0)
	for rows.Next() {
		var conv model.Conversation
		if err := rows.Scan(&conv.ID, &conv.SpaceID, &conv.UserID, &conv.Title, &conv.Ctime, &conv.Mtime); err != nil {
			return nil, err
		}
		items = append(items, conv)
	}
	return items, rows.Err()
}

// Touch bumps the conversation recency after a completed exchange.
func (r *ConversationRepo) Touch(ctx context.Context, convID string, mtime int64) error {
	sqlStr, args := dbutil.Finalize(`UPDATE conversations SET mtime = ? WHERE id = ?`,
		[]interface{}{mtime, convID})
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
