package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/docask/internal/model"
	"github.com/xxxsen/docask/internal/pkg/dbutil"
	appErr "github.com/xxxsen/docask/internal/pkg/errors"
)

type SpaceRepo struct {
	db *sql.DB
}

func NewSpaceRepo(db *sql.DB) *SpaceRepo {
	return &SpaceRepo{db: db}
}

func (r *SpaceRepo) Create(ctx context.Context, space *model.Space) error {
	data := map[string]interface{}{
		"id":          space.ID,
		"user_id":     space.UserID,
		"name":        space.Name,
		"description": space.Description,
		"ctime":       space.Ctime,
		"mtime":       space.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("spaces", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *SpaceRepo) GetByID(ctx context.Context, spaceID string) (*model.Space, error) {
	sqlStr, args, err := builder.BuildSelect("spaces", map[string]interface{}{"id": spaceID}, []string{
		"id", "user_id", "name", "description", "ctime", "mtime",
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
	var space model.Space
	if err := rows.Scan(&space.ID, &space.UserID, &space.Name, &space.Description, &space.Ctime, &space.Mtime); err != nil {
		return nil, err
	}
	return &space, nil
}

func (r *SpaceRepo) List(ctx context.Context, userID string) ([]model.Space, error) {
	sqlStr, args, err := builder.BuildSelect("spaces", map[string]interface{}{
		"user_id":  userID,
		"_orderby": "mtime desc",
	}, []string{"id", "user_id", "name", "description", "ctime", "mtime"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	items := make([]model.Space, 0)
	for rows.Next() {
		var space model.Space
		if err := rows.Scan(&space.ID, &space.UserID, &space.Name, &space.Description, &space.Ctime, &space.Mtime); err != nil {
			return nil, err
		}
		items = append(items, space)
	}
	return items, rows.Err()
}
