package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/docask/internal/model"
	appErr "github.com/xxxsen/docask/internal/pkg/errors"
	"github.com/xxxsen/docask/internal/repo"
)

type SpaceService struct {
	spaces *repo.SpaceRepo
}

func NewSpaceService(spaces *repo.SpaceRepo) *SpaceService {
	return &SpaceService{spaces: spaces}
}

func (s *SpaceService) Create(ctx context.Context, userID, name, description string) (*model.Space, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: space name is required", appErr.ErrInvalid)
	}
	now := time.Now().UnixMilli()
	space := &model.Space{
		ID:          newID(),
		UserID:      userID,
		Name:        name,
		Description: strings.TrimSpace(description),
		Ctime:       now,
		Mtime:       now,
	}
	if err := s.spaces.Create(ctx, space); err != nil {
		return nil, err
	}
	return space, nil
}

// Get returns the space only when it belongs to userID; other callers see
// a forbidden error rather than a not-found one.
func (s *SpaceService) Get(ctx context.Context, userID, spaceID string) (*model.Space, error) {
	space, err := s.spaces.GetByID(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	if space.UserID != userID {
		return nil, fmt.Errorf("%w: space belongs to another user", appErr.ErrForbidden)
	}
	return space, nil
}

func (s *SpaceService) List(ctx context.Context, userID string) ([]model.Space, error) {
	return s.spaces.List(ctx, userID)
}
