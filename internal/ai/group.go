package ai

import (
	"context"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type ChatEntry struct {
	Name string
	Chat IChat
}

type groupChat struct {
	items []ChatEntry
}

// NewGroupChat chains chat backends; each is tried in order until one
// answers. Embedders are never grouped because vectors from different
// models are not comparable.
func NewGroupChat(items []ChatEntry) IChat {
	if len(items) == 0 {
		return nil
	}
	return &groupChat{items: items}
}

func (g *groupChat) Complete(ctx context.Context, msgs []Message) (*ChatResult, error) {
	var lastErr error
	for i, item := range g.items {
		if item.Chat == nil {
			continue
		}
		res, err := item.Chat.Complete(ctx, msgs)
		if err == nil {
			return res, nil
		}
		lastErr = err
		logutil.GetLogger(ctx).Warn("chat backend failed", zap.Int("index", i), zap.String("name", item.Name), zap.Error(err))
	}
	if lastErr == nil {
		return nil, fmt.Errorf("chat backend not configured")
	}
	return nil, lastErr
}
