package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docask/internal/ai"
	"github.com/xxxsen/docask/internal/model"
	appErr "github.com/xxxsen/docask/internal/pkg/errors"
	"github.com/xxxsen/docask/internal/rag"
	"github.com/xxxsen/docask/internal/repo"
)

const (
	titleMaxRunes   = 100
	excerptMaxRunes = 200
	persistTimeout  = 10 * time.Second
)

type ChatService struct {
	spaces           *SpaceService
	conversations    *repo.ConversationRepo
	messages         *repo.MessageRepo
	citations        *repo.CitationRepo
	retriever        *rag.Retriever
	chat             ai.IChat
	chatTimeout      time.Duration
	historyExchanges int
}

func NewChatService(spaces *SpaceService, conversations *repo.ConversationRepo, messages *repo.MessageRepo, citations *repo.CitationRepo, retriever *rag.Retriever, chat ai.IChat, chatTimeout time.Duration, historyExchanges int) *ChatService {
	if historyExchanges <= 0 {
		historyExchanges = 5
	}
	return &ChatService{spaces: spaces, conversations: conversations, messages: messages, citations: citations, retriever: retriever, chat: chat, chatTimeout: chatTimeout, historyExchanges: historyExchanges}
}

type AskInput struct {
	SpaceID        string
	ConversationID string
	Question       string
}

type AskResult struct {
	Conversation *model.Conversation `json:"conversation"`
	Message      *model.Message      `json:"message"`
	Citations    []model.Citation    `json:"citations"`
}

// Ask runs one retrieval-augmented exchange. The question is persisted as
// soon as the conversation is resolved, so it survives even when no context
// is found or the model call fails; an answer row only survives once it has
// content.
func (s *ChatService) Ask(ctx context.Context, userID string, in AskInput) (*AskResult, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", appErr.ErrInvalid)
	}
	if _, err := s.spaces.Get(ctx, userID, in.SpaceID); err != nil {
		return nil, err
	}
	started := time.Now()

	conv, err := s.resolveConversation(ctx, userID, in.SpaceID, in.ConversationID, question)
	if err != nil {
		return nil, err
	}
	// History is loaded before the question is appended so the current
	// question never shows up in its own context window.
	history, err := s.history(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	if err := s.messages.Create(ctx, &model.Message{
		ID:             newID(),
		ConversationID: conv.ID,
		Role:           model.MessageRoleQuestion,
		Content:        question,
		Ctime:          time.Now().UnixMilli(),
	}); err != nil {
		return nil, err
	}

	searchStart := time.Now()
	matches := s.retriever.Retrieve(ctx, in.SpaceID, question)
	searchMs := time.Since(searchStart).Milliseconds()
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no relevant content found in this space", appErr.ErrPrecondition)
	}

	prompt := rag.BuildMessages(question, history, matches)
	answer := &model.Message{
		ID:             newID(),
		ConversationID: conv.ID,
		Role:           model.MessageRoleAnswer,
		Ctime:          time.Now().UnixMilli(),
	}
	if err := s.messages.Create(ctx, answer); err != nil {
		return nil, err
	}
	result, err := s.complete(ctx, prompt)
	if err != nil {
		s.dropMessage(ctx, answer.ID)
		if errors.Is(err, ai.ErrUnavailable) {
			return nil, fmt.Errorf("%w: no chat backend available", appErr.ErrUnavailable)
		}
		return nil, fmt.Errorf("%w: chat completion: %v", appErr.ErrInternal, err)
	}

	// A completed answer is persisted on a detached context so a client
	// that hangs up after the model call does not lose the exchange.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	meta := model.MessageMeta{
		Model:      result.Model,
		TotalMs:    time.Since(started).Milliseconds(),
		SearchMs:   searchMs,
		ChunkCount: len(matches),
	}
	if err := s.messages.Finalize(persistCtx, answer.ID, result.Content, meta); err != nil {
		s.dropMessage(persistCtx, answer.ID)
		return nil, fmt.Errorf("%w: persist answer: %v", appErr.ErrInternal, err)
	}
	answer.Content = result.Content
	answer.Metadata = meta

	rows := buildCitations(answer.ID, matches)
	if err := s.citations.BatchInsert(persistCtx, rows); err != nil {
		// The answer is already finalized; losing citations is not worth
		// failing the whole exchange over.
		logutil.GetLogger(ctx).Error("persist citations failed", zap.String("message_id", answer.ID), zap.Error(err))
		rows = nil
	}
	if err := s.conversations.Touch(persistCtx, conv.ID, time.Now().UnixMilli()); err != nil {
		logutil.GetLogger(ctx).Warn("touch conversation failed", zap.String("conversation_id", conv.ID), zap.Error(err))
	}
	return &AskResult{Conversation: conv, Message: answer, Citations: rows}, nil
}

func (s *ChatService) ListConversations(ctx context.Context, userID, spaceID string, limit, offset uint) ([]model.Conversation, error) {
	if _, err := s.spaces.Get(ctx, userID, spaceID); err != nil {
		return nil, err
	}
	return s.conversations.ListBySpace(ctx, spaceID, limit, offset)
}

func (s *ChatService) ListMessages(ctx context.Context, userID, conversationID string) ([]model.Message, error) {
	if _, err := s.ownedConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	return s.messages.ListByConversation(ctx, conversationID)
}

// GetMessage returns one message with its citations joined to the cited
// chunks, which is how the UI renders sources under an answer.
func (s *ChatService) GetMessage(ctx context.Context, userID, messageID string) (*model.Message, []model.CitationWithChunk, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.ownedConversation(ctx, userID, msg.ConversationID); err != nil {
		return nil, nil, err
	}
	cites, err := s.citations.ListByMessage(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}
	return msg, cites, nil
}

func (s *ChatService) resolveConversation(ctx context.Context, userID, spaceID, conversationID, question string) (*model.Conversation, error) {
	if conversationID == "" {
		now := time.Now().UnixMilli()
		conv := &model.Conversation{
			ID:      newID(),
			SpaceID: spaceID,
			UserID:  userID,
			Title:   truncateRunes(question, titleMaxRunes),
			Ctime:   now,
			Mtime:   now,
		}
		if err := s.conversations.Create(ctx, conv); err != nil {
			return nil, err
		}
		return conv, nil
	}
	conv, err := s.ownedConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.SpaceID != spaceID {
		return nil, fmt.Errorf("%w: conversation belongs to another space", appErr.ErrInvalid)
	}
	return conv, nil
}

func (s *ChatService) ownedConversation(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		return nil, fmt.Errorf("%w: conversation belongs to another user", appErr.ErrForbidden)
	}
	return conv, nil
}

// history returns the last N exchanges oldest first, ready for the prompt.
func (s *ChatService) history(ctx context.Context, conversationID string) ([]model.Message, error) {
	msgs, err := s.messages.ListRecent(ctx, conversationID, uint(s.historyExchanges*2))
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *ChatService) complete(ctx context.Context, prompt []ai.Message) (*ai.ChatResult, error) {
	if s.chatTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.chatTimeout)
		defer cancel()
	}
	return s.chat.Complete(ctx, prompt)
}

func (s *ChatService) dropMessage(ctx context.Context, messageID string) {
	if err := s.messages.Delete(ctx, messageID); err != nil {
		logutil.GetLogger(ctx).Warn("delete pending answer failed", zap.String("message_id", messageID), zap.Error(err))
	}
}

func buildCitations(messageID string, matches []model.ChunkMatch) []model.Citation {
	now := time.Now().UnixMilli()
	rows := make([]model.Citation, 0, len(matches))
	for i, match := range matches {
		rows = append(rows, model.Citation{
			ID:        newID(),
			MessageID: messageID,
			ChunkID:   match.Chunk.ID,
			Score:     match.Similarity,
			Excerpt:   truncateRunes(match.Chunk.Content, excerptMaxRunes),
			Ordinal:   i + 1,
			Ctime:     now,
		})
	}
	return rows
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
