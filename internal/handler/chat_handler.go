package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docask/internal/pkg/errcode"
	"github.com/xxxsen/docask/internal/pkg/response"
	"github.com/xxxsen/docask/internal/service"
)

type ChatHandler struct {
	chat *service.ChatService
}

func NewChatHandler(chat *service.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type askRequest struct {
	SpaceID        string `json:"space_id"`
	ConversationID string `json:"conversation_id"`
	Question       string `json:"question"`
}

func (h *ChatHandler) Ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	result, err := h.chat.Ask(c.Request.Context(), getUserID(c), service.AskInput{
		SpaceID:        req.SpaceID,
		ConversationID: req.ConversationID,
		Question:       req.Question,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}

func (h *ChatHandler) ListConversations(c *gin.Context) {
	spaceID := c.Query("space_id")
	if spaceID == "" {
		response.Error(c, errcode.ErrInvalid, "space_id is required")
		return
	}
	limit, offset := parsePage(c)
	convs, err := h.chat.ListConversations(c.Request.Context(), getUserID(c), spaceID, limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"conversations": convs})
}

func (h *ChatHandler) ListMessages(c *gin.Context) {
	msgs, err := h.chat.ListMessages(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"messages": msgs})
}

func (h *ChatHandler) GetMessage(c *gin.Context) {
	msg, citations, err := h.chat.GetMessage(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"message": msg, "citations": citations})
}
