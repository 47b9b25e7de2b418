package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docask/internal/pkg/errcode"
	"github.com/xxxsen/docask/internal/pkg/response"
	"github.com/xxxsen/docask/internal/service"
)

type SpaceHandler struct {
	spaces *service.SpaceService
}

func NewSpaceHandler(spaces *service.SpaceService) *SpaceHandler {
	return &SpaceHandler{spaces: spaces}
}

type createSpaceRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *SpaceHandler) Create(c *gin.Context) {
	var req createSpaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	space, err := h.spaces.Create(c.Request.Context(), getUserID(c), req.Name, req.Description)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, space)
}

func (h *SpaceHandler) List(c *gin.Context) {
	spaces, err := h.spaces.List(c.Request.Context(), getUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"spaces": spaces})
}

func (h *SpaceHandler) Get(c *gin.Context) {
	space, err := h.spaces.Get(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, space)
}
