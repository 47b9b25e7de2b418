package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docask/internal/middleware"
)

type RouterDeps struct {
	Spaces    *SpaceHandler
	Documents *DocumentHandler
	Chat      *ChatHandler
	JWTSecret []byte
	AskWindow time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	authGroup := api.Group("")
	authGroup.Use(middleware.JWTAuth(deps.JWTSecret))

	authGroup.POST("/spaces", deps.Spaces.Create)
	authGroup.GET("/spaces", deps.Spaces.List)
	authGroup.GET("/spaces/:id", deps.Spaces.Get)

	authGroup.POST("/documents", deps.Documents.Create)
	authGroup.GET("/documents", deps.Documents.List)
	authGroup.POST("/documents/sync", deps.Documents.Sync)
	authGroup.GET("/documents/:id", deps.Documents.Get)
	authGroup.GET("/documents/:id/file", deps.Documents.File)
	authGroup.POST("/documents/:id/reprocess", deps.Documents.Reprocess)
	authGroup.DELETE("/documents/:id", deps.Documents.Delete)

	askGroup := authGroup.Group("")
	askGroup.Use(middleware.RateLimit(deps.AskWindow))
	askGroup.POST("/ask", deps.Chat.Ask)

	authGroup.GET("/conversations", deps.Chat.ListConversations)
	authGroup.GET("/conversations/:id/messages", deps.Chat.ListMessages)
	authGroup.GET("/messages/:id", deps.Chat.GetMessage)
}
