package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/quarryai/quarry/internal/middleware"
)

type RouterDeps struct {
	Auth      *AuthHandler
	Documents *DocumentHandler
	Ingest    *IngestHandler
	Chat      *ChatHandler
	JWTSecret []byte
	RateRPS   int
	RateBurst int
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.POST("/auth/tenants", deps.Auth.RegisterTenant)
	api.POST("/auth/register", deps.Auth.Register)
	api.POST("/auth/login", deps.Auth.Login)

	authGroup := api.Group("")
	authGroup.Use(middleware.JWTAuth(deps.JWTSecret))
	if deps.RateRPS > 0 {
		authGroup.Use(middleware.RateLimit(deps.RateRPS, deps.RateBurst))
	}

	authGroup.POST("/documents", deps.Documents.Create)
	authGroup.GET("/documents", deps.Documents.List)
	authGroup.GET("/documents/:id", deps.Documents.Get)
	authGroup.PUT("/documents/:id", deps.Documents.Update)
	authGroup.DELETE("/documents/:id", deps.Documents.Delete)
	authGroup.GET("/documents/:id/versions", deps.Documents.ListVersions)

	authGroup.POST("/documents/:id/upload", deps.Ingest.Upload)
	authGroup.GET("/documents/:id/jobs", deps.Ingest.ListJobs)
	authGroup.GET("/jobs/:job_id", deps.Ingest.GetJob)
	authGroup.POST("/jobs/:job_id/cancel", deps.Ingest.CancelJob)

	authGroup.POST("/chat/ask", deps.Chat.Ask)
	authGroup.POST("/chat/ask/stream", deps.Chat.AskStream)
	authGroup.POST("/conversations", deps.Chat.CreateConversation)
	authGroup.GET("/conversations", deps.Chat.ListConversations)
	authGroup.GET("/conversations/:id", deps.Chat.GetConversation)
	authGroup.GET("/conversations/:id/messages", deps.Chat.ListMessages)
	authGroup.POST("/conversations/:id/archive", deps.Chat.ArchiveConversation)
}
