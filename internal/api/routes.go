package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"memorial/internal/api/middleware"
	"memorial/internal/auth"
	"memorial/internal/content"
)

// Dependencies are the collaborators RegisterRoutes wires into handlers.
type Dependencies struct {
	Logger      *slog.Logger
	DB          *gorm.DB
	AuthService *auth.AuthService
	AuthRedis   authRedis
	BoardBus    BoardBus
	Content     *content.Service
	Pages       *SiteHandler
	Assets      *AssetHandler

	AllowedOrigins        []string
	LoginRateLimitPerHour int
	LoginLockThreshold    int
	LoginLockTTL          time.Duration
	CookieDomain          string
}

// RegisterRoutes mounts the public page and the /v1 API.
func RegisterRoutes(router *gin.Engine, deps Dependencies) {
	logger := deps.Logger
	authHandler := NewAuthHandler(deps.DB, deps.AuthService, deps.AuthRedis, logger,
		deps.LoginRateLimitPerHour, deps.LoginLockThreshold, deps.LoginLockTTL, deps.CookieDomain)
	var images imageKeyResolver
	if deps.Assets != nil && deps.Assets.Storage != nil {
		images = deps.Assets.Storage
	}
	contentHandler := NewContentHandler(deps.Content, deps.Content, images, deps.BoardBus, logger)
	wsHandler := NewWsHandler(deps.BoardBus, deps.Content, deps.AuthService, logger, deps.AllowedOrigins)
	authMiddleware := middleware.AuthMiddleware(deps.AuthService)

	router.GET("/", deps.Pages.Index)

	v1 := router.Group("/v1")
	{
		v1.GET("/site", deps.Pages.Page)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/logout", authMiddleware, authHandler.Logout)
			authGroup.POST("/password", authMiddleware, authHandler.ChangePassword)
		}

		// The board socket authenticates in its first frame.
		v1.GET("/admin/board/ws", wsHandler.HandleConnection)

		admin := v1.Group("/admin")
		admin.Use(authMiddleware, middleware.RequirePasswordChangeCompletedMiddleware())
		{
			admin.GET("/content", contentHandler.GetContent)
			admin.PUT("/history", contentHandler.UpsertHistory)
			admin.POST("/characters", contentHandler.CreateCharacter)
			admin.PUT("/characters/:id", contentHandler.UpdateCharacter)
			admin.DELETE("/characters/:id", contentHandler.DeleteCharacter)
			admin.PATCH("/characters/:id/position", contentHandler.UpdatePosition)
			admin.PATCH("/characters/:id/offset", contentHandler.UpdateOffset)
			admin.POST("/assets", deps.Assets.UploadAsset)
		}
	}
}
