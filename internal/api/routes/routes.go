package routes

import (
	"seevideo/automation/internal/api/handlers"
	"seevideo/automation/internal/api/middleware"
	"seevideo/automation/internal/config"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(cfg *config.Config, h *handlers.Handler) *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware())
	router.Use(gin.Recovery())

	router.GET("/metrics", handlers.Metrics())

	api := router.Group("/api")
	{
		// Health check
		api.GET("/health", h.HealthCheck)

		protected := api.Group("")
		protected.Use(middleware.AuthMiddleware(cfg.Auth))
		{
			// Jimeng video generation
			protected.POST("/generate", h.Generate)
			protected.GET("/get_asset_list", h.GetAssetList)
			protected.POST("/generation_failed", h.GenerationFailed)
			protected.GET("/generations/:generateId", h.GetGeneration)

			// AI Studio
			protected.POST("/build_app", h.BuildApp)

			protected.GET("/ws/progress", h.ProgressWebSocket)
		}
	}

	return router
}
