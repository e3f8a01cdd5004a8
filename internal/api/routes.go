package api

import (
	"github.com/RishiKendai/codetrace/internal/config"
	"github.com/RishiKendai/codetrace/internal/metrics"
	"github.com/RishiKendai/codetrace/internal/submission"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(
	cfg *config.Config,
	service AnalysisService,
	queue submission.Queue,
) *gin.Engine {
	router := gin.New()

	handler := NewHandler(cfg, service, queue)
	rateLimiter := NewRateLimiter(cfg.RateLimitRPS, int(cfg.RateLimitRPS*2))

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(metrics.GinMiddleware())
	router.Use(ErrorHandlerMiddleware())

	// Health endpoint (no auth)
	router.GET("/health", handler.Health)

	api := router.Group("/api/v1")
	if cfg.JWTSecret != "" {
		api.Use(JWTAuthMiddleware(cfg.JWTSecret, cfg.JWTIssuer))
	}
	api.Use(RateLimitMiddleware(rateLimiter))
	{
		api.POST("/check", handler.Check)
		api.POST("/upload", handler.Upload)

		api.POST("/submissions", handler.Submit)
		api.GET("/submissions", handler.ListSubmissions)
		api.GET("/submissions/:id", handler.GetReport)
		api.GET("/submissions/:id/status", handler.GetStatus)
	}

	return router
}
