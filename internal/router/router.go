package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/stemsi/mocktest-backend/internal/config"
	"github.com/stemsi/mocktest-backend/internal/handler"
	"github.com/stemsi/mocktest-backend/internal/middleware"
	"github.com/stemsi/mocktest-backend/internal/response"
	"github.com/stemsi/mocktest-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Test   *handler.TestHandler
	WS     *handler.WSHandler
	Health *handler.HealthHandler
}

// Limiters groups the rate limiters applied per route group.
type Limiters struct {
	API   *middleware.RateLimiter
	Mount *middleware.RateLimiter
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	limiters *Limiters,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	router.GET("/health", handlers.Health.Live)
	router.GET("/health/ready", handlers.Health.Ready)

	// ─── 1. Test Group (Public, Rate Limited) ──────────────────────────
	tests := router.Group("/api/v1/tests")
	tests.Use(limiters.API.Middleware())
	{
		tests.GET("/:slug", handlers.Test.GetOverview)
		tests.GET("/:slug/result", middleware.RequireParticipantJWT(authService), handlers.Test.GetMyResult)
	}

	// ─── 2. WebSocket Group (Participant WS Auth) ──────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(limiters.Mount.Middleware(), middleware.RequireParticipantWSAuth(authService))
	{
		ws.GET("/tests/:slug/session", handlers.WS.SessionStream)
	}

	return router
}
