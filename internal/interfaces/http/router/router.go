package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vritti/backend/internal/infrastructure/auth"
	"github.com/vritti/backend/internal/infrastructure/config"
	"github.com/vritti/backend/internal/infrastructure/logger"
	"github.com/vritti/backend/internal/interfaces/http/handler"
	"github.com/vritti/backend/internal/interfaces/http/middleware"
)

// Config holds everything the router wires together
type Config struct {
	Logger            *zap.Logger
	JWTService        *auth.JWTService
	HTTP              config.HTTPConfig
	SystemHandler     *handler.SystemHandler
	ConnectionHandler *handler.ConnectionHandler
	SyncHandler       *handler.SyncHandler
}

// Setup builds the gin engine with the full middleware chain and all routes.
// Health probes sit outside authentication; everything under /api/v1 requires
// a tenant-scoped bearer token.
func Setup(cfg Config) *gin.Engine {
	engine := gin.New()

	engine.Use(middleware.RequestID())
	engine.Use(logger.GinMiddleware(cfg.Logger))
	engine.Use(logger.Recovery(cfg.Logger))
	engine.Use(middleware.Secure())

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowOrigins = cfg.HTTP.AllowedOrigins
	engine.Use(middleware.CORSWithConfig(corsCfg))

	engine.GET("/health", cfg.SystemHandler.Health)
	engine.GET("/ready", cfg.SystemHandler.Ready)

	api := engine.Group("/api/v1")
	api.Use(middleware.JWTAuthMiddleware(cfg.JWTService))
	if cfg.HTTP.RateLimitEnabled {
		rl := middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)
		api.Use(middleware.RateLimit(rl))
	}

	connection := api.Group("/connection")
	{
		connection.POST("/authorize", cfg.ConnectionHandler.Authorize)
		connection.GET("/callback", cfg.ConnectionHandler.Callback)
		connection.GET("", cfg.ConnectionHandler.GetConnection)
		connection.DELETE("", cfg.ConnectionHandler.Revoke)
	}

	invoices := api.Group("/invoices")
	{
		invoices.POST("/:id/sync", cfg.SyncHandler.EnqueueSync)
		invoices.GET("/:id/sync", cfg.SyncHandler.GetStatus)
	}

	api.GET("/sync/failures", cfg.SyncHandler.ListFailures)

	return engine
}
