// Package api exposes the status and metrics HTTP surface of a running
// harvest. It is read-only: the engine is driven by the CLI, not by HTTP.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mwirth/immoharvest/internal/api/handler"
	"github.com/mwirth/immoharvest/internal/api/middleware"
	"github.com/mwirth/immoharvest/internal/logger"
)

// SetupRouter configures the Gin router with all routes.
func SetupRouter(
	provider handler.SnapshotProvider,
	log *logger.Logger,
	runID string,
	mode string,
) *gin.Engine {
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(middleware.CORSConfig{AllowAllOrigins: true}))

	healthHandler := handler.NewHealthHandler()
	statusHandler := handler.NewStatusHandler(provider, runID)

	r.GET("/health", healthHandler.Health)
	r.GET("/status", statusHandler.Status)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
