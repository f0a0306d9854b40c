// internal/routes/routes.go
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"spark-service/internal/config"
	"spark-service/internal/handler"
	"spark-service/internal/middleware"
	"spark-service/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config    *config.Config
	logger    *zap.Logger
	state     handler.StatusController
	blocks    handler.BlockReader
	scanners  handler.DeviceScanner
	websocket *handler.WebSocketHandler
}

// NewRouter creates a new router instance
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	state handler.StatusController,
	blocks handler.BlockReader,
	scanners handler.DeviceScanner,
	websocket *handler.WebSocketHandler,
) *Router {
	return &Router{
		config:    config,
		logger:    logger,
		state:     state,
		blocks:    blocks,
		scanners:  scanners,
		websocket: websocket,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger, "/live", "/ready"))

	router.Use(middleware.CORSMiddleware(r.config.Server.AllowedOrigins))
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	handler.NewHealthHandler(r.state, r.config, r.logger).RegisterRoutes(router)

	apiV1 := router.Group("/api/v1")
	handler.NewStatusHandler(r.state, r.logger).RegisterRoutes(apiV1)
	handler.NewBlockHandler(r.blocks, r.state, r.logger).RegisterRoutes(apiV1)
	handler.NewDiscoveryHandler(r.scanners, r.logger).RegisterRoutes(apiV1)

	if r.websocket != nil {
		r.websocket.RegisterRoutes(router.Group("/ws"))
		apiV1.GET("/ws/stats", func(c *gin.Context) {
			utils.SuccessResponse(c, http.StatusOK, "Connection stats retrieved", r.websocket.GetConnectionStats())
		})
	}

	router.NoRoute(func(c *gin.Context) {
		utils.ErrorResponse(c, http.StatusNotFound, "Route not found", nil)
	})
}
