// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"spark-service/internal/config"
	"spark-service/internal/model"
	"spark-service/internal/utils"
)

// StatusSource provides the current connection status
type StatusSource interface {
	Desc() model.StatusDescription
}

// HealthHandler handles health check requests
type HealthHandler struct {
	status    StatusSource
	config    *config.Config
	logger    *utils.ServiceLogger
	startedAt time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(status StatusSource, config *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		status:    status,
		config:    config,
		logger:    utils.NewServiceLogger(logger, "health-handler"),
		startedAt: time.Now(),
	}
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/health", h.HealthCheck)
	router.GET("/ready", h.ReadinessCheck)
	router.GET("/live", h.LivenessCheck)
}

// HealthCheck reports service health and the controller connection.
// A disconnected controller does not make the service unhealthy.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	desc := h.status.Desc()

	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startedAt).String(),
		Checks:    make(map[string]CheckResult),
	}

	health.Checks["controller"] = controllerCheck(desc)

	if desc.FirmwareError == model.FirmwareErrorIncompatible || desc.IdentityError == model.IdentityErrorIncompatible {
		health.Status = "degraded"
	}

	c.JSON(http.StatusOK, health)
}

func controllerCheck(desc model.StatusDescription) CheckResult {
	result := CheckResult{
		Status: string(desc.ConnectionStatus),
		Data: map[string]interface{}{
			"enabled": desc.Enabled,
		},
	}

	if desc.Address != "" {
		result.Data["address"] = desc.Address
		result.Data["kind"] = desc.ConnectionKind
	}

	switch {
	case desc.FirmwareError == model.FirmwareErrorIncompatible:
		result.Message = "Incompatible firmware"
	case desc.IdentityError == model.IdentityErrorIncompatible:
		result.Message = "Invalid device ID"
	case desc.ConnectionStatus == model.ConnectionStatusDisconnected:
		result.Message = "Controller not connected"
	}

	return result
}

// ReadinessCheck succeeds once the controller is synchronized
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	desc := h.status.Desc()
	if desc.ConnectionStatus != model.ConnectionStatusSynchronized {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": string(desc.ConnectionStatus),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// LivenessCheck succeeds whenever the service can respond
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
