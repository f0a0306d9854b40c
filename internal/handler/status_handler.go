// internal/handler/status_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"spark-service/internal/model"
	"spark-service/internal/utils"
)

// StatusController exposes and toggles the connection lifecycle
type StatusController interface {
	StatusSource
	SetEnabled(enabled bool)
}

// StatusHandler handles connection status requests
type StatusHandler struct {
	state  StatusController
	logger *utils.ServiceLogger
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(state StatusController, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{
		state:  state,
		logger: utils.NewServiceLogger(logger, "status-handler"),
	}
}

// RegisterRoutes registers status routes
func (h *StatusHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/status", h.GetStatus)
	router.PUT("/enabled", h.SetEnabled)
}

// GetStatus returns the current StatusDescription
func (h *StatusHandler) GetStatus(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Status retrieved", h.state.Desc())
}

// SetEnabled allows or prevents connecting to the controller.
// Disabling does not close an active connection.
func (h *StatusHandler) SetEnabled(c *gin.Context) {
	var req EnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	h.state.SetEnabled(*req.Enabled)
	h.logger.Info("Enabled flag changed", zap.Bool("enabled", *req.Enabled))

	utils.SuccessResponse(c, http.StatusOK, "Enabled flag updated", h.state.Desc())
}

// EnabledRequest toggles the enabled flag
type EnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// statusMessage wraps a status snapshot for the websocket stream
func statusMessage(desc model.StatusDescription) *WebSocketMessage {
	return newMessage(MessageTypeStatus, desc)
}
