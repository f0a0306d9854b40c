// internal/handler/discovery_handler.go
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"spark-service/internal/discovery"
	"spark-service/internal/model"
	"spark-service/internal/utils"
)

const defaultScanTimeout = 10 * time.Second

// DeviceScanner lists reachable controllers
type DeviceScanner interface {
	ScanAll(ctx context.Context, method model.DiscoveryType, deviceID string) ([]*discovery.DiscoveredDevice, error)
	GetAvailableScanners() []model.DiscoveryType
}

// DiscoveryHandler handles controller discovery requests
type DiscoveryHandler struct {
	scanners DeviceScanner
	logger   *utils.ServiceLogger
}

// NewDiscoveryHandler creates a new discovery handler
func NewDiscoveryHandler(scanners DeviceScanner, logger *zap.Logger) *DiscoveryHandler {
	return &DiscoveryHandler{
		scanners: scanners,
		logger:   utils.NewServiceLogger(logger, "discovery-handler"),
	}
}

// RegisterRoutes registers discovery routes
func (h *DiscoveryHandler) RegisterRoutes(router gin.IRouter) {
	group := router.Group("/discovery")
	group.GET("/scan", h.ScanDevices)
	group.GET("/scanners", h.GetScanners)
}

// ScanDevices lists USB and mDNS controllers.
// Query: type (all, usb, mdns), device_id, timeout.
func (h *DiscoveryHandler) ScanDevices(c *gin.Context) {
	scanType, err := model.ParseDiscoveryType(c.DefaultQuery("type", string(model.DiscoveryAll)))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid scan type", err)
		return
	}

	timeout := defaultScanTimeout
	if raw := c.Query("timeout"); raw != "" {
		timeout, err = time.ParseDuration(raw)
		if err != nil || timeout <= 0 {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid timeout", err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	devices, err := h.scanners.ScanAll(ctx, scanType, c.Query("device_id"))
	if err != nil {
		h.logger.Error("Failed to scan devices", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to scan devices", err)
		return
	}
	if devices == nil {
		devices = []*discovery.DiscoveredDevice{}
	}

	utils.SuccessResponse(c, http.StatusOK, "Device scan completed", gin.H{
		"devices_found": len(devices),
		"devices":       devices,
	})
}

// GetScanners lists the discovery methods usable on this host
func (h *DiscoveryHandler) GetScanners(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Scanners retrieved", gin.H{
		"scanners": h.scanners.GetAvailableScanners(),
	})
}
