// internal/handler/block_handler.go
package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"spark-service/internal/model"
	"spark-service/internal/utils"
)

// BlockReader reads blocks from the controller
type BlockReader interface {
	Noop(ctx context.Context) error
	ReadBlock(ctx context.Context, ident model.FirmwareBlockIdentity, mode model.ReadMode) (model.FirmwareBlock, error)
	ReadAllBlocks(ctx context.Context, mode model.ReadMode) ([]model.FirmwareBlock, error)
	ReadStoredBlock(ctx context.Context, ident model.FirmwareBlockIdentity) (model.FirmwareBlock, error)
	ReadAllStoredBlocks(ctx context.Context) ([]model.FirmwareBlock, error)
	DiscoverBlocks(ctx context.Context) ([]model.FirmwareBlock, error)
}

// BlockHandler handles read-only block requests
type BlockHandler struct {
	blocks BlockReader
	status StatusSource
	logger *utils.ServiceLogger
}

// NewBlockHandler creates a new block handler
func NewBlockHandler(blocks BlockReader, status StatusSource, logger *zap.Logger) *BlockHandler {
	return &BlockHandler{
		blocks: blocks,
		status: status,
		logger: utils.NewServiceLogger(logger, "block-handler"),
	}
}

// RegisterRoutes registers block routes
func (h *BlockHandler) RegisterRoutes(router gin.IRouter) {
	blocks := router.Group("", h.RejectWhileUpdating)
	blocks.POST("/noop", h.Noop)
	blocks.GET("/blocks", h.ListBlocks)
	blocks.GET("/blocks/:nid", h.GetBlock)
	blocks.POST("/blocks/discover", h.DiscoverBlocks)
}

// RejectWhileUpdating refuses block requests while the controller is being flashed
func (h *BlockHandler) RejectWhileUpdating(c *gin.Context) {
	if h.status.Desc().ConnectionStatus == model.ConnectionStatusUpdating {
		h.fail(c, "Firmware update in progress", model.ErrUpdateInProgress)
		c.Abort()
		return
	}
	c.Next()
}

// Noop sends an empty request to the controller
func (h *BlockHandler) Noop(c *gin.Context) {
	if err := h.blocks.Noop(c.Request.Context()); err != nil {
		h.fail(c, "Noop failed", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Controller responded", nil)
}

// ListBlocks reads all blocks. ?stored=true reads persisted data.
func (h *BlockHandler) ListBlocks(c *gin.Context) {
	var blocks []model.FirmwareBlock
	var err error

	if c.Query("stored") == "true" {
		blocks, err = h.blocks.ReadAllStoredBlocks(c.Request.Context())
	} else {
		blocks, err = h.blocks.ReadAllBlocks(c.Request.Context(), model.ReadModeDefault)
	}
	if err != nil {
		h.fail(c, "Failed to read blocks", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Blocks retrieved", gin.H{
		"count":  len(blocks),
		"blocks": blocks,
	})
}

// GetBlock reads a single block by numeric id
func (h *BlockHandler) GetBlock(c *gin.Context) {
	nid, err := strconv.ParseUint(c.Param("nid"), 10, 16)
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid block id", err)
		return
	}

	ident := model.FirmwareBlockIdentity{NID: uint16(nid)}

	var block model.FirmwareBlock
	if c.Query("stored") == "true" {
		block, err = h.blocks.ReadStoredBlock(c.Request.Context(), ident)
	} else {
		block, err = h.blocks.ReadBlock(c.Request.Context(), ident, model.ReadModeDefault)
	}
	if err != nil {
		h.fail(c, "Failed to read block", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Block retrieved", block)
}

// DiscoverBlocks asks the controller for newly discovered blocks
func (h *BlockHandler) DiscoverBlocks(c *gin.Context) {
	blocks, err := h.blocks.DiscoverBlocks(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to discover blocks", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Blocks discovered", gin.H{
		"count":  len(blocks),
		"blocks": blocks,
	})
}

func (h *BlockHandler) fail(c *gin.Context, message string, err error) {
	status := utils.StatusCodeFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		h.logger.Error(message, zap.Error(err))
	}
	utils.ErrorResponse(c, status, message, err)
}
