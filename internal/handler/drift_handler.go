package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sharedvolume/drift-detector/internal/logging"
	"github.com/sharedvolume/drift-detector/internal/models"
	"github.com/sharedvolume/drift-detector/internal/service"
	"github.com/sharedvolume/drift-detector/pkg/errors"
)

// DriftHandler handles drift-related HTTP requests
type DriftHandler struct {
	driftService *service.DriftService
	logger       *zap.Logger
}

// NewDriftHandler creates a new drift handler
func NewDriftHandler(driftService *service.DriftService, logger *zap.Logger) *DriftHandler {
	return &DriftHandler{
		driftService: driftService,
		logger:       logging.OrNop(logger).Named("handler"),
	}
}

// HealthCheck handles health check requests
func (h *DriftHandler) HealthCheck(c *gin.Context) {
	h.logger.Debug("health check requested", zap.String("client", c.ClientIP()))
	c.JSON(http.StatusOK, models.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	})
}

// Drift runs a drift check and returns its report
func (h *DriftHandler) Drift(c *gin.Context) {
	var request models.DriftRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.logger.Warn("invalid drift request", zap.String("client", c.ClientIP()), zap.Error(err))
		h.fail(c, http.StatusBadRequest, "invalid request format", err)
		return
	}

	h.logger.Info("drift check requested",
		zap.String("client", c.ClientIP()),
		zap.String("project", request.Project.ID),
		zap.Int("mappings", len(request.Project.Mappings)),
		zap.Int("hosts", len(request.Hosts)))

	rep, err := h.driftService.Check(c.Request.Context(), &request)
	if err != nil {
		switch {
		case errors.IsType(err, errors.ErrTypeBusy):
			h.logger.Warn("drift check rejected", zap.String("project", request.Project.ID))
			c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{
				Status:    "busy",
				Error:     "drift check in progress already",
				Details:   err.Error(),
				Timestamp: time.Now().UTC(),
			})
		case errors.IsType(err, errors.ErrTypeValidation):
			h.fail(c, http.StatusBadRequest, "invalid request", err)
		default:
			h.logger.Error("drift check failed", zap.String("project", request.Project.ID), zap.Error(err))
			h.fail(c, http.StatusInternalServerError, "drift check failed", err)
		}
		return
	}

	c.JSON(http.StatusOK, rep)
}

// FileContent returns the head of one remote file
func (h *DriftHandler) FileContent(c *gin.Context) {
	var request models.FileContentRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.fail(c, http.StatusBadRequest, "invalid request format", err)
		return
	}

	h.logger.Info("file content requested",
		zap.String("client", c.ClientIP()),
		zap.String("host", request.Host.ID),
		zap.String("path", request.Path))

	resp, err := h.driftService.FileContent(c.Request.Context(), &request)
	if err != nil {
		status := http.StatusBadGateway
		if errors.IsType(err, errors.ErrTypeValidation) {
			status = http.StatusBadRequest
		}
		h.logger.Warn("file content failed", zap.String("host", request.Host.ID), zap.Error(err))
		h.fail(c, status, "file content unavailable", err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *DriftHandler) fail(c *gin.Context, status int, msg string, err error) {
	c.JSON(status, models.ErrorResponse{
		Status:    "error",
		Error:     msg,
		Details:   err.Error(),
		Timestamp: time.Now().UTC(),
	})
}
