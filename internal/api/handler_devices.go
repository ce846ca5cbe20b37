package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vendorflow-backend/internal/command"
	"vendorflow-backend/internal/model"
	"vendorflow-backend/internal/transport/mqtt"
)

// GetDevice handles GET /api/devices/:device_id, returning the device with
// its channels.
func (h *Handler) GetDevice(c *gin.Context) {
	device, err := h.store.FindDeviceWithChannels(c.Request.Context(), c.Param("device_id"))
	if err != nil {
		h.logger.Error("failed to load device", zap.String("device_id", c.Param("device_id")), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve device"})
		return
	}
	if device == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Device not found"})
		return
	}
	c.JSON(http.StatusOK, device)
}

type toggleRequest struct {
	State model.SwitchState `json:"state" binding:"required"`
}

// ToggleChannel handles POST /api/devices/:device_id/channels/:channel/toggle.
func (h *Handler) ToggleChannel(c *gin.Context) {
	channel, err := strconv.Atoi(c.Param("channel"))
	if err != nil || channel <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid channel number"})
		return
	}
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	err = h.commands.ToggleChannel(c.Request.Context(), c.Param("device_id"), channel, req.State)
	h.respondCommand(c, err)
}

type dispenseRequest struct {
	Amount *float64 `json:"amount" binding:"required"`
}

// Dispense handles POST /api/devices/:device_id/dispense.
func (h *Handler) Dispense(c *gin.Context) {
	var req dispenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	err := h.commands.Dispense(c.Request.Context(), c.Param("device_id"), *req.Amount)
	h.respondCommand(c, err)
}

type pumpRequest struct {
	Action string `json:"action" binding:"required"`
}

// SetPump handles POST /api/devices/:device_id/pump.
func (h *Handler) SetPump(c *gin.Context) {
	var req pumpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	err := h.commands.SetPump(c.Request.Context(), c.Param("device_id"), req.Action)
	h.respondCommand(c, err)
}

// respondCommand maps a command outcome to a response. A failed publish is
// a 502 so the UI can revert its optimistic state and warn the user.
func (h *Handler) respondCommand(c *gin.Context, err error) {
	if err == nil {
		c.JSON(http.StatusAccepted, gin.H{"success": true})
		return
	}

	var pubErr *mqtt.PublishError
	switch {
	case errors.As(err, &pubErr):
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
			"error":  "Command was not delivered to the device",
			"detail": pubErr.Err.Error(),
		})
	case errors.Is(err, command.ErrDeviceNotFound), errors.Is(err, command.ErrChannelNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, command.ErrInputChannel):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, command.ErrUnsupportedKind):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, command.ErrInvalidAmount), errors.Is(err, command.ErrInvalidState), errors.Is(err, command.ErrInvalidPumpState):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("command failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to send command"})
	}
}
