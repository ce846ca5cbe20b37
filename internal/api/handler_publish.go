package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"vendorflow-backend/internal/transport/mqtt"
)

type publishRequest struct {
	Topic   string         `json:"topic"`
	Message map[string]any `json:"message"`
}

// PostPublish handles POST /api/mqtt/publish.
func (h *Handler) PostPublish(c *gin.Context) {
	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "message must be a JSON object"})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if req.Topic == "" || req.Message == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "topic and message are required"})
		return
	}

	if err := h.publisher.Publish(c.Request.Context(), req.Topic, req.Message); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":  "Failed to publish MQTT message",
			"detail": publishDetail(err),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"topic":     req.Topic,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// publishDetail is the human-readable cause of a failed publish.
func publishDetail(err error) string {
	var pubErr *mqtt.PublishError
	if errors.As(err, &pubErr) {
		return pubErr.Err.Error()
	}
	return err.Error()
}
