package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Healthz handles GET /api/healthz. It answers 503 when the database is
// unreachable or the broker connection is down.
func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := gin.H{"database": "ok", "mqtt": "connected"}

	if err := h.store.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		body["database"] = err.Error()
	}
	if h.transport == nil || !h.transport.IsConnected() {
		status = http.StatusServiceUnavailable
		body["mqtt"] = "disconnected"
	}

	body["status"] = "ok"
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}
