package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"vendorflow-backend/config"
	"vendorflow-backend/internal/mw"
)

const messagesPath = "/api/mqtt/messages"

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg config.ServerConfig, gatherer prometheus.Gatherer, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(mw.Logger(logger), gin.Recovery())

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	// The message feed changes with every inbound message, so it is only
	// cached for a few seconds and dropped whenever a message is posted.
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(ttl, 2*ttl+time.Minute)
	caching := mw.Cache(cacheStore, ttl)
	invalidate := mw.Invalidate(cacheStore, messagesPath)

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	api.GET("/healthz", h.Healthz)

	api.Use(rateLimiter)
	{
		api.GET("/mqtt/messages", caching, h.GetMessages)
		api.POST("/mqtt/messages", invalidate, h.PostMessage)
		api.POST("/mqtt/publish", h.PostPublish)

		api.GET("/devices/:device_id", h.GetDevice)
		api.POST("/devices/:device_id/channels/:channel/toggle", h.ToggleChannel)
		api.POST("/devices/:device_id/dispense", h.Dispense)
		api.POST("/devices/:device_id/pump", h.SetPump)
	}

	return r
}
