package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewRouter builds the checkout API: health and metrics endpoints, CORS for
// the storefront, and per-client rate limiting on the payment routes.
func NewRouter(cfg HandlerConfig) *gin.Engine {
	metrics := newServerMetrics("relove")

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.middleware())
	r.Use(corsMiddleware(cfg.Backend.CORSOrigins))

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", metrics.handler())

	RegisterCheckoutRoutes(r, cfg)
	return r
}
