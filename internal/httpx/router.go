package httpx

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shopngo/fulfillment/internal/config"
)

// NewRouter builds the shared gin engine every service mounts its v1 routes
// on: logging, optional rate limiting, /healthz and /metrics.
func NewRouter(cfg *config.Config, log *zap.SugaredLogger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(log))
	if cfg.RateLimit.RPS > 0 {
		r.Use(RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": cfg.Service})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}
