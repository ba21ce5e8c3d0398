package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kevinhust/CAA900-sub003/internal/cache"
	"github.com/kevinhust/CAA900-sub003/internal/execution"
)

// HealthHandler reports liveness together with the shared cache's counters.
type HealthHandler struct {
	Cache *cache.Layer
}

func NewHealthHandler(layer *cache.Layer) *HealthHandler {
	return &HealthHandler{Cache: layer}
}

// Check answers 503 when the cache backend cannot be reached.
func (h *HealthHandler) Check(c *gin.Context) {
	stats := h.Cache.Stats()
	body := gin.H{
		"status": "ok",
		"cache": gin.H{
			"stats":   stats,
			"hitRate": stats.HitRate(),
		},
	}

	entries, err := h.Cache.Len(c.Request.Context())
	if err != nil {
		body["status"] = "degraded"
		body["error"] = execution.CallerMessage(err)
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	body["cache"].(gin.H)["entries"] = entries
	c.JSON(http.StatusOK, body)
}
