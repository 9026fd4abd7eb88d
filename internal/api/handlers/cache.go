package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/crypto-insight-go/internal/cache"
)

// CacheAnalyticsInterface defines the interface for cache analytics operations
type CacheAnalyticsInterface interface {
	GetAllStats() map[string]cache.CacheStats
	GetMetrics(ctx context.Context) (*cache.CacheMetrics, error)
	ResetStats()
}

// CacheHandler handles cache invalidation and monitoring endpoints
type CacheHandler struct {
	market    MarketDataService
	analytics CacheAnalyticsInterface
}

func NewCacheHandler(market MarketDataService, analytics CacheAnalyticsInterface) *CacheHandler {
	return &CacheHandler{
		market:    market,
		analytics: analytics,
	}
}

// InvalidateCache drops cached data for one asset, or everything for "all".
// DELETE /api/v1/cache/:query
func (h *CacheHandler) InvalidateCache(c *gin.Context) {
	query := c.Param("query")
	if err := h.market.InvalidateCache(c.Request.Context(), query); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Cache invalidated",
		"query":   query,
	})
}

// GetCacheStats returns region sizes plus hit/miss ratios.
func (h *CacheHandler) GetCacheStats(c *gin.Context) {
	data := gin.H{"regions": h.market.CacheStats()}
	if h.analytics != nil {
		data["hit_rates"] = h.analytics.GetAllStats()
	}
	respondOK(c, data)
}

// GetCacheMetrics includes Redis memory and keyspace info when Redis is used.
func (h *CacheHandler) GetCacheMetrics(c *gin.Context) {
	if h.analytics == nil {
		respondOK(c, gin.H{"regions": h.market.CacheStats()})
		return
	}
	metrics, err := h.analytics.GetMetrics(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to get cache metrics: " + err.Error(),
		})
		return
	}
	metrics.Regions = h.market.CacheStats()
	respondOK(c, metrics)
}

// ResetCacheStats resets all cache statistics
func (h *CacheHandler) ResetCacheStats(c *gin.Context) {
	if h.analytics != nil {
		h.analytics.ResetStats()
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Cache statistics reset successfully",
	})
}
