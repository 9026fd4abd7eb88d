package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/crypto-insight-go/internal/cache"
	"github.com/irfndi/crypto-insight-go/internal/models"
	"github.com/irfndi/crypto-insight-go/internal/services"
	"github.com/irfndi/crypto-insight-go/internal/utils"
)

// DefaultChartDays is used when the days parameter is omitted.
const DefaultChartDays = 7

// MarketDataService is the subset of services.MarketDataService the API needs.
type MarketDataService interface {
	Resolve(ctx context.Context, query string) (*models.CryptoIdentity, error)
	GetMarketData(ctx context.Context, query string, opts services.Options) (*models.MarketData, error)
	GetChartData(ctx context.Context, query string, days int, opts services.Options) ([]models.ChartPoint, error)
	InvalidateCache(ctx context.Context, query string) error
	Refresh(ctx context.Context, query string) (*models.MarketData, error)
	GetRateLimitStatus() map[string]models.RateLimitStatus
	CacheStats() []cache.RegionStats
}

// MarketHandler serves market data, charts and identities.
type MarketHandler struct {
	market MarketDataService
}

func NewMarketHandler(market MarketDataService) *MarketHandler {
	return &MarketHandler{market: market}
}

func options(c *gin.Context) services.Options {
	refresh, _ := strconv.ParseBool(c.Query("refresh"))
	return services.Options{ForceRefresh: refresh}
}

// GetMarketData returns the merged snapshot for an asset.
// GET /api/v1/crypto/:query?refresh=true
func (h *MarketHandler) GetMarketData(c *gin.Context) {
	md, err := h.market.GetMarketData(c.Request.Context(), c.Param("query"), options(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, md)
}

// GetChartData returns the daily price series for an asset.
// GET /api/v1/crypto/:query/chart?days=30
func (h *MarketHandler) GetChartData(c *gin.Context) {
	days := DefaultChartDays
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondError(c, utils.NewValidationErrorf("days must be an integer, got %q", raw))
			return
		}
		days = parsed
	}

	series, err := h.market.GetChartData(c.Request.Context(), c.Param("query"), days, options(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    series,
		"days":    days,
		"points":  len(series),
	})
}

// GetIdentity returns the canonical identity a query resolves to.
func (h *MarketHandler) GetIdentity(c *gin.Context) {
	identity, err := h.market.Resolve(c.Request.Context(), c.Param("query"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, identity)
}

// Refresh invalidates an asset and fetches it again.
func (h *MarketHandler) Refresh(c *gin.Context) {
	md, err := h.market.Refresh(c.Request.Context(), c.Param("query"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, md)
}

// GetRateLimitStatus reports quota and breaker state per provider.
func (h *MarketHandler) GetRateLimitStatus(c *gin.Context) {
	respondOK(c, h.market.GetRateLimitStatus())
}
