package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/crypto-insight-go/internal/api/handlers"
)

// Dependencies are the collaborators the routes are served by. Analytics,
// Redis and Metrics may be nil.
type Dependencies struct {
	Market    handlers.MarketDataService
	AI        handlers.AIAssistant
	Analytics handlers.CacheAnalyticsInterface
	Redis     handlers.HealthChecker
	Metrics   http.Handler
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler(deps.Redis, deps.Market)
	marketHandler := handlers.NewMarketHandler(deps.Market)
	cacheHandler := handlers.NewCacheHandler(deps.Market, deps.Analytics)
	aiHandler := handlers.NewAIHandler(deps.AI)

	router.GET("/health", healthHandler.HealthCheck)
	router.HEAD("/health", healthHandler.HealthCheck)
	router.GET("/live", healthHandler.LivenessCheck)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	v1 := router.Group("/api/v1")
	{
		crypto := v1.Group("/crypto")
		{
			crypto.GET("/:query", marketHandler.GetMarketData)
			crypto.GET("/:query/chart", marketHandler.GetChartData)
			crypto.GET("/:query/identity", marketHandler.GetIdentity)
			crypto.POST("/:query/refresh", marketHandler.Refresh)
		}

		cache := v1.Group("/cache")
		{
			cache.GET("/stats", cacheHandler.GetCacheStats)
			cache.GET("/metrics", cacheHandler.GetCacheMetrics)
			cache.POST("/stats/reset", cacheHandler.ResetCacheStats)
			cache.DELETE("/:query", cacheHandler.InvalidateCache)
		}

		v1.GET("/ratelimit/status", marketHandler.GetRateLimitStatus)

		ai := v1.Group("/ai")
		{
			ai.POST("/ask", aiHandler.Ask)
			ai.GET("/similar/:query", aiHandler.Similar)
		}
	}
}
