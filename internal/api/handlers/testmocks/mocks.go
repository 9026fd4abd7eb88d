package testmocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/irfndi/crypto-insight-go/internal/cache"
	"github.com/irfndi/crypto-insight-go/internal/models"
	"github.com/irfndi/crypto-insight-go/internal/services"
)

// MockMarketDataService implements handlers.MarketDataService for testing
type MockMarketDataService struct {
	mock.Mock
}

func (m *MockMarketDataService) Resolve(ctx context.Context, query string) (*models.CryptoIdentity, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CryptoIdentity), args.Error(1)
}

func (m *MockMarketDataService) GetMarketData(ctx context.Context, query string, opts services.Options) (*models.MarketData, error) {
	args := m.Called(ctx, query, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MarketData), args.Error(1)
}

func (m *MockMarketDataService) GetChartData(ctx context.Context, query string, days int, opts services.Options) ([]models.ChartPoint, error) {
	args := m.Called(ctx, query, days, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ChartPoint), args.Error(1)
}

func (m *MockMarketDataService) InvalidateCache(ctx context.Context, query string) error {
	args := m.Called(ctx, query)
	return args.Error(0)
}

func (m *MockMarketDataService) Refresh(ctx context.Context, query string) (*models.MarketData, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MarketData), args.Error(1)
}

func (m *MockMarketDataService) GetRateLimitStatus() map[string]models.RateLimitStatus {
	args := m.Called()
	return args.Get(0).(map[string]models.RateLimitStatus)
}

func (m *MockMarketDataService) CacheStats() []cache.RegionStats {
	args := m.Called()
	return args.Get(0).([]cache.RegionStats)
}

// MockAIAssistant implements handlers.AIAssistant for testing
type MockAIAssistant struct {
	mock.Mock
}

func (m *MockAIAssistant) Ask(ctx context.Context, query, question string) (*models.AIAnswer, error) {
	args := m.Called(ctx, query, question)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AIAnswer), args.Error(1)
}

func (m *MockAIAssistant) Similar(ctx context.Context, query string, limit int) ([]models.SimilarCoin, error) {
	args := m.Called(ctx, query, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.SimilarCoin), args.Error(1)
}

// MockCacheAnalytics implements handlers.CacheAnalyticsInterface for testing
type MockCacheAnalytics struct {
	mock.Mock
}

func (m *MockCacheAnalytics) GetAllStats() map[string]cache.CacheStats {
	args := m.Called()
	return args.Get(0).(map[string]cache.CacheStats)
}

func (m *MockCacheAnalytics) GetMetrics(ctx context.Context) (*cache.CacheMetrics, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cache.CacheMetrics), args.Error(1)
}

func (m *MockCacheAnalytics) ResetStats() {
	m.Called()
}

// MockHealthChecker implements handlers.HealthChecker for testing
type MockHealthChecker struct {
	mock.Mock
}

func (m *MockHealthChecker) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
