package services

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/irfndi/crypto-insight-go/internal/cache"
	"github.com/irfndi/crypto-insight-go/internal/models"
	"github.com/irfndi/crypto-insight-go/internal/utils"
)

// InvalidateAll is the query that clears every cache region.
const InvalidateAll = "all"

// Chart range limits in days.
const (
	MinChartDays = 1
	MaxChartDays = 365
)

// Options tunes a single read.
type Options struct {
	// ForceRefresh skips the cache and stores the fresh result.
	ForceRefresh bool
}

// MarketDataService is the entry point for market data reads. It resolves
// queries, serves from cache and coalesces concurrent misses into one
// aggregation per asset.
type MarketDataService struct {
	resolver   *Resolver
	aggregator *Aggregator
	limiter    *RateLimiter
	store      *cache.Store
	logger     *logrus.Logger

	marketGroup singleflight.Group
	chartGroup  singleflight.Group
}

// NewMarketDataService wires the service.
func NewMarketDataService(resolver *Resolver, aggregator *Aggregator, limiter *RateLimiter, store *cache.Store, logger *logrus.Logger) *MarketDataService {
	if logger == nil {
		logger = logrus.New()
	}
	return &MarketDataService{
		resolver:   resolver,
		aggregator: aggregator,
		limiter:    limiter,
		store:      store,
		logger:     logger,
	}
}

// Resolve maps query to its canonical identity.
func (s *MarketDataService) Resolve(ctx context.Context, query string) (*models.CryptoIdentity, error) {
	return s.resolver.Resolve(ctx, query)
}

// GetMarketData returns merged market data for query. The only errors are
// validation and NotFoundError; provider trouble yields a degraded record.
func (s *MarketDataService) GetMarketData(ctx context.Context, query string, opts Options) (*models.MarketData, error) {
	identity, err := s.resolver.Resolve(ctx, query)
	if err != nil {
		return nil, err
	}
	key := identity.CacheKey()

	if !opts.ForceRefresh {
		if md, ok := s.store.Market.Get(ctx, key); ok && md != nil {
			return md.Clone(), nil
		}
	}

	v, _, shared := s.marketGroup.Do(flightKey(key, opts), func() (interface{}, error) {
		if !opts.ForceRefresh {
			if md, ok := s.store.Market.Get(ctx, key); ok && md != nil {
				return md, nil
			}
		}
		start := time.Now()
		md, aggErr := s.aggregator.Aggregate(context.WithoutCancel(ctx), identity)

		log := s.logger.WithFields(logrus.Fields{
			"symbol":      identity.Symbol,
			"degraded":    md.Degraded,
			"sources":     md.Providers,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if aggErr != nil {
			log = log.WithError(aggErr)
		}
		// Degraded records are never cached so recovery is seen on the next read.
		if !md.Degraded {
			s.store.Market.Put(ctx, key, md.Clone())
		}
		log.Debug("Fetched market data")
		return md, nil
	})
	if shared {
		s.logger.WithField("symbol", identity.Symbol).Debug("Joined in-flight aggregation")
	}
	return v.(*models.MarketData).Clone(), nil
}

// GetChartData returns a daily price series covering days for query. The
// series is empty when no chart provider could answer.
func (s *MarketDataService) GetChartData(ctx context.Context, query string, days int, opts Options) ([]models.ChartPoint, error) {
	if days < MinChartDays || days > MaxChartDays {
		return nil, utils.NewValidationErrorf("days must be between %d and %d, got %d", MinChartDays, MaxChartDays, days)
	}
	identity, err := s.resolver.Resolve(ctx, query)
	if err != nil {
		return nil, err
	}
	key := cache.ChartKey(identity.CacheKey(), days)

	if !opts.ForceRefresh {
		if series, ok := s.store.Chart.Get(ctx, key); ok {
			return cloneSeries(series), nil
		}
	}

	v, _, _ := s.chartGroup.Do(flightKey(key, opts), func() (interface{}, error) {
		series, aggErr := s.aggregator.AggregateChart(context.WithoutCancel(ctx), identity, days)
		if aggErr != nil {
			s.logger.WithFields(logrus.Fields{
				"symbol": identity.Symbol,
				"days":   days,
			}).WithError(aggErr).Debug("Chart aggregation degraded")
		}
		if len(series) > 0 {
			s.store.Chart.Put(ctx, key, cloneSeries(series))
		}
		return series, nil
	})
	return cloneSeries(v.([]models.ChartPoint)), nil
}

// InvalidateCache drops cached data for query, or every region for "all".
// Identity mappings survive a per-asset invalidation.
func (s *MarketDataService) InvalidateCache(ctx context.Context, query string) error {
	key := NormalizeQuery(query)
	if key == "" {
		return utils.NewValidationError("query must not be empty")
	}
	if key == InvalidateAll {
		s.store.Clear(ctx)
		return nil
	}

	assetKey := key
	if identity, ok := s.resolver.Cached(ctx, key); ok {
		assetKey = identity.CacheKey()
	}
	s.store.InvalidateAsset(ctx, assetKey)
	return nil
}

// Refresh invalidates query and fetches it again from the providers.
func (s *MarketDataService) Refresh(ctx context.Context, query string) (*models.MarketData, error) {
	if strings.EqualFold(strings.TrimSpace(query), InvalidateAll) {
		return nil, utils.NewValidationError("cannot refresh all assets at once")
	}
	if err := s.InvalidateCache(ctx, query); err != nil {
		return nil, err
	}
	return s.GetMarketData(ctx, query, Options{ForceRefresh: true})
}

// GetRateLimitStatus returns the quota and breaker state of every provider.
func (s *MarketDataService) GetRateLimitStatus() map[string]models.RateLimitStatus {
	return s.limiter.Status()
}

// CacheStats returns a snapshot of every cache region.
func (s *MarketDataService) CacheStats() []cache.RegionStats {
	return s.store.Stats()
}

// flightKey keeps forced reads out of flights that may answer from cache.
func flightKey(key string, opts Options) string {
	if opts.ForceRefresh {
		return "refresh:" + key
	}
	return key
}

func cloneSeries(series []models.ChartPoint) []models.ChartPoint {
	out := make([]models.ChartPoint, len(series))
	copy(out, series)
	return out
}
