package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/crypto-insight-go/internal/config"
	"github.com/irfndi/crypto-insight-go/internal/models"
	"github.com/irfndi/crypto-insight-go/internal/utils"
)

// Region names.
const (
	RegionIdentity = "identity"
	RegionMarket   = "market"
	RegionChart    = "chart"
	RegionAnswers  = "answers"
)

// Store groups the cache regions the services use. Each region is
// independent; clearing one never touches another.
type Store struct {
	Identity *Region[*models.CryptoIdentity]
	Market   *Region[*models.MarketData]
	Chart    *Region[[]models.ChartPoint]
	Answers  *Region[*models.AIAnswer]

	logger *logrus.Logger
}

// NewStore builds all regions from configuration. tier and observer may be nil.
func NewStore(cfg config.CacheConfig, clock utils.Clock, tier *RedisTier, observer Observer, logger *logrus.Logger) *Store {
	region := func(name string, ttl time.Duration, size int) RegionConfig {
		return RegionConfig{Name: name, TTL: ttl, Capacity: size, MinRetention: cfg.MinRetention}
	}

	// Identities are never evicted, only invalidated.
	identity := region(RegionIdentity, cfg.IdentityTTL, 0)
	identity.NoEviction = true

	return &Store{
		Identity: NewRegion[*models.CryptoIdentity](identity, clock, tier, observer),
		Market:   NewRegion[*models.MarketData](region(RegionMarket, cfg.MarketTTL, cfg.MarketSize), clock, tier, observer),
		Chart:    NewRegion[[]models.ChartPoint](region(RegionChart, cfg.ChartTTL, cfg.ChartSize), clock, tier, observer),
		Answers:  NewRegion[*models.AIAnswer](region(RegionAnswers, cfg.AnswerTTL, cfg.MarketSize), clock, tier, observer),
		logger:   logger,
	}
}

// ChartKey is the chart region key for an asset and day range.
func ChartKey(assetKey string, days int) string {
	return fmt.Sprintf("%s:%d", assetKey, days)
}

// InvalidateAsset drops the market, chart and answer entries of one asset.
// The identity mapping is kept.
func (s *Store) InvalidateAsset(ctx context.Context, assetKey string) {
	assetKey = strings.ToLower(assetKey)
	s.Market.Invalidate(ctx, assetKey)
	s.Chart.InvalidatePrefix(ctx, assetKey+":")
	s.Answers.InvalidatePrefix(ctx, assetKey+":")

	s.logger.WithField("asset", assetKey).Info("Invalidated cached asset data")
}

// Clear empties every region.
func (s *Store) Clear(ctx context.Context) {
	s.Identity.Clear(ctx)
	s.Market.Clear(ctx)
	s.Chart.Clear(ctx)
	s.Answers.Clear(ctx)

	s.logger.Info("Cleared all cache regions")
}

// Sweep removes expired entries from every region.
func (s *Store) Sweep() int {
	removed := s.Identity.Sweep() + s.Market.Sweep() + s.Chart.Sweep() + s.Answers.Sweep()
	if removed > 0 {
		s.logger.WithField("removed", removed).Debug("Cache sweep removed expired entries")
	}
	return removed
}

// StartSweeper sweeps every region every interval until ctx is cancelled.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	startSweeper(ctx, interval, s.Sweep)
}

// Stats returns a snapshot of every region.
func (s *Store) Stats() []RegionStats {
	return []RegionStats{
		s.Identity.Stats(),
		s.Market.Stats(),
		s.Chart.Stats(),
		s.Answers.Stats(),
	}
}
