package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/crypto-insight-go/internal/config"
	"github.com/irfndi/crypto-insight-go/internal/telemetry"
)

// warmChartDays is the chart range preloaded alongside market data.
const warmChartDays = 7

var errDegraded = errors.New("market data degraded")

// WarmingReport summarises one warming run.
type WarmingReport struct {
	Warmed   []string      `json:"warmed"`
	Failed   []string      `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// CacheWarmingService preloads popular assets on startup and keeps them
// fresh on a schedule.
type CacheWarmingService struct {
	market      *MarketDataService
	config      config.WarmingConfig
	policy      RetryPolicy
	logger      *slog.Logger
	retryLogger *logrus.Logger
}

// NewCacheWarmingService creates a new cache warming service.
func NewCacheWarmingService(market *MarketDataService, cfg config.WarmingConfig, policy RetryPolicy, retryLogger *logrus.Logger) *CacheWarmingService {
	if retryLogger == nil {
		retryLogger = logrus.New()
	}
	return &CacheWarmingService{
		market:      market,
		config:      cfg,
		policy:      policy,
		logger:      telemetry.Logger(),
		retryLogger: retryLogger,
	}
}

// WarmCache fetches market data and a chart for every configured asset in
// turn, waiting the configured stagger between assets so providers are not
// hit in a burst. Failures are reported, not returned; only a cancelled ctx
// stops the run early.
func (c *CacheWarmingService) WarmCache(ctx context.Context) (*WarmingReport, error) {
	return c.run(ctx, "warm", func(ctx context.Context, asset string) error {
		if err := c.warmMarket(ctx, asset, Options{}); err != nil {
			return err
		}
		// The chart is best effort; an empty series is simply not cached.
		if _, err := c.market.GetChartData(ctx, asset, warmChartDays, Options{}); err != nil {
			c.logger.Debug("Chart warming skipped", "asset", asset, "error", err)
		}
		return nil
	})
}

// RefreshMarket re-fetches market data of every configured asset, bypassing
// the cache.
func (c *CacheWarmingService) RefreshMarket(ctx context.Context) (*WarmingReport, error) {
	return c.run(ctx, "refresh_market", func(ctx context.Context, asset string) error {
		return c.warmMarket(ctx, asset, Options{ForceRefresh: true})
	})
}

// RefreshCharts re-fetches the preloaded chart of every configured asset,
// bypassing the cache.
func (c *CacheWarmingService) RefreshCharts(ctx context.Context) (*WarmingReport, error) {
	return c.run(ctx, "refresh_chart", func(ctx context.Context, asset string) error {
		series, err := c.market.GetChartData(ctx, asset, warmChartDays, Options{ForceRefresh: true})
		if err != nil {
			return err
		}
		if len(series) == 0 {
			return errDegraded
		}
		return nil
	})
}

// Start warms the cache in the background and then refreshes it on the
// configured intervals until ctx is cancelled.
func (c *CacheWarmingService) Start(ctx context.Context) {
	if !c.config.Enabled || len(c.config.Assets) == 0 {
		return
	}
	go func() {
		if _, err := c.WarmCache(ctx); err != nil {
			c.logger.Info("Cache warming stopped", "error", err)
			return
		}
		c.refreshLoop(ctx)
	}()
}

func (c *CacheWarmingService) refreshLoop(ctx context.Context) {
	marketTick := tickerChan(c.config.RefreshInterval)
	chartTick := tickerChan(c.config.ChartRefreshInterval)
	if marketTick.c == nil && chartTick.c == nil {
		return
	}
	defer marketTick.stop()
	defer chartTick.stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			c.logger.Info("Scheduled cache refresh stopped")
			return
		case <-marketTick.c:
			_, err = c.RefreshMarket(ctx)
		case <-chartTick.c:
			_, err = c.RefreshCharts(ctx)
		}
		if err != nil && ctx.Err() != nil {
			return
		}
	}
}

func (c *CacheWarmingService) run(ctx context.Context, kind string, fetch func(ctx context.Context, asset string) error) (*WarmingReport, error) {
	report := &WarmingReport{}
	if !c.config.Enabled || len(c.config.Assets) == 0 {
		return report, nil
	}

	c.logger.Info("Starting cache warming", "kind", kind, "assets", len(c.config.Assets))
	start := time.Now()

	for i, asset := range c.config.Assets {
		if i > 0 {
			if err := sleepContext(ctx, c.config.Stagger); err != nil {
				report.Duration = time.Since(start)
				return report, err
			}
		}

		err := ExecuteWithRetry(ctx, c.retryLogger, kind+":"+asset, c.policy, func(ctx context.Context) error {
			return fetch(ctx, asset)
		})
		if err != nil {
			if ctx.Err() != nil {
				report.Duration = time.Since(start)
				return report, ctx.Err()
			}
			c.logger.Warn("Failed to warm asset", "kind", kind, "asset", asset, "error", err)
			report.Failed = append(report.Failed, asset)
			continue
		}
		report.Warmed = append(report.Warmed, asset)
	}

	report.Duration = time.Since(start)
	c.logger.Info("Cache warming completed",
		"kind", kind,
		"warmed", len(report.Warmed),
		"failed", len(report.Failed),
		"duration_ms", report.Duration.Milliseconds())
	return report, nil
}

func (c *CacheWarmingService) warmMarket(ctx context.Context, asset string, opts Options) error {
	md, err := c.market.GetMarketData(ctx, asset, opts)
	if err != nil {
		return err
	}
	if md.Degraded {
		return errDegraded
	}
	return nil
}

// optionalTicker is a ticker whose channel is nil when disabled, so a
// select on it never fires.
type optionalTicker struct {
	t *time.Ticker
	c <-chan time.Time
}

func tickerChan(interval time.Duration) optionalTicker {
	if interval <= 0 {
		return optionalTicker{}
	}
	t := time.NewTicker(interval)
	return optionalTicker{t: t, c: t.C}
}

func (o optionalTicker) stop() {
	if o.t != nil {
		o.t.Stop()
	}
}
