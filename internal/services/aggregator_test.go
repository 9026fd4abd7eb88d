package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/crypto-insight-go/internal/config"
	"github.com/irfndi/crypto-insight-go/internal/models"
	"github.com/irfndi/crypto-insight-go/internal/utils"
	"github.com/irfndi/crypto-insight-go/pkg/providers"
)

const (
	cg   = config.ProviderCoinGecko
	cmc  = config.ProviderCoinMarketCap
	cc   = config.ProviderCryptoCompare
	cpap = config.ProviderCoinPaprika
)

func TestAggregator_PartialFailureMergesDisjointFields(t *testing.T) {
	gecko := newStub(cg)
	gecko.marketFn = marketOK(cg, func(md *models.MarketData) {
		md.Price = models.Dec(65000)
	})
	capStub := newStub(cmc)
	capStub.marketFn = marketErr(cmc, 500)
	compare := newStub(cc)
	compare.marketFn = marketOK(cc, func(md *models.MarketData) {
		md.Price = models.Dec(64990)
		md.MarketCap = models.Dec(1.2e12)
	})

	agg, _ := newTestAggregator(nil, aggregatorConfig(), 0, gecko, capStub, compare)
	md, err := agg.Aggregate(context.Background(), identityFor("BTC", "Bitcoin", cg, cmc, cc))
	require.NoError(t, err)

	assert.False(t, md.Degraded)
	assert.True(t, md.Price.Decimal.Equal(decimal.NewFromInt(65000)))
	assert.True(t, md.MarketCap.Decimal.Equal(decimal.NewFromFloat(1.2e12)))
	assert.Equal(t, cg, md.Sources[models.FieldPrice])
	assert.Equal(t, cc, md.Sources[models.FieldMarketCap])
	assert.Equal(t, []string{cg, cc}, md.Providers)
	assert.False(t, md.Volume24h.Valid, "no provider reported volume")

	// 500 is transient: one retry.
	assert.Equal(t, int32(2), capStub.marketCalls.Load())
}

func TestAggregator_PrecedenceIgnoresArrivalOrder(t *testing.T) {
	gecko := newStub(cg)
	gecko.marketFn = func(ctx context.Context, identity *models.CryptoIdentity) models.ProviderResult[*models.MarketData] {
		time.Sleep(50 * time.Millisecond)
		return marketOK(cg, func(md *models.MarketData) { md.Price = models.Dec(100) })(ctx, identity)
	}
	paprika := newStub(cpap)
	paprika.marketFn = marketOK(cpap, func(md *models.MarketData) { md.Price = models.Dec(101) })

	// Priority order deliberately puts paprika first.
	agg, _ := newTestAggregator(nil, aggregatorConfig(), 0, paprika, gecko)
	md, err := agg.Aggregate(context.Background(), identityFor("ETH", "Ethereum", cg, cpap))
	require.NoError(t, err)

	assert.True(t, md.Price.Decimal.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, cg, md.Sources[models.FieldPrice])
	assert.Equal(t, []string{cg, cpap}, md.Providers)
}

func TestAggregator_TotalFailureReturnsDegradedFallback(t *testing.T) {
	gecko := newStub(cg)
	gecko.marketFn = marketErr(cg, 503)
	capStub := newStub(cmc)
	capStub.marketFn = marketErr(cmc, 401)

	agg, _ := newTestAggregator(nil, aggregatorConfig(), 0, gecko, capStub)
	md, err := agg.Aggregate(context.Background(), identityFor("BTC", "Bitcoin", cg, cmc))

	require.NotNil(t, md)
	assert.Error(t, err)
	assert.True(t, md.Degraded)
	assert.Equal(t, "BTC", md.Symbol)
	assert.Equal(t, "Bitcoin", md.Name)
	assert.True(t, md.Price.Valid)
	assert.True(t, md.Price.Decimal.IsZero())
	assert.True(t, md.PercentChange24h.Decimal.IsZero())
	assert.False(t, md.MarketCap.Valid)

	// 401 is final, 503 is retried once.
	assert.Equal(t, int32(1), capStub.marketCalls.Load())
	assert.Equal(t, int32(2), gecko.marketCalls.Load())
}

func TestAggregator_DeadlineDropsStragglers(t *testing.T) {
	slow := newStub(cg)
	slow.marketFn = func(context.Context, *models.CryptoIdentity) models.ProviderResult[*models.MarketData] {
		// Ignores cancellation on purpose to exercise the late-write guard.
		time.Sleep(300 * time.Millisecond)
		md := models.NewMarketData(cg)
		md.Price = models.Dec(1)
		return models.Success(cg, md)
	}
	fast := newStub(cc)
	fast.marketFn = marketOK(cc, func(md *models.MarketData) { md.Price = models.Dec(2) })

	cfg := aggregatorConfig()
	cfg.Deadline = 100 * time.Millisecond
	cfg.ProviderTimeout = time.Second
	agg, _ := newTestAggregator(nil, cfg, 0, slow, fast)

	start := time.Now()
	md, err := agg.Aggregate(context.Background(), identityFor("SOL", "Solana", cg, cc))
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Less(t, elapsed, 250*time.Millisecond)
	assert.Equal(t, []string{cc}, md.Providers)
	assert.True(t, md.Price.Decimal.Equal(decimal.NewFromInt(2)))

	// Let the straggler finish; its write must be discarded without a race.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, []string{cc}, md.Providers)
}

func TestAggregator_AllTimedOutReportsAggregationTimeout(t *testing.T) {
	slow := newStub(cg)
	slow.marketFn = func(ctx context.Context, identity *models.CryptoIdentity) models.ProviderResult[*models.MarketData] {
		<-ctx.Done()
		return models.Failure[*models.MarketData](cg, utils.NewProviderError(cg, 0, ctx.Err()), 0)
	}

	cfg := aggregatorConfig()
	cfg.Deadline = 50 * time.Millisecond
	cfg.ProviderTimeout = time.Second
	agg, _ := newTestAggregator(nil, cfg, 0, slow)

	md, err := agg.Aggregate(context.Background(), identityFor("DOGE", "Dogecoin", cg))
	var timeout *utils.AggregationTimeout
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, 1, timeout.Attempted)
	assert.True(t, md.Degraded)
	assert.Equal(t, "Dogecoin", md.Name)
}

func TestAggregator_RateLimitIsNotRetried(t *testing.T) {
	gecko := newStub(cg)
	gecko.marketFn = marketErr(cg, 429)

	agg, rl := newTestAggregator(nil, aggregatorConfig(), 0, gecko)
	md, _ := agg.Aggregate(context.Background(), identityFor("BTC", "Bitcoin", cg))

	assert.True(t, md.Degraded)
	assert.Equal(t, int32(1), gecko.marketCalls.Load())
	assert.Equal(t, models.CircuitOpen, rl.Breaker(cg).State())
}

func TestAggregator_OpenBreakerMakesNoCalls(t *testing.T) {
	clock := utils.NewManualClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	gecko := newStub(cg)
	gecko.marketFn = marketErr(cg, 500)

	cfg := aggregatorConfig()
	cfg.MaxRetries = 0
	agg, rl := newTestAggregator(clock, cfg, 0, gecko)
	identity := identityFor("BTC", "Bitcoin", cg)

	for i := 0; i < 5; i++ {
		_, _ = agg.Aggregate(context.Background(), identity)
	}
	require.Equal(t, int32(5), gecko.marketCalls.Load())
	require.Equal(t, models.CircuitOpen, rl.Breaker(cg).State())

	// Cooldown: rejected before any I/O.
	for i := 0; i < 3; i++ {
		md, _ := agg.Aggregate(context.Background(), identity)
		assert.True(t, md.Degraded)
	}
	assert.Equal(t, int32(5), gecko.marketCalls.Load())

	// After the cooldown a single trial goes through and succeeds.
	clock.Advance(2*time.Minute + time.Second)
	gecko.marketFn = marketOK(cg, func(md *models.MarketData) { md.Price = models.Dec(1) })
	md, err := agg.Aggregate(context.Background(), identity)
	require.NoError(t, err)
	assert.False(t, md.Degraded)
	assert.Equal(t, int32(6), gecko.marketCalls.Load())
	assert.Equal(t, models.CircuitClosed, rl.Breaker(cg).State())
}

func TestAggregator_SkipsProvidersWithoutID(t *testing.T) {
	gecko := newStub(cg)
	gecko.marketFn = marketOK(cg, func(md *models.MarketData) { md.Price = models.Dec(1) })
	capStub := newStub(cmc)
	capStub.marketFn = marketOK(cmc, nil)

	agg, _ := newTestAggregator(nil, aggregatorConfig(), 0, gecko, capStub)
	_, err := agg.Aggregate(context.Background(), identityFor("BTC", "Bitcoin", cg))
	require.NoError(t, err)
	assert.Equal(t, int32(0), capStub.marketCalls.Load())
}

func TestAggregator_FanOutBoundedBySemaphore(t *testing.T) {
	var inFlight, peak atomic.Int32
	slowOK := func(name string) *stubProvider {
		s := newStub(name)
		s.marketFn = func(ctx context.Context, identity *models.CryptoIdentity) models.ProviderResult[*models.MarketData] {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			return marketOK(name, nil)(ctx, identity)
		}
		return s
	}
	a, b, c := slowOK(cg), slowOK(cmc), slowOK(cc)

	agg, _ := newTestAggregator(nil, aggregatorConfig(), 1, a, b, c)
	md, err := agg.Aggregate(context.Background(), identityFor("ADA", "Cardano", cg, cmc, cc))
	require.NoError(t, err)

	assert.Len(t, md.Providers, 3)
	assert.Equal(t, int32(1), peak.Load())
}

func TestAggregator_ChartFirstSuccessWins(t *testing.T) {
	gecko := newStub(cg)
	gecko.chartFn = func(context.Context, *models.CryptoIdentity, int) models.ProviderResult[[]models.ChartPoint] {
		return models.Failure[[]models.ChartPoint](cg, utils.NewProviderError(cg, 404, errBoom), 404)
	}
	compare := newStub(cc)
	compare.chartFn = func(_ context.Context, _ *models.CryptoIdentity, days int) models.ProviderResult[[]models.ChartPoint] {
		points := make([]models.ChartPoint, days)
		for i := range points {
			points[i] = models.ChartPoint{Timestamp: time.Unix(int64(i)*86400, 0), Price: decimal.NewFromInt(int64(i))}
		}
		return models.Success(cc, points)
	}
	paprika := newStub(cpap)

	agg, _ := newTestAggregator(nil, aggregatorConfig(), 0, gecko, compare, paprika)
	series, err := agg.AggregateChart(context.Background(), identityFor("BTC", "Bitcoin", cg, cc, cpap), 7)
	require.NoError(t, err)

	assert.Len(t, series, 7)
	assert.Equal(t, int32(1), gecko.chartCalls.Load())
	assert.Equal(t, int32(0), paprika.chartCalls.Load())
}

func TestAggregator_ChartTotalFailureIsEmpty(t *testing.T) {
	gecko := newStub(cg)

	agg, _ := newTestAggregator(nil, aggregatorConfig(), 0, gecko)
	series, err := agg.AggregateChart(context.Background(), identityFor("BTC", "Bitcoin", cg), 30)

	assert.Error(t, err)
	assert.NotNil(t, series)
	assert.Empty(t, series)
}

func TestAggregator_SearchCollectsEveryProvider(t *testing.T) {
	gecko := newStub(cg)
	gecko.searchFn = candidates(cg, candidate(cg, "bitcoin", "Bitcoin", "BTC", 1))
	broken := newStub(cmc)
	broken.searchFn = func(context.Context, string) models.ProviderResult[[]providers.Candidate] {
		return models.Failure[[]providers.Candidate](cmc, utils.NewProviderError(cmc, 404, errBoom), 404)
	}

	agg, _ := newTestAggregator(nil, aggregatorConfig(), 0, gecko, broken)
	results := agg.Search(context.Background(), "bitcoin")

	require.Len(t, results, 2)
	assert.True(t, results[0].OK())
	assert.Equal(t, cg, results[0].Provider)
	assert.False(t, results[1].OK())
}
