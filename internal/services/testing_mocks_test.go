package services

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/irfndi/crypto-insight-go/internal/config"
	"github.com/irfndi/crypto-insight-go/internal/models"
	"github.com/irfndi/crypto-insight-go/internal/utils"
	"github.com/irfndi/crypto-insight-go/pkg/providers"
)

// stubProvider is a providers.Provider driven by function fields. Every
// call is counted.
type stubProvider struct {
	name     string
	caps     providers.Capability
	searchFn func(ctx context.Context, query string) models.ProviderResult[[]providers.Candidate]
	marketFn func(ctx context.Context, identity *models.CryptoIdentity) models.ProviderResult[*models.MarketData]
	chartFn  func(ctx context.Context, identity *models.CryptoIdentity, days int) models.ProviderResult[[]models.ChartPoint]

	searchCalls atomic.Int32
	marketCalls atomic.Int32
	chartCalls  atomic.Int32
}

func newStub(name string) *stubProvider {
	return &stubProvider{name: name, caps: providers.CapSearch | providers.CapMarket | providers.CapChart}
}

func (s *stubProvider) Name() string                       { return s.name }
func (s *stubProvider) Capabilities() providers.Capability { return s.caps }

func (s *stubProvider) Search(ctx context.Context, query string) models.ProviderResult[[]providers.Candidate] {
	s.searchCalls.Add(1)
	if s.searchFn == nil {
		return models.Success[[]providers.Candidate](s.name, nil)
	}
	return s.searchFn(ctx, query)
}

func (s *stubProvider) FetchMarket(ctx context.Context, identity *models.CryptoIdentity) models.ProviderResult[*models.MarketData] {
	s.marketCalls.Add(1)
	if s.marketFn == nil {
		return models.Failure[*models.MarketData](s.name, utils.NewProviderError(s.name, 404, errBoom), 404)
	}
	return s.marketFn(ctx, identity)
}

func (s *stubProvider) FetchChart(ctx context.Context, identity *models.CryptoIdentity, days int) models.ProviderResult[[]models.ChartPoint] {
	s.chartCalls.Add(1)
	if s.chartFn == nil {
		return models.Failure[[]models.ChartPoint](s.name, utils.NewProviderError(s.name, 404, errBoom), 404)
	}
	return s.chartFn(ctx, identity, days)
}

// marketOK returns a marketFn producing a record with the given fields set.
func marketOK(name string, fill func(md *models.MarketData)) func(context.Context, *models.CryptoIdentity) models.ProviderResult[*models.MarketData] {
	return func(_ context.Context, identity *models.CryptoIdentity) models.ProviderResult[*models.MarketData] {
		md := models.NewMarketData(name)
		md.Symbol = identity.Symbol
		md.Name = identity.Name
		if fill != nil {
			fill(md)
		}
		return models.Success(name, md)
	}
}

var errBoom = errors.New("boom")

// marketErr returns a marketFn that always fails with status. 429 maps to
// an upstream rate limit, zero to a transport timeout.
func marketErr(name string, status int) func(context.Context, *models.CryptoIdentity) models.ProviderResult[*models.MarketData] {
	return func(context.Context, *models.CryptoIdentity) models.ProviderResult[*models.MarketData] {
		var err error
		switch status {
		case 429:
			err = &utils.RateLimitExceeded{Provider: name, Remote: true}
		case 0:
			err = utils.NewProviderError(name, 0, context.DeadlineExceeded)
		default:
			err = utils.NewProviderError(name, status, errBoom)
		}
		return models.Failure[*models.MarketData](name, err, status)
	}
}

// candidates returns a searchFn answering with one candidate per identity.
func candidates(name string, list ...providers.Candidate) func(context.Context, string) models.ProviderResult[[]providers.Candidate] {
	return func(context.Context, string) models.ProviderResult[[]providers.Candidate] {
		out := make([]providers.Candidate, 0, len(list))
		for _, c := range list {
			out = append(out, providers.Candidate{Identity: c.Identity.Clone(), Rank: c.Rank})
		}
		return models.Success(name, out)
	}
}

func candidate(provider, id, name, symbol string, rank int) providers.Candidate {
	identity := models.NewCryptoIdentity("", name, symbol)
	identity.SetProviderID(provider, id)
	return providers.Candidate{Identity: identity, Rank: rank}
}

// identityFor returns an identity every named provider knows.
func identityFor(symbol, name string, provs ...string) *models.CryptoIdentity {
	identity := models.NewCryptoIdentity(symbol, name, symbol)
	for _, p := range provs {
		identity.SetProviderID(p, symbol)
	}
	return identity
}

func aggregatorConfig() config.AggregatorConfig {
	return config.AggregatorConfig{
		ProviderTimeout:    500 * time.Millisecond,
		Deadline:           time.Second,
		MaxRetries:         1,
		RetryInitialDelay:  5 * time.Millisecond,
		RetryMaxDelay:      10 * time.Millisecond,
		RetryBackoffFactor: 2,
		Precedence: []string{
			config.ProviderCoinGecko, config.ProviderCoinMarketCap,
			config.ProviderCryptoCompare, config.ProviderCoinPaprika,
		},
	}
}

// newTestAggregator wires stubs through a real limiter with generous quotas.
func newTestAggregator(clock utils.Clock, cfg config.AggregatorConfig, fanOutLimit int, stubs ...*stubProvider) (*Aggregator, *RateLimiter) {
	limits := make(map[string]int, len(stubs))
	provs := make([]providers.Provider, 0, len(stubs))
	for _, s := range stubs {
		limits[s.name] = 1000
		provs = append(provs, s)
	}
	rl := NewRateLimiter(limiterConfig(limits), clock, quietLogger(), nil)
	agg := NewAggregator(provs, rl, NewFallbackProvider(clock), cfg, fanOutLimit, quietLogger(), nil)
	return agg, rl
}

// MockAIProvider implements AIProvider for testing within the services package
type MockAIProvider struct {
	mock.Mock
}

func (m *MockAIProvider) Generate(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}
