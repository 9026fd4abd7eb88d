package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/irfndi/crypto-insight-go/internal/config"
	"github.com/irfndi/crypto-insight-go/internal/metrics"
	"github.com/irfndi/crypto-insight-go/internal/models"
	"github.com/irfndi/crypto-insight-go/internal/telemetry"
	"github.com/irfndi/crypto-insight-go/internal/utils"
	"github.com/irfndi/crypto-insight-go/pkg/providers"
)

// Aggregation kinds, used in logs, spans and metrics.
const (
	KindSearch = "search"
	KindMarket = "market"
	KindChart  = "chart"
)

// Aggregation results recorded in metrics.
const (
	resultComplete = "complete"
	resultPartial  = "partial"
	resultDegraded = "degraded"
)

var errNoProviders = errors.New("no provider can serve this asset")

// Aggregator fans requests out to every permitted provider and merges what
// comes back before the deadline.
type Aggregator struct {
	providers  []providers.Provider
	limiter    *RateLimiter
	fallback   *FallbackProvider
	cfg        config.AggregatorConfig
	retry      RetryPolicy
	precedence map[string]int
	sem        *semaphore.Weighted
	logger     *logrus.Logger
	metrics    *metrics.MetricsCollector
	tracer     *telemetry.BusinessTracer
}

// NewAggregator creates an aggregator over provs, which must be in priority
// order. fanOutLimit bounds the provider calls in flight across all
// aggregations; values below one default to twice the provider count.
func NewAggregator(provs []providers.Provider, limiter *RateLimiter, fallback *FallbackProvider, cfg config.AggregatorConfig, fanOutLimit int, logger *logrus.Logger, mc *metrics.MetricsCollector) *Aggregator {
	if logger == nil {
		logger = logrus.New()
	}
	if fallback == nil {
		fallback = NewFallbackProvider(nil)
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 3 * time.Second
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 8 * time.Second
	}
	if fanOutLimit < 1 {
		fanOutLimit = 2 * len(provs)
		if fanOutLimit < 1 {
			fanOutLimit = 1
		}
	}

	precedence := make(map[string]int, len(cfg.Precedence))
	for i, name := range cfg.Precedence {
		precedence[name] = i
	}

	return &Aggregator{
		providers:  provs,
		limiter:    limiter,
		fallback:   fallback,
		cfg:        cfg,
		retry:      RetryPolicyFromConfig(cfg),
		precedence: precedence,
		sem:        semaphore.NewWeighted(int64(fanOutLimit)),
		logger:     logger,
		metrics:    mc,
		tracer:     telemetry.NewBusinessTracer(),
	}
}

// Providers returns the providers in priority order.
func (a *Aggregator) Providers() []providers.Provider {
	return a.providers
}

// capable returns providers with want, restricted to those that know the
// asset when identity is non-nil.
func (a *Aggregator) capable(want providers.Capability, identity *models.CryptoIdentity) []providers.Provider {
	out := make([]providers.Provider, 0, len(a.providers))
	for _, p := range a.providers {
		if !p.Capabilities().Has(want) {
			continue
		}
		if identity != nil {
			if _, ok := identity.ProviderID(p.Name()); !ok {
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

// rank orders a provider for merging. Providers missing from the precedence
// list sort after it, keeping their priority order.
func (a *Aggregator) rank(name string, priority int) int {
	if r, ok := a.precedence[name]; ok {
		return r
	}
	return len(a.precedence) + priority
}

// Search asks every search-capable provider for query concurrently.
// Results are in priority order; failures are included.
func (a *Aggregator) Search(ctx context.Context, query string) []models.ProviderResult[[]providers.Candidate] {
	provs := a.capable(providers.CapSearch, nil)
	ctx, span := a.tracer.TraceAggregation(ctx, KindSearch, query, len(provs))
	defer span.End()

	start := time.Now()
	results, timedOut := fanOut(ctx, a, KindSearch, provs, func(ctx context.Context, p providers.Provider) models.ProviderResult[[]providers.Candidate] {
		return p.Search(ctx, query)
	})

	succeeded := countOK(results)
	a.tracer.RecordAggregationResult(span, telemetry.AggregationResult{
		Succeeded: succeeded,
		Failed:    len(results) - succeeded,
		TimedOut:  timedOut,
		Duration:  time.Since(start),
	})
	a.metrics.RecordAggregation(KindSearch, resultOf(succeeded, len(results)), time.Since(start))
	return results
}

// Aggregate fetches market data for identity from every permitted provider
// and merges the successes by precedence. It always returns a record: when
// no provider succeeds the record comes from the fallback and is marked
// degraded. The error explains a degraded result and is informational.
func (a *Aggregator) Aggregate(ctx context.Context, identity *models.CryptoIdentity) (*models.MarketData, error) {
	provs := a.capable(providers.CapMarket, identity)
	ctx, span := a.tracer.TraceAggregation(ctx, KindMarket, identity.Symbol, len(provs))
	defer span.End()

	start := time.Now()
	log := a.logger.WithFields(logrus.Fields{
		"symbol":    identity.Symbol,
		"providers": len(provs),
	})

	if len(provs) == 0 {
		a.metrics.RecordAggregation(KindMarket, resultDegraded, time.Since(start))
		log.Warn("No provider can serve asset, using fallback")
		return a.fallback.GetFallback(identity), errNoProviders
	}

	results, timedOut := fanOut(ctx, a, KindMarket, provs, func(ctx context.Context, p providers.Provider) models.ProviderResult[*models.MarketData] {
		return p.FetchMarket(ctx, identity)
	})

	successes := make([]models.ProviderResult[*models.MarketData], 0, len(results))
	var errs []error
	for _, r := range results {
		if r.OK() && r.Payload != nil {
			successes = append(successes, r)
		} else if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}

	duration := time.Since(start)
	summary := telemetry.AggregationResult{
		Succeeded: len(successes),
		Failed:    len(results) - len(successes),
		TimedOut:  timedOut,
		Duration:  duration,
	}

	if len(successes) == 0 {
		summary.Degraded = true
		a.tracer.RecordAggregationResult(span, summary)
		a.metrics.RecordAggregation(KindMarket, resultDegraded, duration)

		var err error
		if timedOut {
			err = &utils.AggregationTimeout{Deadline: a.cfg.Deadline, Attempted: len(provs)}
		} else {
			err = errors.Join(errs...)
		}
		log.WithError(err).Warn("All providers failed, using fallback")
		return a.fallback.GetFallback(identity), err
	}

	merged := a.merge(identity, successes)
	a.tracer.RecordAggregationResult(span, summary)
	a.metrics.RecordAggregation(KindMarket, resultOf(len(successes), len(results)), duration)
	log.WithFields(logrus.Fields{
		"succeeded":   len(successes),
		"sources":     merged.Providers,
		"duration_ms": duration.Milliseconds(),
	}).Debug("Market data aggregated")
	return merged, nil
}

// merge folds successes into one record, highest precedence first.
func (a *Aggregator) merge(identity *models.CryptoIdentity, successes []models.ProviderResult[*models.MarketData]) *models.MarketData {
	priority := make(map[string]int, len(a.providers))
	for i, p := range a.providers {
		priority[p.Name()] = i
	}
	sort.SliceStable(successes, func(i, j int) bool {
		return a.rank(successes[i].Provider, priority[successes[i].Provider]) <
			a.rank(successes[j].Provider, priority[successes[j].Provider])
	})

	merged := models.NewMarketData("")
	for _, r := range successes {
		merged.Merge(r.Payload)
	}
	if identity.Symbol != "" {
		merged.Symbol = identity.Symbol
	}
	if merged.Name == "" {
		merged.Name = identity.Name
	}
	return merged
}

// AggregateChart tries chart-capable providers one at a time in priority
// order and returns the first non-empty series. Series from different
// providers are never mixed. On total failure the series is empty and the
// error says why.
func (a *Aggregator) AggregateChart(ctx context.Context, identity *models.CryptoIdentity, days int) ([]models.ChartPoint, error) {
	provs := a.capable(providers.CapChart, identity)
	ctx, span := a.tracer.TraceAggregation(ctx, KindChart, identity.Symbol, len(provs))
	defer span.End()

	start := time.Now()
	if len(provs) == 0 {
		a.metrics.RecordAggregation(KindChart, resultDegraded, time.Since(start))
		return a.fallback.GetFallbackChart(identity, days), errNoProviders
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, a.cfg.Deadline)
	defer cancel()

	var errs []error
	for _, p := range provs {
		if deadlineCtx.Err() != nil {
			break
		}
		r := callWithRetry(deadlineCtx, a, KindChart, p, func(ctx context.Context, p providers.Provider) models.ProviderResult[[]models.ChartPoint] {
			return p.FetchChart(ctx, identity, days)
		})
		if r.OK() && len(r.Payload) > 0 {
			a.tracer.RecordAggregationResult(span, telemetry.AggregationResult{Succeeded: 1, Failed: len(errs), Duration: time.Since(start)})
			a.metrics.RecordAggregation(KindChart, resultComplete, time.Since(start))
			return r.Payload, nil
		}
		if r.Err != nil {
			errs = append(errs, r.Err)
		} else {
			errs = append(errs, fmt.Errorf("%s returned an empty series", p.Name()))
		}
	}

	timedOut := errors.Is(deadlineCtx.Err(), context.DeadlineExceeded)
	a.tracer.RecordAggregationResult(span, telemetry.AggregationResult{
		Failed:   len(errs),
		Degraded: true,
		TimedOut: timedOut,
		Duration: time.Since(start),
	})
	a.metrics.RecordAggregation(KindChart, resultDegraded, time.Since(start))

	var err error
	if timedOut {
		err = &utils.AggregationTimeout{Deadline: a.cfg.Deadline, Attempted: len(errs)}
	} else {
		err = errors.Join(errs...)
	}
	a.logger.WithFields(logrus.Fields{
		"symbol": identity.Symbol,
		"days":   days,
	}).WithError(err).Warn("No chart provider succeeded, returning empty series")
	return a.fallback.GetFallbackChart(identity, days), err
}

// fanOut calls every provider concurrently and collects results into one
// slot per provider until all have answered or the deadline passes. Slots
// still empty at the deadline are reported as timeouts; results arriving
// after that are dropped.
func fanOut[T any](ctx context.Context, a *Aggregator, kind string, provs []providers.Provider, call func(context.Context, providers.Provider) models.ProviderResult[T]) ([]models.ProviderResult[T], bool) {
	deadlineCtx, cancel := context.WithTimeout(ctx, a.cfg.Deadline)
	defer cancel()

	var (
		mu        sync.Mutex
		closed    bool
		remaining = len(provs)
		slots     = make([]models.ProviderResult[T], len(provs))
		filled    = make([]bool, len(provs))
		done      = make(chan struct{})
	)
	if remaining == 0 {
		return nil, false
	}

	for i, p := range provs {
		go func(i int, p providers.Provider) {
			var r models.ProviderResult[T]
			if err := a.sem.Acquire(deadlineCtx, 1); err != nil {
				r = models.Failure[T](p.Name(), err, 0)
			} else {
				r = callWithRetry(deadlineCtx, a, kind, p, call)
				a.sem.Release(1)
			}

			mu.Lock()
			defer mu.Unlock()
			if closed {
				a.logger.WithFields(logrus.Fields{
					"provider": p.Name(),
					"kind":     kind,
				}).Debug("Discarding provider result that arrived after the deadline")
				return
			}
			slots[i] = r
			filled[i] = true
			remaining--
			if remaining == 0 {
				close(done)
			}
		}(i, p)
	}

	select {
	case <-done:
	case <-deadlineCtx.Done():
	}
	timedOut := errors.Is(deadlineCtx.Err(), context.DeadlineExceeded)

	mu.Lock()
	defer mu.Unlock()
	closed = true
	out := make([]models.ProviderResult[T], len(slots))
	for i, p := range provs {
		if filled[i] {
			out[i] = slots[i]
			continue
		}
		out[i] = models.Failure[T](p.Name(), utils.NewProviderError(p.Name(), 0, context.DeadlineExceeded), 0)
	}
	return out, timedOut
}

// callWithRetry runs one provider call through the limiter, retrying
// transient failures while the policy and the context deadline allow.
func callWithRetry[T any](ctx context.Context, a *Aggregator, kind string, p providers.Provider, call func(context.Context, providers.Provider) models.ProviderResult[T]) models.ProviderResult[T] {
	var last models.ProviderResult[T]
	for attempt := 0; attempt <= a.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := a.retry.Delay(attempt)
			if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= delay {
				break
			}
			if err := sleepContext(ctx, delay); err != nil {
				break
			}
			a.logger.WithFields(logrus.Fields{
				"provider": p.Name(),
				"kind":     kind,
				"attempt":  attempt,
			}).WithError(last.Err).Debug("Retrying provider call")
		}

		last = callOnce(ctx, a, kind, p, attempt, call)
		if last.OK() || !utils.IsRetryable(last.Err) {
			break
		}
	}
	return last
}

func callOnce[T any](ctx context.Context, a *Aggregator, kind string, p providers.Provider, attempt int, call func(context.Context, providers.Provider) models.ProviderResult[T]) models.ProviderResult[T] {
	name := p.Name()
	permit, err := a.limiter.Allow(name)
	if err != nil {
		a.metrics.RecordProviderCall(name, metrics.OutcomeRateLimited, 0)
		return models.Failure[T](name, err, 0)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.ProviderTimeout)
	defer cancel()
	callCtx, span := a.tracer.TraceProviderCall(callCtx, name, kind, attempt)
	defer span.End()

	start := time.Now()
	r := call(callCtx, p)
	r.Provider = name
	r.Duration = time.Since(start)

	if r.OK() {
		permit.Success()
		a.metrics.RecordProviderCall(name, metrics.OutcomeSuccess, r.Duration)
		return r
	}

	// The caller went away; that says nothing about the provider.
	if errors.Is(ctx.Err(), context.Canceled) {
		permit.Release()
		return r
	}

	permit.Failure(r.Err)
	a.tracer.RecordProviderError(span, r.Err)
	outcome := metrics.OutcomeFailure
	switch {
	case utils.IsRateLimited(r.Err):
		outcome = metrics.OutcomeRateLimited
	case errors.Is(r.Err, context.DeadlineExceeded):
		outcome = metrics.OutcomeTimeout
	}
	a.metrics.RecordProviderCall(name, outcome, r.Duration)
	a.logger.WithFields(logrus.Fields{
		"provider":    name,
		"kind":        kind,
		"status":      r.HTTPStatus,
		"duration_ms": r.Duration.Milliseconds(),
	}).WithError(r.Err).Warn("Provider call failed")
	return r
}

func countOK[T any](results []models.ProviderResult[T]) int {
	n := 0
	for _, r := range results {
		if r.OK() {
			n++
		}
	}
	return n
}

func resultOf(succeeded, total int) string {
	switch {
	case succeeded == 0:
		return resultDegraded
	case succeeded < total:
		return resultPartial
	default:
		return resultComplete
	}
}
