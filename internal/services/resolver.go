package services

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"

	"github.com/irfndi/crypto-insight-go/internal/cache"
	"github.com/irfndi/crypto-insight-go/internal/models"
	"github.com/irfndi/crypto-insight-go/internal/utils"
	"github.com/irfndi/crypto-insight-go/pkg/providers"
)

// Identity region key prefixes. A resolved identity is stored under the
// first three so that a symbol and a name of the same asset converge on one
// record. Alternate symbols are only consulted when providers find nothing.
const (
	queryKeyPrefix     = "q:"
	symbolKeyPrefix    = "sym:"
	nameKeyPrefix      = "name:"
	alternateKeyPrefix = "alt:"
)

// Match quality of a search candidate, best first.
const (
	matchSymbol = iota
	matchName
	matchProviderID
	matchFuzzy
	matchNone
)

// NormalizeQuery trims and case-folds a user query.
func NormalizeQuery(query string) string {
	return cases.Fold().String(strings.TrimSpace(query))
}

// Resolver maps free-form queries to canonical identities.
type Resolver struct {
	aggregator *Aggregator
	identities *cache.Region[*models.CryptoIdentity]
	fallback   *FallbackProvider
	logger     *logrus.Logger

	group singleflight.Group
	// storeMu serialises read-merge-write of the alias keys.
	storeMu sync.Mutex
}

// NewResolver creates a resolver searching through aggregator and caching in identities.
func NewResolver(aggregator *Aggregator, identities *cache.Region[*models.CryptoIdentity], fallback *FallbackProvider, logger *logrus.Logger) *Resolver {
	if logger == nil {
		logger = logrus.New()
	}
	if fallback == nil {
		fallback = NewFallbackProvider(nil)
	}
	return &Resolver{
		aggregator: aggregator,
		identities: identities,
		fallback:   fallback,
		logger:     logger,
	}
}

// Resolve returns the identity for query. Concurrent resolutions of the same
// normalized query share one provider search. The returned identity is a copy.
func (r *Resolver) Resolve(ctx context.Context, query string) (*models.CryptoIdentity, error) {
	key := NormalizeQuery(query)
	if key == "" {
		return nil, utils.NewValidationError("query must not be empty")
	}

	if identity, ok := r.lookup(ctx, key); ok {
		return identity.Clone(), nil
	}

	v, err, shared := r.group.Do(key, func() (interface{}, error) {
		// A resolution that finished since the lookup above may have stored it.
		if identity, ok := r.lookup(ctx, key); ok {
			return identity, nil
		}
		// Detached so one caller giving up does not fail the others.
		return r.resolve(context.WithoutCancel(ctx), key, strings.TrimSpace(query))
	})
	if err != nil {
		return nil, err
	}
	if shared {
		r.logger.WithField("query", key).Debug("Joined in-flight resolution")
	}
	return v.(*models.CryptoIdentity).Clone(), nil
}

// Cached returns the identity stored for query, or recorded as an alternate
// symbol of it, without contacting providers.
func (r *Resolver) Cached(ctx context.Context, query string) (*models.CryptoIdentity, bool) {
	key := NormalizeQuery(query)
	identity, ok := r.lookup(ctx, key)
	if !ok {
		identity, ok = r.lookupAlternate(ctx, key)
	}
	if !ok {
		return nil, false
	}
	return identity.Clone(), true
}

func (r *Resolver) lookup(ctx context.Context, key string) (*models.CryptoIdentity, bool) {
	for _, prefix := range []string{queryKeyPrefix, symbolKeyPrefix, nameKeyPrefix} {
		if identity, ok := r.identities.Get(ctx, prefix+key); ok && identity != nil {
			return identity, true
		}
	}
	return nil, false
}

func (r *Resolver) lookupAlternate(ctx context.Context, key string) (*models.CryptoIdentity, bool) {
	identity, ok := r.identities.Get(ctx, alternateKeyPrefix+key)
	return identity, ok && identity != nil
}

type scoredCandidate struct {
	providers.Candidate
	match    int
	priority int
}

func (r *Resolver) resolve(ctx context.Context, key, query string) (*models.CryptoIdentity, error) {
	results := r.aggregator.Search(ctx, key)

	var scored []scoredCandidate
	failed := 0
	for priority, res := range results {
		if !res.OK() {
			failed++
			continue
		}
		for _, c := range res.Payload {
			if c.Identity == nil {
				continue
			}
			m := matchQuality(key, res.Provider, c.Identity)
			if m == matchNone {
				continue
			}
			scored = append(scored, scoredCandidate{Candidate: c, match: m, priority: priority})
		}
	}

	if len(scored) == 0 {
		if identity, ok := r.lookupAlternate(ctx, key); ok {
			r.logger.WithFields(logrus.Fields{"query": key, "symbol": identity.Symbol}).Debug("Resolved through alternate symbol")
			return identity, nil
		}
		// Nobody could be asked; serve well-known assets from the allow-list.
		if failed == len(results) {
			if identity, ok := r.fallback.FallbackIdentity(query); ok {
				r.logger.WithField("query", key).Warn("All providers failed, using fallback identity")
				return identity, nil
			}
		}
		return nil, utils.NewNotFoundError(query)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.match != b.match {
			return a.match < b.match
		}
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		return rankOrMax(a.Rank) < rankOrMax(b.Rank)
	})

	winner := scored[0].Identity.Clone()
	winner.Query = query
	for _, c := range scored[1:] {
		switch {
		case sameAsset(winner, c.Identity):
			winner.Merge(c.Identity)
		case c.match == scored[0].match:
			// Equally good match for another asset.
			winner.AddAlternateSymbol(c.Identity.Symbol)
		}
	}

	canonical := r.store(ctx, key, winner)
	r.logger.WithFields(logrus.Fields{
		"query":     key,
		"symbol":    canonical.Symbol,
		"providers": len(canonical.ProviderIDs),
	}).Info("Resolved crypto identity")
	return canonical, nil
}

// store merges identity with any identity already stored under its symbol or
// name and writes the result under every alias key.
func (r *Resolver) store(ctx context.Context, key string, identity *models.CryptoIdentity) *models.CryptoIdentity {
	r.storeMu.Lock()
	defer r.storeMu.Unlock()

	keys := []string{queryKeyPrefix + key}
	if identity.Symbol != "" {
		keys = append(keys, symbolKeyPrefix+NormalizeQuery(identity.Symbol))
	}
	if identity.Name != "" {
		keys = append(keys, nameKeyPrefix+NormalizeQuery(identity.Name))
	}

	canonical := identity
	for _, k := range keys[1:] {
		if existing, ok := r.identities.Get(ctx, k); ok && existing != nil && sameAsset(existing, identity) {
			canonical = existing.Clone()
			canonical.Merge(identity)
			break
		}
	}

	for _, k := range keys {
		r.identities.Put(ctx, k, canonical.Clone())
	}
	for _, alt := range canonical.AlternateSymbols {
		r.identities.Put(ctx, alternateKeyPrefix+NormalizeQuery(alt), canonical.Clone())
	}
	return canonical
}

// Forget drops the alias keys of an identity.
func (r *Resolver) Forget(ctx context.Context, identity *models.CryptoIdentity) {
	if identity == nil {
		return
	}
	r.storeMu.Lock()
	defer r.storeMu.Unlock()
	r.identities.Invalidate(ctx, queryKeyPrefix+NormalizeQuery(identity.Query))
	r.identities.Invalidate(ctx, symbolKeyPrefix+NormalizeQuery(identity.Symbol))
	r.identities.Invalidate(ctx, nameKeyPrefix+NormalizeQuery(identity.Name))
	for _, alt := range identity.AlternateSymbols {
		r.identities.Invalidate(ctx, alternateKeyPrefix+NormalizeQuery(alt))
	}
}

func matchQuality(key, provider string, identity *models.CryptoIdentity) int {
	switch {
	case identity.Symbol != "" && NormalizeQuery(identity.Symbol) == key:
		return matchSymbol
	case identity.Name != "" && NormalizeQuery(identity.Name) == key:
		return matchName
	}
	if id, ok := identity.ProviderID(provider); ok && NormalizeQuery(id) == key {
		return matchProviderID
	}
	if strings.Contains(NormalizeQuery(identity.Name), key) || strings.HasPrefix(NormalizeQuery(identity.Symbol), key) {
		return matchFuzzy
	}
	return matchNone
}

func sameAsset(a, b *models.CryptoIdentity) bool {
	if a.Symbol != "" && strings.EqualFold(a.Symbol, b.Symbol) {
		return true
	}
	return a.Name != "" && strings.EqualFold(a.Name, b.Name)
}

// rankOrMax sorts unknown ranks last.
func rankOrMax(rank int) int {
	if rank <= 0 {
		return int(^uint(0) >> 1)
	}
	return rank
}
