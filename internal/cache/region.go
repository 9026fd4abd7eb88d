package cache

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/crypto-insight-go/internal/utils"
)

// hardCeilingFactor bounds how far a region may grow past its capacity
// while every entry is still inside its minimum retention.
const hardCeilingFactor = 4

// RegionConfig configures one cache region.
type RegionConfig struct {
	Name         string
	TTL          time.Duration // zero means entries never expire
	Capacity     int
	MinRetention time.Duration
	// NoEviction disables LRU eviction; entries leave only on expiry or
	// invalidation and Capacity is ignored.
	NoEviction bool
}

// RegionStats is a snapshot of a region's size and counters.
type RegionStats struct {
	Name        string `json:"name"`
	Size        int    `json:"size"`
	Capacity    int    `json:"capacity"`
	Hits        int64  `json:"hits"`
	Misses      int64  `json:"misses"`
	Evictions   int64  `json:"evictions"`
	Expirations int64  `json:"expirations"`
}

type entry[T any] struct {
	value      T
	insertedAt time.Time
	expiresAt  time.Time
}

func (e entry[T]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Region is one typed cache area: an in-memory LRU in front of an optional
// Redis tier. It is safe for concurrent use.
type Region[T any] struct {
	cfg      RegionConfig
	clock    utils.Clock
	tier     *RedisTier
	observer Observer

	mu    sync.Mutex
	lru   *simplelru.LRU[string, entry[T]]
	stats RegionStats
}

// NewRegion creates a region. tier and observer may be nil.
func NewRegion[T any](cfg RegionConfig, clock utils.Clock, tier *RedisTier, observer Observer) *Region[T] {
	size := math.MaxInt
	if cfg.NoEviction {
		cfg.Capacity = 0
	} else {
		if cfg.Capacity <= 0 {
			cfg.Capacity = 100
		}
		size = cfg.Capacity * hardCeilingFactor
	}
	if clock == nil {
		clock = utils.RealClock{}
	}
	// Only fails for a non-positive size.
	lru, _ := simplelru.NewLRU[string, entry[T]](size, nil)

	return &Region[T]{
		cfg:      cfg,
		clock:    clock,
		tier:     tier,
		observer: observer,
		lru:      lru,
		stats:    RegionStats{Name: cfg.Name, Capacity: cfg.Capacity},
	}
}

// Name returns the region name.
func (r *Region[T]) Name() string {
	return r.cfg.Name
}

// TTL returns the default time-to-live of the region.
func (r *Region[T]) TTL() time.Duration {
	return r.cfg.TTL
}

// Get returns the live value for key. Expired entries are removed and
// reported as misses.
func (r *Region[T]) Get(ctx context.Context, key string) (T, bool) {
	now := r.clock.Now()

	r.mu.Lock()
	if e, ok := r.lru.Get(key); ok {
		if !e.expired(now) {
			r.stats.Hits++
			r.mu.Unlock()
			r.notify(true)
			return e.value, true
		}
		r.lru.Remove(key)
		r.stats.Expirations++
	}
	r.mu.Unlock()

	if value, ok := r.getRemote(ctx, key, now); ok {
		r.mu.Lock()
		r.stats.Hits++
		r.mu.Unlock()
		r.notify(true)
		return value, true
	}

	r.mu.Lock()
	r.stats.Misses++
	r.mu.Unlock()
	r.notify(false)

	var zero T
	return zero, false
}

func (r *Region[T]) getRemote(ctx context.Context, key string, now time.Time) (T, bool) {
	var zero T
	if r.tier == nil {
		return zero, false
	}
	stored, ok := r.tier.Get(ctx, r.cfg.Name, key)
	if !ok || stored.Expired(now) {
		return zero, false
	}
	var value T
	if err := json.Unmarshal(stored.Value, &value); err != nil {
		r.tier.logger.WithFields(logrus.Fields{"region": r.cfg.Name, "key": key}).WithError(err).Warn("Discarding undecodable cache value")
		return zero, false
	}

	r.mu.Lock()
	r.addLocked(key, entry[T]{value: value, insertedAt: stored.CachedAt, expiresAt: stored.ExpiresAt})
	r.mu.Unlock()
	return value, true
}

// Put stores value under key with the region's default TTL.
func (r *Region[T]) Put(ctx context.Context, key string, value T) {
	r.PutWithTTL(ctx, key, value, r.cfg.TTL)
}

// PutWithTTL stores value under key. Zero ttl means no expiry.
func (r *Region[T]) PutWithTTL(ctx context.Context, key string, value T, ttl time.Duration) {
	now := r.clock.Now()
	e := entry[T]{value: value, insertedAt: now}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}

	r.mu.Lock()
	r.addLocked(key, e)
	r.mu.Unlock()

	if r.tier == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		r.tier.logger.WithFields(logrus.Fields{"region": r.cfg.Name, "key": key}).WithError(err).Warn("Skipping Redis write for unserializable value")
		return
	}
	stored := RedisEntry{Value: raw, CachedAt: e.insertedAt, ExpiresAt: e.expiresAt}
	if err := r.tier.Set(ctx, r.cfg.Name, key, stored, ttl); err != nil {
		r.tier.logger.WithFields(logrus.Fields{"region": r.cfg.Name, "key": key}).WithError(err).Warn("Redis cache write failed")
	}
}

// addLocked inserts e and then evicts least recently used entries that are
// older than the minimum retention until the region is back within capacity.
func (r *Region[T]) addLocked(key string, e entry[T]) {
	if r.lru.Add(key, e) {
		r.stats.Evictions++
	}

	if r.cfg.NoEviction {
		return
	}
	now := r.clock.Now()
	for r.lru.Len() > r.cfg.Capacity {
		_, oldest, ok := r.lru.GetOldest()
		if !ok || now.Sub(oldest.insertedAt) < r.cfg.MinRetention {
			return
		}
		r.lru.RemoveOldest()
		r.stats.Evictions++
	}
}

// Invalidate removes key from both tiers.
func (r *Region[T]) Invalidate(ctx context.Context, key string) {
	r.mu.Lock()
	r.lru.Remove(key)
	r.mu.Unlock()

	if r.tier != nil {
		if err := r.tier.Delete(ctx, r.cfg.Name, key); err != nil {
			r.tier.logger.WithFields(logrus.Fields{"region": r.cfg.Name, "key": key}).WithError(err).Warn("Redis cache delete failed")
		}
	}
}

// InvalidatePrefix removes every key starting with prefix and returns how
// many in-memory entries were dropped.
func (r *Region[T]) InvalidatePrefix(ctx context.Context, prefix string) int {
	removed := 0
	r.mu.Lock()
	for _, key := range r.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			r.lru.Remove(key)
			removed++
		}
	}
	r.mu.Unlock()

	if r.tier != nil {
		if _, err := r.tier.DeletePrefix(ctx, r.cfg.Name, prefix); err != nil {
			r.tier.logger.WithField("region", r.cfg.Name).WithError(err).Warn("Redis cache prefix delete failed")
		}
	}
	return removed
}

// Clear empties the region in both tiers.
func (r *Region[T]) Clear(ctx context.Context) {
	r.InvalidatePrefix(ctx, "")
}

// Sweep removes every expired in-memory entry and returns the count.
func (r *Region[T]) Sweep() int {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, key := range r.lru.Keys() {
		if e, ok := r.lru.Peek(key); ok && e.expired(now) {
			r.lru.Remove(key)
			removed++
		}
	}
	r.stats.Expirations += int64(removed)
	return removed
}

// StartSweeper runs Sweep every interval until ctx is cancelled.
func (r *Region[T]) StartSweeper(ctx context.Context, interval time.Duration) {
	startSweeper(ctx, interval, r.Sweep)
}

// Len returns the number of in-memory entries, expired ones included.
func (r *Region[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lru.Len()
}

// Stats returns a snapshot of the region's counters.
func (r *Region[T]) Stats() RegionStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Size = r.lru.Len()
	return s
}

func (r *Region[T]) notify(hit bool) {
	if r.observer == nil {
		return
	}
	if hit {
		r.observer.RecordHit(r.cfg.Name)
	} else {
		r.observer.RecordMiss(r.cfg.Name)
	}
}

func startSweeper(ctx context.Context, interval time.Duration, sweep func() int) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweep()
			}
		}
	}()
}
