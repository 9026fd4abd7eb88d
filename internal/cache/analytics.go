package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const analyticsStatsKey = "cache:analytics:stats"

// Observer is notified of every region lookup.
type Observer interface {
	RecordHit(region string)
	RecordMiss(region string)
}

// CacheStats represents cache statistics
type CacheStats struct {
	Hits        int64     `json:"hits"`
	Misses      int64     `json:"misses"`
	HitRate     float64   `json:"hit_rate"`
	TotalOps    int64     `json:"total_ops"`
	LastUpdated time.Time `json:"last_updated"`
}

// CacheMetrics combines per-region statistics with Redis server info.
type CacheMetrics struct {
	Overall   CacheStats            `json:"overall"`
	ByRegion  map[string]CacheStats `json:"by_region"`
	Regions   []RegionStats         `json:"regions,omitempty"`
	RedisInfo map[string]string     `json:"redis_info,omitempty"`
	KeyCount  int64                 `json:"key_count"`
}

// Analytics tracks hit/miss ratios per region and forwards them to an
// optional downstream observer (Prometheus in production).
type Analytics struct {
	redisClient *redis.Client
	next        Observer
	logger      *logrus.Logger
	stats       map[string]*CacheStats
	mu          sync.RWMutex
}

// NewAnalytics creates an analytics tracker. redisClient and next may be nil.
func NewAnalytics(redisClient *redis.Client, next Observer, logger *logrus.Logger) *Analytics {
	if logger == nil {
		logger = logrus.New()
	}
	return &Analytics{
		redisClient: redisClient,
		next:        next,
		logger:      logger,
		stats:       make(map[string]*CacheStats),
	}
}

// RecordHit records a cache hit for the given region
func (a *Analytics) RecordHit(region string) {
	a.record(region, true)
	if a.next != nil {
		a.next.RecordHit(region)
	}
}

// RecordMiss records a cache miss for the given region
func (a *Analytics) RecordMiss(region string) {
	a.record(region, false)
	if a.next != nil {
		a.next.RecordMiss(region)
	}
}

func (a *Analytics) record(region string, hit bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	for _, key := range []string{region, "overall"} {
		s := a.stats[key]
		if s == nil {
			s = &CacheStats{}
			a.stats[key] = s
		}
		if hit {
			s.Hits++
		} else {
			s.Misses++
		}
		s.TotalOps++
		s.HitRate = float64(s.Hits) / float64(s.TotalOps)
		s.LastUpdated = now
	}
}

// GetStats returns cache statistics for a specific region
func (a *Analytics) GetStats(region string) CacheStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if stats, exists := a.stats[region]; exists {
		return *stats
	}
	return CacheStats{}
}

// GetAllStats returns all cache statistics
func (a *Analytics) GetAllStats() map[string]CacheStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	result := make(map[string]CacheStats, len(a.stats))
	for region, stats := range a.stats {
		result[region] = *stats
	}
	return result
}

// GetMetrics returns hit/miss statistics plus Redis keyspace info when a
// Redis tier is configured.
func (a *Analytics) GetMetrics(ctx context.Context) (*CacheMetrics, error) {
	all := a.GetAllStats()
	metrics := &CacheMetrics{ByRegion: all, Overall: all["overall"]}
	delete(metrics.ByRegion, "overall")

	if a.redisClient == nil {
		return metrics, nil
	}

	info, err := a.redisClient.Info(ctx, "memory", "keyspace").Result()
	if err != nil {
		return nil, err
	}
	metrics.RedisInfo = parseRedisInfo(info)
	keys, err := a.redisClient.DBSize(ctx).Result()
	if err != nil {
		a.logger.WithError(err).Debug("Redis key count unavailable")
	}
	metrics.KeyCount = keys
	return metrics, nil
}

// parseRedisInfo parses Redis INFO command output
func parseRedisInfo(info string) map[string]string {
	result := make(map[string]string)
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) == 2 {
			result[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return result
}

// ResetStats resets all cache statistics
func (a *Analytics) ResetStats() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats = make(map[string]*CacheStats)
}

// StartPeriodicReporting persists a snapshot of the statistics to Redis every interval.
func (a *Analytics) StartPeriodicReporting(ctx context.Context, interval time.Duration) {
	if a.redisClient == nil || interval <= 0 {
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
				a.reportStats(ctx)
			}
		}
	}()
}

func (a *Analytics) reportStats(ctx context.Context) {
	statsJSON, err := json.Marshal(a.GetAllStats())
	if err != nil {
		a.logger.WithError(err).Debug("Failed to encode cache analytics")
		return
	}
	if err := a.redisClient.Set(ctx, analyticsStatsKey, statsJSON, 24*time.Hour).Err(); err != nil {
		a.logger.WithError(err).Debug("Failed to persist cache analytics")
	}
}
