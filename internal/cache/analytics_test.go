package cache

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalytics_RecordHitAndMiss(t *testing.T) {
	next := newCountingObserver()
	a := NewAnalytics(nil, next, nil)

	a.RecordHit("market")
	a.RecordHit("market")
	a.RecordMiss("market")
	a.RecordMiss("identity")

	market := a.GetStats("market")
	assert.Equal(t, int64(2), market.Hits)
	assert.Equal(t, int64(1), market.Misses)
	assert.Equal(t, int64(3), market.TotalOps)
	assert.InDelta(t, 2.0/3.0, market.HitRate, 0.0001)

	overall := a.GetStats("overall")
	assert.Equal(t, int64(4), overall.TotalOps)
	assert.Equal(t, 0.5, overall.HitRate)

	assert.Equal(t, 2, next.hits["market"])
	assert.Equal(t, 1, next.misses["identity"])
}

func TestAnalytics_GetStatsUnknownRegion(t *testing.T) {
	a := NewAnalytics(nil, nil, nil)
	assert.Equal(t, CacheStats{}, a.GetStats("chart"))
}

func TestAnalytics_ResetStats(t *testing.T) {
	a := NewAnalytics(nil, nil, nil)
	a.RecordHit("chart")
	a.ResetStats()

	assert.Empty(t, a.GetAllStats())
}

func TestAnalytics_GetMetricsWithoutRedis(t *testing.T) {
	a := NewAnalytics(nil, nil, nil)
	a.RecordHit("market")

	m, err := a.GetMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.Overall.Hits)
	assert.Contains(t, m.ByRegion, "market")
	assert.NotContains(t, m.ByRegion, "overall")
	assert.Nil(t, m.RedisInfo)
}

func TestAnalytics_ReportStatsToRedis(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	a := NewAnalytics(client, nil, nil)
	a.RecordMiss("market")
	a.reportStats(context.Background())

	raw, err := mr.Get("cache:analytics:stats")
	require.NoError(t, err)
	assert.Contains(t, raw, `"market"`)
	assert.Equal(t, 24*time.Hour, mr.TTL("cache:analytics:stats"))
}

func TestAnalytics_RedisErrorsAreLogged(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	a := NewAnalytics(client, nil, logger)
	a.RecordHit("market")
	a.reportStats(context.Background())
	require.Nil(t, hook.LastEntry())

	mr.SetError("READONLY replica")
	a.reportStats(context.Background())

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.DebugLevel, entry.Level)
	assert.Equal(t, "Failed to persist cache analytics", entry.Message)
	assert.Contains(t, entry.Data[logrus.ErrorKey].(error).Error(), "READONLY")

}

func TestParseRedisInfo(t *testing.T) {
	info := "# Memory\r\nused_memory:1024\r\n\r\n# Keyspace\r\ndb0:keys=3,expires=1\r\n"

	parsed := parseRedisInfo(info)
	assert.Equal(t, "1024", parsed["used_memory"])
	assert.Equal(t, "keys=3,expires=1", parsed["db0"])
	assert.Len(t, parsed, 2)
}
