package places

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/afyalink/triage-router/internal/model"
	"github.com/afyalink/triage-router/pkg/logger"
	"github.com/afyalink/triage-router/pkg/metrics"
)

// CachedProvider memoises another provider's results in Redis. Points are
// snapped to a ~1 km grid so nearby users share entries.
type CachedProvider struct {
	next   Provider
	rdb    *redis.Client
	ttl    time.Duration
	logger *logger.Logger
}

var _ Provider = (*CachedProvider)(nil)

// NewCachedProvider wraps next with a Redis cache.
func NewCachedProvider(next Provider, rdb *redis.Client, ttl time.Duration, log *logger.Logger) *CachedProvider {
	return &CachedProvider{next: next, rdb: rdb, ttl: ttl, logger: log}
}

// ConnectRedis creates a client and checks the connection with PING.
func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

// CacheKey returns the cache key for a search.
func CacheKey(lat, lng, radiusKm float64, kind model.FacilityKind, limit int) string {
	snap := func(v float64) float64 { return math.Round(v*100) / 100 }
	return fmt.Sprintf("places:%.2f:%.2f:%g:%s:%d", snap(lat), snap(lng), radiusKm, kind, limit)
}

// SearchNearby serves from cache when possible. Cache failures fall through
// to the wrapped provider.
func (c *CachedProvider) SearchNearby(ctx context.Context, lat, lng, radiusKm float64, kind model.FacilityKind, limit int) ([]model.FacilityRecord, error) {
	key := CacheKey(lat, lng, radiusKm, kind, limit)

	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached []model.FacilityRecord
		if err := json.Unmarshal(data, &cached); err == nil {
			metrics.PlacesCacheTotal.WithLabelValues("hit").Inc()
			return cached, nil
		}
		c.logger.Warn("discarding corrupt places cache entry", zap.String("key", key))
	case err != redis.Nil:
		c.logger.Warn("places cache read failed", zap.Error(err))
	}
	metrics.PlacesCacheTotal.WithLabelValues("miss").Inc()

	records, err := c.next.SearchNearby(ctx, lat, lng, radiusKm, kind, limit)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(records); err == nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("places cache write failed", zap.Error(err))
		}
	}

	return records, nil
}
