// Package cache keeps recent assessment results in Redis for dashboard
// collaborators. It is wired into the sink dispatcher as a result sink.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/aquasentry/aquasentry/internal/models"
)

const recentListKey = "results:recent"

// Config holds Redis connection and retention settings.
type Config struct {
	Addr        string
	Password    string
	DB          int
	TTL         time.Duration
	RecentLimit int
}

// RedisCache mirrors the newest results into Redis. Keys expire after
// the configured TTL so a quiet sensor eventually drops out of the cache.
type RedisCache struct {
	client      *redis.Client
	ttl         time.Duration
	recentLimit int64
}

// New connects to Redis and verifies the connection.
func New(cfg Config) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     100,
		MinIdleConns: 10,
		MaxRetries:   3,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	limit := cfg.RecentLimit
	if limit <= 0 {
		limit = 1000
	}

	return &RedisCache{
		client:      client,
		ttl:         ttl,
		recentLimit: int64(limit),
	}, nil
}

// Name implements the result sink interface.
func (r *RedisCache) Name() string { return "redis" }

// WriteResult stores the result under its own key, points the sensor's
// latest-result key at it, and pushes it onto the recent list.
func (r *RedisCache) WriteResult(ctx context.Context, res models.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	key := resultKey(res.SensorID, res.ProcessedAt)
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store result in Redis: %w", err)
	}
	if err := r.client.Set(ctx, latestKey(res.SensorID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to update latest result in Redis: %w", err)
	}

	if err := r.client.LPush(ctx, recentListKey, key).Err(); err != nil {
		return fmt.Errorf("failed to update recent results list: %w", err)
	}
	r.client.LTrim(ctx, recentListKey, 0, r.recentLimit-1)

	return nil
}

// Latest returns the newest cached result for a sensor. The second
// return value is false when nothing is cached (or the entry expired).
func (r *RedisCache) Latest(ctx context.Context, sensorID string) (models.Result, bool, error) {
	data, err := r.client.Get(ctx, latestKey(sensorID)).Result()
	if err == redis.Nil {
		return models.Result{}, false, nil
	}
	if err != nil {
		return models.Result{}, false, fmt.Errorf("failed to get latest result: %w", err)
	}

	var res models.Result
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return models.Result{}, false, fmt.Errorf("failed to unmarshal cached result: %w", err)
	}
	return res, true, nil
}

// Recent returns up to count recent results, newest first. Entries whose
// backing keys expired are skipped.
func (r *RedisCache) Recent(ctx context.Context, count int64) ([]models.Result, error) {
	keys, err := r.client.LRange(ctx, recentListKey, 0, count-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get recent result keys: %w", err)
	}

	results := make([]models.Result, 0, len(keys))
	for _, key := range keys {
		data, err := r.client.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		var res models.Result
		if err := json.Unmarshal([]byte(data), &res); err != nil {
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

// Close releases the connection pool.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

func resultKey(sensorID string, processedAt time.Time) string {
	return fmt.Sprintf("result:%s:%d", sensorID, processedAt.UnixNano())
}

func latestKey(sensorID string) string {
	return "result:latest:" + sensorID
}
