package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/otcheredev/ris-dicom-renderer/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultSeriesKey is the Redis list discovery pushes new series onto
const DefaultSeriesKey = "dicom:series:new"

// RedisSeriesQueue implements SeriesQueue on a Redis list (LPUSH / BRPOP)
type RedisSeriesQueue struct {
	client *redis.Client
	key    string
}

// NewRedisSeriesQueue connects to Redis and returns a queue on key
func NewRedisSeriesQueue(addr, password string, db int, key string) (*RedisSeriesQueue, error) {
	if key == "" {
		key = DefaultSeriesKey
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  10 * time.Second, // must exceed the BRPOP wait
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisSeriesQueue{client: client, key: key}, nil
}

// Offer pushes a series onto the list
func (r *RedisSeriesQueue) Offer(ctx context.Context, series models.SeriesDescriptor) error {
	payload, err := json.Marshal(series)
	if err != nil {
		return fmt.Errorf("failed to encode series: %w", err)
	}
	if err := r.client.LPush(ctx, r.key, payload).Err(); err != nil {
		return fmt.Errorf("failed to push series: %w", err)
	}
	return nil
}

// Poll blocks on BRPOP for at most timeout
func (r *RedisSeriesQueue) Poll(ctx context.Context, timeout time.Duration) (*models.SeriesDescriptor, error) {
	res, err := r.client.BRPop(ctx, timeout, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop series: %w", err)
	}
	// res is [key, value]
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply of length %d", len(res))
	}

	var series models.SeriesDescriptor
	if err := json.Unmarshal([]byte(res[1]), &series); err != nil {
		return nil, fmt.Errorf("failed to decode series: %w", err)
	}
	return &series, nil
}

// Len returns the list length
func (r *RedisSeriesQueue) Len(ctx context.Context) (int64, error) {
	n, err := r.client.LLen(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return n, nil
}

// Close closes the Redis connection
func (r *RedisSeriesQueue) Close() error {
	return r.client.Close()
}

// Ping checks the Redis connection
func (r *RedisSeriesQueue) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
