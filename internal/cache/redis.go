package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/otcheredev/ris-dicom-renderer/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisCache keeps FileRecords as JSON strings under FileKey
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to redis and verifies the connection
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// GetFile loads the cached row of path. A row that no longer decodes is
// dropped and reported as a miss.
func (r *RedisCache) GetFile(ctx context.Context, path string) (*models.FileRecord, error) {
	key := FileKey(path)
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file row %s: %w", path, err)
	}

	var rec models.FileRecord
	if err := json.Unmarshal(data, &rec); err != nil || rec.Path != path {
		r.client.Del(ctx, key)
		return nil, ErrCacheMiss
	}
	return &rec, nil
}

// SetFile caches rec under its path for ttl
func (r *RedisCache) SetFile(ctx context.Context, rec *models.FileRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode file row %s: %w", rec.Path, err)
	}
	if err := r.client.Set(ctx, FileKey(rec.Path), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache file row %s: %w", rec.Path, err)
	}
	return nil
}

// DeleteFile evicts the row of path
func (r *RedisCache) DeleteFile(ctx context.Context, path string) error {
	if err := r.client.Del(ctx, FileKey(path)).Err(); err != nil {
		return fmt.Errorf("failed to evict file row %s: %w", path, err)
	}
	return nil
}

// Close closes the redis client
func (r *RedisCache) Close() error {
	return r.client.Close()
}
