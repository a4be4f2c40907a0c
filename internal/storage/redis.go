package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/maneesh/gridstore/internal/models"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// CacheTTL is the time-to-live for cached file metadata (5 minutes)
	CacheTTL = 5 * time.Minute
)

// RedisClient caches committed file metadata with tracing
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient initializes a new Redis client
func NewRedisClient(ctx context.Context, addr, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test the connection
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisClient{client: client}, nil
}

// Close closes the Redis connection
func (rc *RedisClient) Close() error {
	return rc.client.Close()
}

func cacheKey(bucket, fileID string) string {
	return fmt.Sprintf("file:%s:%s", bucket, fileID)
}

// GetFileMetadata retrieves file metadata from cache with tracing.
// A miss returns nil, nil.
func (rc *RedisClient) GetFileMetadata(ctx context.Context, bucket, fileID string) (*models.FileRecord, error) {
	ctx, span := tracer.Start(ctx, "redis.get_file_metadata",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("file_id", fileID),
		),
	)
	defer span.End()

	data, err := rc.client.Get(ctx, cacheKey(bucket, fileID)).Bytes()
	if errors.Is(err, redis.Nil) {
		span.SetAttributes(attribute.String("cache_status", "miss"))
		return nil, nil
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get from cache: %w", err)
	}

	var file models.FileRecord
	if err := json.Unmarshal(data, &file); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to unmarshal cached data: %w", err)
	}

	span.SetAttributes(attribute.String("cache_status", "hit"))
	return &file, nil
}

// SetFileMetadata stores file metadata in cache with tracing
func (rc *RedisClient) SetFileMetadata(ctx context.Context, file *models.FileRecord) error {
	ctx, span := tracer.Start(ctx, "redis.set_file_metadata",
		trace.WithAttributes(
			attribute.String("bucket", file.Bucket),
			attribute.String("file_id", file.ID),
		),
	)
	defer span.End()

	data, err := json.Marshal(file)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal file: %w", err)
	}

	if err := rc.client.Set(ctx, cacheKey(file.Bucket, file.ID), data, CacheTTL).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set cache: %w", err)
	}

	span.SetAttributes(attribute.Int64("ttl_seconds", int64(CacheTTL.Seconds())))
	return nil
}

// InvalidateFileMetadata removes file metadata from cache with tracing
func (rc *RedisClient) InvalidateFileMetadata(ctx context.Context, bucket, fileID string) error {
	ctx, span := tracer.Start(ctx, "redis.invalidate_file_metadata",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("file_id", fileID),
		),
	)
	defer span.End()

	if err := rc.client.Del(ctx, cacheKey(bucket, fileID)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}
