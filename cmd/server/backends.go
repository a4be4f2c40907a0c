package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/maneesh/gridstore/internal/config"
	"github.com/maneesh/gridstore/internal/logging"
	"github.com/maneesh/gridstore/internal/storage"
)

// backends holds the collections selected by configuration
type backends struct {
	files   storage.FileCollection
	chunks  storage.ChunkCollection
	cache   storage.MetadataCache
	closers []func() error
}

func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

// openBackends connects to every engine the configuration names. On error
// the engines opened so far are closed again.
func openBackends(ctx context.Context, cfg *config.Config) (_ *backends, err error) {
	b := &backends{}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	var sqlClient *storage.SQLClient
	if cfg.UsesSQL() {
		logging.Info().Str("driver", cfg.SQLDriver).Msg("Connecting to SQL database...")
		sqlClient, err = storage.NewSQLClient(ctx, cfg.SQLDriver, cfg.GetDSN())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQL client: %w", err)
		}
		b.closers = append(b.closers, sqlClient.Close)
	}

	var mongoClient *storage.MongoClient
	if cfg.UsesMongo() {
		logging.Info().Str("database", cfg.MongoDatabase).Msg("Connecting to MongoDB...")
		mongoClient, err = storage.NewMongoClient(cfg.MongoURL, cfg.MongoDatabase, cfg.MongoTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize MongoDB client: %w", err)
		}
		b.closers = append(b.closers, mongoClient.Close)
	}

	switch cfg.MetadataBackend {
	case config.BackendSQL:
		b.files = sqlClient
	case config.BackendMongo:
		b.files = mongoClient
	}

	switch cfg.ChunkBackend {
	case config.BackendSQL:
		b.chunks = sqlClient
	case config.BackendMongo:
		b.chunks = mongoClient
	case config.BackendMinIO:
		logging.Info().Str("endpoint", cfg.MinIOEndpoint).Msg("Connecting to MinIO...")
		minioClient, err := storage.NewMinioClient(ctx,
			cfg.MinIOEndpoint,
			cfg.MinIOAccessKey,
			cfg.MinIOSecretKey,
			cfg.MinIOBucketName,
			cfg.MinIOUseSSL,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
		}
		b.chunks = minioClient
	}

	// cache stays a nil interface when disabled
	if cfg.CacheEnabled {
		logging.Info().Str("addr", cfg.GetRedisAddr()).Msg("Connecting to Redis...")
		redisClient, err := storage.NewRedisClient(ctx, cfg.GetRedisAddr(), cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis client: %w", err)
		}
		b.closers = append(b.closers, redisClient.Close)
		b.cache = redisClient
	}

	return b, nil
}
