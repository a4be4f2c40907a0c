// Package gridfs implements a chunked large-object store on top of a files
// collection and a chunks collection.
//
// Uploads create a pending FileRecord first, stream chunks as chunk
// boundaries are crossed, and flip the record to committed only after the
// final chunk is durable. Readers never see pending records, so a file is
// either fully visible or not visible at all. Abandoned uploads and orphaned
// chunks are reclaimed by Sweep.
//
// Every operation names its bucket explicitly; the store keeps no notion of a
// current bucket.
package gridfs

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maneesh/gridstore/internal/chunker"
	"github.com/maneesh/gridstore/internal/logging"
	"github.com/maneesh/gridstore/internal/models"
	"github.com/maneesh/gridstore/internal/storage"
)

var tracer = otel.Tracer("gridstore-gridfs")

// DefaultBucket is the bucket the console opens on
const DefaultBucket = "fs"

// DefaultStaleAfter is how long a pending upload may sit before Sweep
// treats it as abandoned
const DefaultStaleAfter = 24 * time.Hour

var bucketNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ValidateBucketName checks if the bucket name is valid.
func ValidateBucketName(name string) error {
	if !bucketNamePattern.MatchString(name) {
		return fmt.Errorf("%w: bucket name %q", ErrInvalidArgument, name)
	}
	return nil
}

// Options tune a Store. Zero values fall back to defaults.
type Options struct {
	// ChunkSize is used when an upload does not pick its own
	ChunkSize int
	// RejectEmptyFiles makes Commit fail with ErrCommit when nothing was written
	RejectEmptyFiles bool
	StaleAfter       time.Duration
	Retry            RetryPolicy
	Now              func() time.Time
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = chunker.DefaultChunkSize
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = DefaultStaleAfter
	}
	if o.Retry.Attempts <= 0 {
		o.Retry = DefaultRetryPolicy
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Store is the chunked object store. It is safe for concurrent use; the
// handles it returns are not.
type Store struct {
	files  storage.FileCollection
	chunks storage.ChunkCollection
	cache  storage.MetadataCache
	opts   Options
	log    zerolog.Logger
}

// New builds a Store over the given collections. cache may be nil.
func New(files storage.FileCollection, chunks storage.ChunkCollection, cache storage.MetadataCache, opts Options) *Store {
	return &Store{
		files:  files,
		chunks: chunks,
		cache:  cache,
		opts:   opts.withDefaults(),
		log:    logging.Component("gridfs"),
	}
}

func (s *Store) now() time.Time {
	return s.opts.Now().UTC()
}

func (s *Store) retry(ctx context.Context, op func() error) error {
	return s.opts.Retry.do(ctx, op)
}

// OpenUpload registers a pending file and returns its write handle
func (s *Store) OpenUpload(ctx context.Context, bucket, filename string, opts models.UploadOptions) (*Upload, error) {
	if err := ValidateBucketName(bucket); err != nil {
		return nil, err
	}
	if filename == "" {
		return nil, fmt.Errorf("%w: empty filename", ErrInvalidArgument)
	}
	if opts.ChunkSize < 0 {
		return nil, fmt.Errorf("%w: chunk size %d", ErrInvalidArgument, opts.ChunkSize)
	}

	chunkSize := opts.ChunkSize
	if chunkSize == 0 {
		chunkSize = s.opts.ChunkSize
	}

	file := &models.FileRecord{
		ID:          uuid.NewString(),
		Bucket:      bucket,
		Filename:    filename,
		ChunkSize:   chunkSize,
		CreatedAt:   s.now(),
		ContentType: opts.ContentType,
		Metadata:    opts.Metadata,
		Status:      models.StatusPending,
	}

	spanCtx, span := tracer.Start(ctx, "gridfs.open_upload",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("file_id", file.ID),
			attribute.String("file_name", filename),
			attribute.Int("chunk_size", chunkSize),
		),
	)
	defer span.End()

	// Not retried: an insert that succeeded but reported failure would
	// collide with its own primary key
	if err := s.files.InsertFile(spanCtx, file); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: register upload: %w", ErrWrite, err)
	}

	return newUpload(ctx, s, file)
}

// Stat returns the committed record for a file
func (s *Store) Stat(ctx context.Context, bucket, fileID string) (*models.FileRecord, error) {
	if err := ValidateBucketName(bucket); err != nil {
		return nil, err
	}

	if s.cache != nil {
		file, err := s.cache.GetFileMetadata(ctx, bucket, fileID)
		if err != nil {
			s.log.Warn().Err(err).Str("bucket", bucket).Str("file_id", fileID).Msg("metadata cache lookup failed")
		} else if file != nil {
			return file, nil
		}
	}

	var file *models.FileRecord
	err := s.retry(ctx, func() error {
		var err error
		file, err = s.files.GetFile(ctx, bucket, fileID)
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: file %s in bucket %s", ErrNotFound, fileID, bucket)
	} else if err != nil {
		return nil, fmt.Errorf("%w: load file %s: %w", ErrRead, fileID, err)
	}

	if !file.Committed() {
		return nil, fmt.Errorf("%w: file %s in bucket %s", ErrNotFound, fileID, bucket)
	}

	if s.cache != nil {
		return s.fillCache(ctx, file)
	}
	return file, nil
}

// fillCache caches a committed record and then re-reads it. A delete or
// rename that ran between the first read and the cache write has already
// invalidated, so the entry it would leave behind is dropped here.
func (s *Store) fillCache(ctx context.Context, file *models.FileRecord) (*models.FileRecord, error) {
	bucket, fileID := file.Bucket, file.ID
	if err := s.cache.SetFileMetadata(ctx, file); err != nil {
		s.log.Warn().Err(err).Str("bucket", bucket).Str("file_id", fileID).Msg("metadata cache update failed")
		return file, nil
	}

	current, err := s.files.GetFile(ctx, bucket, fileID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.invalidate(ctx, bucket, fileID)
		return nil, fmt.Errorf("%w: file %s in bucket %s", ErrNotFound, fileID, bucket)
	case err != nil:
		s.invalidate(ctx, bucket, fileID)
		return file, nil
	case !current.Committed():
		s.invalidate(ctx, bucket, fileID)
		return nil, fmt.Errorf("%w: file %s in bucket %s", ErrNotFound, fileID, bucket)
	case current.Filename != file.Filename:
		s.invalidate(ctx, bucket, fileID)
		return current, nil
	}
	return file, nil
}

// OpenDownload returns a forward-only reader over a committed file
func (s *Store) OpenDownload(ctx context.Context, bucket, fileID string) (*Download, error) {
	spanCtx, span := tracer.Start(ctx, "gridfs.open_download",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("file_id", fileID),
		),
	)
	defer span.End()

	file, err := s.Stat(spanCtx, bucket, fileID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("file_size", file.Length),
		attribute.Int("chunk_count", file.ChunkCount()),
	)
	return newDownload(ctx, s, file), nil
}

// Delete removes a file and its chunks. It reports false when the file did
// not exist.
func (s *Store) Delete(ctx context.Context, bucket, fileID string) (bool, error) {
	if err := ValidateBucketName(bucket); err != nil {
		return false, err
	}

	ctx, span := tracer.Start(ctx, "gridfs.delete",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("file_id", fileID),
		),
	)
	defer span.End()

	err := s.retry(ctx, func() error {
		_, err := s.files.GetFile(ctx, bucket, fileID)
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		span.SetAttributes(attribute.Bool("found", false))
		return false, nil
	} else if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("%w: load file %s: %w", ErrRead, fileID, err)
	}

	s.invalidate(ctx, bucket, fileID)
	if err := s.purge(ctx, bucket, fileID); err != nil {
		span.RecordError(err)
		return false, err
	}

	s.invalidate(ctx, bucket, fileID)
	s.log.Info().Str("bucket", bucket).Str("file_id", fileID).Msg("file deleted")
	return true, nil
}

// purge deletes chunks before the record so a half-finished purge never
// leaves a record whose chunks look complete
func (s *Store) purge(ctx context.Context, bucket, fileID string) error {
	err := s.retry(ctx, func() error {
		return s.chunks.DeleteChunks(ctx, bucket, fileID)
	})
	if err != nil {
		return fmt.Errorf("%w: delete chunks of %s: %w", ErrWrite, fileID, err)
	}

	err = s.retry(ctx, func() error {
		return s.files.DeleteFile(ctx, bucket, fileID)
	})
	if err != nil {
		return fmt.Errorf("%w: delete file %s: %w", ErrWrite, fileID, err)
	}
	return nil
}

func (s *Store) invalidate(ctx context.Context, bucket, fileID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateFileMetadata(ctx, bucket, fileID); err != nil {
		s.log.Warn().Err(err).Str("bucket", bucket).Str("file_id", fileID).Msg("metadata cache invalidation failed")
	}
}

// List returns the committed files of a bucket ordered by filename, then id
func (s *Store) List(ctx context.Context, bucket string) ([]*models.FileRecord, error) {
	if err := ValidateBucketName(bucket); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "gridfs.list",
		trace.WithAttributes(attribute.String("bucket", bucket)),
	)
	defer span.End()

	var files []*models.FileRecord
	err := s.retry(ctx, func() error {
		var err error
		files, err = s.files.ListCommitted(ctx, bucket)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: list bucket %s: %w", ErrRead, bucket, err)
	}

	span.SetAttributes(attribute.Int("file_count", len(files)))
	return files, nil
}

// Rename overwrites the filename of a committed file
func (s *Store) Rename(ctx context.Context, bucket, fileID, filename string) error {
	if err := ValidateBucketName(bucket); err != nil {
		return err
	}
	if filename == "" {
		return fmt.Errorf("%w: empty filename", ErrInvalidArgument)
	}

	ctx, span := tracer.Start(ctx, "gridfs.rename",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("file_id", fileID),
			attribute.String("file_name", filename),
		),
	)
	defer span.End()

	s.invalidate(ctx, bucket, fileID)
	err := s.retry(ctx, func() error {
		return s.files.RenameFile(ctx, bucket, fileID, filename)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: file %s in bucket %s", ErrNotFound, fileID, bucket)
	} else if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: rename file %s: %w", ErrWrite, fileID, err)
	}

	s.invalidate(ctx, bucket, fileID)
	return nil
}

// Buckets lists the buckets that currently hold files
func (s *Store) Buckets(ctx context.Context) ([]string, error) {
	var buckets []string
	err := s.retry(ctx, func() error {
		var err error
		buckets, err = s.files.FileBuckets(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list buckets: %w", ErrRead, err)
	}
	return buckets, nil
}
