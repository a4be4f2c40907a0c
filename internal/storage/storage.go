// Package storage provides the persistent collections the chunked file store
// is built on: a files collection holding FileRecords and a chunks collection
// holding chunk bytes, each partitioned by bucket.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/maneesh/gridstore/internal/models"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("gridstore-storage")

var (
	// ErrNotFound is returned when a record or chunk does not exist
	ErrNotFound = errors.New("not found")
	// ErrDatabaseError wraps failures reported by the underlying engine
	ErrDatabaseError = errors.New("database error")
)

// FileCollection stores FileRecords
type FileCollection interface {
	InsertFile(ctx context.Context, file *models.FileRecord) error
	// GetFile returns the record in any status
	GetFile(ctx context.Context, bucket, fileID string) (*models.FileRecord, error)
	// CommitFile moves a pending record to committed. It returns ErrNotFound
	// when no pending record with that id exists.
	CommitFile(ctx context.Context, bucket, fileID string, length int64, uploadDate time.Time) error
	// RenameFile updates the filename of a committed record
	RenameFile(ctx context.Context, bucket, fileID, filename string) error
	// DeleteFile removes a record in any status. Missing records are not an error.
	DeleteFile(ctx context.Context, bucket, fileID string) error
	// ListCommitted returns committed records ordered by filename, then id
	ListCommitted(ctx context.Context, bucket string) ([]*models.FileRecord, error)
	// ListPendingBefore returns pending records created before cutoff
	ListPendingBefore(ctx context.Context, bucket string, cutoff time.Time) ([]*models.FileRecord, error)
	FileBuckets(ctx context.Context) ([]string, error)
}

// ChunkCollection stores chunk bytes keyed by (bucket, file id, n)
type ChunkCollection interface {
	PutChunk(ctx context.Context, chunk *models.Chunk) error
	GetChunk(ctx context.Context, bucket, fileID string, n int) (*models.Chunk, error)
	// ListChunks returns the chunks of a file ordered by n, without data
	ListChunks(ctx context.Context, bucket, fileID string) ([]*models.Chunk, error)
	// DeleteChunks removes every chunk of a file. Missing chunks are not an error.
	DeleteChunks(ctx context.Context, bucket, fileID string) error
	// ChunkFileIDs returns the distinct file ids that own chunks in a bucket
	ChunkFileIDs(ctx context.Context, bucket string) ([]string, error)
	ChunkBuckets(ctx context.Context) ([]string, error)
}

// MetadataCache caches committed FileRecords
type MetadataCache interface {
	GetFileMetadata(ctx context.Context, bucket, fileID string) (*models.FileRecord, error)
	SetFileMetadata(ctx context.Context, file *models.FileRecord) error
	InvalidateFileMetadata(ctx context.Context, bucket, fileID string) error
}

var (
	_ FileCollection  = (*SQLClient)(nil)
	_ ChunkCollection = (*SQLClient)(nil)
	_ FileCollection  = (*MongoClient)(nil)
	_ ChunkCollection = (*MongoClient)(nil)
	_ ChunkCollection = (*MinioClient)(nil)
	_ MetadataCache   = (*RedisClient)(nil)
)
