package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/maneesh/gridstore/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// upsertChunk keeps PutChunk idempotent so a retried write never trips the
// primary key
func (sc *SQLClient) upsertChunk() string {
	switch sc.dialect {
	case "mysql":
		return `REPLACE INTO chunks (bucket, file_id, n, data, size, hash) VALUES (?, ?, ?, ?, ?, ?)`
	case "postgres":
		return `INSERT INTO chunks (bucket, file_id, n, data, size, hash) VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT (bucket, file_id, n) DO UPDATE
				SET data = EXCLUDED.data, size = EXCLUDED.size, hash = EXCLUDED.hash`
	default:
		return `INSERT OR REPLACE INTO chunks (bucket, file_id, n, data, size, hash) VALUES (?, ?, ?, ?, ?, ?)`
	}
}

// PutChunk inserts chunk data with tracing
func (sc *SQLClient) PutChunk(ctx context.Context, chunk *models.Chunk) error {
	ctx, span := tracer.Start(ctx, "sql.put_chunk",
		trace.WithAttributes(
			attribute.String("bucket", chunk.Bucket),
			attribute.String("file_id", chunk.FileID),
			attribute.Int("order_index", chunk.N),
			attribute.Int64("size_bytes", chunk.Size),
		),
	)
	defer span.End()

	_, err := sc.exec(ctx, sc.upsertChunk(),
		chunk.Bucket, chunk.FileID, chunk.N, chunk.Data, chunk.Size, chunk.Hash)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: failed to insert chunk: %w", ErrDatabaseError, err)
	}
	return nil
}

// GetChunk reads a single chunk with tracing
func (sc *SQLClient) GetChunk(ctx context.Context, bucket, fileID string, n int) (*models.Chunk, error) {
	ctx, span := tracer.Start(ctx, "sql.get_chunk",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("file_id", fileID),
			attribute.Int("order_index", n),
		),
	)
	defer span.End()

	chunk := models.Chunk{Bucket: bucket, FileID: fileID, N: n}
	query := `SELECT data, size, hash FROM chunks WHERE bucket = ? AND file_id = ? AND n = ?`
	err := sc.queryRow(ctx, query, bucket, fileID, n).Scan(&chunk.Data, &chunk.Size, &chunk.Hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: chunk %d of %s/%s", ErrNotFound, n, bucket, fileID)
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: failed to query chunk: %w", ErrDatabaseError, err)
	}

	span.SetAttributes(attribute.Int("size_bytes", len(chunk.Data)))
	return &chunk, nil
}

// ListChunks retrieves chunk descriptors for a file ordered by n
func (sc *SQLClient) ListChunks(ctx context.Context, bucket, fileID string) ([]*models.Chunk, error) {
	ctx, span := tracer.Start(ctx, "sql.list_chunks",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("file_id", fileID),
		),
	)
	defer span.End()

	query := `SELECT n, size, hash FROM chunks
			  WHERE bucket = ? AND file_id = ?
			  ORDER BY n ASC`
	rows, err := sc.query(ctx, query, bucket, fileID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: failed to query chunks: %w", ErrDatabaseError, err)
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		chunk := models.Chunk{Bucket: bucket, FileID: fileID}
		if err := rows.Scan(&chunk.N, &chunk.Size, &chunk.Hash); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("%w: failed to scan chunk: %w", ErrDatabaseError, err)
		}
		chunks = append(chunks, &chunk)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: error iterating chunks: %w", ErrDatabaseError, err)
	}

	span.SetAttributes(attribute.Int("chunk_count", len(chunks)))
	return chunks, nil
}

// DeleteChunks removes every chunk of a file
func (sc *SQLClient) DeleteChunks(ctx context.Context, bucket, fileID string) error {
	ctx, span := tracer.Start(ctx, "sql.delete_chunks",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("file_id", fileID),
		),
	)
	defer span.End()

	res, err := sc.exec(ctx, `DELETE FROM chunks WHERE bucket = ? AND file_id = ?`, bucket, fileID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: failed to delete chunks: %w", ErrDatabaseError, err)
	}
	if affected, err := res.RowsAffected(); err == nil {
		span.SetAttributes(attribute.Int64("chunks_deleted", affected))
	}
	return nil
}

// ChunkFileIDs returns the distinct owners of chunks in a bucket
func (sc *SQLClient) ChunkFileIDs(ctx context.Context, bucket string) ([]string, error) {
	return sc.distinct(ctx, `SELECT DISTINCT file_id FROM chunks WHERE bucket = ?`, bucket)
}

// ChunkBuckets returns the buckets that hold at least one chunk
func (sc *SQLClient) ChunkBuckets(ctx context.Context) ([]string, error) {
	return sc.distinct(ctx, `SELECT DISTINCT bucket FROM chunks ORDER BY bucket`)
}
