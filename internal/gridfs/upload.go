package gridfs

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maneesh/gridstore/internal/chunker"
	"github.com/maneesh/gridstore/internal/models"
	"github.com/maneesh/gridstore/internal/storage"
)

type uploadState int

const (
	uploadOpen uploadState = iota
	uploadFailed
	uploadCommitted
	uploadAborted
)

// Upload is the write handle of a pending file. It implements io.Writer.
// An Upload has a single writer: Write, Commit and Abort must not be called
// concurrently.
type Upload struct {
	ctx     context.Context
	store   *Store
	file    *models.FileRecord
	chunker *chunker.Chunker
	state   uploadState
	err     error
}

func newUpload(ctx context.Context, s *Store, file *models.FileRecord) (*Upload, error) {
	u := &Upload{ctx: ctx, store: s, file: file}

	c, err := chunker.NewChunker(file.ChunkSize, u.persist)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	u.chunker = c
	return u, nil
}

// ID returns the id assigned to the file at upload start
func (u *Upload) ID() string {
	return u.file.ID
}

// Bucket returns the bucket the file is uploaded into
func (u *Upload) Bucket() string {
	return u.file.Bucket
}

func (u *Upload) persist(data *models.ChunkData) error {
	chunk := &models.Chunk{
		Bucket: u.file.Bucket,
		FileID: u.file.ID,
		N:      data.OrderIndex,
		Data:   data.Data,
		Size:   data.Size,
		Hash:   data.Hash,
	}

	err := u.store.retry(u.ctx, func() error {
		return u.store.chunks.PutChunk(u.ctx, chunk)
	})
	if err != nil {
		return fmt.Errorf("%w: chunk %d of %s: %w", ErrWrite, chunk.N, u.file.ID, err)
	}
	return nil
}

func (u *Upload) usable() error {
	switch u.state {
	case uploadCommitted, uploadAborted:
		return fmt.Errorf("%w: %s", ErrAlreadyFinalized, u.file.ID)
	case uploadFailed:
		return u.err
	}
	return nil
}

func (u *Upload) fail(err error) error {
	u.state = uploadFailed
	u.err = err
	return err
}

// Write appends p to the file. Every chunk completed by p is durable when
// Write returns. After a failed Write the handle only accepts Abort.
func (u *Upload) Write(p []byte) (int, error) {
	if err := u.usable(); err != nil {
		return 0, err
	}

	n, err := u.chunker.Write(p)
	if err != nil {
		return n, u.fail(err)
	}
	return n, nil
}

// Commit flushes the final chunk and makes the file visible to readers
func (u *Upload) Commit(ctx context.Context) (*models.FileRecord, error) {
	if err := u.usable(); err != nil {
		return nil, err
	}
	u.ctx = ctx

	ctx, span := tracer.Start(ctx, "gridfs.commit",
		trace.WithAttributes(
			attribute.String("bucket", u.file.Bucket),
			attribute.String("file_id", u.file.ID),
		),
	)
	defer span.End()

	if err := u.chunker.Flush(); err != nil {
		span.RecordError(err)
		return nil, u.fail(err)
	}

	length := u.chunker.Written()
	if length == 0 && u.store.opts.RejectEmptyFiles {
		return nil, fmt.Errorf("%w: empty file %s", ErrCommit, u.file.ID)
	}

	uploadDate := u.store.now()
	err := u.store.files.CommitFile(ctx, u.file.Bucket, u.file.ID, length, uploadDate)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// deleted while uploading: the chunks written so far belong to nobody
		u.state = uploadAborted
		if cerr := u.store.retry(ctx, func() error {
			return u.store.chunks.DeleteChunks(ctx, u.file.Bucket, u.file.ID)
		}); cerr != nil {
			u.store.log.Warn().Err(cerr).Str("bucket", u.file.Bucket).Str("file_id", u.file.ID).
				Msg("leaving orphan chunks to the sweeper")
		}
		span.RecordError(err)
		return nil, fmt.Errorf("%w: file removed during upload: %w", ErrCommit, err)

	case err != nil:
		if u.committedDespite(ctx, length) {
			break
		}
		span.RecordError(err)
		return nil, u.fail(fmt.Errorf("%w: commit %s: %w", ErrWrite, u.file.ID, err))
	}

	u.state = uploadCommitted
	u.file.Status = models.StatusCommitted
	u.file.Length = length
	u.file.UploadDate = uploadDate

	span.SetAttributes(
		attribute.Int64("file_size", length),
		attribute.Int("chunk_count", u.chunker.Chunks()),
		attribute.Int("chunk_size", u.chunker.ChunkSize()),
	)
	u.store.log.Info().
		Str("bucket", u.file.Bucket).
		Str("file_id", u.file.ID).
		Int64("length", length).
		Int("chunks", u.chunker.Chunks()).
		Int("chunk_size", u.chunker.ChunkSize()).
		Msg("file committed")

	file := *u.file
	return &file, nil
}

// committedDespite checks whether a commit that reported an error was
// applied anyway
func (u *Upload) committedDespite(ctx context.Context, length int64) bool {
	file, err := u.store.files.GetFile(ctx, u.file.Bucket, u.file.ID)
	return err == nil && file.Committed() && file.Length == length
}

// Abort discards the upload and every chunk written for it
func (u *Upload) Abort(ctx context.Context) error {
	if u.state == uploadCommitted || u.state == uploadAborted {
		return fmt.Errorf("%w: %s", ErrAlreadyFinalized, u.file.ID)
	}
	u.state = uploadAborted

	ctx, span := tracer.Start(ctx, "gridfs.abort",
		trace.WithAttributes(
			attribute.String("bucket", u.file.Bucket),
			attribute.String("file_id", u.file.ID),
		),
	)
	defer span.End()

	if err := u.store.purge(ctx, u.file.Bucket, u.file.ID); err != nil {
		span.RecordError(err)
		return err
	}

	u.store.log.Info().Str("bucket", u.file.Bucket).Str("file_id", u.file.ID).Msg("upload aborted")
	return nil
}
