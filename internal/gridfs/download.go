package gridfs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/maneesh/gridstore/internal/chunker"
	"github.com/maneesh/gridstore/internal/models"
	"github.com/maneesh/gridstore/internal/storage"
)

// Download reads a committed file chunk by chunk. It is forward-only: once
// consumed, reading again requires a new Download.
type Download struct {
	ctx     context.Context
	store   *Store
	file    *models.FileRecord
	count   int
	next    int
	pending []byte
	err     error
}

func newDownload(ctx context.Context, s *Store, file *models.FileRecord) *Download {
	return &Download{
		ctx:   ctx,
		store: s,
		file:  file,
		count: file.ChunkCount(),
	}
}

// File returns the record as it was when the download was opened
func (d *Download) File() *models.FileRecord {
	return d.file
}

// Next returns the data of the next chunk, or io.EOF after the last one.
// Missing, short, oversized or corrupted chunks yield ErrRead. Errors are
// sticky.
func (d *Download) Next() ([]byte, error) {
	if d.err != nil {
		return nil, d.err
	}
	if d.next >= d.count {
		d.err = io.EOF
		return nil, d.err
	}

	n := d.next
	var chunk *models.Chunk
	err := d.store.retry(d.ctx, func() error {
		var err error
		chunk, err = d.store.chunks.GetChunk(d.ctx, d.file.Bucket, d.file.ID, n)
		return err
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		d.err = fmt.Errorf("%w: chunk %d of %s is missing", ErrRead, n, d.file.ID)
	case err != nil:
		d.err = fmt.Errorf("%w: chunk %d of %s: %w", ErrRead, n, d.file.ID, err)
	case len(chunk.Data) != d.file.ChunkLength(n):
		d.err = fmt.Errorf("%w: chunk %d of %s has %d bytes, want %d",
			ErrRead, n, d.file.ID, len(chunk.Data), d.file.ChunkLength(n))
	case chunk.Hash != "" && !chunker.VerifyChunkHash(chunk.Data, chunk.Hash):
		d.err = fmt.Errorf("%w: chunk %d of %s fails its checksum", ErrRead, n, d.file.ID)
	}
	if d.err != nil {
		d.store.log.Error().Err(d.err).Str("bucket", d.file.Bucket).Str("file_id", d.file.ID).Msg("download failed")
		return nil, d.err
	}

	d.next++
	return chunk.Data, nil
}

// Read implements io.Reader on top of Next
func (d *Download) Read(p []byte) (int, error) {
	for len(d.pending) == 0 {
		data, err := d.Next()
		if err != nil {
			return 0, err
		}
		d.pending = data
	}

	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

// WriteTo streams the remaining chunks to w, letting io.Copy skip its buffer
func (d *Download) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for {
		if len(d.pending) == 0 {
			data, err := d.Next()
			if errors.Is(err, io.EOF) {
				return total, nil
			} else if err != nil {
				return total, err
			}
			d.pending = data
		}

		n, err := w.Write(d.pending)
		total += int64(n)
		d.pending = d.pending[n:]
		if err != nil {
			return total, err
		}
	}
}
