package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/maneesh/gridstore/internal/models"
)

// DefaultChunkSize matches the GridFS default of 255 KiB
const DefaultChunkSize = 255 * 1024

// ErrInvalidChunkSize is returned for non-positive chunk sizes
var ErrInvalidChunkSize = errors.New("chunk size must be positive")

// EmitFunc persists one full or final chunk. The data slice is reused after
// EmitFunc returns and must not be retained.
type EmitFunc func(chunk *models.ChunkData) error

// Chunker splits a byte stream into fixed-size chunks as it is written.
// Memory use is bounded by the chunk size regardless of stream length.
type Chunker struct {
	chunkSize int
	buf       []byte
	next      int
	written   int64
	emit      EmitFunc
}

// NewChunker creates a new chunker with the specified chunk size
func NewChunker(chunkSize int, emit EmitFunc) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}
	return &Chunker{
		chunkSize: chunkSize,
		buf:       make([]byte, 0, chunkSize),
		emit:      emit,
	}, nil
}

// Write buffers p and emits every full chunk before returning. On an emit
// failure the returned count covers only the bytes of p that reached an
// emitted chunk.
func (c *Chunker) Write(p []byte) (int, error) {
	n := 0
	for len(p) > 0 {
		room := c.chunkSize - len(c.buf)
		take := min(room, len(p))
		c.buf = append(c.buf, p[:take]...)
		p = p[take:]
		n += take

		if len(c.buf) == c.chunkSize {
			if err := c.flush(); err != nil {
				return n - take, err
			}
		}
	}
	return n, nil
}

// Flush emits the buffered remainder as a final short chunk
func (c *Chunker) Flush() error {
	if len(c.buf) == 0 {
		return nil
	}
	return c.flush()
}

func (c *Chunker) flush() error {
	chunk := &models.ChunkData{
		Data:       c.buf,
		OrderIndex: c.next,
		Hash:       ComputeHash(c.buf),
		Size:       int64(len(c.buf)),
	}
	if err := c.emit(chunk); err != nil {
		return err
	}
	c.written += chunk.Size
	c.next++
	c.buf = c.buf[:0]
	return nil
}

// Written returns the number of bytes emitted as chunks so far
func (c *Chunker) Written() int64 {
	return c.written
}

// Buffered returns the number of bytes not yet emitted
func (c *Chunker) Buffered() int {
	return len(c.buf)
}

// Chunks returns the number of chunks emitted so far
func (c *Chunker) Chunks() int {
	return c.next
}

// ChunkSize returns the configured chunk size
func (c *Chunker) ChunkSize() int {
	return c.chunkSize
}

// ComputeHash computes SHA256 hash of data
func ComputeHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// VerifyChunkHash verifies that chunk data matches the expected hash
func VerifyChunkHash(data []byte, expectedHash string) bool {
	actualHash := ComputeHash(data)
	return actualHash == expectedHash
}
