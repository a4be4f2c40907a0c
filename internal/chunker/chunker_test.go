package chunker

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maneesh/gridstore/internal/models"
)

type collected struct {
	chunks [][]byte
	index  []int
}

func (c *collected) emit(chunk *models.ChunkData) error {
	c.chunks = append(c.chunks, append([]byte(nil), chunk.Data...))
	c.index = append(c.index, chunk.OrderIndex)
	if !VerifyChunkHash(chunk.Data, chunk.Hash) {
		return errors.New("hash mismatch")
	}
	return nil
}

func TestNewChunkerRejectsNonPositiveSize(t *testing.T) {
	_, err := NewChunker(0, func(*models.ChunkData) error { return nil })
	assert.ErrorIs(t, err, ErrInvalidChunkSize)

	_, err = NewChunker(-4, func(*models.ChunkData) error { return nil })
	assert.ErrorIs(t, err, ErrInvalidChunkSize)
}

func TestChunkerSplitsHelloWorld(t *testing.T) {
	var out collected
	c, err := NewChunker(4, out.emit)
	require.NoError(t, err)
	assert.Equal(t, 4, c.ChunkSize())

	n, err := c.Write([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, 2, c.Chunks())
	assert.Equal(t, 3, c.Buffered())

	require.NoError(t, c.Flush())
	require.Len(t, out.chunks, 3)
	assert.Equal(t, []byte("hell"), out.chunks[0])
	assert.Equal(t, []byte("o wo"), out.chunks[1])
	assert.Equal(t, []byte("rld"), out.chunks[2])
	assert.Equal(t, []int{0, 1, 2}, out.index)
	assert.Equal(t, int64(11), c.Written())
}

func TestChunkerSmallWritesAcrossBoundaries(t *testing.T) {
	var out collected
	c, err := NewChunker(3, out.emit)
	require.NoError(t, err)

	payload := []byte("abcdefghij")
	for i := range payload {
		_, err := c.Write(payload[i : i+1])
		require.NoError(t, err)
	}
	require.NoError(t, c.Flush())

	assert.Equal(t, payload, bytes.Join(out.chunks, nil))
	require.Len(t, out.chunks, 4)
	for _, chunk := range out.chunks[:3] {
		assert.Len(t, chunk, 3)
	}
	assert.Len(t, out.chunks[3], 1)
}

func TestChunkerExactMultipleHasNoShortChunk(t *testing.T) {
	var out collected
	c, err := NewChunker(5, out.emit)
	require.NoError(t, err)

	_, err = c.Write(bytes.Repeat([]byte{'x'}, 15))
	require.NoError(t, err)
	require.NoError(t, c.Flush())
	assert.Len(t, out.chunks, 3)
}

func TestChunkerFlushEmptyEmitsNothing(t *testing.T) {
	var out collected
	c, err := NewChunker(8, out.emit)
	require.NoError(t, err)

	require.NoError(t, c.Flush())
	assert.Empty(t, out.chunks)
	assert.Equal(t, 0, c.Chunks())
}

func TestChunkerEmitErrorStopsWrite(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	c, err := NewChunker(2, func(*models.ChunkData) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	})
	require.NoError(t, err)

	n, err := c.Write([]byte("abcdef"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(2), c.Written())
	assert.Equal(t, 1, c.Chunks())
}

func TestComputeHash(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		ComputeHash(nil))
	assert.True(t, VerifyChunkHash([]byte("abc"), ComputeHash([]byte("abc"))))
	assert.False(t, VerifyChunkHash([]byte("abd"), ComputeHash([]byte("abc"))))
}
