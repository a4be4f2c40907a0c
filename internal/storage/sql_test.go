package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/suite"

	"github.com/maneesh/gridstore/internal/models"
)

// SQLClientTestSuite runs the collection contract against SQLite
type SQLClientTestSuite struct {
	suite.Suite
	ctx    context.Context
	client *SQLClient
}

func (s *SQLClientTestSuite) SetupTest() {
	s.ctx = context.Background()
	dsn := filepath.Join(s.T().TempDir(), "gridstore.db")

	var err error
	s.client, err = NewSQLClient(s.ctx, DriverSQLite, dsn)
	s.Require().NoError(err)
}

func (s *SQLClientTestSuite) TearDownTest() {
	if s.client != nil {
		s.client.Close()
	}
}

func (s *SQLClientTestSuite) insert(bucket, id, name string, status models.Status, createdAt time.Time) {
	err := s.client.InsertFile(s.ctx, &models.FileRecord{
		ID:          id,
		Bucket:      bucket,
		Filename:    name,
		ChunkSize:   4,
		CreatedAt:   createdAt,
		ContentType: "text/plain",
		Metadata:    map[string]string{"mimeType": "text/plain"},
		Status:      status,
	})
	s.Require().NoError(err)
}

func (s *SQLClientTestSuite) TestUnsupportedDriver() {
	_, err := NewSQLClient(s.ctx, "oracle", "dsn")
	s.Error(err)
}

func (s *SQLClientTestSuite) TestMigrateIsIdempotent() {
	s.NoError(s.client.Migrate(s.ctx))
}

func (s *SQLClientTestSuite) TestInsertAndGetFile() {
	created := time.Now().UTC().Truncate(time.Millisecond)
	s.insert("fs", "id-1", "a.txt", models.StatusPending, created)

	file, err := s.client.GetFile(s.ctx, "fs", "id-1")
	s.Require().NoError(err)
	s.Equal("a.txt", file.Filename)
	s.Equal(4, file.ChunkSize)
	s.Equal(models.StatusPending, file.Status)
	s.Equal("text/plain", file.ContentType)
	s.Equal(map[string]string{"mimeType": "text/plain"}, file.Metadata)
	s.True(created.Equal(file.CreatedAt))
	s.True(file.UploadDate.IsZero())
}

func (s *SQLClientTestSuite) TestGetFileNotFound() {
	_, err := s.client.GetFile(s.ctx, "fs", "missing")
	s.ErrorIs(err, ErrNotFound)
}

func (s *SQLClientTestSuite) TestBucketsAreIsolated() {
	s.insert("photos", "id-1", "a.jpg", models.StatusCommitted, time.Now())

	_, err := s.client.GetFile(s.ctx, "fs", "id-1")
	s.ErrorIs(err, ErrNotFound)

	buckets, err := s.client.FileBuckets(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"photos"}, buckets)
}

func (s *SQLClientTestSuite) TestCommitFile() {
	s.insert("fs", "id-1", "a.txt", models.StatusPending, time.Now())

	uploaded := time.Now().UTC().Truncate(time.Millisecond)
	s.Require().NoError(s.client.CommitFile(s.ctx, "fs", "id-1", 11, uploaded))

	file, err := s.client.GetFile(s.ctx, "fs", "id-1")
	s.Require().NoError(err)
	s.Equal(models.StatusCommitted, file.Status)
	s.Equal(int64(11), file.Length)
	s.True(uploaded.Equal(file.UploadDate))

	// a second commit finds no pending record
	err = s.client.CommitFile(s.ctx, "fs", "id-1", 11, uploaded)
	s.ErrorIs(err, ErrNotFound)
}

func (s *SQLClientTestSuite) TestCommitMissingFile() {
	err := s.client.CommitFile(s.ctx, "fs", "nope", 1, time.Now())
	s.ErrorIs(err, ErrNotFound)
}

func (s *SQLClientTestSuite) TestRenameFile() {
	s.insert("fs", "id-1", "a.txt", models.StatusCommitted, time.Now())

	s.Require().NoError(s.client.RenameFile(s.ctx, "fs", "id-1", "b.txt"))
	file, err := s.client.GetFile(s.ctx, "fs", "id-1")
	s.Require().NoError(err)
	s.Equal("b.txt", file.Filename)

	// same name again is still a success
	s.NoError(s.client.RenameFile(s.ctx, "fs", "id-1", "b.txt"))
}

func (s *SQLClientTestSuite) TestRenamePendingOrMissing() {
	s.insert("fs", "id-1", "a.txt", models.StatusPending, time.Now())

	s.ErrorIs(s.client.RenameFile(s.ctx, "fs", "id-1", "b.txt"), ErrNotFound)
	s.ErrorIs(s.client.RenameFile(s.ctx, "fs", "nope", "b.txt"), ErrNotFound)
}

func (s *SQLClientTestSuite) TestListCommittedOrdering() {
	now := time.Now()
	s.insert("fs", "id-3", "b.txt", models.StatusCommitted, now)
	s.insert("fs", "id-2", "a.txt", models.StatusCommitted, now)
	s.insert("fs", "id-1", "a.txt", models.StatusCommitted, now)
	s.insert("fs", "id-0", "0.txt", models.StatusPending, now)
	s.insert("other", "id-9", "a.txt", models.StatusCommitted, now)

	files, err := s.client.ListCommitted(s.ctx, "fs")
	s.Require().NoError(err)
	s.Require().Len(files, 3)
	s.Equal("id-1", files[0].ID)
	s.Equal("id-2", files[1].ID)
	s.Equal("id-3", files[2].ID)
}

func (s *SQLClientTestSuite) TestListPendingBefore() {
	now := time.Now()
	s.insert("fs", "old", "a.txt", models.StatusPending, now.Add(-48*time.Hour))
	s.insert("fs", "new", "b.txt", models.StatusPending, now)
	s.insert("fs", "done", "c.txt", models.StatusCommitted, now.Add(-48*time.Hour))

	files, err := s.client.ListPendingBefore(s.ctx, "fs", now.Add(-24*time.Hour))
	s.Require().NoError(err)
	s.Require().Len(files, 1)
	s.Equal("old", files[0].ID)
}

func (s *SQLClientTestSuite) TestDeleteFile() {
	s.insert("fs", "id-1", "a.txt", models.StatusCommitted, time.Now())

	s.Require().NoError(s.client.DeleteFile(s.ctx, "fs", "id-1"))
	_, err := s.client.GetFile(s.ctx, "fs", "id-1")
	s.ErrorIs(err, ErrNotFound)

	s.NoError(s.client.DeleteFile(s.ctx, "fs", "id-1"))
}

func (s *SQLClientTestSuite) putChunk(bucket, fileID string, n int, data string) {
	err := s.client.PutChunk(s.ctx, &models.Chunk{
		Bucket: bucket,
		FileID: fileID,
		N:      n,
		Data:   []byte(data),
		Size:   int64(len(data)),
		Hash:   "h" + data,
	})
	s.Require().NoError(err)
}

func (s *SQLClientTestSuite) TestChunkLifecycle() {
	s.putChunk("fs", "id-1", 1, "o wo")
	s.putChunk("fs", "id-1", 0, "hell")
	s.putChunk("fs", "id-1", 2, "rld")
	s.putChunk("fs", "id-2", 0, "x")

	chunk, err := s.client.GetChunk(s.ctx, "fs", "id-1", 1)
	s.Require().NoError(err)
	s.Equal([]byte("o wo"), chunk.Data)
	s.Equal(int64(4), chunk.Size)
	s.Equal("ho wo", chunk.Hash)

	chunks, err := s.client.ListChunks(s.ctx, "fs", "id-1")
	s.Require().NoError(err)
	s.Require().Len(chunks, 3)
	for i, c := range chunks {
		s.Equal(i, c.N)
		s.Nil(c.Data)
	}

	ids, err := s.client.ChunkFileIDs(s.ctx, "fs")
	s.Require().NoError(err)
	s.ElementsMatch([]string{"id-1", "id-2"}, ids)

	s.Require().NoError(s.client.DeleteChunks(s.ctx, "fs", "id-1"))
	chunks, err = s.client.ListChunks(s.ctx, "fs", "id-1")
	s.Require().NoError(err)
	s.Empty(chunks)

	_, err = s.client.GetChunk(s.ctx, "fs", "id-1", 0)
	s.ErrorIs(err, ErrNotFound)

	buckets, err := s.client.ChunkBuckets(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"fs"}, buckets)
}

func (s *SQLClientTestSuite) TestPutChunkIsIdempotent() {
	s.putChunk("fs", "id-1", 0, "abcd")
	s.putChunk("fs", "id-1", 0, "abcd")

	chunks, err := s.client.ListChunks(s.ctx, "fs", "id-1")
	s.Require().NoError(err)
	s.Len(chunks, 1)
}

func TestSQLClientTestSuite(t *testing.T) {
	suite.Run(t, new(SQLClientTestSuite))
}

func TestRebindPostgres(t *testing.T) {
	sc := &SQLClient{dialect: "postgres"}
	got := sc.rebind(`SELECT a FROM t WHERE b = ? AND c = ?`)
	if got != `SELECT a FROM t WHERE b = $1 AND c = $2` {
		t.Fatalf("unexpected rebind: %s", got)
	}

	sc = &SQLClient{dialect: "mysql"}
	if q := `SELECT ?`; sc.rebind(q) != q {
		t.Fatalf("mysql query must not be rewritten")
	}
}

func TestTrimPrefixes(t *testing.T) {
	objects := []minio.ObjectInfo{
		{Key: "fs/id-1/"},
		{Key: "fs/id-2/"},
		{Key: "fs/stray-object"},
	}
	got := trimPrefixes(objects, "fs/")
	if len(got) != 2 || got[0] != "id-1" || got[1] != "id-2" {
		t.Fatalf("unexpected prefixes: %v", got)
	}
}

func TestChunkKeySortsNumerically(t *testing.T) {
	if chunkKey("fs", "id", 2) >= chunkKey("fs", "id", 10) {
		t.Fatalf("chunk keys must sort in chunk order")
	}
}

func TestSQLitePragmas(t *testing.T) {
	for _, tc := range []struct{ in, want string }{
		{"files.db", "files.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"},
		{"file:files.db?mode=rwc", "file:files.db?mode=rwc&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"},
		{"files.db?_pragma=foreign_keys(1)", "files.db?_pragma=foreign_keys(1)"},
	} {
		if got := sqlitePragmas(tc.in); got != tc.want {
			t.Errorf("sqlitePragmas(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
