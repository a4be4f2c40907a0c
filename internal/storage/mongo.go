package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	mgo "github.com/juju/mgo/v3"
	"github.com/juju/mgo/v3/bson"
	"github.com/maneesh/gridstore/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	filesSuffix  = ".files"
	chunksSuffix = ".chunks"
)

// MongoClient implements both collections GridFS-style: every bucket owns a
// <bucket>.files and a <bucket>.chunks collection
type MongoClient struct {
	session  *mgo.Session
	database string
}

// NewMongoClient dials MongoDB and waits for majority write acknowledgement on
// every write
func NewMongoClient(url, database string, timeout time.Duration) (*MongoClient, error) {
	session, err := mgo.DialWithTimeout(url, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to dial mongo: %w", ErrDatabaseError, err)
	}
	session.SetMode(mgo.Primary, true)
	session.SetSafe(&mgo.Safe{WMode: "majority", J: true})

	return &MongoClient{session: session, database: database}, nil
}

// Close releases the session
func (mc *MongoClient) Close() error {
	mc.session.Close()
	return nil
}

func (mc *MongoClient) collection(s *mgo.Session, bucket, suffix string) *mgo.Collection {
	return s.DB(mc.database).C(bucket + suffix)
}

func mongoErr(err error, what string) error {
	if errors.Is(err, mgo.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return fmt.Errorf("%w: %s: %w", ErrDatabaseError, what, err)
}

// InsertFile inserts a file document
func (mc *MongoClient) InsertFile(ctx context.Context, file *models.FileRecord) error {
	_, span := tracer.Start(ctx, "mongo.insert_file",
		trace.WithAttributes(
			attribute.String("bucket", file.Bucket),
			attribute.String("file_id", file.ID),
		),
	)
	defer span.End()

	s := mc.session.Copy()
	defer s.Close()

	files := mc.collection(s, file.Bucket, filesSuffix)
	if err := files.EnsureIndex(mgo.Index{Key: []string{"status", "filename", "_id"}}); err != nil {
		span.RecordError(err)
		return mongoErr(err, "ensure files index")
	}
	if err := files.Insert(file); err != nil {
		span.RecordError(err)
		return mongoErr(err, "insert file")
	}
	return nil
}

// GetFile finds a file document by id
func (mc *MongoClient) GetFile(ctx context.Context, bucket, fileID string) (*models.FileRecord, error) {
	_, span := tracer.Start(ctx, "mongo.get_file",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("file_id", fileID),
		),
	)
	defer span.End()

	s := mc.session.Copy()
	defer s.Close()

	var file models.FileRecord
	if err := mc.collection(s, bucket, filesSuffix).FindId(fileID).One(&file); err != nil {
		return nil, mongoErr(err, "file "+bucket+"/"+fileID)
	}
	return &file, nil
}

// CommitFile flips a pending document to committed
func (mc *MongoClient) CommitFile(ctx context.Context, bucket, fileID string, length int64, uploadDate time.Time) error {
	_, span := tracer.Start(ctx, "mongo.commit_file",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("file_id", fileID),
		),
	)
	defer span.End()

	s := mc.session.Copy()
	defer s.Close()

	err := mc.collection(s, bucket, filesSuffix).Update(
		bson.M{"_id": fileID, "status": models.StatusPending},
		bson.M{"$set": bson.M{
			"status":     models.StatusCommitted,
			"length":     length,
			"uploadDate": uploadDate,
		}},
	)
	if err != nil {
		return mongoErr(err, "pending file "+bucket+"/"+fileID)
	}
	return nil
}

// RenameFile sets the filename of a committed document
func (mc *MongoClient) RenameFile(ctx context.Context, bucket, fileID, filename string) error {
	_, span := tracer.Start(ctx, "mongo.rename_file",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("file_id", fileID),
		),
	)
	defer span.End()

	s := mc.session.Copy()
	defer s.Close()

	err := mc.collection(s, bucket, filesSuffix).Update(
		bson.M{"_id": fileID, "status": models.StatusCommitted},
		bson.M{"$set": bson.M{"filename": filename}},
	)
	if err != nil {
		return mongoErr(err, "file "+bucket+"/"+fileID)
	}
	return nil
}

// DeleteFile removes a file document
func (mc *MongoClient) DeleteFile(ctx context.Context, bucket, fileID string) error {
	_, span := tracer.Start(ctx, "mongo.delete_file",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("file_id", fileID),
		),
	)
	defer span.End()

	s := mc.session.Copy()
	defer s.Close()

	err := mc.collection(s, bucket, filesSuffix).RemoveId(fileID)
	if err != nil && !errors.Is(err, mgo.ErrNotFound) {
		span.RecordError(err)
		return mongoErr(err, "delete file")
	}
	return nil
}

// ListCommitted returns committed documents ordered by filename then id
func (mc *MongoClient) ListCommitted(ctx context.Context, bucket string) ([]*models.FileRecord, error) {
	_, span := tracer.Start(ctx, "mongo.list_committed",
		trace.WithAttributes(attribute.String("bucket", bucket)),
	)
	defer span.End()

	s := mc.session.Copy()
	defer s.Close()

	var files []*models.FileRecord
	err := mc.collection(s, bucket, filesSuffix).
		Find(bson.M{"status": models.StatusCommitted}).
		Sort("filename", "_id").
		All(&files)
	if err != nil {
		return nil, mongoErr(err, "list files")
	}
	return files, nil
}

// ListPendingBefore returns pending documents created before cutoff
func (mc *MongoClient) ListPendingBefore(ctx context.Context, bucket string, cutoff time.Time) ([]*models.FileRecord, error) {
	s := mc.session.Copy()
	defer s.Close()

	var files []*models.FileRecord
	err := mc.collection(s, bucket, filesSuffix).
		Find(bson.M{"status": models.StatusPending, "createdAt": bson.M{"$lt": cutoff}}).
		Sort("createdAt").
		All(&files)
	if err != nil {
		return nil, mongoErr(err, "list pending files")
	}
	return files, nil
}

// FileBuckets derives bucket names from <bucket>.files collections
func (mc *MongoClient) FileBuckets(ctx context.Context) ([]string, error) {
	return mc.buckets(filesSuffix)
}

func (mc *MongoClient) buckets(suffix string) ([]string, error) {
	s := mc.session.Copy()
	defer s.Close()

	names, err := s.DB(mc.database).CollectionNames()
	if err != nil {
		return nil, mongoErr(err, "list collections")
	}

	var buckets []string
	for _, name := range names {
		if bucket, ok := strings.CutSuffix(name, suffix); ok && bucket != "" {
			buckets = append(buckets, bucket)
		}
	}
	sort.Strings(buckets)
	return buckets, nil
}

// PutChunk upserts a chunk document keyed by (files_id, n)
func (mc *MongoClient) PutChunk(ctx context.Context, chunk *models.Chunk) error {
	_, span := tracer.Start(ctx, "mongo.put_chunk",
		trace.WithAttributes(
			attribute.String("bucket", chunk.Bucket),
			attribute.String("file_id", chunk.FileID),
			attribute.Int("order_index", chunk.N),
		),
	)
	defer span.End()

	s := mc.session.Copy()
	defer s.Close()

	chunks := mc.collection(s, chunk.Bucket, chunksSuffix)
	if err := chunks.EnsureIndex(mgo.Index{Key: []string{"files_id", "n"}, Unique: true}); err != nil {
		span.RecordError(err)
		return mongoErr(err, "ensure chunks index")
	}
	if _, err := chunks.Upsert(bson.M{"files_id": chunk.FileID, "n": chunk.N}, chunk); err != nil {
		span.RecordError(err)
		return mongoErr(err, "put chunk")
	}
	return nil
}

// GetChunk reads one chunk document
func (mc *MongoClient) GetChunk(ctx context.Context, bucket, fileID string, n int) (*models.Chunk, error) {
	_, span := tracer.Start(ctx, "mongo.get_chunk",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("file_id", fileID),
			attribute.Int("order_index", n),
		),
	)
	defer span.End()

	s := mc.session.Copy()
	defer s.Close()

	var chunk models.Chunk
	err := mc.collection(s, bucket, chunksSuffix).Find(bson.M{"files_id": fileID, "n": n}).One(&chunk)
	if err != nil {
		return nil, mongoErr(err, fmt.Sprintf("chunk %d of %s/%s", n, bucket, fileID))
	}
	return &chunk, nil
}

// ListChunks returns chunk descriptors without data
func (mc *MongoClient) ListChunks(ctx context.Context, bucket, fileID string) ([]*models.Chunk, error) {
	s := mc.session.Copy()
	defer s.Close()

	var chunks []*models.Chunk
	err := mc.collection(s, bucket, chunksSuffix).
		Find(bson.M{"files_id": fileID}).
		Select(bson.M{"data": 0}).
		Sort("n").
		All(&chunks)
	if err != nil {
		return nil, mongoErr(err, "list chunks")
	}
	return chunks, nil
}

// DeleteChunks removes every chunk document of a file
func (mc *MongoClient) DeleteChunks(ctx context.Context, bucket, fileID string) error {
	_, span := tracer.Start(ctx, "mongo.delete_chunks",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("file_id", fileID),
		),
	)
	defer span.End()

	s := mc.session.Copy()
	defer s.Close()

	info, err := mc.collection(s, bucket, chunksSuffix).RemoveAll(bson.M{"files_id": fileID})
	if err != nil {
		span.RecordError(err)
		return mongoErr(err, "delete chunks")
	}
	span.SetAttributes(attribute.Int("chunks_deleted", info.Removed))
	return nil
}

// ChunkFileIDs returns the distinct owners of chunk documents
func (mc *MongoClient) ChunkFileIDs(ctx context.Context, bucket string) ([]string, error) {
	s := mc.session.Copy()
	defer s.Close()

	var ids []string
	if err := mc.collection(s, bucket, chunksSuffix).Find(nil).Distinct("files_id", &ids); err != nil {
		return nil, mongoErr(err, "distinct chunk owners")
	}
	return ids, nil
}

// ChunkBuckets derives bucket names from <bucket>.chunks collections
func (mc *MongoClient) ChunkBuckets(ctx context.Context) ([]string, error) {
	return mc.buckets(chunksSuffix)
}
