package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/maneesh/gridstore/internal/models"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const hashMetaKey = "Sha256"

// MinioClient stores chunk bytes as objects, one per chunk, keyed
// <bucket>/<file id>/<n>
type MinioClient struct {
	client     *minio.Client
	bucketName string
}

// NewMinioClient initializes a new MinIO client
func NewMinioClient(ctx context.Context, endpoint, accessKey, secretKey, bucketName string, useSSL bool) (*MinioClient, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	mc := &MinioClient{
		client:     client,
		bucketName: bucketName,
	}

	// Ensure bucket exists
	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		log.Info().Str("minio_bucket", bucketName).Msg("creating bucket")
		err = client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return mc, nil
}

func chunkPrefix(bucket, fileID string) string {
	return bucket + "/" + fileID + "/"
}

// chunkKey zero-pads n so that listing order matches chunk order
func chunkKey(bucket, fileID string, n int) string {
	return fmt.Sprintf("%s%010d", chunkPrefix(bucket, fileID), n)
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchObject"
}

// PutChunk uploads a chunk to MinIO with tracing
func (mc *MinioClient) PutChunk(ctx context.Context, chunk *models.Chunk) error {
	objectKey := chunkKey(chunk.Bucket, chunk.FileID, chunk.N)
	ctx, span := tracer.Start(ctx, "minio.upload_chunk",
		trace.WithAttributes(
			attribute.String("object_key", objectKey),
			attribute.Int("size_bytes", len(chunk.Data)),
		),
	)
	defer span.End()

	reader := bytes.NewReader(chunk.Data)
	_, err := mc.client.PutObject(ctx, mc.bucketName, objectKey, reader, int64(len(chunk.Data)), minio.PutObjectOptions{
		ContentType:  "application/octet-stream",
		UserMetadata: map[string]string{hashMetaKey: chunk.Hash},
	})

	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: failed to upload chunk: %w", ErrDatabaseError, err)
	}

	span.SetAttributes(attribute.Bool("upload_success", true))
	return nil
}

// GetChunk downloads a chunk from MinIO with tracing
func (mc *MinioClient) GetChunk(ctx context.Context, bucket, fileID string, n int) (*models.Chunk, error) {
	objectKey := chunkKey(bucket, fileID, n)
	ctx, span := tracer.Start(ctx, "minio.download_chunk",
		trace.WithAttributes(
			attribute.String("object_key", objectKey),
		),
	)
	defer span.End()

	object, err := mc.client.GetObject(ctx, mc.bucketName, objectKey, minio.GetObjectOptions{})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: failed to get object: %w", ErrDatabaseError, err)
	}
	defer object.Close()

	info, err := object.Stat()
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: chunk %s", ErrNotFound, objectKey)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("%w: failed to stat object: %w", ErrDatabaseError, err)
	}

	data, err := io.ReadAll(object)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: failed to read object data: %w", ErrDatabaseError, err)
	}

	chunk := &models.Chunk{
		Bucket: bucket,
		FileID: fileID,
		N:      n,
		Data:   data,
		Size:   int64(len(data)),
	}
	for k, v := range info.UserMetadata {
		if strings.EqualFold(k, hashMetaKey) {
			chunk.Hash = v
		}
	}

	span.SetAttributes(
		attribute.Int("size_bytes", len(data)),
		attribute.Bool("download_success", true),
	)
	return chunk, nil
}

func (mc *MinioClient) listKeys(ctx context.Context, prefix string, recursive bool) ([]minio.ObjectInfo, error) {
	var objects []minio.ObjectInfo
	for obj := range mc.client.ListObjects(ctx, mc.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: recursive,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("%w: failed to list objects: %w", ErrDatabaseError, obj.Err)
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

// ListChunks lists the chunk objects of a file in order
func (mc *MinioClient) ListChunks(ctx context.Context, bucket, fileID string) ([]*models.Chunk, error) {
	ctx, span := tracer.Start(ctx, "minio.list_chunks",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("file_id", fileID),
		),
	)
	defer span.End()

	prefix := chunkPrefix(bucket, fileID)
	objects, err := mc.listKeys(ctx, prefix, true)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	chunks := make([]*models.Chunk, 0, len(objects))
	for _, obj := range objects {
		n, err := strconv.Atoi(strings.TrimPrefix(obj.Key, prefix))
		if err != nil {
			continue
		}
		chunks = append(chunks, &models.Chunk{Bucket: bucket, FileID: fileID, N: n, Size: obj.Size})
	}
	return chunks, nil
}

// DeleteChunks deletes every chunk object of a file
func (mc *MinioClient) DeleteChunks(ctx context.Context, bucket, fileID string) error {
	ctx, span := tracer.Start(ctx, "minio.delete_chunks",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("file_id", fileID),
		),
	)
	defer span.End()

	objects, err := mc.listKeys(ctx, chunkPrefix(bucket, fileID), true)
	if err != nil {
		span.RecordError(err)
		return err
	}

	for _, obj := range objects {
		err := mc.client.RemoveObject(ctx, mc.bucketName, obj.Key, minio.RemoveObjectOptions{})
		if err != nil && !isNoSuchKey(err) {
			span.RecordError(err)
			return fmt.Errorf("%w: failed to delete chunk: %w", ErrDatabaseError, err)
		}
	}

	span.SetAttributes(attribute.Int("chunks_deleted", len(objects)))
	return nil
}

// ChunkFileIDs lists the file id prefixes under a bucket prefix
func (mc *MinioClient) ChunkFileIDs(ctx context.Context, bucket string) ([]string, error) {
	prefix := bucket + "/"
	objects, err := mc.listKeys(ctx, prefix, false)
	if err != nil {
		return nil, err
	}
	return trimPrefixes(objects, prefix), nil
}

// ChunkBuckets lists the top-level bucket prefixes
func (mc *MinioClient) ChunkBuckets(ctx context.Context) ([]string, error) {
	objects, err := mc.listKeys(ctx, "", false)
	if err != nil {
		return nil, err
	}
	return trimPrefixes(objects, ""), nil
}

func trimPrefixes(objects []minio.ObjectInfo, prefix string) []string {
	var names []string
	for _, obj := range objects {
		if !strings.HasSuffix(obj.Key, "/") {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(obj.Key, prefix), "/")
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}
