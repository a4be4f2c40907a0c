package handlers

import (
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maneesh/gridstore/internal/gridfs"
	"github.com/maneesh/gridstore/internal/models"
)

// BucketsHandler lists the buckets holding files
type BucketsHandler struct {
	store *gridfs.Store
}

// NewBucketsHandler creates a new buckets handler
func NewBucketsHandler(store *gridfs.Store) *BucketsHandler {
	return &BucketsHandler{store: store}
}

// BucketsResponse represents the bucket list
type BucketsResponse struct {
	Buckets []string `json:"buckets"`
}

// ServeHTTP handles GET /buckets
func (bh *BucketsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "list_buckets",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	buckets, err := bh.store.Buckets(ctx)
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}
	if buckets == nil {
		buckets = []string{}
	}

	span.SetAttributes(attribute.Int("bucket_count", len(buckets)))
	writeJSON(w, http.StatusOK, BucketsResponse{Buckets: buckets})
}

// BucketHandler shows the committed files of one bucket
type BucketHandler struct {
	store *gridfs.Store
}

// NewBucketHandler creates a new bucket view handler
func NewBucketHandler(store *gridfs.Store) *BucketHandler {
	return &BucketHandler{store: store}
}

// FileView is a file row with a human readable length
type FileView struct {
	ID          string            `json:"id"`
	Filename    string            `json:"filename"`
	Length      string            `json:"length"`
	Size        int64             `json:"size"`
	UploadDate  time.Time         `json:"upload_date"`
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// BucketStats summarizes a bucket
type BucketStats struct {
	AvgChunk  string `json:"avg_chunk"`
	TotalSize string `json:"total_size"`
}

// BucketResponse represents the bucket view
type BucketResponse struct {
	Bucket  string      `json:"bucket"`
	Title   string      `json:"title"`
	Buckets []string    `json:"buckets"`
	Columns []string    `json:"columns"`
	Files   []FileView  `json:"files"`
	Stats   BucketStats `json:"stats"`
}

// ServeHTTP handles GET /buckets/{bucket}
func (bh *BucketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "view_bucket",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	bucket := mux.Vars(r)["bucket"]
	span.SetAttributes(attribute.String("bucket", bucket))

	files, err := bh.store.List(ctx, bucket)
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}
	buckets, err := bh.store.Buckets(ctx)
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}
	if buckets == nil {
		buckets = []string{}
	}

	span.SetAttributes(attribute.Int("file_count", len(files)))
	writeJSON(w, http.StatusOK, BucketResponse{
		Bucket:  bucket,
		Title:   "Viewing Bucket: " + bucket,
		Buckets: buckets,
		Columns: columnsFor(files),
		Files:   fileViews(files),
		Stats:   statsFor(files),
	})
}

// columnsFor lists the columns used by at least one file, filename and
// length first
func columnsFor(files []*models.FileRecord) []string {
	columns := []string{"filename", "length", "upload_date"}
	var contentType, metadata bool
	for _, f := range files {
		contentType = contentType || f.ContentType != ""
		metadata = metadata || len(f.Metadata) > 0
	}
	if contentType {
		columns = append(columns, "content_type")
	}
	if metadata {
		columns = append(columns, "metadata")
	}
	return columns
}

func fileViews(files []*models.FileRecord) []FileView {
	views := make([]FileView, 0, len(files))
	for _, f := range files {
		views = append(views, FileView{
			ID:          f.ID,
			Filename:    f.Filename,
			Length:      humanize.IBytes(uint64(f.Length)),
			Size:        f.Length,
			UploadDate:  f.UploadDate,
			ContentType: f.ContentType,
			Metadata:    f.Metadata,
		})
	}
	return views
}

func statsFor(files []*models.FileRecord) BucketStats {
	var chunkTotal, sizeTotal uint64
	for _, f := range files {
		chunkTotal += uint64(f.ChunkSize)
		sizeTotal += uint64(f.Length)
	}

	var avg uint64
	if len(files) > 0 {
		avg = chunkTotal / uint64(len(files))
	}
	return BucketStats{
		AvgChunk:  humanize.IBytes(avg),
		TotalSize: humanize.IBytes(sizeTotal),
	}
}
