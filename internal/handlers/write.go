package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maneesh/gridstore/internal/gridfs"
	"github.com/maneesh/gridstore/internal/models"
)

// defaultTransferEncoding is recorded when a part does not name one
const defaultTransferEncoding = "7bit"

// WriteHandler handles multipart file uploads into a bucket
type WriteHandler struct {
	store *gridfs.Store
}

// NewWriteHandler creates a new write handler
func NewWriteHandler(store *gridfs.Store) *WriteHandler {
	return &WriteHandler{store: store}
}

// WriteResponse represents the response for an upload
type WriteResponse struct {
	Flash
	Files []*models.FileRecord `json:"files"`
}

// ServeHTTP handles POST /buckets/{bucket}/files
func (wh *WriteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "upload_files",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	bucket := mux.Vars(r)["bucket"]
	span.SetAttributes(attribute.String("bucket", bucket))

	opts := models.UploadOptions{}
	if raw := r.URL.Query().Get("chunk_size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			writeError(w, fmt.Errorf("%w: chunk_size %q", gridfs.ErrInvalidArgument, raw))
			return
		}
		opts.ChunkSize = size
	}

	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, fmt.Errorf("%w: %w", gridfs.ErrInvalidArgument, err))
		return
	}

	var files []*models.FileRecord
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			span.RecordError(err)
			w.Header().Set("Connection", "close")
			writeError(w, fmt.Errorf("%w: malformed upload: %w", gridfs.ErrInvalidArgument, err))
			return
		}
		if !isFilePart(part) {
			part.Close()
			continue
		}

		file, err := wh.uploadPart(ctx, bucket, part, opts)
		part.Close()
		if err != nil {
			span.RecordError(err)
			w.Header().Set("Connection", "close")
			writeError(w, err)
			return
		}
		files = append(files, file)
	}

	if len(files) == 0 {
		writeError(w, fmt.Errorf("%w: no file in upload", gridfs.ErrInvalidArgument))
		return
	}

	span.SetAttributes(attribute.Int("file_count", len(files)))
	message := "File uploaded!"
	if len(files) > 1 {
		message = fmt.Sprintf("%d files uploaded!", len(files))
	}
	writeJSON(w, http.StatusCreated, WriteResponse{Flash: Flash{Success: message}, Files: files})
}

// isFilePart reports whether the part carries a filename parameter, even an
// empty one
func isFilePart(part *multipart.Part) bool {
	_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	if err != nil {
		return false
	}
	_, ok := params["filename"]
	return ok
}

// uploadPart streams one multipart file part into a new upload. Any failure
// aborts the upload so no partial file remains.
func (wh *WriteHandler) uploadPart(ctx context.Context, bucket string, part *multipart.Part, opts models.UploadOptions) (*models.FileRecord, error) {
	filename := part.FileName()
	if filename == "" {
		return nil, fmt.Errorf("%w: no filename", gridfs.ErrInvalidArgument)
	}

	mimeType := part.Header.Get("Content-Type")
	encoding := part.Header.Get("Content-Transfer-Encoding")
	if encoding == "" {
		encoding = defaultTransferEncoding
	}
	opts.ContentType = mimeType
	opts.Metadata = map[string]string{
		"filename": filename,
		"encoding": encoding,
		"mimeType": mimeType,
	}

	upload, err := wh.store.OpenUpload(ctx, bucket, filename, opts)
	if err != nil {
		return nil, err
	}

	log := logger().With().Str("bucket", upload.Bucket()).Str("file_id", upload.ID()).Logger()
	log.Info().Str("file_name", filename).Msg("upload started")

	if _, err := io.Copy(upload, part); err != nil {
		if !errors.Is(err, gridfs.ErrWrite) {
			err = fmt.Errorf("%w: malformed upload: %w", gridfs.ErrInvalidArgument, err)
		}
		abort(ctx, upload)
		log.Error().Err(err).Msg("upload failed")
		return nil, err
	}

	file, err := upload.Commit(ctx)
	if err != nil {
		abort(ctx, upload)
		log.Error().Err(err).Msg("commit failed")
		return nil, err
	}
	return file, nil
}

// abort discards an upload even when the request context is already gone
func abort(ctx context.Context, upload *gridfs.Upload) {
	err := upload.Abort(context.WithoutCancel(ctx))
	if err != nil && !errors.Is(err, gridfs.ErrAlreadyFinalized) {
		logger().Warn().Err(err).Str("file_id", upload.ID()).Msg("abort failed, leaving upload to the sweeper")
	}
}
