package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maneesh/gridstore/internal/gridfs"
)

const defaultContentType = "application/octet-stream"

// ReadHandler streams a committed file to the client
type ReadHandler struct {
	store *gridfs.Store
}

// NewReadHandler creates a new read handler
func NewReadHandler(store *gridfs.Store) *ReadHandler {
	return &ReadHandler{store: store}
}

// ServeHTTP handles GET /buckets/{bucket}/files/{file_id}
func (rh *ReadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "read_file",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	vars := mux.Vars(r)
	bucket, fileID := vars["bucket"], vars["file_id"]
	span.SetAttributes(
		attribute.String("bucket", bucket),
		attribute.String("file_id", fileID),
	)

	download, err := rh.store.OpenDownload(ctx, bucket, fileID)
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}

	file := download.File()
	span.SetAttributes(
		attribute.String("file_name", file.Filename),
		attribute.Int64("file_size", file.Length),
		attribute.Int("chunk_count", file.ChunkCount()),
	)

	// First chunk before any header, so a broken file still gets an error status
	first, err := download.Next()
	if err != nil && !errors.Is(err, io.EOF) {
		span.RecordError(err)
		writeError(w, err)
		return
	}

	contentType := file.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", contentDisposition(file.Filename))
	w.Header().Set("Content-Length", strconv.FormatInt(file.Length, 10))
	w.WriteHeader(http.StatusOK)

	// Headers are gone by now; a short body is all the client will see
	n, err := w.Write(first)
	written := int64(n)
	if err == nil {
		var rest int64
		rest, err = io.Copy(w, download)
		written += rest
	}
	if err != nil {
		span.RecordError(err)
		logger().Error().
			Err(err).
			Str("bucket", bucket).
			Str("file_id", fileID).
			Int64("written", written).
			Msg("download interrupted")
		return
	}

	logger().Info().
		Str("bucket", bucket).
		Str("file_id", fileID).
		Int64("length", written).
		Msg("file read completed")
}

func contentDisposition(filename string) string {
	return fmt.Sprintf("attachment; filename=\"%s\"", url.PathEscape(filename))
}
