package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maneesh/gridstore/internal/gridfs"
)

// DeleteHandler removes a file and its chunks
type DeleteHandler struct {
	store *gridfs.Store
}

// NewDeleteHandler creates a new delete handler
func NewDeleteHandler(store *gridfs.Store) *DeleteHandler {
	return &DeleteHandler{store: store}
}

// ServeHTTP handles DELETE /buckets/{bucket}/files/{file_id}
func (dh *DeleteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "delete_file",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	vars := mux.Vars(r)
	bucket, fileID := vars["bucket"], vars["file_id"]
	span.SetAttributes(
		attribute.String("bucket", bucket),
		attribute.String("file_id", fileID),
	)

	deleted, err := dh.store.Delete(ctx, bucket, fileID)
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}
	if !deleted {
		writeError(w, fmt.Errorf("%w: file %s", gridfs.ErrNotFound, fileID))
		return
	}

	writeSuccess(w, http.StatusOK, fmt.Sprintf("File _id: %q deleted!", fileID))
}

// RenameHandler changes the filename of a committed file
type RenameHandler struct {
	store *gridfs.Store
}

// NewRenameHandler creates a new rename handler
func NewRenameHandler(store *gridfs.Store) *RenameHandler {
	return &RenameHandler{store: store}
}

// RenameRequest is the body of a rename
type RenameRequest struct {
	Filename string `json:"filename"`
}

// ServeHTTP handles PATCH /buckets/{bucket}/files/{file_id}
func (rh *RenameHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "rename_file",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	vars := mux.Vars(r)
	bucket, fileID := vars["bucket"], vars["file_id"]
	span.SetAttributes(
		attribute.String("bucket", bucket),
		attribute.String("file_id", fileID),
	)

	var req RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %w", gridfs.ErrInvalidArgument, err))
		return
	}

	if err := rh.store.Rename(ctx, bucket, fileID, req.Filename); err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}

	logger().Info().Str("bucket", bucket).Str("file_id", fileID).Str("file_name", req.Filename).Msg("file renamed")
	writeSuccess(w, http.StatusOK, fmt.Sprintf("File _id: %q renamed to %q", fileID, req.Filename))
}
