package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/maneesh/gridstore/internal/gridfs"
)

// NewRouter wires every route of the store with tracing
func NewRouter(store *gridfs.Store) *mux.Router {
	router := mux.NewRouter()

	// Health check endpoint (no tracing needed)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	router.Handle("/", http.RedirectHandler("/buckets/"+gridfs.DefaultBucket, http.StatusFound)).Methods(http.MethodGet)

	handle := func(path, method string, h http.Handler) {
		router.Handle(path, otelhttp.NewHandler(h, method+" "+path)).Methods(method)
	}

	handle("/buckets", http.MethodGet, NewBucketsHandler(store))
	handle("/buckets/{bucket}", http.MethodGet, NewBucketHandler(store))
	handle("/buckets/{bucket}/files", http.MethodPost, NewWriteHandler(store))
	handle("/buckets/{bucket}/files/{file_id}", http.MethodGet, NewReadHandler(store))
	handle("/buckets/{bucket}/files/{file_id}", http.MethodDelete, NewDeleteHandler(store))
	handle("/buckets/{bucket}/files/{file_id}", http.MethodPatch, NewRenameHandler(store))

	return router
}
