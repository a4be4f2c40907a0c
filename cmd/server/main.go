package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maneesh/gridstore/internal/config"
	"github.com/maneesh/gridstore/internal/gridfs"
	"github.com/maneesh/gridstore/internal/handlers"
	"github.com/maneesh/gridstore/internal/logging"
	"github.com/maneesh/gridstore/internal/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load config")
	}

	if err := logging.Setup(os.Stderr, cfg.LogLevel, cfg.LogPretty); err != nil {
		logging.Fatal().Err(err).Msg("Failed to configure logging")
	}

	logging.Info().
		Str("service", cfg.ServiceName).
		Str("port", cfg.ServicePort).
		Str("metadata_backend", cfg.MetadataBackend).
		Str("chunk_backend", cfg.ChunkBackend).
		Msg("Starting gridstore service...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry tracing
	shutdownTracer, err := tracing.InitTracer(ctx, cfg.ServiceName, cfg.JaegerEndpoint)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize tracer")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			logging.Error().Err(err).Msg("Error shutting down tracer")
		}
	}()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer b.Close()

	store := gridfs.New(b.files, b.chunks, b.cache, gridfs.Options{
		ChunkSize:        cfg.GetChunkSizeBytes(),
		RejectEmptyFiles: !cfg.AllowEmptyFiles,
		StaleAfter:       cfg.StaleUploadAfter,
		Retry: gridfs.RetryPolicy{
			Attempts:        cfg.RetryAttempts,
			InitialInterval: cfg.RetryInitialInterval,
		},
	})

	reclaimerDone := make(chan struct{})
	go func() {
		defer close(reclaimerDone)
		gridfs.NewReclaimer(store, cfg.SweepInterval).Run(ctx)
	}()

	// Uploads stream for as long as the client sends, so no read/write timeouts
	srv := &http.Server{
		Addr:              ":" + cfg.ServicePort,
		Handler:           handlers.NewRouter(store),
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logging.Info().Str("port", cfg.ServicePort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()
	logging.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("Server forced to shutdown")
	}
	<-reclaimerDone

	logging.Info().Msg("Server exited")
}
