package gridfs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/maneesh/gridstore/internal/logging"
	"github.com/maneesh/gridstore/internal/storage"
)

// SweepReport counts what a sweep reclaimed
type SweepReport struct {
	Buckets   int
	Abandoned int
	Orphans   int
}

// Sweep deletes pending uploads older than the staleness threshold and chunks
// whose file record no longer exists. A failure in one bucket does not stop
// the others; all failures are returned joined.
func (s *Store) Sweep(ctx context.Context) (SweepReport, error) {
	ctx, span := tracer.Start(ctx, "gridfs.sweep")
	defer span.End()

	var report SweepReport
	buckets, err := s.sweepBuckets(ctx)
	if err != nil {
		span.RecordError(err)
		return report, err
	}

	var errs []error
	for _, bucket := range buckets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		report.Buckets++
		if err := s.sweepBucket(ctx, bucket, &report); err != nil {
			errs = append(errs, fmt.Errorf("sweep bucket %s: %w", bucket, err))
		}
	}

	span.SetAttributes(
		attribute.Int("abandoned", report.Abandoned),
		attribute.Int("orphans", report.Orphans),
	)
	return report, errors.Join(errs...)
}

func (s *Store) sweepBuckets(ctx context.Context) ([]string, error) {
	fileBuckets, err := s.files.FileBuckets(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list file buckets: %w", ErrRead, err)
	}
	chunkBuckets, err := s.chunks.ChunkBuckets(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list chunk buckets: %w", ErrRead, err)
	}

	seen := make(map[string]struct{}, len(fileBuckets)+len(chunkBuckets))
	var buckets []string
	for _, b := range append(fileBuckets, chunkBuckets...) {
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		buckets = append(buckets, b)
	}
	sort.Strings(buckets)
	return buckets, nil
}

func (s *Store) sweepBucket(ctx context.Context, bucket string, report *SweepReport) error {
	cutoff := s.now().Add(-s.opts.StaleAfter)
	stale, err := s.files.ListPendingBefore(ctx, bucket, cutoff)
	if err != nil {
		return fmt.Errorf("%w: list pending: %w", ErrRead, err)
	}

	for _, file := range stale {
		if err := s.purge(ctx, bucket, file.ID); err != nil {
			return err
		}
		report.Abandoned++
		s.log.Info().
			Str("bucket", bucket).
			Str("file_id", file.ID).
			Time("created_at", file.CreatedAt).
			Msg("reclaimed abandoned upload")
	}

	// Records are inserted before any of their chunks, so a chunk owner
	// without a record can only be left over from a delete or abort
	owners, err := s.chunks.ChunkFileIDs(ctx, bucket)
	if err != nil {
		return fmt.Errorf("%w: list chunk owners: %w", ErrRead, err)
	}

	for _, fileID := range owners {
		_, err := s.files.GetFile(ctx, bucket, fileID)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: load file %s: %w", ErrRead, fileID, err)
		}

		err = s.retry(ctx, func() error {
			return s.chunks.DeleteChunks(ctx, bucket, fileID)
		})
		if err != nil {
			return fmt.Errorf("%w: delete orphan chunks of %s: %w", ErrWrite, fileID, err)
		}
		report.Orphans++
		s.log.Info().Str("bucket", bucket).Str("file_id", fileID).Msg("reclaimed orphan chunks")
	}
	return nil
}

// Reclaimer runs Sweep periodically
type Reclaimer struct {
	store    *Store
	interval time.Duration
	log      zerolog.Logger
}

// NewReclaimer creates a reclaimer sweeping every interval
func NewReclaimer(store *Store, interval time.Duration) *Reclaimer {
	return &Reclaimer{
		store:    store,
		interval: interval,
		log:      logging.Component("reclaimer"),
	}
}

// Run sweeps once immediately and then on every tick until ctx is done
func (r *Reclaimer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.sweep(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Reclaimer) sweep(ctx context.Context) {
	report, err := r.store.Sweep(ctx)
	if err != nil && ctx.Err() == nil {
		r.log.Error().Err(err).Msg("sweep failed")
	}
	if report.Abandoned > 0 || report.Orphans > 0 {
		r.log.Info().
			Int("buckets", report.Buckets).
			Int("abandoned", report.Abandoned).
			Int("orphans", report.Orphans).
			Msg("sweep reclaimed storage")
	}
}
