package app

import (
	"context"
	"time"

	"github.com/haukened/vanish/internal/domain"
	"github.com/haukened/vanish/internal/metrics"
)

// ExpiredBefore lists records whose expiry precedes t.
func (s *Service) ExpiredBefore(ctx context.Context, t time.Time) ([]domain.Record, error) {
	return s.Records.ExpiredBefore(ctx, t)
}

// DrainBlobGraveyard deletes buried blobs that are due and returns how many
// were removed. Entries whose blob delete fails stay buried for the next run.
func (s *Service) DrainBlobGraveyard(ctx context.Context, now time.Time) (int, error) {
	due, err := s.Records.DueBlobs(ctx, now)
	if err != nil {
		return 0, err
	}
	log := s.log().With("domain", "graveyard")
	n := 0
	for _, ref := range due {
		ioCtx, cancel := s.ioContext(ctx)
		err := s.Blobs.Delete(ioCtx, ref)
		cancel()
		if err != nil {
			s.sink().Inc(metrics.CounterBlobDeleteFailed, 1)
			log.Warn("blob delete failed", "category", ref.Category, "error", err)
			continue
		}
		if err := s.Records.ForgetBlob(ctx, ref.Handle); err != nil {
			log.Warn("forget blob failed", "error", err)
			continue
		}
		n++
	}
	return n, nil
}

// ReconcileBlobs deletes blobs older than minAge that no record or graveyard
// entry references. It is a no-op for blob stores that cannot list. The age
// guard protects uploads whose record insert has not committed yet.
func (s *Service) ReconcileBlobs(ctx context.Context, now time.Time, minAge time.Duration) (int, error) {
	lister, ok := s.Blobs.(BlobLister)
	if !ok {
		return 0, nil
	}
	// List blobs before handles so a blob committed in between is never
	// mistaken for an orphan.
	entries, err := lister.List(ctx)
	if err != nil {
		return 0, err
	}
	handles, err := s.Records.BlobHandles(ctx)
	if err != nil {
		return 0, err
	}
	known := make(map[string]struct{}, len(handles))
	for _, h := range handles {
		known[h] = struct{}{}
	}
	cutoff := now.Add(-minAge)
	n := 0
	for _, e := range entries {
		if e.ModTime.After(cutoff) {
			continue
		}
		if _, ok := known[e.Handle]; ok {
			continue
		}
		ioCtx, cancel := s.ioContext(ctx)
		err := s.Blobs.Delete(ioCtx, domain.BlobRef{Handle: e.Handle, Category: e.Category})
		cancel()
		if err != nil {
			s.log().Warn("orphan delete failed", "domain", "reconcile", "error", err)
			continue
		}
		n++
	}
	if n > 0 {
		s.sink().Inc(metrics.CounterOrphanBlobsDeleted, int64(n))
	}
	return n, nil
}
