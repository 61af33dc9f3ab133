package app

import (
	"context"
	"errors"

	"github.com/haukened/vanish/internal/domain"
	"github.com/haukened/vanish/internal/metrics"
)

// DestroyMode selects how Destroy treats a record that is already gone.
type DestroyMode int

const (
	// ModeSweep treats an absent record as success. Used by the reaper and
	// by the gate, which may race each other on the same record.
	ModeSweep DestroyMode = iota + 1
	// ModeExplicit reports domain.ErrNotFound for an absent record. Used by
	// owner-initiated deletes.
	ModeExplicit
)

// Destroy removes a record and its blob. The blob delete is best effort and
// only logged on failure; the record delete must succeed.
func (s *Service) Destroy(ctx context.Context, rec domain.Record, mode DestroyMode) error {
	if ref, ok := domain.BlobOf(rec); ok {
		s.discardBlob(ctx, ref, "destroy")
	}
	err := s.Records.Delete(ctx, rec.Common().ID)
	switch {
	case err == nil:
		s.sink().Inc(metrics.CounterContentDestroyed, 1)
		return nil
	case errors.Is(err, domain.ErrNotFound):
		if mode == ModeExplicit {
			return domain.ErrNotFound
		}
		return nil
	default:
		return internalErr("delete record", err)
	}
}

// discardBlob deletes a blob under the I/O timeout and logs failures. An
// orphaned blob is an accepted degradation; reconciliation removes it later.
func (s *Service) discardBlob(ctx context.Context, ref domain.BlobRef, reason string) {
	ioCtx, cancel := s.ioContext(ctx)
	defer cancel()
	if err := s.Blobs.Delete(ioCtx, ref); err != nil {
		s.sink().Inc(metrics.CounterBlobDeleteFailed, 1)
		s.log().Warn("blob delete failed",
			"domain", "blob",
			"reason", reason,
			"category", ref.Category,
			"error", err,
		)
	}
}
