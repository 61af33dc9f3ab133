package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/haukened/vanish/internal/domain"
)

// ListOwnerContent returns the caller's live records, newest first.
func (s *Service) ListOwnerContent(ctx context.Context, callerID string) ([]ContentSummary, error) {
	if callerID == "" {
		return nil, fmt.Errorf("%w: caller identity required", domain.ErrForbidden)
	}
	recs, err := s.Records.ListByOwner(ctx, callerID)
	if err != nil {
		return nil, internalErr("list records", err)
	}
	now := s.Clock.Now()
	out := make([]ContentSummary, 0, len(recs))
	for _, rec := range recs {
		h := rec.Common()
		if h.Expired(now) {
			continue
		}
		sum := ContentSummary{
			ID:             h.ID,
			Kind:           rec.Kind(),
			HasPassword:    h.Protected(),
			ViewsRemaining: h.ViewsRemaining,
			ExpiresAt:      h.ExpiresAt,
			CreatedAt:      h.CreatedAt,
		}
		if f, ok := rec.(*domain.FileRecord); ok {
			sum.FileName = f.FileName
		}
		out = append(out, sum)
	}
	return out, nil
}

// DeleteContent destroys a record on behalf of its owner. Guest records
// cannot be deleted this way.
func (s *Service) DeleteContent(ctx context.Context, idStr, callerID string) error {
	id, err := domain.ParseID(idStr)
	if err != nil {
		return domain.ErrNotFound
	}
	rec, err := s.Records.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return internalErr("fetch record", err)
	}
	h := rec.Common()
	if h.Expired(s.Clock.Now()) {
		return domain.ErrNotFound
	}
	if !h.OwnedBy(callerID) {
		return domain.ErrNotOwner
	}
	if err := s.Destroy(ctx, rec, ModeExplicit); err != nil {
		return err
	}
	s.log().Info("content deleted by owner", "domain", "owner", "kind", rec.Kind())
	return nil
}
