// Package memory provides an in-process implementation of app.RecordStore.
// It is a test double: nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/haukened/vanish/internal/app"
	"github.com/haukened/vanish/internal/domain"
	"github.com/haukened/vanish/internal/store"
)

var _ app.RecordStore = (*Store)(nil)

// Store keeps rows in a map guarded by a single mutex. Records are stored in
// row form so callers never share memory with the store.
type Store struct {
	mu        sync.Mutex
	rows      map[string]store.Row
	graveyard map[string]grave
}

type grave struct {
	ref         domain.BlobRef
	deleteAfter time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		rows:      make(map[string]store.Row),
		graveyard: make(map[string]grave),
	}
}

func (s *Store) Create(_ context.Context, rec domain.Record) error {
	row := store.FromRecord(rec)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[row.ID]; ok {
		return fmt.Errorf("record %s already exists", row.ID)
	}
	s.rows[row.ID] = row
	return nil
}

func (s *Store) Get(_ context.Context, id domain.ContentID) (domain.Record, error) {
	s.mu.Lock()
	row, ok := s.rows[id.String()]
	s.mu.Unlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return row.Record()
}

func (s *Store) ConsumeView(_ context.Context, id domain.ContentID, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id.String()]
	if !ok || now.UnixMilli() >= row.ExpiresAt {
		return 0, domain.ErrNotFound
	}
	if row.ViewsRemaining == nil {
		return 0, fmt.Errorf("record %s has no view limit: %w", row.ID, domain.ErrInvalidInput)
	}
	if *row.ViewsRemaining <= 0 {
		return 0, domain.ErrExhausted
	}
	v := *row.ViewsRemaining - 1
	row.ViewsRemaining = &v
	s.rows[row.ID] = row
	return int(v), nil
}

func (s *Store) Delete(_ context.Context, id domain.ContentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id.String()]; !ok {
		return domain.ErrNotFound
	}
	delete(s.rows, id.String())
	return nil
}

func (s *Store) ExpiredBefore(_ context.Context, t time.Time) ([]domain.Record, error) {
	return s.collect(func(r store.Row) bool { return r.ExpiresAt < t.UnixMilli() })
}

func (s *Store) ListByOwner(_ context.Context, owner string) ([]domain.Record, error) {
	return s.collect(func(r store.Row) bool { return r.OwnerID != nil && *r.OwnerID == owner })
}

// collect returns matching records, newest first.
func (s *Store) collect(match func(store.Row) bool) ([]domain.Record, error) {
	s.mu.Lock()
	var rows []store.Row
	for _, r := range s.rows {
		if match(r) {
			rows = append(rows, r)
		}
	}
	s.mu.Unlock()
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CreatedAt != rows[j].CreatedAt {
			return rows[i].CreatedAt > rows[j].CreatedAt
		}
		return rows[i].ID < rows[j].ID
	})
	out := make([]domain.Record, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].Record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) BuryBlob(_ context.Context, ref domain.BlobRef, deleteAfter time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graveyard[ref.Handle] = grave{ref: ref, deleteAfter: deleteAfter}
	return nil
}

func (s *Store) DueBlobs(_ context.Context, now time.Time) ([]domain.BlobRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.BlobRef
	for _, g := range s.graveyard {
		if !g.deleteAfter.After(now) {
			out = append(out, g.ref)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out, nil
}

func (s *Store) ForgetBlob(_ context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.graveyard, handle)
	return nil
}

func (s *Store) BlobHandles(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.rows)+len(s.graveyard))
	for _, r := range s.rows {
		if r.BlobHandle != nil {
			out = append(out, *r.BlobHandle)
		}
	}
	for h := range s.graveyard {
		out = append(out, h)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) Ping(context.Context) error { return nil }
