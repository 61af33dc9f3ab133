// Package storetest is a conformance suite for app.RecordStore
// implementations. Each adapter runs it from its own tests.
package storetest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/vanish/internal/app"
	"github.com/haukened/vanish/internal/domain"
)

// Factory returns a fresh, empty store. Cleanup is registered on t.
type Factory func(t *testing.T) app.RecordStore

// Base is the reference time used by the suite. Millisecond precision keeps
// it exact across every adapter.
var Base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// Run executes every conformance test against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(*testing.T, app.RecordStore)
	}{
		{"CreateGetText", testCreateGetText},
		{"CreateGetFile", testCreateGetFile},
		{"CreateDuplicate", testCreateDuplicate},
		{"GetMissing", testGetMissing},
		{"ConsumeViewCountsDown", testConsumeViewCountsDown},
		{"ConsumeViewExpired", testConsumeViewExpired},
		{"ConsumeViewMissing", testConsumeViewMissing},
		{"ConsumeViewUnlimited", testConsumeViewUnlimited},
		{"ConsumeViewFinalViewRace", testFinalViewRace},
		{"ConsumeViewNoDoubleCount", testNoDoubleCount},
		{"Delete", testDelete},
		{"ExpiredBefore", testExpiredBefore},
		{"ListByOwner", testListByOwner},
		{"Graveyard", testGraveyard},
		{"BlobHandles", testBlobHandles},
		{"Ping", testPing},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

// Text builds a text record created at Base that expires after ttl.
func Text(t *testing.T, text string, ttl time.Duration) *domain.TextRecord {
	t.Helper()
	id, err := domain.NewID()
	require.NoError(t, err)
	return &domain.TextRecord{
		Header: domain.Header{ID: id, CreatedAt: Base, ExpiresAt: Base.Add(ttl)},
		Text:   text,
	}
}

// File builds a file record created at Base that expires after ttl.
func File(t *testing.T, handle string, ttl time.Duration) *domain.FileRecord {
	t.Helper()
	id, err := domain.NewID()
	require.NoError(t, err)
	return &domain.FileRecord{
		Header:   domain.Header{ID: id, CreatedAt: Base, ExpiresAt: Base.Add(ttl)},
		Blob:     domain.BlobRef{Handle: handle, Category: domain.CategoryImage},
		FileName: "photo.png",
		MIMEType: "image/png",
		Size:     1024,
	}
}

func testCreateGetText(t *testing.T, s app.RecordStore) {
	ctx := context.Background()
	rec := Text(t, "the launch code is 0000", time.Hour)
	rec.PasswordHash = []byte("$2a$04$abcdefghijklmnopqrstuv")
	rec.ViewsRemaining = domain.Views(2)
	rec.OwnerID = "user-1"
	require.NoError(t, s.Create(ctx, rec))

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Record(rec), got)
}

func testCreateGetFile(t *testing.T, s app.RecordStore) {
	ctx := context.Background()
	rec := File(t, "blob-1", time.Hour)
	require.NoError(t, s.Create(ctx, rec))

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Record(rec), got)
	assert.False(t, got.Common().Protected())
	assert.False(t, got.Common().Limited())
}

func testCreateDuplicate(t *testing.T, s app.RecordStore) {
	ctx := context.Background()
	rec := Text(t, "x", time.Hour)
	require.NoError(t, s.Create(ctx, rec))
	assert.Error(t, s.Create(ctx, rec))
}

func testGetMissing(t *testing.T, s app.RecordStore) {
	id, err := domain.NewID()
	require.NoError(t, err)
	_, err = s.Get(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testConsumeViewCountsDown(t *testing.T, s app.RecordStore) {
	ctx := context.Background()
	rec := Text(t, "x", time.Hour)
	rec.ViewsRemaining = domain.Views(2)
	require.NoError(t, s.Create(ctx, rec))

	n, err := s.ConsumeView(ctx, rec.ID, Base)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.ConsumeView(ctx, rec.ID, Base)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	_, err = s.ConsumeView(ctx, rec.ID, Base)
	assert.ErrorIs(t, err, domain.ErrExhausted)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Common().ViewsRemaining)
	assert.Equal(t, 0, *got.Common().ViewsRemaining)
}

func testConsumeViewExpired(t *testing.T, s app.RecordStore) {
	ctx := context.Background()
	rec := Text(t, "x", time.Minute)
	rec.ViewsRemaining = domain.Views(3)
	require.NoError(t, s.Create(ctx, rec))

	_, err := s.ConsumeView(ctx, rec.ID, rec.ExpiresAt)
	assert.ErrorIs(t, err, domain.ErrNotFound, "expiry instant counts as expired")

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, *got.Common().ViewsRemaining)
}

func testConsumeViewMissing(t *testing.T, s app.RecordStore) {
	id, err := domain.NewID()
	require.NoError(t, err)
	_, err = s.ConsumeView(context.Background(), id, Base)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testConsumeViewUnlimited(t *testing.T, s app.RecordStore) {
	ctx := context.Background()
	rec := Text(t, "x", time.Hour)
	require.NoError(t, s.Create(ctx, rec))
	_, err := s.ConsumeView(ctx, rec.ID, Base)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

// testFinalViewRace checks that of many concurrent readers of a one-view
// record exactly one observes the final view.
func testFinalViewRace(t *testing.T, s app.RecordStore) {
	ctx := context.Background()
	rec := Text(t, "x", time.Hour)
	rec.ViewsRemaining = domain.Views(1)
	require.NoError(t, s.Create(ctx, rec))

	const readers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   int
		exhausted int
	)
	start := make(chan struct{})
	for range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			n, err := s.ConsumeView(ctx, rec.ID, Base)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				assert.Equal(t, 0, n)
				winners++
			case errors.Is(err, domain.ErrExhausted):
				exhausted++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()
	assert.Equal(t, 1, winners)
	assert.Equal(t, readers-1, exhausted)
}

// testNoDoubleCount checks that concurrent readers never observe the same
// remaining count.
func testNoDoubleCount(t *testing.T, s app.RecordStore) {
	ctx := context.Background()
	rec := Text(t, "x", time.Hour)
	rec.ViewsRemaining = domain.Views(5)
	require.NoError(t, s.Create(ctx, rec))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen []int
	)
	for range 12 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := s.ConsumeView(ctx, rec.ID, Base)
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrExhausted)
				return
			}
			mu.Lock()
			seen = append(seen, n)
			mu.Unlock()
		}()
	}
	wg.Wait()
	sort.Ints(seen)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, seen)
}

func testDelete(t *testing.T, s app.RecordStore) {
	ctx := context.Background()
	rec := Text(t, "x", time.Hour)
	require.NoError(t, s.Create(ctx, rec))
	require.NoError(t, s.Delete(ctx, rec.ID))
	assert.ErrorIs(t, s.Delete(ctx, rec.ID), domain.ErrNotFound)
	_, err := s.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testExpiredBefore(t *testing.T, s app.RecordStore) {
	ctx := context.Background()
	old := Text(t, "old", time.Minute)
	edge := Text(t, "edge", 2*time.Minute)
	live := File(t, "blob-live", time.Hour)
	for _, r := range []domain.Record{old, edge, live} {
		require.NoError(t, s.Create(ctx, r))
	}
	got, err := s.ExpiredBefore(ctx, Base.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, old.ID, got[0].Common().ID)

	got, err = s.ExpiredBefore(ctx, Base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func testListByOwner(t *testing.T, s app.RecordStore) {
	ctx := context.Background()
	first := Text(t, "first", time.Hour)
	first.OwnerID = "alice"
	second := File(t, "blob-a", time.Hour)
	second.OwnerID = "alice"
	second.CreatedAt = Base.Add(time.Second)
	other := Text(t, "bob's", time.Hour)
	other.OwnerID = "bob"
	guest := Text(t, "guest", time.Hour)
	for _, r := range []domain.Record{first, second, other, guest} {
		require.NoError(t, s.Create(ctx, r))
	}

	got, err := s.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second.ID, got[0].Common().ID, "newest first")
	assert.Equal(t, first.ID, got[1].Common().ID)

	got, err = s.ListByOwner(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testGraveyard(t *testing.T, s app.RecordStore) {
	ctx := context.Background()
	early := domain.BlobRef{Handle: "early", Category: domain.CategoryVideo}
	late := domain.BlobRef{Handle: "late", Category: domain.CategoryRaw}
	require.NoError(t, s.BuryBlob(ctx, early, Base))
	require.NoError(t, s.BuryBlob(ctx, late, Base.Add(time.Hour)))

	due, err := s.DueBlobs(ctx, Base)
	require.NoError(t, err)
	assert.Equal(t, []domain.BlobRef{early}, due)

	due, err = s.DueBlobs(ctx, Base.Add(time.Hour))
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.BlobRef{early, late}, due)

	require.NoError(t, s.ForgetBlob(ctx, "early"))
	require.NoError(t, s.ForgetBlob(ctx, "early"), "forgetting twice is fine")
	due, err = s.DueBlobs(ctx, Base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []domain.BlobRef{late}, due)
}

func testBlobHandles(t *testing.T, s app.RecordStore) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, File(t, "live-1", time.Hour)))
	require.NoError(t, s.Create(ctx, Text(t, "no blob", time.Hour)))
	require.NoError(t, s.BuryBlob(ctx, domain.BlobRef{Handle: "buried-1", Category: domain.CategoryRaw}, Base))

	got, err := s.BlobHandles(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"live-1", "buried-1"}, got)
}

func testPing(t *testing.T, s app.RecordStore) {
	assert.NoError(t, s.Ping(context.Background()))
}
