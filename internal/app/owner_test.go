package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/vanish/internal/app"
	"github.com/haukened/vanish/internal/domain"
)

func TestListOwnerContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.createText(t, app.DepositRequest{Text: "first", OwnerID: "alice", Password: "pw"})
	f.clock.Advance(time.Second)
	file := createFile(t, f, app.DepositRequest{OwnerID: "alice", MaxViews: ptr(2)})
	f.clock.Advance(time.Second)
	at := f.clock.Now().Add(time.Minute)
	expiring := f.createText(t, app.DepositRequest{Text: "soon", OwnerID: "alice", Expiry: &at})
	f.createText(t, app.DepositRequest{Text: "bob's", OwnerID: "bob"})
	f.createText(t, app.DepositRequest{Text: "guest"})

	got, err := f.svc.ListOwnerContent(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, expiring, got[0].ID, "newest first")
	assert.Equal(t, file.Common().ID, got[1].ID)
	assert.Equal(t, "a.png", got[1].FileName)
	assert.Equal(t, domain.KindFile, got[1].Kind)
	assert.Equal(t, 2, *got[1].ViewsRemaining)
	assert.Equal(t, old, got[2].ID)
	assert.True(t, got[2].HasPassword)

	f.clock.Advance(2 * time.Minute)
	got, err = f.svc.ListOwnerContent(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, got, 2, "expired records are hidden")
}

func TestListOwnerContentRequiresCaller(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ListOwnerContent(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestDeleteContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := createFile(t, f, app.DepositRequest{OwnerID: "alice"})
	id := rec.Common().ID.String()

	assert.ErrorIs(t, f.svc.DeleteContent(ctx, id, "bob"), domain.ErrNotOwner)
	assert.ErrorIs(t, f.svc.DeleteContent(ctx, id, ""), domain.ErrForbidden)
	require.NoError(t, f.svc.DeleteContent(ctx, id, "alice"))
	assert.Zero(t, f.blobs.count())
	assert.ErrorIs(t, f.svc.DeleteContent(ctx, id, "alice"), domain.ErrNotFound)
}

func TestDeleteContentGuestRecord(t *testing.T) {
	f := newFixture(t)
	id := f.createText(t, app.DepositRequest{Text: "guest"})
	err := f.svc.DeleteContent(context.Background(), id.String(), "alice")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.records.Get(context.Background(), id)
	assert.NoError(t, err)
}

func TestDeleteContentMissingOrExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assert.ErrorIs(t, f.svc.DeleteContent(ctx, "not-an-id", "alice"), domain.ErrNotFound)
	missing, err := domain.NewID()
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.DeleteContent(ctx, missing.String(), "alice"), domain.ErrNotFound)

	id := f.createText(t, app.DepositRequest{Text: "x", OwnerID: "alice"})
	f.clock.Advance(app.DefaultTTL)
	assert.ErrorIs(t, f.svc.DeleteContent(ctx, id.String(), "alice"), domain.ErrNotFound)
}
