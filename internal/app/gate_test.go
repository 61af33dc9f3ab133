package app_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/vanish/internal/app"
	"github.com/haukened/vanish/internal/domain"
	"github.com/haukened/vanish/internal/metrics"
)

func TestRoundTripUnlimited(t *testing.T) {
	f := newFixture(t)
	id := f.createText(t, app.DepositRequest{Text: "hello"})
	for i := 0; i < 5; i++ {
		got, err := f.svc.GetContentMetadata(context.Background(), id.String(), "")
		require.NoError(t, err)
		assert.Equal(t, domain.KindText, got.Kind)
		assert.Equal(t, "hello", got.Text)
		assert.Nil(t, got.ViewsRemaining)
	}
	rec, err := f.records.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, rec.Common().ViewsRemaining, "unlimited records are never decremented")
}

func TestMaxViewsExactlyN(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createText(t, app.DepositRequest{Text: "three", MaxViews: ptr(3)})

	got, err := f.svc.GetContentMetadata(ctx, id.String(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, *got.ViewsRemaining)

	dl, err := f.svc.DownloadContent(ctx, id.String(), "")
	require.NoError(t, err, "download consumes a view through the same gate")
	require.NoError(t, dl.Body.Close())

	got, err = f.svc.GetContentMetadata(ctx, id.String(), "")
	require.NoError(t, err)
	assert.Equal(t, 0, *got.ViewsRemaining)
	assert.Equal(t, "three", got.Text)

	_, err = f.records.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound, "physically gone right after the last view")

	_, err = f.svc.GetContentMetadata(ctx, id.String(), "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.DownloadContent(ctx, id.String(), "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, int64(3), f.sink.get(metrics.CounterContentViewed))
}

func TestSingleViewSecretScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, expires, err := f.svc.CreateContent(ctx, app.DepositRequest{Text: "secret", MaxViews: ptr(1)})
	require.NoError(t, err)
	assert.Equal(t, t0.Add(10*time.Minute), expires)

	got, err := f.svc.GetContentMetadata(ctx, id.String(), "")
	require.NoError(t, err)
	assert.Equal(t, "secret", got.Text)

	f.clock.Advance(time.Minute)
	_, err = f.svc.GetContentMetadata(ctx, id.String(), "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExpiredReadsAreNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createText(t, app.DepositRequest{Text: "x", MaxViews: ptr(5)})
	f.clock.Advance(app.DefaultTTL)

	_, err := f.svc.GetContentMetadata(ctx, id.String(), "")
	assert.ErrorIs(t, err, domain.ErrNotFound, "expiry instant is already dead")
	_, err = f.svc.DownloadContent(ctx, id.String(), "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	rec, err := f.records.Get(ctx, id)
	require.NoError(t, err, "not swept yet")
	assert.Equal(t, 5, *rec.Common().ViewsRemaining, "expired reads consume nothing")
}

func TestMalformedIDIsNotFound(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"", "xyz", "../etc/passwd", "ABCDEFABCDEFABCDEFABCDEFABCDEFAB"} {
		_, err := f.svc.GetContentMetadata(context.Background(), id, "")
		assert.ErrorIs(t, err, domain.ErrNotFound, id)
	}
}

func TestPasswordGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createText(t, app.DepositRequest{Text: "gated", Password: "p", MaxViews: ptr(1)})

	_, err := f.svc.GetContentMetadata(ctx, id.String(), "")
	assert.ErrorIs(t, err, domain.ErrPasswordRequired)
	_, err = f.svc.GetContentMetadata(ctx, id.String(), "q")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.ErrorIs(t, err, domain.ErrIncorrectPassword)
	_, err = f.svc.DownloadContent(ctx, id.String(), "")
	assert.ErrorIs(t, err, domain.ErrPasswordRequired)

	got, err := f.svc.GetContentMetadata(ctx, id.String(), "p")
	require.NoError(t, err, "failed attempts consume no views")
	assert.Equal(t, "gated", got.Text)

	_, err = f.svc.GetContentMetadata(ctx, id.String(), "p")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, int64(4), f.sink.get(metrics.CounterGateDenied))
}

func TestProtectedFileScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _, err := f.svc.CreateContent(ctx, app.DepositRequest{
		File:     fileUpload("cat.png", "", pngHeader),
		Password: "abc123",
	})
	require.NoError(t, err)

	_, err = f.svc.GetContentMetadata(ctx, id.String(), "xyz")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	got, err := f.svc.GetContentMetadata(ctx, id.String(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, domain.KindFile, got.Kind)
	assert.Equal(t, "cat.png", got.FileName)
	assert.Equal(t, "image/png", got.MIMEType)
	assert.Contains(t, got.RetrievalURL, "https://blobs.test/image/")
	assert.Contains(t, got.DownloadURL, "download=1")
	assert.Empty(t, got.Text)
}

func TestConcurrentFinalView(t *testing.T) {
	f := newFixture(t)
	id := f.createText(t, app.DepositRequest{Text: "once", MaxViews: ptr(1)})

	const readers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		notFound int
	)
	start := make(chan struct{})
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.GetContentMetadata(context.Background(), id.String(), "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrNotFound):
				notFound++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, readers-1, notFound)
}

func TestLastMetadataViewDefersBlobDeletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _, err := f.svc.CreateContent(ctx, app.DepositRequest{File: fileUpload("a.png", "", pngHeader), MaxViews: ptr(1)})
	require.NoError(t, err)
	rec, err := f.records.Get(ctx, id)
	require.NoError(t, err)
	handle := rec.(*domain.FileRecord).Blob.Handle

	_, err = f.svc.GetContentMetadata(ctx, id.String(), "")
	require.NoError(t, err)
	_, err = f.records.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.True(t, f.blobs.has(handle), "URL handed out must keep working")

	due, err := f.records.DueBlobs(ctx, t0.Add(f.svc.LinkTTL))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, handle, due[0].Handle)

	n, err := f.svc.DrainBlobGraveyard(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n, "not due yet")
	n, err = f.svc.DrainBlobGraveyard(ctx, t0.Add(f.svc.LinkTTL))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, f.blobs.has(handle))
}

func TestDownloadFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _, err := f.svc.CreateContent(ctx, app.DepositRequest{File: fileUpload("a.png", "", pngHeader), MaxViews: ptr(2)})
	require.NoError(t, err)

	dl, err := f.svc.DownloadContent(ctx, id.String(), "")
	require.NoError(t, err)
	assert.Equal(t, "a.png", dl.FileName)
	assert.Equal(t, "image/png", dl.MIMEType)
	assert.Equal(t, int64(len(pngHeader)), dl.Size)
	body, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	require.NoError(t, dl.Body.Close())
	assert.Equal(t, pngHeader, body)
	assert.Equal(t, 1, f.blobs.count(), "not the last view")
}

func TestLastDownloadDeletesBlobOnClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _, err := f.svc.CreateContent(ctx, app.DepositRequest{File: fileUpload("a.png", "", pngHeader), MaxViews: ptr(1)})
	require.NoError(t, err)

	dl, err := f.svc.DownloadContent(ctx, id.String(), "")
	require.NoError(t, err)
	_, err = f.records.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound, "record removed before streaming")
	assert.Equal(t, 1, f.blobs.count(), "blob kept while streaming")

	_, err = io.ReadAll(dl.Body)
	require.NoError(t, err)
	require.NoError(t, dl.Body.Close())
	require.NoError(t, dl.Body.Close(), "second close is harmless")
	assert.Zero(t, f.blobs.count())
	assert.Len(t, f.blobs.deleted, 1)
}

func TestDownloadText(t *testing.T) {
	f := newFixture(t)
	id := f.createText(t, app.DepositRequest{Text: "plain words", MaxViews: ptr(1)})
	dl, err := f.svc.DownloadContent(context.Background(), id.String(), "")
	require.NoError(t, err)
	assert.Equal(t, id.String()+".txt", dl.FileName)
	assert.Equal(t, "text/plain; charset=utf-8", dl.MIMEType)
	body, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	assert.Equal(t, "plain words", string(body))
	_, err = f.records.Get(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDownloadOpenFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _, err := f.svc.CreateContent(ctx, app.DepositRequest{File: fileUpload("a.png", "", pngHeader)})
	require.NoError(t, err)
	f.blobs.openErr = errors.New("timeout")
	_, err = f.svc.DownloadContent(ctx, id.String(), "")
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestMetadataURLFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _, err := f.svc.CreateContent(ctx, app.DepositRequest{File: fileUpload("a.png", "", pngHeader)})
	require.NoError(t, err)
	f.blobs.urlErr = errors.New("presign failed")
	_, err = f.svc.GetContentMetadata(ctx, id.String(), "")
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestExhaustedRecordBuriesBlob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := domain.NewID()
	require.NoError(t, err)
	rec := &domain.FileRecord{
		Header: domain.Header{ID: id, ViewsRemaining: domain.Views(0), CreatedAt: t0, ExpiresAt: t0.Add(time.Hour)},
		Blob:   domain.BlobRef{Handle: "leftover", Category: domain.CategoryRaw},
	}
	require.NoError(t, f.records.Create(ctx, rec))

	_, err = f.svc.GetContentMetadata(ctx, id.String(), "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.records.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, f.blobs.deleted, "blob is never deleted by a reader that lost")

	due, err := f.records.DueBlobs(ctx, t0.Add(f.svc.LinkTTL))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "leftover", due[0].Handle)
}

func TestConcurrentFinalFileView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _, err := f.svc.CreateContent(ctx, app.DepositRequest{File: fileUpload("a.png", "", pngHeader), MaxViews: ptr(1)})
	require.NoError(t, err)
	rec, err := f.records.Get(ctx, id)
	require.NoError(t, err)
	handle := rec.(*domain.FileRecord).Blob.Handle

	// Hold the winner between consuming the last view and building URLs.
	f.blobs.urlEntered = make(chan struct{}, 1)
	f.blobs.urlRelease = make(chan struct{})
	type result struct {
		c   app.Content
		err error
	}
	done := make(chan result, 1)
	go func() {
		c, err := f.svc.GetContentMetadata(ctx, id.String(), "")
		done <- result{c, err}
	}()
	<-f.blobs.urlEntered

	_, err = f.svc.GetContentMetadata(ctx, id.String(), "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.True(t, f.blobs.has(handle), "late reader must not delete the winner's blob")

	close(f.blobs.urlRelease)
	res := <-done
	require.NoError(t, res.err)
	assert.Contains(t, res.c.RetrievalURL, handle)
	assert.True(t, f.blobs.has(handle), "URL handed out must keep working")

	n, err := f.svc.DrainBlobGraveyard(ctx, t0.Add(f.svc.LinkTTL))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, f.blobs.has(handle))
}

func TestDownloadOutlivesIOTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _, err := f.svc.CreateContent(ctx, app.DepositRequest{File: fileUpload("a.png", "", pngHeader), MaxViews: ptr(1)})
	require.NoError(t, err)
	f.svc.IOTimeout = 20 * time.Millisecond
	f.blobs.ctxBody = true

	dl, err := f.svc.DownloadContent(ctx, id.String(), "")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond) // slow client
	body, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, body)
	require.NoError(t, dl.Body.Close())
	assert.Zero(t, f.blobs.count())
}

func TestDownloadOpenTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _, err := f.svc.CreateContent(ctx, app.DepositRequest{File: fileUpload("a.png", "", pngHeader), MaxViews: ptr(2)})
	require.NoError(t, err)
	f.svc.IOTimeout = 20 * time.Millisecond
	f.blobs.blockOpen = true

	_, err = f.svc.DownloadContent(ctx, id.String(), "")
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGateStoreFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	id := f.createText(t, app.DepositRequest{Text: "x"})
	f.svc.Records = &failingRecords{RecordStore: f.records, getErr: errors.New("db down")}
	_, err := f.svc.GetContentMetadata(context.Background(), id.String(), "")
	assert.ErrorIs(t, err, domain.ErrInternal)
}
