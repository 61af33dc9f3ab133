package app_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/haukened/vanish/internal/app"
	"github.com/haukened/vanish/internal/domain"
	"github.com/haukened/vanish/internal/passwd"
	"github.com/haukened/vanish/internal/store/memory"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// pngHeader is enough of a PNG for content sniffing.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeBlobs is an in-memory app.BlobStore with injectable failures.
type fakeBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	cats      map[string]domain.Category
	modTimes  map[string]time.Time
	deleted   []string
	putErr    error
	openErr   error
	deleteErr error
	urlErr    error
	blockPut  bool
	blockOpen bool
	// ctxBody makes opened bodies fail once the Open context is done.
	ctxBody bool
	// urlEntered and urlRelease stall URL until the test releases it.
	urlEntered chan struct{}
	urlRelease chan struct{}
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{
		objects:  map[string][]byte{},
		cats:     map[string]domain.Category{},
		modTimes: map[string]time.Time{},
	}
}

func (f *fakeBlobs) Put(ctx context.Context, r io.Reader, size int64, meta app.BlobMeta) (app.StoredBlob, error) {
	if f.blockPut {
		<-ctx.Done()
		return app.StoredBlob{}, ctx.Err()
	}
	if f.putErr != nil {
		return app.StoredBlob{}, f.putErr
	}
	data, err := io.ReadAll(io.LimitReader(r, size))
	if err != nil {
		return app.StoredBlob{}, err
	}
	if int64(len(data)) != size {
		return app.StoredBlob{}, io.ErrUnexpectedEOF
	}
	id, err := domain.NewID()
	if err != nil {
		return app.StoredBlob{}, err
	}
	ref := domain.BlobRef{Handle: id.String(), Category: meta.Category}
	f.mu.Lock()
	f.objects[ref.Handle] = data
	f.cats[ref.Handle] = ref.Category
	f.modTimes[ref.Handle] = t0
	f.mu.Unlock()
	u, _ := f.URL(ctx, ref, app.URLOptions{FileName: meta.FileName})
	return app.StoredBlob{Ref: ref, URL: u}, nil
}

func (f *fakeBlobs) URL(_ context.Context, ref domain.BlobRef, opts app.URLOptions) (string, error) {
	if f.urlRelease != nil {
		select {
		case f.urlEntered <- struct{}{}:
		default:
		}
		<-f.urlRelease
	}
	if f.urlErr != nil {
		return "", f.urlErr
	}
	u := fmt.Sprintf("https://blobs.test/%s/%s", ref.Category, ref.Handle)
	if opts.Attachment {
		u += "?download=1"
	}
	return u, nil
}

func (f *fakeBlobs) Open(ctx context.Context, ref domain.BlobRef) (io.ReadCloser, error) {
	if f.blockOpen {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[ref.Handle]
	if !ok {
		return nil, errors.New("no such blob")
	}
	if f.ctxBody {
		return io.NopCloser(ctxReader{ctx: ctx, r: bytes.NewReader(data)}), nil
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// ctxReader fails reads once ctx is done, like a network body.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func (f *fakeBlobs) Delete(_ context.Context, ref domain.BlobRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref.Handle)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.objects, ref.Handle)
	return nil
}

func (f *fakeBlobs) List(context.Context) ([]app.BlobEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []app.BlobEntry
	for h := range f.objects {
		out = append(out, app.BlobEntry{Handle: h, Category: f.cats[h], ModTime: f.modTimes[h]})
	}
	return out, nil
}

func (f *fakeBlobs) Ping(context.Context) error { return nil }

func (f *fakeBlobs) has(handle string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[handle]
	return ok
}

func (f *fakeBlobs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

// countingSink records metric events by name.
type countingSink struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (c *countingSink) Inc(name string, delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int64{}
	}
	c.counts[name] += delta
}

func (c *countingSink) Observe(string, int64) {}

func (c *countingSink) get(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[name]
}

type fixture struct {
	svc     *app.Service
	records *memory.Store
	blobs   *fakeBlobs
	clock   *testClock
	sink    *countingSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		records: memory.New(),
		blobs:   newFakeBlobs(),
		clock:   &testClock{now: t0},
		sink:    &countingSink{},
	}
	f.svc = &app.Service{
		Records:  f.records,
		Blobs:    f.blobs,
		Hasher:   passwd.New(4), // bcrypt.MinCost keeps tests fast
		Clock:    f.clock,
		Metrics:  f.sink,
		MaxBytes: 1 << 20,
		MaxTTL:   24 * time.Hour,
		LinkTTL:  10 * time.Minute,
	}
	return f
}

func (f *fixture) createText(t *testing.T, req app.DepositRequest) domain.ContentID {
	t.Helper()
	id, _, err := f.svc.CreateContent(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateContent: %v", err)
	}
	return id
}

func fileUpload(name, mime string, data []byte) *app.FileUpload {
	return &app.FileUpload{Name: name, MIMEType: mime, Size: int64(len(data)), Body: bytes.NewReader(data)}
}

// failingRecords injects errors into selected RecordStore methods.
type failingRecords struct {
	app.RecordStore
	createErr error
	deleteErr error
	getErr    error
}

func (f *failingRecords) Create(ctx context.Context, rec domain.Record) error {
	if f.createErr != nil {
		return f.createErr
	}
	return f.RecordStore.Create(ctx, rec)
}

func (f *failingRecords) Delete(ctx context.Context, id domain.ContentID) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.RecordStore.Delete(ctx, id)
}

func (f *failingRecords) Get(ctx context.Context, id domain.ContentID) (domain.Record, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.RecordStore.Get(ctx, id)
}

func ptr[T any](v T) *T { return &v }
