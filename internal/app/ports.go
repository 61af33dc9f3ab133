// Package app defines the application layer "ports" (interfaces) and simple
// data contracts that the core use-cases of vanish depend upon. It follows a
// hexagonal (ports & adapters) design: this package declares what the core
// needs, while adapter packages (SQLite/PostgreSQL record stores, filesystem/S3
// blob stores, the HTTP layer, the reaper) provide concrete implementations.
// No SQL or network concerns belong here.
package app

import (
	"context"
	"io"
	"time"

	"github.com/haukened/vanish/internal/domain"
)

// Clock abstracts time to enable deterministic testing of expiry logic.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
}

// RecordStore is the persistence port for content records. It is the single
// source of truth: concurrent mutations of one record are serialized through
// ConsumeView and Delete.
type RecordStore interface {
	// Create persists a new record. The id must not exist.
	Create(ctx context.Context, rec domain.Record) error

	// Get returns the record or domain.ErrNotFound. Expiry is not
	// interpreted; callers decide whether an expired record counts as absent.
	Get(ctx context.Context, id domain.ContentID) (domain.Record, error)

	// ConsumeView atomically decrements a limited record's remaining views
	// when it is still positive and the record has not expired at now, and
	// returns the remaining count after the decrement. It returns
	// domain.ErrExhausted if the record exists with no views left and
	// domain.ErrNotFound if it is absent or expired. Two concurrent callers
	// can never both observe the same remaining value.
	ConsumeView(ctx context.Context, id domain.ContentID, now time.Time) (remaining int, err error)

	// Delete removes the record, returning domain.ErrNotFound if absent.
	Delete(ctx context.Context, id domain.ContentID) error

	// ExpiredBefore returns every record whose expiry precedes t.
	ExpiredBefore(ctx context.Context, t time.Time) ([]domain.Record, error)

	// ListByOwner returns the owner's records, newest first.
	ListByOwner(ctx context.Context, owner string) ([]domain.Record, error)

	// BuryBlob schedules a blob for deletion once deleteAfter has passed.
	BuryBlob(ctx context.Context, ref domain.BlobRef, deleteAfter time.Time) error
	// DueBlobs returns buried blobs whose deletion time is not after now.
	DueBlobs(ctx context.Context, now time.Time) ([]domain.BlobRef, error)
	// ForgetBlob drops a graveyard entry. Absent entries are not an error.
	ForgetBlob(ctx context.Context, handle string) error
	// BlobHandles lists every blob handle referenced by a record or a
	// graveyard entry.
	BlobHandles(ctx context.Context) ([]string, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}

// BlobMeta describes a blob at upload time.
type BlobMeta struct {
	FileName string
	MIMEType string
	Category domain.Category
}

// StoredBlob is what a blob store hands back after an upload: the opaque
// reference to persist and a public retrieval URL.
type StoredBlob struct {
	Ref domain.BlobRef
	URL string
}

// URLOptions controls retrieval URL construction.
type URLOptions struct {
	// Attachment asks the store to serve the bytes with an attachment
	// disposition so browsers download rather than render.
	Attachment bool
	FileName   string
}

// BlobStore is the capability port for remote file bytes. It holds no state
// the core must protect.
type BlobStore interface {
	Put(ctx context.Context, r io.Reader, size int64, meta BlobMeta) (StoredBlob, error)
	URL(ctx context.Context, ref domain.BlobRef, opts URLOptions) (string, error)
	Open(ctx context.Context, ref domain.BlobRef) (io.ReadCloser, error)
	// Delete removes the blob. Deleting an absent blob is not an error.
	Delete(ctx context.Context, ref domain.BlobRef) error
	Ping(ctx context.Context) error
}

// BlobEntry is one listed blob.
type BlobEntry struct {
	Handle   string
	Category domain.Category
	ModTime  time.Time
}

// BlobLister is implemented by blob stores that can enumerate their contents.
// It enables orphan reconciliation.
type BlobLister interface {
	List(ctx context.Context) ([]BlobEntry, error)
}

// PasswordHasher is the secret verifier port.
type PasswordHasher interface {
	Hash(password string) ([]byte, error)
	// Verify must compare in constant time. A mismatch returns false, nil.
	Verify(hash []byte, password string) (bool, error)
}

// Sink receives metric events. Names are defined by the metrics package.
type Sink interface {
	Inc(name string, delta int64)
	Observe(name string, v int64)
}

type nopSink struct{}

func (nopSink) Inc(string, int64)     {}
func (nopSink) Observe(string, int64) {}
