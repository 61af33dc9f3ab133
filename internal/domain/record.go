// Package domain record.go defines the shared content record as a sealed sum
// type: a record is either a *TextRecord or a *FileRecord, never both.
package domain

import "time"

// Kind names the record variant on the wire and in storage.
type Kind string

// Record kinds.
const (
	KindText Kind = "text"
	KindFile Kind = "file"
)

// Header holds the fields every record carries regardless of payload.
type Header struct {
	ID ContentID
	// PasswordHash is the salted one-way hash of the access password, nil
	// when the record is not password gated. Never serialized to readers.
	PasswordHash []byte `json:"-"`
	// ViewsRemaining is nil for unlimited views.
	ViewsRemaining *int
	// OwnerID is empty for guest deposits.
	OwnerID   string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Record is implemented only by *TextRecord and *FileRecord.
type Record interface {
	Common() *Header
	Kind() Kind
	sealed()
}

// TextRecord is a record whose payload is stored inline.
type TextRecord struct {
	Header
	Text string
}

// FileRecord is a record whose payload lives in the blob store.
type FileRecord struct {
	Header
	Blob     BlobRef
	FileName string
	MIMEType string
	Size     int64
}

// BlobRef locates a blob in the blob store. Category is the retrieval hint
// the store needs to build a correct URL or delete the object.
type BlobRef struct {
	Handle   string
	Category Category
}

func (r *TextRecord) Common() *Header { return &r.Header }
func (r *TextRecord) Kind() Kind      { return KindText }
func (*TextRecord) sealed()           {}

func (r *FileRecord) Common() *Header { return &r.Header }
func (r *FileRecord) Kind() Kind      { return KindFile }
func (*FileRecord) sealed()           {}

// Expired reports whether the record is logically dead at now.
func (h *Header) Expired(now time.Time) bool { return !now.Before(h.ExpiresAt) }

// Protected reports whether reads must present a password.
func (h *Header) Protected() bool { return len(h.PasswordHash) > 0 }

// Limited reports whether the record has a view limit.
func (h *Header) Limited() bool { return h.ViewsRemaining != nil }

// OwnedBy reports whether caller owns the record. Guest records have no owner.
func (h *Header) OwnedBy(caller string) bool {
	return h.OwnerID != "" && caller != "" && h.OwnerID == caller
}

// BlobOf returns the blob reference of a file record.
func BlobOf(r Record) (BlobRef, bool) {
	if f, ok := r.(*FileRecord); ok {
		return f.Blob, true
	}
	return BlobRef{}, false
}

// Views returns a pointer to n, for building limited records.
func Views(n int) *int { return &n }
