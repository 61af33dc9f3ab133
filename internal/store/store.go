// Package store holds what the record store adapters share: the flat row
// layout of the contents table and its conversion to and from domain records.
// Concrete stores live in the sqlite, postgres and memory subpackages; callers
// depend only on the app.RecordStore port.
package store

import (
	"fmt"
	"time"

	"github.com/haukened/vanish/internal/domain"
)

// Columns lists the contents table columns in Row.Dest/Row.Args order.
const Columns = "id, kind, text, blob_handle, blob_category, file_name, mime_type, size, password_hash, views_remaining, owner_id, expires_at, created_at"

// Row is one contents row. Nullable columns are pointers. Timestamps are unix
// milliseconds in UTC.
type Row struct {
	ID             string
	Kind           string
	Text           *string
	BlobHandle     *string
	BlobCategory   *string
	FileName       *string
	MIMEType       *string
	Size           *int64
	PasswordHash   []byte
	ViewsRemaining *int64
	OwnerID        *string
	ExpiresAt      int64
	CreatedAt      int64
}

// Dest returns scan destinations in Columns order.
func (r *Row) Dest() []any {
	return []any{
		&r.ID, &r.Kind, &r.Text, &r.BlobHandle, &r.BlobCategory, &r.FileName,
		&r.MIMEType, &r.Size, &r.PasswordHash, &r.ViewsRemaining, &r.OwnerID,
		&r.ExpiresAt, &r.CreatedAt,
	}
}

// Args returns insert arguments in Columns order.
func (r *Row) Args() []any {
	return []any{
		r.ID, r.Kind, r.Text, r.BlobHandle, r.BlobCategory, r.FileName,
		r.MIMEType, r.Size, r.PasswordHash, r.ViewsRemaining, r.OwnerID,
		r.ExpiresAt, r.CreatedAt,
	}
}

// FromRecord flattens a record into a row.
func FromRecord(rec domain.Record) Row {
	h := rec.Common()
	row := Row{
		ID:        h.ID.String(),
		Kind:      string(rec.Kind()),
		ExpiresAt: Millis(h.ExpiresAt),
		CreatedAt: Millis(h.CreatedAt),
	}
	if len(h.PasswordHash) > 0 {
		row.PasswordHash = append([]byte(nil), h.PasswordHash...)
	}
	if h.ViewsRemaining != nil {
		v := int64(*h.ViewsRemaining)
		row.ViewsRemaining = &v
	}
	if h.OwnerID != "" {
		row.OwnerID = ptr(h.OwnerID)
	}
	switch r := rec.(type) {
	case *domain.TextRecord:
		row.Text = ptr(r.Text)
	case *domain.FileRecord:
		row.BlobHandle = ptr(r.Blob.Handle)
		row.BlobCategory = ptr(string(r.Blob.Category))
		row.FileName = ptr(r.FileName)
		row.MIMEType = ptr(r.MIMEType)
		row.Size = &r.Size
	}
	return row
}

// Record rebuilds the domain record. A row that violates the variant rules
// is reported as corrupt.
func (r *Row) Record() (domain.Record, error) {
	id, err := domain.ParseID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("corrupt row %q: %w", r.ID, err)
	}
	h := domain.Header{
		ID:        id,
		ExpiresAt: FromMillis(r.ExpiresAt),
		CreatedAt: FromMillis(r.CreatedAt),
	}
	if len(r.PasswordHash) > 0 {
		h.PasswordHash = r.PasswordHash
	}
	if r.ViewsRemaining != nil {
		h.ViewsRemaining = domain.Views(int(*r.ViewsRemaining))
	}
	if r.OwnerID != nil {
		h.OwnerID = *r.OwnerID
	}
	switch domain.Kind(r.Kind) {
	case domain.KindText:
		if r.Text == nil || r.BlobHandle != nil {
			return nil, fmt.Errorf("corrupt row %s: text record without exactly one payload", r.ID)
		}
		return &domain.TextRecord{Header: h, Text: *r.Text}, nil
	case domain.KindFile:
		if r.BlobHandle == nil || r.BlobCategory == nil || r.Text != nil {
			return nil, fmt.Errorf("corrupt row %s: file record without blob reference", r.ID)
		}
		f := &domain.FileRecord{
			Header: h,
			Blob:   domain.BlobRef{Handle: *r.BlobHandle, Category: domain.ParseCategory(*r.BlobCategory)},
		}
		if r.FileName != nil {
			f.FileName = *r.FileName
		}
		if r.MIMEType != nil {
			f.MIMEType = *r.MIMEType
		}
		if r.Size != nil {
			f.Size = *r.Size
		}
		return f, nil
	default:
		return nil, fmt.Errorf("corrupt row %s: unknown kind %q", r.ID, r.Kind)
	}
}

// Millis converts t to unix milliseconds.
func Millis(t time.Time) int64 { return t.UnixMilli() }

// FromMillis converts unix milliseconds to a UTC time.
func FromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func ptr[T any](v T) *T { return &v }
