// Package sqlite provides the default, durable implementation of the
// app.RecordStore port on SQLite (via database/sql and mattn/go-sqlite3).
// Timestamps are stored as unix milliseconds.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/haukened/vanish/internal/app"
	"github.com/haukened/vanish/internal/domain"
	"github.com/haukened/vanish/internal/store"

	// database/sql SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

var _ app.RecordStore = (*Index)(nil)

// Index implements app.RecordStore using SQLite. It is safe for concurrent
// use; Open limits the pool to one connection so writers never contend for
// the database lock.
type Index struct{ db *sql.DB }

// Open opens the database at dsn with a single pooled connection.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// New constructs an Index, migrating the schema to the latest version.
func New(db *sql.DB) (*Index, error) {
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return &Index{db: db}, nil
}

// Create inserts a new contents row.
func (i *Index) Create(ctx context.Context, rec domain.Record) error {
	row := store.FromRecord(rec)
	q := `INSERT INTO contents (` + store.Columns + `) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`
	if _, err := i.db.ExecContext(ctx, q, row.Args()...); err != nil {
		return fmt.Errorf("insert %s: %w", row.ID, err)
	}
	return nil
}

// Get returns the record without interpreting expiry.
func (i *Index) Get(ctx context.Context, id domain.ContentID) (domain.Record, error) {
	var row store.Row
	q := `SELECT ` + store.Columns + ` FROM contents WHERE id = ?`
	if err := i.db.QueryRowContext(ctx, q, id.String()).Scan(row.Dest()...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return row.Record()
}

// ConsumeView decrements views_remaining in a single conditional statement.
// When nothing matched, a follow-up read classifies why.
func (i *Index) ConsumeView(ctx context.Context, id domain.ContentID, now time.Time) (int, error) {
	const upd = `UPDATE contents SET views_remaining = views_remaining - 1
WHERE id = ? AND views_remaining > 0 AND expires_at > ?
RETURNING views_remaining`
	var remaining int
	err := i.db.QueryRowContext(ctx, upd, id.String(), store.Millis(now)).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	const sel = `SELECT views_remaining, expires_at FROM contents WHERE id = ?`
	var (
		views   *int64
		expires int64
	)
	if err := i.db.QueryRowContext(ctx, sel, id.String()).Scan(&views, &expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, err
	}
	switch {
	case expires <= store.Millis(now):
		return 0, domain.ErrNotFound
	case views == nil:
		return 0, fmt.Errorf("record %s has no view limit: %w", id, domain.ErrInvalidInput)
	default:
		return 0, domain.ErrExhausted
	}
}

// Delete hard-deletes the row.
func (i *Index) Delete(ctx context.Context, id domain.ContentID) error {
	res, err := i.db.ExecContext(ctx, `DELETE FROM contents WHERE id = ?`, id.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ExpiredBefore selects records expiring before t.
func (i *Index) ExpiredBefore(ctx context.Context, t time.Time) ([]domain.Record, error) {
	q := `SELECT ` + store.Columns + ` FROM contents WHERE expires_at < ? ORDER BY expires_at`
	return i.query(ctx, q, store.Millis(t))
}

// ListByOwner returns the owner's records, newest first.
func (i *Index) ListByOwner(ctx context.Context, owner string) ([]domain.Record, error) {
	q := `SELECT ` + store.Columns + ` FROM contents WHERE owner_id = ? ORDER BY created_at DESC, id`
	return i.query(ctx, q, owner)
}

func (i *Index) query(ctx context.Context, q string, args ...any) ([]domain.Record, error) {
	rows, err := i.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Record
	for rows.Next() {
		var row store.Row
		if err := rows.Scan(row.Dest()...); err != nil {
			return nil, err
		}
		rec, err := row.Record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// BuryBlob upserts a graveyard entry.
func (i *Index) BuryBlob(ctx context.Context, ref domain.BlobRef, deleteAfter time.Time) error {
	const q = `INSERT INTO blob_graveyard (handle, category, delete_after) VALUES (?,?,?)
ON CONFLICT (handle) DO UPDATE SET category = excluded.category, delete_after = excluded.delete_after`
	_, err := i.db.ExecContext(ctx, q, ref.Handle, string(ref.Category), store.Millis(deleteAfter))
	return err
}

// DueBlobs lists graveyard entries whose delete_after is not after now.
func (i *Index) DueBlobs(ctx context.Context, now time.Time) ([]domain.BlobRef, error) {
	const q = `SELECT handle, category FROM blob_graveyard WHERE delete_after <= ? ORDER BY handle`
	rows, err := i.db.QueryContext(ctx, q, store.Millis(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.BlobRef
	for rows.Next() {
		var handle, category string
		if err := rows.Scan(&handle, &category); err != nil {
			return nil, err
		}
		out = append(out, domain.BlobRef{Handle: handle, Category: domain.ParseCategory(category)})
	}
	return out, rows.Err()
}

// ForgetBlob removes a graveyard entry.
func (i *Index) ForgetBlob(ctx context.Context, handle string) error {
	_, err := i.db.ExecContext(ctx, `DELETE FROM blob_graveyard WHERE handle = ?`, handle)
	return err
}

// BlobHandles lists every handle referenced by a record or graveyard entry.
func (i *Index) BlobHandles(ctx context.Context) ([]string, error) {
	const q = `SELECT blob_handle FROM contents WHERE blob_handle IS NOT NULL
UNION SELECT handle FROM blob_graveyard`
	rows, err := i.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// Ping checks the database connection.
func (i *Index) Ping(ctx context.Context) error { return i.db.PingContext(ctx) }
