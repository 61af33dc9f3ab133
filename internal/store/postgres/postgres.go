// Package postgres implements the app.RecordStore port on PostgreSQL using
// pgx connection pools. Queries are plain SQL; the row layout is shared with
// the SQLite store.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haukened/vanish/internal/app"
	"github.com/haukened/vanish/internal/domain"
	"github.com/haukened/vanish/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ app.RecordStore = (*Store)(nil)

// Store implements app.RecordStore on a pgx pool.
type Store struct{ pool *pgxpool.Pool }

// New wraps an existing pool. Run Migrate first.
func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

// Connect creates a pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded migrations to the database at dsn.
func Migrate(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, MigrateURL(dsn))
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// MigrateURL rewrites a postgres:// DSN to the pgx5:// scheme golang-migrate
// registers for its pgx driver.
func MigrateURL(dsn string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}

func (s *Store) Create(ctx context.Context, rec domain.Record) error {
	row := store.FromRecord(rec)
	q := `INSERT INTO contents (` + store.Columns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	if _, err := s.pool.Exec(ctx, q, row.Args()...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert %s: duplicate id", row.ID)
		}
		return fmt.Errorf("insert %s: %w", row.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id domain.ContentID) (domain.Record, error) {
	var row store.Row
	q := `SELECT ` + store.Columns + ` FROM contents WHERE id = $1`
	if err := s.pool.QueryRow(ctx, q, id.String()).Scan(row.Dest()...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return row.Record()
}

// ConsumeView decrements views_remaining with one conditional UPDATE; row
// locking serializes concurrent readers of the same record.
func (s *Store) ConsumeView(ctx context.Context, id domain.ContentID, now time.Time) (int, error) {
	const upd = `UPDATE contents SET views_remaining = views_remaining - 1
WHERE id = $1 AND views_remaining > 0 AND expires_at > $2
RETURNING views_remaining`
	var remaining int
	err := s.pool.QueryRow(ctx, upd, id.String(), store.Millis(now)).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}
	var (
		views   *int64
		expires int64
	)
	err = s.pool.QueryRow(ctx, `SELECT views_remaining, expires_at FROM contents WHERE id = $1`, id.String()).Scan(&views, &expires)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return 0, domain.ErrNotFound
	case err != nil:
		return 0, err
	case expires <= store.Millis(now):
		return 0, domain.ErrNotFound
	case views == nil:
		return 0, fmt.Errorf("record %s has no view limit: %w", id, domain.ErrInvalidInput)
	default:
		return 0, domain.ErrExhausted
	}
}

func (s *Store) Delete(ctx context.Context, id domain.ContentID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM contents WHERE id = $1`, id.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) ExpiredBefore(ctx context.Context, t time.Time) ([]domain.Record, error) {
	q := `SELECT ` + store.Columns + ` FROM contents WHERE expires_at < $1 ORDER BY expires_at`
	return s.query(ctx, q, store.Millis(t))
}

func (s *Store) ListByOwner(ctx context.Context, owner string) ([]domain.Record, error) {
	q := `SELECT ` + store.Columns + ` FROM contents WHERE owner_id = $1 ORDER BY created_at DESC, id`
	return s.query(ctx, q, owner)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]domain.Record, error) {
	rows, err := s.pool.Query(ctx, q, args...)
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
	return out, rows.Err()
}

func (s *Store) BuryBlob(ctx context.Context, ref domain.BlobRef, deleteAfter time.Time) error {
	const q = `INSERT INTO blob_graveyard (handle, category, delete_after) VALUES ($1, $2, $3)
ON CONFLICT (handle) DO UPDATE SET category = EXCLUDED.category, delete_after = EXCLUDED.delete_after`
	_, err := s.pool.Exec(ctx, q, ref.Handle, string(ref.Category), store.Millis(deleteAfter))
	return err
}

func (s *Store) DueBlobs(ctx context.Context, now time.Time) ([]domain.BlobRef, error) {
	rows, err := s.pool.Query(ctx, `SELECT handle, category FROM blob_graveyard WHERE delete_after <= $1 ORDER BY handle`, store.Millis(now))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.BlobRef, error) {
		var handle, category string
		err := r.Scan(&handle, &category)
		return domain.BlobRef{Handle: handle, Category: domain.ParseCategory(category)}, err
	})
}

func (s *Store) ForgetBlob(ctx context.Context, handle string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM blob_graveyard WHERE handle = $1`, handle)
	return err
}

func (s *Store) BlobHandles(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT blob_handle FROM contents WHERE blob_handle IS NOT NULL
UNION SELECT handle FROM blob_graveyard`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// isUniqueViolation reports a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
