// Package app contains the application orchestration layer for vanish. It
// wires domain validation with the record store, blob store and password
// hasher ports: ingestion, the access gate, owner operations, and the
// deletion primitive shared with the reaper.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/haukened/vanish/internal/domain"
)

// Defaults applied when the corresponding Service field is zero.
const (
	DefaultTTL       = 10 * time.Minute
	DefaultIOTimeout = 30 * time.Second
	DefaultLinkTTL   = 10 * time.Minute
)

// Service orchestrates the content lifecycle using the injected ports.
// Zero-value durations fall back to the package defaults.
type Service struct {
	Records RecordStore
	Blobs   BlobStore
	Hasher  PasswordHasher
	Clock   Clock
	Logger  *slog.Logger
	Metrics Sink

	MaxBytes   int64         // largest accepted payload; 0 disables the check
	DefaultTTL time.Duration // expiry used when a deposit names none
	MaxTTL     time.Duration // furthest accepted expiry; 0 disables the bound
	IOTimeout  time.Duration // bound on every blob store call
	LinkTTL    time.Duration // lifetime of retrieval URLs handed to readers
}

// DepositRequest carries one deposit. Exactly one of Text or File is set.
type DepositRequest struct {
	Text     string
	File     *FileUpload
	Expiry   *time.Time
	Password string
	MaxViews *int
	OwnerID  string
}

// FileUpload streams exactly Size bytes of file content.
type FileUpload struct {
	Name     string
	MIMEType string
	Size     int64
	Body     io.Reader
}

// Content is the result of a gated metadata read.
type Content struct {
	ID             domain.ContentID
	Kind           domain.Kind
	Text           string
	FileName       string
	MIMEType       string
	Size           int64
	RetrievalURL   string
	DownloadURL    string
	ViewsRemaining *int
	ExpiresAt      time.Time
}

// Download is the result of a gated forced-download read. Callers must close Body.
type Download struct {
	FileName string
	MIMEType string
	Size     int64
	Body     io.ReadCloser
}

// ContentSummary is the owner-facing listing entry. It never carries the
// password hash.
type ContentSummary struct {
	ID             domain.ContentID
	Kind           domain.Kind
	FileName       string
	HasPassword    bool
	ViewsRemaining *int
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

func (s *Service) log() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Service) sink() Sink {
	if s.Metrics == nil {
		return nopSink{}
	}
	return s.Metrics
}

func (s *Service) defaultTTL() time.Duration {
	if s.DefaultTTL <= 0 {
		return DefaultTTL
	}
	return s.DefaultTTL
}

func (s *Service) linkTTL() time.Duration {
	if s.LinkTTL <= 0 {
		return DefaultLinkTTL
	}
	return s.LinkTTL
}

func (s *Service) ioTimeout() time.Duration {
	if s.IOTimeout <= 0 {
		return DefaultIOTimeout
	}
	return s.IOTimeout
}

// ioContext bounds a blob store call.
func (s *Service) ioContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.ioTimeout())
}

// Ready reports whether both backing stores are reachable.
func (s *Service) Ready(ctx context.Context) error {
	if err := s.Records.Ping(ctx); err != nil {
		return fmt.Errorf("record store: %w", err)
	}
	if err := s.Blobs.Ping(ctx); err != nil {
		return fmt.Errorf("blob store: %w", err)
	}
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStorageUnavailable, op, err)
}

func internalErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrInternal, op, err)
}
