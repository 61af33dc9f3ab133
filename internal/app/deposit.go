package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/gabriel-vasile/mimetype"

	"github.com/haukened/vanish/internal/domain"
	"github.com/haukened/vanish/internal/metrics"
)

// sniffLen is how many leading bytes are inspected to detect a MIME type.
const sniffLen = 3072

const genericMIME = "application/octet-stream"

// CreateContent validates a deposit, stores the file blob if any, and persists
// the record. It returns the new id and the resolved expiry. Nothing is
// persisted when any step fails; a blob uploaded before a failed record
// insert is deleted again.
func (s *Service) CreateContent(ctx context.Context, req DepositRequest) (domain.ContentID, time.Time, error) {
	if err := s.validateDeposit(req); err != nil {
		return "", time.Time{}, err
	}
	now := s.Clock.Now()
	expiresAt, err := domain.ResolveExpiry(now, req.Expiry, s.defaultTTL(), s.MaxTTL)
	if err != nil {
		return "", time.Time{}, err
	}
	var hash []byte
	if req.Password != "" {
		if hash, err = s.Hasher.Hash(req.Password); err != nil {
			if errors.Is(err, domain.ErrInvalidInput) {
				return "", time.Time{}, err
			}
			return "", time.Time{}, internalErr("hash password", err)
		}
	}
	id, err := domain.NewID()
	if err != nil { // extremely unlikely, but propagate
		return "", time.Time{}, internalErr("generate id", err)
	}
	header := domain.Header{
		ID:           id,
		PasswordHash: hash,
		OwnerID:      req.OwnerID,
		ExpiresAt:    expiresAt,
		CreatedAt:    now,
	}
	if req.MaxViews != nil {
		header.ViewsRemaining = domain.Views(*req.MaxViews)
	}

	var rec domain.Record
	if req.File != nil {
		f, err := s.storeFile(ctx, header, req.File)
		if err != nil {
			return "", time.Time{}, err
		}
		rec = f
	} else {
		rec = &domain.TextRecord{Header: header, Text: req.Text}
	}

	if err := s.Records.Create(ctx, rec); err != nil {
		if ref, ok := domain.BlobOf(rec); ok {
			s.discardBlob(ctx, ref, "create_failed")
		}
		return "", time.Time{}, internalErr("persist record", err)
	}
	s.sink().Inc(metrics.CounterContentCreated, 1)
	s.log().Info("content created",
		"domain", "ingest",
		"kind", rec.Kind(),
		"protected", header.Protected(),
		"limited", header.Limited(),
		"guest", req.OwnerID == "",
	)
	return id, expiresAt, nil
}

func (s *Service) validateDeposit(req DepositRequest) error {
	hasText, hasFile := req.Text != "", req.File != nil
	switch {
	case !hasText && !hasFile:
		return fmt.Errorf("%w: provide either text or a file", domain.ErrInvalidInput)
	case hasText && hasFile:
		return fmt.Errorf("%w: only one of text or file is allowed", domain.ErrInvalidInput)
	}
	if req.MaxViews != nil && *req.MaxViews < 1 {
		return fmt.Errorf("%w: max views must be a positive integer", domain.ErrInvalidInput)
	}
	if hasText && s.MaxBytes > 0 && int64(len(req.Text)) > s.MaxBytes {
		return domain.ErrTooLarge
	}
	if hasFile {
		if req.File.Body == nil || req.File.Size <= 0 {
			return fmt.Errorf("%w: empty file", domain.ErrInvalidInput)
		}
		if s.MaxBytes > 0 && req.File.Size > s.MaxBytes {
			return domain.ErrTooLarge
		}
	}
	return nil
}

// storeFile uploads the file bytes and returns the record that references them.
func (s *Service) storeFile(ctx context.Context, h domain.Header, f *FileUpload) (*domain.FileRecord, error) {
	mime, body, err := sniffMIME(f.MIMEType, f.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUnreadableUpload, err)
	}
	name := sanitizeFileName(f.Name)
	ioCtx, cancel := s.ioContext(ctx)
	defer cancel()
	stored, err := s.Blobs.Put(ioCtx, body, f.Size, BlobMeta{
		FileName: name,
		MIMEType: mime,
		Category: domain.CategoryFor(mime),
	})
	if err != nil {
		return nil, storageErr("store blob", err)
	}
	return &domain.FileRecord{
		Header:   h,
		Blob:     stored.Ref,
		FileName: name,
		MIMEType: mime,
		Size:     f.Size,
	}, nil
}

// sniffMIME returns hint unless it is empty or generic, in which case the type
// is detected from the leading bytes. The returned reader replays those bytes.
func sniffMIME(hint string, r io.Reader) (string, io.Reader, error) {
	hint = strings.TrimSpace(hint)
	if hint != "" && !strings.EqualFold(hint, genericMIME) {
		return hint, r, nil
	}
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", nil, err
	}
	head = head[:n]
	return mimetype.Detect(head).String(), io.MultiReader(bytes.NewReader(head), r), nil
}

// sanitizeFileName keeps only the base name and drops characters that would
// break a Content-Disposition header.
func sanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '"' {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" || name == ".." {
		return "file"
	}
	return name
}
