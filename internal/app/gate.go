package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/haukened/vanish/internal/domain"
	"github.com/haukened/vanish/internal/metrics"
)

// admission is a permitted read. last is set for the caller that consumed the
// final view; that caller alone destroys the record.
type admission struct {
	rec  domain.Record
	last bool
}

// admit is the single access decision shared by every read accessor. Steps
// run in a fixed order and short-circuit: existence and expiry, password,
// view consumption.
func (s *Service) admit(ctx context.Context, idStr, password string) (admission, error) {
	id, err := domain.ParseID(idStr)
	if err != nil {
		return admission{}, s.deny("malformed_id", domain.ErrNotFound)
	}
	now := s.Clock.Now()
	rec, err := s.Records.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return admission{}, s.deny("missing", domain.ErrNotFound)
	}
	if err != nil {
		return admission{}, internalErr("fetch record", err)
	}
	h := rec.Common()
	if h.Expired(now) {
		return admission{}, s.deny("expired", domain.ErrNotFound)
	}

	if h.Protected() {
		if password == "" {
			return admission{}, s.deny("password_required", domain.ErrPasswordRequired)
		}
		ok, err := s.Hasher.Verify(h.PasswordHash, password)
		if err != nil {
			return admission{}, internalErr("verify password", err)
		}
		if !ok {
			return admission{}, s.deny("incorrect_password", domain.ErrIncorrectPassword)
		}
	}

	if !h.Limited() {
		s.sink().Inc(metrics.CounterContentViewed, 1)
		return admission{rec: rec}, nil
	}
	remaining, err := s.Records.ConsumeView(ctx, id, now)
	switch {
	case errors.Is(err, domain.ErrExhausted):
		// The final view may still be in flight with the winner, so the blob
		// is only buried; the winner's URLs stay valid for the link lifetime.
		s.retireKeepingBlob(ctx, rec)
		return admission{}, s.deny("exhausted", domain.ErrNotFound)
	case errors.Is(err, domain.ErrNotFound):
		return admission{}, s.deny("lost_race", domain.ErrNotFound)
	case err != nil:
		return admission{}, internalErr("consume view", err)
	}
	h.ViewsRemaining = domain.Views(remaining)
	s.sink().Inc(metrics.CounterContentViewed, 1)
	return admission{rec: rec, last: remaining == 0}, nil
}

func (s *Service) deny(reason string, err error) error {
	s.sink().Inc(metrics.CounterGateDenied, 1)
	s.log().Debug("read denied", "domain", "gate", "reason", reason)
	return err
}

// GetContentMetadata performs a gated read and returns the text payload or
// the file's name and retrieval URLs. Consuming the final view deletes the
// record at once; a file's blob stays retrievable for the link lifetime and is
// then removed by the reaper.
func (s *Service) GetContentMetadata(ctx context.Context, id, password string) (Content, error) {
	adm, err := s.admit(ctx, id, password)
	if err != nil {
		return Content{}, err
	}
	h := adm.rec.Common()
	out := Content{
		ID:             h.ID,
		Kind:           adm.rec.Kind(),
		ViewsRemaining: h.ViewsRemaining,
		ExpiresAt:      h.ExpiresAt,
	}
	switch r := adm.rec.(type) {
	case *domain.TextRecord:
		out.Text = r.Text
	case *domain.FileRecord:
		out.FileName, out.MIMEType, out.Size = r.FileName, r.MIMEType, r.Size
		if out.RetrievalURL, out.DownloadURL, err = s.fileURLs(ctx, r); err != nil {
			if adm.last {
				s.retire(ctx, adm.rec)
			}
			return Content{}, err
		}
	}
	if adm.last {
		s.retireKeepingBlob(ctx, adm.rec)
	}
	return out, nil
}

// DownloadContent performs a gated read and streams the payload. Text
// records stream as a plain-text file. When this read consumed the final view
// the record is deleted before returning and the blob when Body is closed.
func (s *Service) DownloadContent(ctx context.Context, id, password string) (Download, error) {
	adm, err := s.admit(ctx, id, password)
	if err != nil {
		return Download{}, err
	}
	switch r := adm.rec.(type) {
	case *domain.TextRecord:
		if adm.last {
			s.retire(ctx, r)
		}
		return Download{
			FileName: r.ID.String() + ".txt",
			MIMEType: "text/plain; charset=utf-8",
			Size:     int64(len(r.Text)),
			Body:     io.NopCloser(strings.NewReader(r.Text)),
		}, nil
	case *domain.FileRecord:
		rc, cancel, err := s.openStream(ctx, r.Blob)
		if err != nil {
			if adm.last {
				s.retire(ctx, r)
			}
			return Download{}, storageErr("open blob", err)
		}
		after := cancel
		if adm.last {
			s.deleteRecord(ctx, r.ID)
			detached := context.WithoutCancel(ctx)
			after = func() {
				cancel()
				s.discardBlob(detached, r.Blob, "last_view")
			}
		}
		return Download{
			FileName: r.FileName,
			MIMEType: r.MIMEType,
			Size:     r.Size,
			Body:     &afterCloseReader{ReadCloser: rc, after: after},
		}, nil
	default:
		return Download{}, internalErr("download", errors.New("unknown record kind"))
	}
}

// openStream opens a blob for streaming. The IO timeout bounds the Open call
// only; the body lives as long as ctx and is released by cancel.
func (s *Service) openStream(ctx context.Context, ref domain.BlobRef) (io.ReadCloser, context.CancelFunc, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(s.ioTimeout(), cancel)
	rc, err := s.Blobs.Open(streamCtx, ref)
	if !timer.Stop() {
		if err == nil {
			_ = rc.Close()
		}
		err = context.DeadlineExceeded
	}
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return rc, cancel, nil
}

func (s *Service) fileURLs(ctx context.Context, r *domain.FileRecord) (inline, attachment string, err error) {
	ioCtx, cancel := s.ioContext(ctx)
	defer cancel()
	if inline, err = s.Blobs.URL(ioCtx, r.Blob, URLOptions{FileName: r.FileName}); err != nil {
		return "", "", storageErr("build url", err)
	}
	if attachment, err = s.Blobs.URL(ioCtx, r.Blob, URLOptions{Attachment: true, FileName: r.FileName}); err != nil {
		return "", "", storageErr("build url", err)
	}
	return inline, attachment, nil
}

// retire destroys a record whose final view was consumed.
func (s *Service) retire(ctx context.Context, rec domain.Record) {
	if err := s.Destroy(ctx, rec, ModeSweep); err != nil {
		s.log().Error("destroy after last view", "domain", "gate", "error", err)
	}
}

// retireKeepingBlob deletes the record now and defers the blob deletion so
// URLs already handed out keep working for the link lifetime.
func (s *Service) retireKeepingBlob(ctx context.Context, rec domain.Record) {
	if ref, ok := domain.BlobOf(rec); ok {
		at := s.Clock.Now().Add(s.linkTTL())
		if err := s.Records.BuryBlob(ctx, ref, at); err != nil {
			s.log().Warn("bury blob failed; left for reconciliation", "domain", "gate", "error", err)
		}
	}
	s.deleteRecord(ctx, rec.Common().ID)
}

func (s *Service) deleteRecord(ctx context.Context, id domain.ContentID) {
	err := s.Records.Delete(ctx, id)
	switch {
	case err == nil:
		s.sink().Inc(metrics.CounterContentDestroyed, 1)
	case errors.Is(err, domain.ErrNotFound):
	default:
		// The record is left with zero views; the next read or sweep removes it.
		s.log().Error("delete after last view", "domain", "gate", "error", err)
	}
}

// afterCloseReader runs after exactly once when the stream is closed.
type afterCloseReader struct {
	io.ReadCloser
	after func()
	once  sync.Once
}

func (a *afterCloseReader) Close() error {
	err := a.ReadCloser.Close()
	a.once.Do(a.after)
	return err
}
