// Package filesystem provides an app.BlobStore backed by the local
// filesystem. Blobs are immutable files named by a random handle and grouped
// by category: <root>/<category>/<handle>.blob. The package also serves the
// files over HTTP for the retrieval URLs it hands out.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/haukened/vanish/internal/app"
	"github.com/haukened/vanish/internal/domain"
)

var (
	_ app.BlobStore  = (*BlobStore)(nil)
	_ app.BlobLister = (*BlobStore)(nil)
)

const blobExt = ".blob"

var categories = []domain.Category{domain.CategoryImage, domain.CategoryVideo, domain.CategoryRaw}

// BlobStore implements app.BlobStore using the local filesystem.
type BlobStore struct {
	root    string
	baseURL string
}

// New returns a filesystem-backed blob store rooted at dir. The directory
// must already exist; category subdirectories are created with 0700.
// publicURL is the externally visible origin retrieval URLs are built on.
func New(root, publicURL string) (*BlobStore, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, errors.New("blob root is not a directory")
	}
	for _, c := range categories {
		if err := os.MkdirAll(filepath.Join(root, string(c)), 0o700); err != nil {
			return nil, err
		}
	}
	return &BlobStore{root: root, baseURL: strings.TrimRight(publicURL, "/")}, nil
}

// path constructs the full path to the blob file for a reference.
func (b *BlobStore) path(ref domain.BlobRef) string {
	return filepath.Join(b.root, string(domain.ParseCategory(string(ref.Category))), ref.Handle+blobExt)
}

// Put stores exactly size bytes from r under a fresh handle.
func (b *BlobStore) Put(ctx context.Context, r io.Reader, size int64, meta app.BlobMeta) (app.StoredBlob, error) {
	id, err := domain.NewID()
	if err != nil {
		return app.StoredBlob{}, err
	}
	ref := domain.BlobRef{Handle: id.String(), Category: domain.ParseCategory(string(meta.Category))}
	p := b.path(ref)
	// #nosec G304: path is constructed from a fixed root plus a generated ID with a fixed suffix; no traversal possible.
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return app.StoredBlob{}, err
	}
	_, err = io.CopyN(f, ctxReader{ctx: ctx, r: r}, size)
	if err == nil {
		err = f.Sync()
	}
	if cErr := f.Close(); err == nil {
		err = cErr
	}
	if err != nil {
		// delete partial file on error
		_ = os.Remove(p)
		return app.StoredBlob{}, err
	}
	u, err := b.URL(ctx, ref, app.URLOptions{FileName: meta.FileName})
	if err != nil {
		return app.StoredBlob{}, err
	}
	return app.StoredBlob{Ref: ref, URL: u}, nil
}

// URL returns the public retrieval URL for ref. Handles are unguessable
// 128-bit capabilities, so the URL carries no signature.
func (b *BlobStore) URL(_ context.Context, ref domain.BlobRef, opts app.URLOptions) (string, error) {
	if err := validateHandle(ref.Handle); err != nil {
		return "", err
	}
	q := url.Values{}
	if opts.FileName != "" {
		q.Set("name", opts.FileName)
	}
	if opts.Attachment {
		q.Set("download", "1")
	}
	u := b.baseURL + "/blobs/" + ref.Handle
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u, nil
}

// Open opens a blob for reading.
func (b *BlobStore) Open(_ context.Context, ref domain.BlobRef) (io.ReadCloser, error) {
	if err := validateHandle(ref.Handle); err != nil {
		return nil, err
	}
	f, err := os.Open(b.path(ref)) // #nosec G304 path constructed internally
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Delete removes the blob file. A missing file is not an error.
func (b *BlobStore) Delete(_ context.Context, ref domain.BlobRef) error {
	if ref.Handle == "" {
		return nil
	}
	if err := validateHandle(ref.Handle); err != nil {
		return err
	}
	if err := os.Remove(b.path(ref)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// List returns every blob currently present. Higher layers derive orphans
// by diffing against the handles the record store references.
func (b *BlobStore) List(ctx context.Context) ([]app.BlobEntry, error) {
	var out []app.BlobEntry
	for _, c := range categories {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, err := os.ReadDir(filepath.Join(b.root, string(c)))
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || filepath.Ext(name) != blobExt {
				continue
			}
			handle := strings.TrimSuffix(name, blobExt)
			if validateHandle(handle) != nil {
				continue
			}
			info, err := e.Info()
			if err != nil {
				// removed between ReadDir and Info
				continue
			}
			out = append(out, app.BlobEntry{Handle: handle, Category: c, ModTime: info.ModTime()})
		}
	}
	return out, nil
}

// Ping reports whether the root directory is readable.
func (b *BlobStore) Ping(context.Context) error {
	_, err := os.ReadDir(b.root)
	return err
}

// locate finds the blob file for a bare handle.
func (b *BlobStore) locate(handle string) (string, error) {
	if err := validateHandle(handle); err != nil {
		return "", err
	}
	for _, c := range categories {
		p := b.path(domain.BlobRef{Handle: handle, Category: c})
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fs.ErrNotExist
}

// validateHandle enforces that the handle is a canonical 32-character
// lowercase hexadecimal ID. This prevents path traversal (no separators,
// fixed length) and guarantees uniform filenames.
func validateHandle(h string) error {
	if !domain.IsHexID(h) {
		return fmt.Errorf("invalid blob handle: must be 32 lowercase hex chars")
	}
	return nil
}

// ctxReader stops a copy once ctx is done.
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
