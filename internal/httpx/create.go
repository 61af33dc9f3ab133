package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/haukened/vanish/internal/app"
	"github.com/haukened/vanish/internal/auth"
	"github.com/haukened/vanish/internal/domain"
)

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temporary files.
const multipartMemory = 1 << 20

// envelopeSlack allows for form boundaries and JSON framing on top of the
// payload limit.
const envelopeSlack = 64 << 10

// createRequest is the JSON and form body of POST /api/content.
type createRequest struct {
	Text     string `json:"text"`
	Expiry   string `json:"expiry"`
	Password string `json:"password"`
	MaxViews *int   `json:"maxViews"`
}

type createResponse struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// handleCreate implements POST /api/content.
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if h.MaxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxBody+envelopeSlack)
	}
	req, cleanup, err := h.parseCreate(r)
	defer cleanup()
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	req.OwnerID = auth.CallerID(r.Context())

	id, expires, err := h.Service.CreateContent(r.Context(), req)
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, createResponse{
		ID:        id.String(),
		URL:       h.shareURL(id),
		ExpiresAt: expires.UTC(),
	})
}

// parseCreate decodes a deposit from a multipart form, a url-encoded form, or
// a JSON body. The returned cleanup must always be called.
func (h *Handler) parseCreate(r *http.Request) (app.DepositRequest, func(), error) {
	noop := func() {}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil && r.Header.Get("Content-Type") != "" {
		return app.DepositRequest{}, noop, invalid("unreadable content type")
	}

	switch mediaType {
	case "multipart/form-data":
		return h.parseMultipart(r)
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return app.DepositRequest{}, noop, bodyErr(err)
		}
		req, err := h.depositFromFields(createRequest{
			Text:     r.PostForm.Get("text"),
			Expiry:   r.PostForm.Get("expiry"),
			Password: r.PostForm.Get("password"),
		}, r.PostForm.Get("maxViews"))
		return req, noop, err
	case "application/json", "":
		var body createRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil {
			return app.DepositRequest{}, noop, bodyErr(err)
		}
		req, err := h.depositFromFields(body, "")
		return req, noop, err
	default:
		return app.DepositRequest{}, noop, invalid("unsupported content type " + mediaType)
	}
}

func (h *Handler) parseMultipart(r *http.Request) (app.DepositRequest, func(), error) {
	noop := func() {}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return app.DepositRequest{}, noop, bodyErr(err)
	}
	cleanup := func() { _ = r.MultipartForm.RemoveAll() }

	req, err := h.depositFromFields(createRequest{
		Text:     r.FormValue("text"),
		Expiry:   r.FormValue("expiry"),
		Password: r.FormValue("password"),
	}, r.FormValue("maxViews"))
	if err != nil {
		return req, cleanup, err
	}

	f, fh, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return req, cleanup, nil
	case err != nil:
		return req, cleanup, bodyErr(err)
	}
	req.File = &app.FileUpload{
		Name:     fh.Filename,
		MIMEType: partType(fh),
		Size:     fh.Size,
		Body:     f,
	}
	return req, func() {
		_ = f.Close()
		cleanup()
	}, nil
}

// depositFromFields converts the raw fields shared by every body encoding.
// rawMaxViews is used when the body carried maxViews as text.
func (h *Handler) depositFromFields(b createRequest, rawMaxViews string) (app.DepositRequest, error) {
	expiry, err := parseExpiry(b.Expiry, h.now())
	if err != nil {
		return app.DepositRequest{}, err
	}
	maxViews := b.MaxViews
	if rawMaxViews != "" {
		if maxViews, err = parseMaxViews(rawMaxViews); err != nil {
			return app.DepositRequest{}, err
		}
	}
	return app.DepositRequest{
		Text:     b.Text,
		Expiry:   expiry,
		Password: b.Password,
		MaxViews: maxViews,
	}, nil
}

// parseExpiry accepts an RFC 3339 timestamp or a duration relative to now.
// Empty means the service default applies.
func parseExpiry(raw string, now time.Time) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		t := now.Add(d)
		return &t, nil
	}
	return nil, invalid("expiry must be an RFC 3339 timestamp or a duration")
}

func parseMaxViews(raw string) (*int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return nil, invalid("maxViews must be a positive integer")
	}
	return &n, nil
}

func partType(fh *multipart.FileHeader) string {
	ct := fh.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	return ""
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidInput, msg)
}

// bodyErr classifies a body read failure: oversize bodies become
// ErrTooLarge, everything else is malformed input.
func bodyErr(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return domain.ErrTooLarge
	}
	if errors.Is(err, io.EOF) {
		return invalid("empty body")
	}
	return invalid("malformed body")
}
