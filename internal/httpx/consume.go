package httpx

import (
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/haukened/vanish/internal/domain"
)

// PasswordHeader carries the content password on gated reads.
const PasswordHeader = "X-Content-Password"

type contentResponse struct {
	ID               string      `json:"id"`
	Type             domain.Kind `json:"type"`
	Content          string      `json:"content,omitempty"`
	OriginalFileName string      `json:"originalFileName,omitempty"`
	MIMEType         string      `json:"mimeType,omitempty"`
	Size             int64       `json:"size,omitempty"`
	URL              string      `json:"url,omitempty"`
	DownloadURL      string      `json:"downloadUrl,omitempty"`
	ViewsRemaining   *int        `json:"viewsRemaining,omitempty"`
	ExpiresAt        time.Time   `json:"expiresAt"`
}

// handleContent implements GET /api/content/{id}.
func (h *Handler) handleContent(w http.ResponseWriter, r *http.Request) {
	c, err := h.Service.GetContentMetadata(r.Context(), chi.URLParam(r, "id"), r.Header.Get(PasswordHeader))
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, contentResponse{
		ID:               c.ID.String(),
		Type:             c.Kind,
		Content:          c.Text,
		OriginalFileName: c.FileName,
		MIMEType:         c.MIMEType,
		Size:             c.Size,
		URL:              c.RetrievalURL,
		DownloadURL:      c.DownloadURL,
		ViewsRemaining:   c.ViewsRemaining,
		ExpiresAt:        c.ExpiresAt.UTC(),
	})
}

// handleDownload implements GET /api/content/{id}/download. The payload is
// always served as an attachment and never cached.
func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	dl, err := h.Service.DownloadContent(r.Context(), chi.URLParam(r, "id"), r.Header.Get(PasswordHeader))
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	defer dl.Body.Close()

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": dl.FileName})
	if disposition == "" {
		disposition = "attachment"
	}
	ct := dl.MIMEType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	if dl.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(dl.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, dl.Body); err != nil {
		cid, _ := GetCorrelationID(r.Context())
		h.log().Warn("download interrupted", "domain", "http", "cid", cid, "error", err)
	}
}
