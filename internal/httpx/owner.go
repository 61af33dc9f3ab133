package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/haukened/vanish/internal/auth"
	"github.com/haukened/vanish/internal/domain"
)

type summaryResponse struct {
	ID               string      `json:"id"`
	Type             domain.Kind `json:"type"`
	OriginalFileName string      `json:"originalFileName,omitempty"`
	HasPassword      bool        `json:"hasPassword"`
	ViewsRemaining   *int        `json:"viewsRemaining,omitempty"`
	ExpiresAt        time.Time   `json:"expiresAt"`
	CreatedAt        time.Time   `json:"createdAt"`
}

type listResponse struct {
	Count   int               `json:"count"`
	Content []summaryResponse `json:"content"`
}

// handleListOwn implements GET /api/me/content.
func (h *Handler) handleListOwn(w http.ResponseWriter, r *http.Request) {
	items, err := h.Service.ListOwnerContent(r.Context(), auth.CallerID(r.Context()))
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	out := listResponse{Count: len(items), Content: make([]summaryResponse, 0, len(items))}
	for _, it := range items {
		out.Content = append(out.Content, summaryResponse{
			ID:               it.ID.String(),
			Type:             it.Kind,
			OriginalFileName: it.FileName,
			HasPassword:      it.HasPassword,
			ViewsRemaining:   it.ViewsRemaining,
			ExpiresAt:        it.ExpiresAt.UTC(),
			CreatedAt:        it.CreatedAt.UTC(),
		})
	}
	h.writeJSON(w, http.StatusOK, out)
}

// handleDelete implements DELETE /api/content/{id}.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	err := h.Service.DeleteContent(r.Context(), chi.URLParam(r, "id"), auth.CallerID(r.Context()))
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, struct {
		Message string `json:"message"`
	}{Message: "content deleted"})
}
