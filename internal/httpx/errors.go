package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/haukened/vanish/internal/domain"
)

// writeJSON writes v as a JSON body with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body with given status code.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code int, msg string) {
	h.writeJSON(w, code, struct {
		Error string `json:"error"`
	}{Error: msg})
	if cid, ok := GetCorrelationID(ctx); ok {
		h.log().Debug("wrote error response", "cid", cid, "status", code, "msg", msg)
	}
}

// mapServiceError maps domain/service errors to HTTP responses. The more
// specific sentinels are matched before the categories they wrap.
func (h *Handler) mapServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	cid, _ := GetCorrelationID(ctx)
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, domain.ErrTooLarge), errors.As(err, &maxErr):
		h.log().Warn("service error", "cid", cid, "code", "too_large")
		h.writeError(ctx, w, http.StatusRequestEntityTooLarge, domain.ErrTooLarge.Error())
	case errors.Is(err, domain.ErrUnreadableUpload):
		// The wrapped cause is raw I/O text; only the sentinel goes out.
		h.log().Warn("service error", "cid", cid, "code", "unreadable_upload", "error", err)
		h.writeError(ctx, w, http.StatusBadRequest, domain.ErrUnreadableUpload.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		h.log().Warn("service error", "cid", cid, "code", "invalid_input")
		h.writeError(ctx, w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		h.log().Info("service error", "cid", cid, "code", "not_found")
		h.writeError(ctx, w, http.StatusNotFound, "invalid or expired link")
	case errors.Is(err, domain.ErrPasswordRequired):
		h.log().Info("service error", "cid", cid, "code", "password_required")
		h.writeError(ctx, w, http.StatusUnauthorized, "password required")
	case errors.Is(err, domain.ErrIncorrectPassword):
		h.log().Info("service error", "cid", cid, "code", "incorrect_password")
		h.writeError(ctx, w, http.StatusForbidden, "incorrect password")
	case errors.Is(err, domain.ErrNotOwner):
		h.log().Warn("service error", "cid", cid, "code", "not_owner")
		h.writeError(ctx, w, http.StatusForbidden, "not authorized")
	case errors.Is(err, domain.ErrForbidden):
		h.log().Warn("service error", "cid", cid, "code", "forbidden")
		h.writeError(ctx, w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrStorageUnavailable):
		h.log().Error("service error", "cid", cid, "code", "storage_unavailable", "error", err)
		h.writeError(ctx, w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		// Raw error text may carry paths or ids; it is logged, never returned.
		h.log().Error("unhandled service error", "cid", cid, "code", "internal", "error", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "internal")
	}
}
