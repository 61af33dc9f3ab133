package httpx

import "net/http"

// handleHealth answers liveness: the process is up and routing.
func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// handleReady answers 200 only while the record and blob stores both respond.
// The failure detail stays in the log.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.Readiness == nil {
		_, _ = w.Write([]byte("ready"))
		return
	}
	if err := h.Readiness(r.Context()); err != nil {
		cid, _ := GetCorrelationID(r.Context())
		h.log().Warn("readiness probe failed", "domain", "http", "cid", cid, "error", err)
		h.writeError(r.Context(), w, http.StatusServiceUnavailable, "not ready")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ready"))
}
