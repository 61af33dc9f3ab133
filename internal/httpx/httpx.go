// Package httpx contains the HTTP delivery layer for the vanish service.
// It maps HTTP requests to the application service while enforcing size
// limits, security headers, identity, and error translation.
// Handlers are split across files (create.go, consume.go, owner.go,
// health.go, errors.go).
package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/haukened/vanish/internal/app"
	"github.com/haukened/vanish/internal/domain"
	"github.com/haukened/vanish/internal/metrics"
)

// ServicePort abstracts the subset of app.Service used by the HTTP layer.
// It is satisfied by *app.Service in production and mocked in tests.
type ServicePort interface {
	CreateContent(ctx context.Context, req app.DepositRequest) (domain.ContentID, time.Time, error)
	GetContentMetadata(ctx context.Context, id, password string) (app.Content, error)
	DownloadContent(ctx context.Context, id, password string) (app.Download, error)
	ListOwnerContent(ctx context.Context, callerID string) ([]app.ContentSummary, error)
	DeleteContent(ctx context.Context, id, callerID string) error
}

// Authenticator resolves caller identity. Optional never rejects a request;
// Required answers 401 without a valid identity.
type Authenticator interface {
	Optional(next http.Handler) http.Handler
	Required(next http.Handler) http.Handler
}

// Handler wires HTTP endpoints to the application service.
// It is safe for concurrent use. Zero-value is not valid; construct via New.
type Handler struct {
	Service   ServicePort
	MaxBody   int64                       // mirror service.MaxBytes (defense-in-depth)
	Readiness func(context.Context) error // optional readiness probe
	PublicURL string                      // base of share links returned on create

	Auth         Authenticator    // nil => every caller is a guest
	Blobs        http.Handler     // mounted at /blobs/{handle} when set
	Metrics      *metrics.Manager // enables /metrics and request metrics when set
	MetricsToken string
	Logger       *slog.Logger
	Now          func() time.Time
}

// New returns a configured Handler.
// svc: application service port implementation.
// maxBody: maximum accepted payload size (0 disables the extra check).
// readiness: optional probe function for /readyz (nil => always ready).
func New(svc ServicePort, maxBody int64, readiness func(context.Context) error) *Handler {
	return &Handler{Service: svc, MaxBody: maxBody, Readiness: readiness}
}

// Router constructs and returns an http.Handler with all routes mounted and
// the middleware stack applied.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(CorrelationIDMiddleware)
	r.Use(h.secureHeaders)
	r.Use(RequestLogger(h.log()))
	if h.Metrics != nil {
		r.Use(h.Metrics.Middleware(routePattern))
	}
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(r.Context(), w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(r.Context(), w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", h.handleHealth)
	r.Get("/readyz", h.handleReady)
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(h.Metrics, h.MetricsToken))
	}
	if h.Blobs != nil {
		r.Method(http.MethodGet, "/blobs/{handle}", h.Blobs)
		r.Method(http.MethodHead, "/blobs/{handle}", h.Blobs)
	}

	a := h.authenticator()
	r.Route("/api", func(r chi.Router) {
		r.With(a.Optional).Post("/content", h.handleCreate)
		r.Get("/content/{id}", h.handleContent)
		r.Get("/content/{id}/download", h.handleDownload)
		r.With(a.Required).Delete("/content/{id}", h.handleDelete)
		r.With(a.Required).Get("/me/content", h.handleListOwn)
	})
	return r
}

// secureHeaders middleware adds standard security & cache control headers.
// Handlers that stream payloads override Cache-Control as needed.
func (h *Handler) secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) log() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func (h *Handler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

func (h *Handler) authenticator() Authenticator {
	if h.Auth == nil {
		return guestsOnly{h: h}
	}
	return h.Auth
}

// shareURL is the link handed back to depositors.
func (h *Handler) shareURL(id domain.ContentID) string {
	return strings.TrimRight(h.PublicURL, "/") + "/api/content/" + id.String()
}

// routePattern returns the matched chi pattern, a low cardinality label that
// never contains content ids.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// guestsOnly is used when no identity provider is configured.
type guestsOnly struct{ h *Handler }

func (g guestsOnly) Optional(next http.Handler) http.Handler { return next }

func (g guestsOnly) Required(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.h.writeError(r.Context(), w, http.StatusUnauthorized, "authentication required")
	})
}
