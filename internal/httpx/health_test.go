package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestHandleReady_NoReadiness ensures 200 when no readiness probe is configured.
func TestHandleReady_NoReadiness(t *testing.T) {
	h := &Handler{Readiness: nil}

	rr := httptest.NewRecorder()
	h.handleReady(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if body := strings.TrimSpace(rr.Body.String()); body != "ready" {
		t.Fatalf("expected body 'ready', got %q", body)
	}
}

// TestHandleReady_NotReady ensures 503 and an error body when readiness fails.
func TestHandleReady_NotReady(t *testing.T) {
	h := &Handler{
		Readiness: func(ctx context.Context) error {
			return errors.New("record store: db unavailable")
		},
	}

	rr := httptest.NewRecorder()
	h.handleReady(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(strings.ToLower(body), "not ready") {
		t.Fatalf("expected body to contain 'not ready', got %q", body)
	}
	if strings.Contains(body, "db unavailable") {
		t.Fatalf("probe detail leaked: %q", body)
	}
}

func TestHandleHealth(t *testing.T) {
	rr := httptest.NewRecorder()
	(&Handler{}).handleHealth(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("unexpected health response %d %q", rr.Code, rr.Body.String())
	}
}
