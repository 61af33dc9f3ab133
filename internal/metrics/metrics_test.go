package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncAccumulates(t *testing.T) {
	m := New()
	m.Inc(CounterContentCreated, 2)
	m.Inc(CounterContentCreated, 3)
	m.Inc(CounterContentCreated, 0)  // ignored
	m.Inc(CounterContentCreated, -4) // ignored
	assert.Equal(t, float64(5), testutil.ToFloat64(m.counter(CounterContentCreated)))
}

func TestIncConcurrentRegistration(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Inc(CounterContentViewed, 1)
		}()
	}
	wg.Wait()
	assert.Equal(t, float64(20), testutil.ToFloat64(m.counter(CounterContentViewed)))
}

func TestObserveSummary(t *testing.T) {
	m := New()
	m.Observe(SummaryReaperDeletedPerCycle, 4)
	m.Observe(SummaryReaperDeletedPerCycle, 6)
	n, err := testutil.GatherAndCount(m.Registry(), Namespace+"_"+SummaryReaperDeletedPerCycle)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHandlerToken(t *testing.T) {
	m := New()
	m.Inc(CounterContentCreated, 1)
	h := Handler(m, "s3cret")

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic s3cret", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"prefix only", "Bearer ", http.StatusUnauthorized},
		{"ok", "Bearer s3cret", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
			if tc.want == http.StatusOK {
				assert.Contains(t, w.Body.String(), "vanish_content_created_total 1")
			}
		})
	}
}

func TestHandlerNoToken(t *testing.T) {
	w := httptest.NewRecorder()
	Handler(New(), "").ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "go_goroutines"))
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	m := New()
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := m.Middleware(func(*http.Request) string { return "/api/content/{id}" })(next)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/content/abc", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
	got := testutil.ToFloat64(m.httpRequests.WithLabelValues(http.MethodGet, "/api/content/{id}", "418"))
	assert.Equal(t, float64(1), got)
	m.ObserveRequest(http.MethodGet, "/x", 200, time.Millisecond)
}
