package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, h http.Handler, method, target string) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec.Code
}

func TestMiddleware_RecordsRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Delete("/v1/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	ok := httpRequestsTotal.WithLabelValues(http.MethodGet, "200")
	conflict := httpRequestsTotal.WithLabelValues(http.MethodDelete, "409")
	okBefore, conflictBefore := testutil.ToFloat64(ok), testutil.ToFloat64(conflict)

	require.Equal(t, http.StatusOK, serve(t, r, http.MethodGet, "/v1/items/1"))
	require.Equal(t, http.StatusOK, serve(t, r, http.MethodGet, "/v1/items/2"))
	require.Equal(t, http.StatusConflict, serve(t, r, http.MethodDelete, "/v1/items/1"))

	assert.InDelta(t, 2, testutil.ToFloat64(ok)-okBefore, 0)
	assert.InDelta(t, 1, testutil.ToFloat64(conflict)-conflictBefore, 0)
	// Both GETs share the pattern, so only one latency series exists for them.
	assert.True(t, httpRequestDurationSeconds.DeleteLabelValues(http.MethodGet, "/v1/items/{id}"))
	assert.False(t, httpRequestDurationSeconds.DeleteLabelValues(http.MethodGet, "/v1/items/1"))
}

func TestMiddleware_WithoutRouter(t *testing.T) {
	Init()
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	accepted := httpRequestsTotal.WithLabelValues(http.MethodPatch, "202")
	before := testutil.ToFloat64(accepted)

	require.Equal(t, http.StatusAccepted, serve(t, h, http.MethodPatch, "/plain"))

	assert.InDelta(t, 1, testutil.ToFloat64(accepted)-before, 0)
	assert.True(t, httpRequestDurationSeconds.DeleteLabelValues(http.MethodPatch, "unknown"))
}

func TestMiddleware_DefaultStatusIsOK(t *testing.T) {
	Init()
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("body only"))
	}))

	ok := httpRequestsTotal.WithLabelValues(http.MethodHead, "200")
	before := testutil.ToFloat64(ok)

	serve(t, h, http.MethodHead, "/implicit")

	assert.InDelta(t, 1, testutil.ToFloat64(ok)-before, 0)
}
