package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veil-waf/phishguard/internal/auth"
	"github.com/veil-waf/phishguard/internal/bundle"
	"github.com/veil-waf/phishguard/internal/classify"
	"github.com/veil-waf/phishguard/internal/db"
	"github.com/veil-waf/phishguard/internal/handlers"
	"github.com/veil-waf/phishguard/internal/ratelimit"
	"github.com/veil-waf/phishguard/internal/scoring"
	"github.com/veil-waf/phishguard/internal/sse"
	"github.com/veil-waf/phishguard/internal/ws"
)

func testRouter(t *testing.T, keys ...string) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	b, err := bundle.Load("../bundle/testdata/v1", logger)
	require.NoError(t, err)
	p, err := classify.NewPipeline(b, logger)
	require.NoError(t, err)
	store, err := db.OpenSQLite(context.Background(), ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	hub := sse.NewHub(logger)
	svc, err := scoring.New(scoring.Options{Pipeline: p, Store: store, Hub: hub, Logger: logger})
	require.NoError(t, err)
	limiter := ratelimit.New()

	return NewRouter(Routes{
		Score:   handlers.NewScoreHandler(svc, limiter, logger),
		History: handlers.NewHistoryHandler(store),
		Stream:  handlers.NewStreamHandler(hub, store),
		Health:  handlers.NewHealthHandler(svc.ModelVersion(), store, nil, nil),
		WS:      ws.NewManager(hub, store, logger),
		Keys:    auth.NewKeys(keys),
		Limiter: limiter,
	})
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterOpenWithoutKeys(t *testing.T) {
	r := testRouter(t)
	rec := serve(r, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterRequiresAPIKey(t *testing.T) {
	r := testRouter(t, "s3cret")

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/api/scores", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/scores", nil)
	req.Header.Set("X-API-Key", "s3cret")
	assert.Equal(t, http.StatusOK, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, serve(r, req).Code)

	// Scoring and health stay public.
	rec = serve(r, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{"url":"https://example.com"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
}

func TestRouterCORSPreflight(t *testing.T) {
	r := testRouter(t)
	rec := serve(r, httptest.NewRequest(http.MethodOptions, "/predict", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")
}

func TestRouterPing(t *testing.T) {
	r := testRouter(t)
	rec := serve(r, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, "pong", rec.Body.String())
}
