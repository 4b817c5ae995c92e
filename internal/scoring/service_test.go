package scoring

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veil-waf/phishguard/internal/cache"
	"github.com/veil-waf/phishguard/internal/classify"
	"github.com/veil-waf/phishguard/internal/db"
	"github.com/veil-waf/phishguard/internal/fusion"
	"github.com/veil-waf/phishguard/internal/reach"
	"github.com/veil-waf/phishguard/internal/sse"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// stubScorer returns a fixed decision and counts calls.
type stubScorer struct {
	calls atomic.Int32
	fused float64
	err   error
}

func (s *stubScorer) Version() string { return "test" }

func (s *stubScorer) Score(_ context.Context, url string) (*classify.Result, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	d := fusion.Fuse(s.fused, s.fused)
	return &classify.Result{
		ID:           uuid.NewString(),
		URL:          url,
		RFScore:      s.fused,
		CNNScore:     s.fused,
		FusedScore:   d.Fused,
		Label:        d.Label,
		Verdict:      d.Verdict,
		ModelVersion: "test",
		ScoredAt:     time.Now().UTC(),
	}, nil
}

func memStore(t *testing.T) *db.SQLite {
	t.Helper()
	s, err := db.OpenSQLite(context.Background(), ":memory:", quiet())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestScoreRecordsAndPublishes(t *testing.T) {
	store := memStore(t)
	hub := sse.NewHub(quiet())
	events, cancel := hub.Subscribe(sse.TopicAll)
	defer cancel()

	svc, err := New(Options{Pipeline: &stubScorer{fused: 0.8}, Store: store, Hub: hub, Logger: quiet()})
	require.NoError(t, err)

	res, err := svc.Score(context.Background(), Request{URL: "http://login-verify.tk", Source: "extension", SourceIP: "203.0.113.9"})
	require.NoError(t, err)
	assert.Equal(t, fusion.Phishing, res.Verdict)
	assert.Nil(t, res.Reachable)

	rec, err := store.GetScore(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, "extension", rec.Source)
	assert.Equal(t, db.VerdictPhishing, rec.Verdict)
	assert.Equal(t, "203.0.113.9", rec.SourceIP)

	select {
	case ev := <-events:
		assert.Contains(t, string(ev.Data), res.ID)
	case <-time.After(time.Second):
		t.Fatal("no score event published")
	}
}

func TestScoreCacheHitGetsFreshID(t *testing.T) {
	store := memStore(t)
	scorer := &stubScorer{fused: 0.1}
	svc, err := New(Options{
		Pipeline: scorer,
		Cache:    cache.NewScoreCache(cache.NewMemory(0), time.Minute, quiet()),
		Store:    store,
		Logger:   quiet(),
	})
	require.NoError(t, err)

	first, err := svc.Score(context.Background(), Request{URL: "https://example.com"})
	require.NoError(t, err)
	second, err := svc.Score(context.Background(), Request{URL: "https://example.com"})
	require.NoError(t, err)

	assert.Equal(t, int32(1), scorer.calls.Load())
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.FusedScore, second.FusedScore)

	st, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Total)
	assert.Equal(t, int64(2), st.Safe)
}

func TestScoreReachabilityGate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/gone") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	checker := reach.New(reach.Options{Timeout: 2 * time.Second, AllowPrivate: true, Logger: quiet()})
	scorer := &stubScorer{fused: 0.5}
	store := memStore(t)
	svc, err := New(Options{Pipeline: scorer, Store: store, Reach: checker, CheckReachability: true, Logger: quiet()})
	require.NoError(t, err)

	res, err := svc.Score(context.Background(), Request{URL: srv.URL + "/ok"})
	require.NoError(t, err)
	require.NotNil(t, res.Reachable)
	assert.True(t, *res.Reachable)

	_, err = svc.Score(context.Background(), Request{URL: srv.URL + "/gone"})
	var unreachable *UnreachableError
	require.True(t, errors.As(err, &unreachable))
	assert.Equal(t, http.StatusNotFound, unreachable.Status.StatusCode)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int32(1), scorer.calls.Load())

	st, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Total)
	assert.Equal(t, int64(1), st.Unreachable)

	// Per-request override skips the probe.
	off := false
	_, err = svc.Score(context.Background(), Request{URL: srv.URL + "/gone", CheckReachability: &off})
	require.NoError(t, err)
	assert.Equal(t, int32(2), scorer.calls.Load())
}

func TestScoreOverrideWithoutChecker(t *testing.T) {
	svc, err := New(Options{Pipeline: &stubScorer{}, Logger: quiet()})
	require.NoError(t, err)
	on := true
	_, err = svc.Score(context.Background(), Request{URL: "http://example.com", CheckReachability: &on})
	assert.Error(t, err)
}

func TestScoreErrors(t *testing.T) {
	boom := errors.New("schema skew")
	svc, err := New(Options{Pipeline: &stubScorer{err: boom}, Logger: quiet()})
	require.NoError(t, err)

	_, err = svc.Score(context.Background(), Request{URL: "http://example.com"})
	assert.ErrorIs(t, err, boom)

	_, err = svc.Score(context.Background(), Request{URL: "http://example.com/" + strings.Repeat("a", maxURLLen)})
	assert.ErrorIs(t, err, ErrURLTooLong)
}

func TestNewValidates(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
	_, err = New(Options{Pipeline: &stubScorer{}, CheckReachability: true})
	assert.Error(t, err)
}

func TestToRecordDefaultsSource(t *testing.T) {
	rec := ToRecord(&classify.Result{ID: "x", Verdict: fusion.Safe}, "", "")
	assert.Equal(t, "api", rec.Source)
	assert.Equal(t, "SAFE", rec.Verdict)
}
