package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/veil-waf/phishguard/internal/db"
)

// HistoryHandler serves the recorded score history.
type HistoryHandler struct {
	store db.Store
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(store db.Store) *HistoryHandler {
	return &HistoryHandler{store: store}
}

// ListScores handles GET /api/scores?limit=N&verdict=V.
func (hh *HistoryHandler) ListScores(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f db.ScoreFilter
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			jsonError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		f.Limit = n
	}
	if v := q.Get("verdict"); v != "" {
		f.Verdict = strings.ToUpper(v)
		switch f.Verdict {
		case db.VerdictSafe, db.VerdictSuspicious, db.VerdictPhishing:
		default:
			jsonError(w, "invalid verdict", http.StatusBadRequest)
			return
		}
	}

	scores, err := hh.store.RecentScores(r.Context(), f)
	if err != nil {
		jsonError(w, "failed to fetch scores", http.StatusInternalServerError)
		return
	}
	if scores == nil {
		scores = []db.ScoreRecord{}
	}
	writeJSON(w, http.StatusOK, scores)
}

// GetScore handles GET /api/scores/{id}.
func (hh *HistoryHandler) GetScore(w http.ResponseWriter, r *http.Request) {
	rec, err := hh.store.GetScore(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, db.ErrNotFound) {
		jsonError(w, "score not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, "failed to fetch score", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Stats handles GET /api/stats.
func (hh *HistoryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := hh.store.Stats(r.Context())
	if err != nil {
		jsonError(w, "failed to fetch stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
