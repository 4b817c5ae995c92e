package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/veil-waf/phishguard/internal/classify"
	"github.com/veil-waf/phishguard/internal/ratelimit"
	"github.com/veil-waf/phishguard/internal/scoring"
)

// maxBodyBytes bounds scoring request bodies.
const maxBodyBytes = 64 << 10

// ScoreHandler serves the scoring endpoints.
type ScoreHandler struct {
	svc     *scoring.Service
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// NewScoreHandler creates a ScoreHandler. limiter may be nil.
func NewScoreHandler(svc *scoring.Service, limiter *ratelimit.Limiter, logger *slog.Logger) *ScoreHandler {
	return &ScoreHandler{svc: svc, limiter: limiter, logger: logger}
}

type scoreRequest struct {
	URL               string `json:"url"`
	CheckReachability *bool  `json:"check_reachability,omitempty"`
}

// predictResponse is the browser extension's contract.
type predictResponse struct {
	ProbPhishing float64 `json:"prob_phishing"`
	Label        int     `json:"label"`
	Verdict      string  `json:"verdict"`
	RFScore      float64 `json:"rf_score"`
	CNNScore     float64 `json:"cnn_score"`
}

// Predict handles POST /predict. It never gates on reachability: the
// extension only asks about pages the browser has already loaded.
func (sh *ScoreHandler) Predict(w http.ResponseWriter, r *http.Request) {
	req, ok := sh.decode(w, r)
	if !ok {
		return
	}
	off := false
	res, ok := sh.score(w, r, scoring.Request{
		URL:               req.URL,
		CheckReachability: &off,
		Source:            "extension",
		SourceIP:          ratelimit.ClientIP(r),
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, predictResponse{
		ProbPhishing: res.FusedScore,
		Label:        res.Label,
		Verdict:      string(res.Verdict),
		RFScore:      res.RFScore,
		CNNScore:     res.CNNScore,
	})
}

// Score handles POST /v1/score and returns the full result.
func (sh *ScoreHandler) Score(w http.ResponseWriter, r *http.Request) {
	req, ok := sh.decode(w, r)
	if !ok {
		return
	}
	res, ok := sh.score(w, r, scoring.Request{
		URL:               req.URL,
		CheckReachability: req.CheckReachability,
		Source:            "api",
		SourceIP:          ratelimit.ClientIP(r),
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (sh *ScoreHandler) decode(w http.ResponseWriter, r *http.Request) (*scoreRequest, bool) {
	if sh.limiter != nil && sh.limiter.Check(w, r, "score") {
		return nil, false
	}
	var req scoreRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return nil, false
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		jsonError(w, "url field is required", http.StatusBadRequest)
		return nil, false
	}
	return &req, true
}

func (sh *ScoreHandler) score(w http.ResponseWriter, r *http.Request, req scoring.Request) (*classify.Result, bool) {
	res, err := sh.svc.Score(r.Context(), req)
	if err == nil {
		return res, true
	}

	var unreachable *scoring.UnreachableError
	switch {
	case errors.As(err, &unreachable):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":       "url is unreachable",
			"url":         req.URL,
			"reachable":   false,
			"status_code": unreachable.Status.StatusCode,
			"detail":      unreachable.Status.Error,
		})
	case errors.Is(err, scoring.ErrURLTooLong):
		jsonError(w, err.Error(), http.StatusRequestEntityTooLarge)
	default:
		sh.logger.ErrorContext(r.Context(), "scoring failed", "url", req.URL, "err", err)
		jsonError(w, "scoring failed", http.StatusInternalServerError)
	}
	return nil, false
}
