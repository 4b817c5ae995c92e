// Package scoring is the request-level scorer shared by the HTTP server and
// the CLI. It optionally gates on reachability, consults the result cache,
// runs the pipeline, records the outcome and publishes it to live feeds.
package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/veil-waf/phishguard/internal/cache"
	"github.com/veil-waf/phishguard/internal/classify"
	"github.com/veil-waf/phishguard/internal/db"
	"github.com/veil-waf/phishguard/internal/reach"
	"github.com/veil-waf/phishguard/internal/sse"
)

// maxURLLen caps the URL length accepted for scoring and storage.
const maxURLLen = 8192

// ErrURLTooLong is returned for URLs longer than maxURLLen bytes.
var ErrURLTooLong = errors.New("url too long")

// UnreachableError is returned when the reachability gate is on and the URL
// did not answer.
type UnreachableError struct {
	URL    string
	Status reach.Status
}

func (e *UnreachableError) Error() string {
	if e.Status.Error != "" {
		return fmt.Sprintf("url unreachable: %s", e.Status.Error)
	}
	return fmt.Sprintf("url unreachable: status %d", e.Status.StatusCode)
}

// Scorer is the pipeline surface the service needs.
type Scorer interface {
	Score(ctx context.Context, url string) (*classify.Result, error)
	Version() string
}

// Options wires a Service. Only Pipeline is required.
type Options struct {
	Pipeline Scorer
	Cache    *cache.ScoreCache
	Store    db.Store
	// Hub receives each recorded score. Leave nil when the store publishes
	// on its own (Postgres NOTIFY feeding sse.PGListener).
	Hub *sse.Hub
	// Reach gates scoring when CheckReachability is set.
	Reach             *reach.Checker
	CheckReachability bool
	Logger            *slog.Logger
}

// Request is one scoring call.
type Request struct {
	URL string
	// CheckReachability overrides the service default when non-nil.
	CheckReachability *bool
	// Source names the caller ("api", "extension", "cli").
	Source   string
	SourceIP string
}

// Service scores URLs. It is safe for concurrent use.
type Service struct {
	pipeline       Scorer
	cache          *cache.ScoreCache
	store          db.Store
	hub            *sse.Hub
	reach          *reach.Checker
	checkByDefault bool
	logger         *slog.Logger
}

// New builds a Service from opts.
func New(opts Options) (*Service, error) {
	if opts.Pipeline == nil {
		return nil, errors.New("scoring: pipeline is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CheckReachability && opts.Reach == nil {
		return nil, errors.New("scoring: reachability check enabled without a checker")
	}
	return &Service{
		pipeline:       opts.Pipeline,
		cache:          opts.Cache,
		store:          opts.Store,
		hub:            opts.Hub,
		reach:          opts.Reach,
		checkByDefault: opts.CheckReachability,
		logger:         opts.Logger,
	}, nil
}

// ModelVersion returns the version of the loaded models.
func (s *Service) ModelVersion() string { return s.pipeline.Version() }

// Score handles one request. An *UnreachableError means the gate rejected
// the URL; any other error comes from the models.
func (s *Service) Score(ctx context.Context, req Request) (*classify.Result, error) {
	if len(req.URL) > maxURLLen {
		return nil, ErrURLTooLong
	}
	start := time.Now()

	var reachable *bool
	if s.shouldCheck(req) {
		if s.reach == nil {
			return nil, errors.New("scoring: no reachability checker configured")
		}
		st := s.reach.Check(ctx, req.URL)
		if !st.Reachable {
			s.logger.InfoContext(ctx, "url unreachable, not scored", "url", req.URL, "status", st.StatusCode, "err", st.Error)
			s.recordUnreachable(ctx, req, st)
			return nil, &UnreachableError{URL: req.URL, Status: st}
		}
		ok := true
		reachable = &ok
	}

	res, err := s.compute(ctx, req.URL)
	if err != nil {
		return nil, err
	}
	res.Reachable = reachable
	if res.Cached {
		// Cached entries carry the first caller's identity and timing.
		res.ID = uuid.NewString()
		res.ScoredAt = start.UTC()
	}
	res.ResponseTimeMs = float64(time.Since(start).Microseconds()) / 1000

	s.record(ctx, res, req)
	return res, nil
}

func (s *Service) shouldCheck(req Request) bool {
	if req.CheckReachability != nil {
		return *req.CheckReachability
	}
	return s.checkByDefault
}

func (s *Service) compute(ctx context.Context, url string) (*classify.Result, error) {
	if s.cache == nil {
		return s.pipeline.Score(ctx, url)
	}
	res, hit, err := s.cache.GetOrCompute(ctx, s.pipeline.Version(), url, func(ctx context.Context) (*classify.Result, error) {
		return s.pipeline.Score(ctx, url)
	})
	if err != nil {
		return nil, err
	}
	res.Cached = hit
	return res, nil
}

// record persists res and publishes it. Failures are logged; the caller
// still gets its score.
func (s *Service) record(ctx context.Context, res *classify.Result, req Request) {
	rec := ToRecord(res, req.Source, req.SourceIP)

	if s.store != nil {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		err := s.store.InsertScore(writeCtx, rec)
		cancel()
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to record score", "id", rec.ID, "err", err)
			return
		}
	}

	if s.hub != nil {
		payload, err := json.Marshal(rec)
		if err != nil {
			s.logger.ErrorContext(ctx, "marshal score event", "err", err)
			return
		}
		s.hub.PublishScore(rec.Verdict, payload)
	}
}

// recordUnreachable persists a gated-out request so stats can count it.
func (s *Service) recordUnreachable(ctx context.Context, req Request, st reach.Status) {
	if s.store == nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := s.store.InsertUnreachable(writeCtx, &db.UnreachableRecord{
		ID:         uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
		URL:        req.URL,
		StatusCode: st.StatusCode,
		Error:      st.Error,
		Source:     req.Source,
		SourceIP:   req.SourceIP,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record unreachable url", "url", req.URL, "err", err)
	}
}

// ToRecord converts a result to its history row.
func ToRecord(res *classify.Result, source, sourceIP string) *db.ScoreRecord {
	if source == "" {
		source = "api"
	}
	return &db.ScoreRecord{
		ID:             res.ID,
		CreatedAt:      res.ScoredAt,
		URL:            res.URL,
		RFScore:        res.RFScore,
		CNNScore:       res.CNNScore,
		FusedScore:     res.FusedScore,
		Label:          res.Label,
		Verdict:        string(res.Verdict),
		ModelVersion:   res.ModelVersion,
		Reachable:      res.Reachable,
		Source:         source,
		SourceIP:       sourceIP,
		ResponseTimeMs: res.ResponseTimeMs,
	}
}
