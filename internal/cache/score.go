package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/veil-waf/phishguard/internal/classify"
)

// DefaultTTL is how long a score stays cached when no TTL is configured.
const DefaultTTL = 24 * time.Hour

// ScoreKey is the cache key for url under a model version. Scores are
// deterministic per version, so a new bundle starts from an empty keyspace.
func ScoreKey(version, url string) string {
	sum := sha256.Sum256([]byte(url))
	return "phishguard:score:" + version + ":" + hex.EncodeToString(sum[:])
}

// ScoreCache memoizes pipeline results and collapses concurrent requests for
// the same URL into one computation. Cache failures are logged and the score
// is computed anyway.
type ScoreCache struct {
	store  Cache
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

// NewScoreCache wraps store. ttl <= 0 uses DefaultTTL.
func NewScoreCache(store Cache, ttl time.Duration, logger *slog.Logger) *ScoreCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScoreCache{store: store, ttl: ttl, logger: logger}
}

// Ping checks the backing store.
func (s *ScoreCache) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

// GetOrCompute returns the cached result for (version, url) or calls compute
// and stores its result. The returned Result is always a private copy; hit
// reports whether it came from the cache or from another in-flight caller.
func (s *ScoreCache) GetOrCompute(ctx context.Context, version, url string, compute func(context.Context) (*classify.Result, error)) (*classify.Result, bool, error) {
	key := ScoreKey(version, url)

	v, err, shared := s.group.Do(key, func() (any, error) {
		var cached classify.Result
		found, err := s.store.GetJSON(ctx, key, &cached)
		if err != nil {
			s.logger.WarnContext(ctx, "score cache read failed", "err", err)
		}
		if found {
			return cachedEntry{res: &cached, hit: true}, nil
		}

		res, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.store.SetJSON(ctx, key, res, s.ttl); err != nil {
			s.logger.WarnContext(ctx, "score cache write failed", "err", err)
		}
		return cachedEntry{res: res}, nil
	})
	if err != nil {
		return nil, false, err
	}
	e := v.(cachedEntry)
	out := *e.res
	return &out, e.hit || shared, nil
}

type cachedEntry struct {
	res *classify.Result
	hit bool
}
