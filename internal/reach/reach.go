// Package reach checks whether a URL currently answers HTTP. Scoring can be
// gated on it: a dead link is reported as unreachable instead of scored.
//
// Probes are HEAD requests that follow redirects; a final status below 400
// counts as reachable. Outbound dials go through netguard, and a circuit
// breaker stops probing when the network itself is failing.
package reach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/veil-waf/phishguard/internal/netguard"
)

// DefaultTimeout bounds one probe including redirects.
const DefaultTimeout = 5 * time.Second

// Status is the outcome of one probe.
type Status struct {
	Reachable  bool   `json:"reachable" yaml:"reachable"`
	StatusCode int    `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
	// Skipped is set when the breaker is open and the URL was not probed.
	Skipped bool `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

// Options configures a Checker.
type Options struct {
	Timeout      time.Duration
	AllowPrivate bool
	MaxRedirects int
	// TripAfter is the minimum number of probes in a window before the
	// breaker may open. Defaults to 20.
	TripAfter uint32
	Logger    *slog.Logger
	// Transport overrides the guarded transport (tests).
	Transport http.RoundTripper
}

// Checker probes URLs. It is safe for concurrent use.
type Checker struct {
	client *http.Client
	cb     *gobreaker.CircuitBreaker
	logger *slog.Logger
}

// New builds a Checker from opts.
func New(opts Options) *Checker {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 10
	}
	if opts.TripAfter == 0 {
		opts.TripAfter = 20
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	transport := opts.Transport
	if transport == nil {
		guard := netguard.New(opts.AllowPrivate)
		transport = &http.Transport{
			DialContext:         guard.DialContext,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     30 * time.Second,
		}
	}
	maxRedirects := opts.MaxRedirects
	logger := opts.Logger

	c := &Checker{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		logger: logger,
	}

	tripAfter := opts.TripAfter
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "reachability",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Dead phishing links are normal; only trip when nearly every
			// probe fails at the transport level.
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= tripAfter && failureRatio >= 0.9
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			var blocked *netguard.BlockedError
			return err == nil || errors.As(err, &blocked) || errors.Is(err, context.Canceled)
		},
	})
	return c
}

// IsReachable reports whether rawURL answers a HEAD request with a status
// below 400.
func (c *Checker) IsReachable(ctx context.Context, rawURL string) bool {
	return c.Check(ctx, rawURL).Reachable
}

// Check probes rawURL. URLs without an http(s) scheme are unreachable. When
// the breaker is open the probe is skipped and the URL is treated as
// reachable so scoring continues.
func (c *Checker) Check(ctx context.Context, rawURL string) Status {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Status{Error: "invalid url"}
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return Status{Error: "unsupported scheme"}
	}
	if u.Host == "" {
		return Status{Error: "missing host"}
	}

	out, err := c.cb.Execute(func() (interface{}, error) {
		return c.head(ctx, u.String())
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.logger.Debug("reachability probe skipped", "url", rawURL, "err", err)
		return Status{Reachable: true, Skipped: true}
	}
	if err != nil {
		c.logger.Debug("reachability probe failed", "url", rawURL, "err", err)
		return Status{Error: err.Error()}
	}
	code := out.(int)
	return Status{Reachable: code < 400, StatusCode: code}
}

func (c *Checker) head(ctx context.Context, target string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", "phishguard-reachability/1.0")
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// State returns the breaker state for health reporting.
func (c *Checker) State() string { return c.cb.State().String() }
