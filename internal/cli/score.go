package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	urfave "github.com/urfave/cli/v3"

	"github.com/veil-waf/phishguard/internal/bundle"
	"github.com/veil-waf/phishguard/internal/classify"
	"github.com/veil-waf/phishguard/internal/db"
	"github.com/veil-waf/phishguard/internal/features"
	"github.com/veil-waf/phishguard/internal/reach"
	"github.com/veil-waf/phishguard/internal/scoring"
)

const (
	flagCheckReach   = "check-reachability"
	flagTimeout      = "timeout"
	flagAllowPrivate = "allow-private"
	flagRecord       = "record"
)

func scoreCommand() *urfave.Command {
	return &urfave.Command{
		Name:      "score",
		Usage:     "Score one or more URLs",
		ArgsUsage: "URL [URL...]",
		Flags: []urfave.Flag{
			&urfave.BoolFlag{
				Name:  flagCheckReach,
				Usage: "Skip URLs that do not answer a HEAD request",
			},
			&urfave.DurationFlag{
				Name:  flagTimeout,
				Usage: "Reachability probe timeout",
				Value: reach.DefaultTimeout,
			},
			&urfave.BoolFlag{
				Name:  flagAllowPrivate,
				Usage: "Allow reachability probes to private and loopback addresses",
			},
			&urfave.BoolFlag{
				Name:  flagRecord,
				Usage: "Save results to the local history database",
			},
		},
		Action: cmdScore,
	}
}

func featuresCommand() *urfave.Command {
	return &urfave.Command{
		Name:      "features",
		Usage:     "Print the feature vector extracted from a URL",
		ArgsUsage: "URL",
		Action:    cmdFeatures,
	}
}

// scoreItem is one line of score output. Unreachable URLs carry no result.
type scoreItem struct {
	URL       string           `json:"url" yaml:"url"`
	Result    *classify.Result `json:"result,omitempty" yaml:"result,omitempty"`
	Reachable *bool            `json:"reachable,omitempty" yaml:"reachable,omitempty"`
	Error     string           `json:"error,omitempty" yaml:"error,omitempty"`
}

func cmdScore(ctx context.Context, cmd *urfave.Command) error {
	urls := cmd.Args().Slice()
	if len(urls) == 0 {
		return errors.New("at least one URL is required")
	}

	b, err := bundle.Load(cmd.String(flagModels), logger())
	if err != nil {
		return err
	}
	p, err := classify.NewPipeline(b, logger())
	if err != nil {
		return err
	}

	opts := scoring.Options{Pipeline: p, Logger: logger()}
	if cmd.Bool(flagCheckReach) {
		opts.CheckReachability = true
		opts.Reach = reach.New(reach.Options{
			Timeout:      cmd.Duration(flagTimeout),
			AllowPrivate: cmd.Bool(flagAllowPrivate),
			Logger:       logger(),
		})
	}
	if cmd.Bool(flagRecord) {
		store, err := db.OpenSQLite(ctx, dbPath(cmd), logger())
		if err != nil {
			return fmt.Errorf("opening history: %w", err)
		}
		defer store.Close()
		opts.Store = store
	}
	svc, err := scoring.New(opts)
	if err != nil {
		return err
	}

	items := make([]scoreItem, 0, len(urls))
	for _, u := range urls {
		res, err := svc.Score(ctx, scoring.Request{URL: u, Source: "cli"})
		var unreachable *scoring.UnreachableError
		switch {
		case errors.As(err, &unreachable):
			no := false
			items = append(items, scoreItem{URL: u, Reachable: &no, Error: unreachable.Error()})
		case err != nil:
			return fmt.Errorf("scoring %s: %w", u, err)
		default:
			items = append(items, scoreItem{URL: u, Result: res})
		}
	}
	return encode(cmd, items)
}

func cmdFeatures(_ context.Context, cmd *urfave.Command) error {
	if cmd.Args().Len() != 1 {
		return errors.New("exactly one URL is required")
	}
	u := cmd.Args().First()
	start := time.Now()
	v := features.Extract(u)
	logger().Debug("features extracted", "url", u, "count", len(v), "took", time.Since(start))
	return encode(cmd, v)
}
