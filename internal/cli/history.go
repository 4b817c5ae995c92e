package cli

import (
	"context"
	"fmt"
	"strings"

	urfave "github.com/urfave/cli/v3"

	"github.com/veil-waf/phishguard/internal/db"
)

const (
	flagLimit   = "limit"
	flagVerdict = "verdict"
	flagStats   = "stats"
)

func historyCommand() *urfave.Command {
	return &urfave.Command{
		Name:  "history",
		Usage: "List scores recorded with score --record",
		Flags: []urfave.Flag{
			&urfave.IntFlag{
				Name:  flagLimit,
				Usage: "Maximum number of scores",
				Value: 20,
			},
			&urfave.StringFlag{
				Name:  flagVerdict,
				Usage: "Only show one verdict [SAFE, SUSPICIOUS, PHISHING]",
			},
			&urfave.BoolFlag{
				Name:  flagStats,
				Usage: "Print aggregate counts instead of scores",
			},
		},
		Action: cmdHistory,
	}
}

func cmdHistory(ctx context.Context, cmd *urfave.Command) error {
	store, err := db.OpenSQLite(ctx, dbPath(cmd), logger())
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	defer store.Close()

	if cmd.Bool(flagStats) {
		st, err := store.Stats(ctx)
		if err != nil {
			return err
		}
		return encode(cmd, st)
	}

	verdict := strings.ToUpper(cmd.String(flagVerdict))
	switch verdict {
	case "", db.VerdictSafe, db.VerdictSuspicious, db.VerdictPhishing:
	default:
		return fmt.Errorf("unknown verdict %q", cmd.String(flagVerdict))
	}
	scores, err := store.RecentScores(ctx, db.ScoreFilter{Limit: int(cmd.Int(flagLimit)), Verdict: verdict})
	if err != nil {
		return err
	}
	if scores == nil {
		scores = []db.ScoreRecord{}
	}
	return encode(cmd, scores)
}
