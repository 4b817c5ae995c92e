// Package cli implements the phishguard command-line tool: score URLs
// offline against a local model bundle, inspect features, verify and fetch
// bundles, and browse locally recorded history.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	urfave "github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/veil-waf/phishguard/internal/server"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"

	dbFileName = "history.db"
)

var (
	version = "v0.0.1-default"
	commit  = ""
)

// Global flag names.
const (
	flagDebug  = "debug"
	flagModels = "models"
	flagDB     = "db"
	flagFormat = "format"
)

func globalFlags() []urfave.Flag {
	return []urfave.Flag{
		&urfave.BoolFlag{
			Name:  flagDebug,
			Usage: "Prints verbose logs",
		},
		&urfave.StringFlag{
			Name:    flagModels,
			Usage:   "Model bundle directory",
			Value:   "models",
			Sources: urfave.EnvVars("MODEL_DIR"),
		},
		&urfave.StringFlag{
			Name:    flagDB,
			Usage:   "Path to the SQLite history file (default: $HOME/.phishguard/history.db)",
			Sources: urfave.EnvVars("SQLITE_PATH"),
		},
		&urfave.StringFlag{
			Name:  flagFormat,
			Usage: "Output format [json, yaml]",
			Value: formatJSON,
			Validator: func(s string) error {
				switch s {
				case formatJSON, formatYAML, "yml":
					return nil
				}
				return fmt.Errorf("unsupported format %q", s)
			},
		},
	}
}

// Execute runs the CLI with os.Args and exits non-zero on failure.
func Execute() {
	if err := NewApp(os.Stdout, os.Stderr).Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// NewApp builds the command tree writing results to out and logs to errOut.
func NewApp(out, errOut io.Writer) *urfave.Command {
	return &urfave.Command{
		Name:                  "phishguard",
		Version:               fmt.Sprintf("%s (%s)", version, commit),
		Usage:                 "Score URLs for phishing likelihood",
		EnableShellCompletion: true,
		HideHelpCommand:       true,
		Writer:                out,
		ErrWriter:             errOut,
		Flags:                 globalFlags(),
		Commands: []*urfave.Command{
			scoreCommand(),
			featuresCommand(),
			modelsCommand(),
			historyCommand(),
		},
		Before: func(ctx context.Context, cmd *urfave.Command) (context.Context, error) {
			level := "warn"
			if cmd.Bool(flagDebug) {
				level = "debug"
			}
			slog.SetDefault(server.NewTextLogger(cmd.Root().ErrWriter, level))
			return ctx, nil
		},
	}
}

func logger() *slog.Logger { return slog.Default() }

// encode writes v to the root command's writer in the selected format.
func encode(cmd *urfave.Command, v any) error {
	w := cmd.Root().Writer
	switch cmd.String(flagFormat) {
	case formatYAML, "yml":
		e := yaml.NewEncoder(w)
		e.SetIndent(2)
		if err := e.Encode(v); err != nil {
			return err
		}
		return e.Close()
	default:
		e := json.NewEncoder(w)
		e.SetIndent("", "  ")
		return e.Encode(v)
	}
}

// dbPath resolves the history file, defaulting to ~/.phishguard/history.db.
func dbPath(cmd *urfave.Command) string {
	if p := cmd.String(flagDB); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		logger().Debug("error getting home dir, using current dir instead", "err", err)
		return dbFileName
	}
	return filepath.Join(home, ".phishguard", dbFileName)
}
