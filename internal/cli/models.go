package cli

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	urfave "github.com/urfave/cli/v3"

	"github.com/veil-waf/phishguard/internal/artifact"
	"github.com/veil-waf/phishguard/internal/bundle"
	"github.com/veil-waf/phishguard/internal/classify"
)

const (
	flagRepo  = "repo"
	flagTag   = "tag"
	flagDest  = "dest"
	flagToken = "token"
)

func modelsCommand() *urfave.Command {
	return &urfave.Command{
		Name:  "models",
		Usage: "Inspect and fetch model bundles",
		Commands: []*urfave.Command{
			{
				Name:   "verify",
				Usage:  "Load the bundle, check digests and run the startup probe",
				Action: cmdModelsVerify,
			},
			{
				Name:  "fetch",
				Usage: "Download a bundle from a GitHub release",
				Flags: []urfave.Flag{
					&urfave.StringFlag{
						Name:     flagRepo,
						Usage:    "GitHub repository publishing bundles (owner/name)",
						Required: true,
					},
					&urfave.StringFlag{
						Name:  flagTag,
						Usage: "Release tag (default: latest release)",
					},
					&urfave.StringFlag{
						Name:  flagDest,
						Usage: "Directory to install the bundle into (default: <models>-<tag>)",
					},
					&urfave.StringFlag{
						Name:    flagToken,
						Usage:   "GitHub token for private repositories",
						Sources: urfave.EnvVars("GITHUB_TOKEN"),
					},
				},
				Action: cmdModelsFetch,
			},
		},
	}
}

type bundleReport struct {
	Dir            string   `json:"dir" yaml:"dir"`
	Version        string   `json:"version" yaml:"version"`
	EncodingPolicy string   `json:"encoding_policy" yaml:"encoding_policy"`
	MaxLen         int      `json:"max_len" yaml:"max_len"`
	VocabSize      int      `json:"vocab_size" yaml:"vocab_size"`
	Trees          int      `json:"trees" yaml:"trees"`
	Features       []string `json:"features" yaml:"features"`
	TabularSHA256  string   `json:"tabular_sha256" yaml:"tabular_sha256"`
	SequenceSHA256 string   `json:"sequence_sha256" yaml:"sequence_sha256"`
}

func cmdModelsVerify(_ context.Context, cmd *urfave.Command) error {
	dir := cmd.String(flagModels)
	b, err := bundle.Load(dir, logger())
	if err != nil {
		return err
	}
	if _, err := classify.NewPipeline(b, logger()); err != nil {
		return err
	}

	tabSum, err := bundle.FileDigest(filepath.Join(b.Dir, b.Manifest.Tabular.Path))
	if err != nil {
		return err
	}
	seqSum, err := bundle.FileDigest(filepath.Join(b.Dir, b.Manifest.Sequence.Path))
	if err != nil {
		return err
	}
	return encode(cmd, bundleReport{
		Dir:            b.Dir,
		Version:        b.Version(),
		EncodingPolicy: b.Manifest.Encoding.Version,
		MaxLen:         b.Encoder.MaxLen(),
		VocabSize:      b.Encoder.Vocabulary().Size(),
		Trees:          b.Tabular.NumTrees(),
		Features:       b.Tabular.FeatureNames(),
		TabularSHA256:  tabSum,
		SequenceSHA256: seqSum,
	})
}

func cmdModelsFetch(ctx context.Context, cmd *urfave.Command) error {
	owner, repo, ok := strings.Cut(cmd.String(flagRepo), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return errors.New("--repo must be owner/name")
	}
	tag := cmd.String(flagTag)
	dest := cmd.String(flagDest)
	if dest == "" {
		suffix := tag
		if suffix == "" {
			suffix = "latest"
		}
		dest = strings.TrimRight(cmd.String(flagModels), "/") + "-" + suffix
	}

	f := artifact.NewFetcher(ctx, cmd.String(flagToken), logger())
	m, err := f.Fetch(ctx, owner, repo, tag, dest)
	if err != nil {
		return err
	}
	return encode(cmd, map[string]string{"dir": dest, "version": m.Version})
}
