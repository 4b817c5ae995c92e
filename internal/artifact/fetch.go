// Package artifact downloads model bundles published as GitHub release
// assets. A release carries manifest.yaml plus the two artifacts it names;
// the download is verified with bundle.Load before it is moved into place.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-github/v69/github"
	"golang.org/x/oauth2"

	"github.com/veil-waf/phishguard/internal/bundle"
)

// maxAssetBytes caps a single downloaded asset.
const maxAssetBytes = 512 << 20

// ErrDestExists is returned when the destination directory already exists.
var ErrDestExists = errors.New("destination already exists")

// Fetcher downloads bundles from GitHub releases.
type Fetcher struct {
	client *github.Client
	http   *http.Client
	logger *slog.Logger
}

// NewFetcher returns a Fetcher authenticated with token. An empty token
// makes anonymous requests, which only works for public repositories.
func NewFetcher(ctx context.Context, token string, logger *slog.Logger) *Fetcher {
	httpClient := http.DefaultClient
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(ctx, ts)
	}
	return NewFetcherWithClient(github.NewClient(httpClient), httpClient, logger)
}

// NewFetcherWithClient wraps an existing client. httpClient follows asset
// download redirects.
func NewFetcherWithClient(client *github.Client, httpClient *http.Client, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Fetcher{client: client, http: httpClient, logger: logger}
}

// Fetch downloads the bundle attached to release tag of owner/repo into
// dest. An empty tag or "latest" selects the latest release. dest must not
// exist; it is created only after the bundle loads cleanly.
func (f *Fetcher) Fetch(ctx context.Context, owner, repo, tag, dest string) (*bundle.Manifest, error) {
	if _, err := os.Stat(dest); err == nil {
		return nil, fmt.Errorf("%s: %w", dest, ErrDestExists)
	}

	release, err := f.release(ctx, owner, repo, tag)
	if err != nil {
		return nil, err
	}
	assets := make(map[string]int64, len(release.Assets))
	for _, a := range release.Assets {
		assets[a.GetName()] = a.GetID()
	}

	parent := filepath.Dir(dest)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", parent, err)
	}
	staging, err := os.MkdirTemp(parent, ".bundle-*")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := f.download(ctx, owner, repo, assets, bundle.ManifestFile, staging); err != nil {
		return nil, err
	}
	m, err := bundle.ReadManifest(staging)
	if err != nil {
		return nil, err
	}
	for _, ref := range []bundle.ArtifactRef{m.Tabular, m.Sequence} {
		if ref.Path != filepath.Base(ref.Path) || strings.HasPrefix(ref.Path, ".") {
			return nil, fmt.Errorf("manifest path %q must be a bare file name", ref.Path)
		}
		if err := f.download(ctx, owner, repo, assets, ref.Path, staging); err != nil {
			return nil, err
		}
	}

	if _, err := bundle.Load(staging, f.logger); err != nil {
		return nil, fmt.Errorf("verify downloaded bundle: %w", err)
	}
	if err := os.Rename(staging, dest); err != nil {
		return nil, fmt.Errorf("install bundle: %w", err)
	}
	f.logger.Info("model bundle fetched",
		"repo", owner+"/"+repo,
		"release", release.GetTagName(),
		"version", m.Version,
		"dir", dest,
	)
	return m, nil
}

func (f *Fetcher) release(ctx context.Context, owner, repo, tag string) (*github.RepositoryRelease, error) {
	var (
		rel *github.RepositoryRelease
		err error
	)
	if tag == "" || tag == "latest" {
		rel, _, err = f.client.Repositories.GetLatestRelease(ctx, owner, repo)
	} else {
		rel, _, err = f.client.Repositories.GetReleaseByTag(ctx, owner, repo, tag)
	}
	if err != nil {
		return nil, fmt.Errorf("get release %s/%s@%s: %w", owner, repo, tagOrLatest(tag), err)
	}
	return rel, nil
}

func (f *Fetcher) download(ctx context.Context, owner, repo string, assets map[string]int64, name, dir string) error {
	id, ok := assets[name]
	if !ok {
		return fmt.Errorf("release has no asset %q", name)
	}
	rc, _, err := f.client.Repositories.DownloadReleaseAsset(ctx, owner, repo, id, f.http)
	if err != nil {
		return fmt.Errorf("download %s: %w", name, err)
	}
	defer rc.Close()

	out, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	n, err := io.Copy(out, io.LimitReader(rc, maxAssetBytes+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if n > maxAssetBytes {
		return fmt.Errorf("asset %s exceeds %d bytes", name, maxAssetBytes)
	}
	f.logger.Debug("asset downloaded", "name", name, "bytes", n)
	return nil
}

func tagOrLatest(tag string) string {
	if tag == "" {
		return "latest"
	}
	return tag
}
