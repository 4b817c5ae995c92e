// Package bundle loads a versioned model directory: a manifest.yaml naming
// the tabular and sequence artifacts plus the encoding policy the sequence
// model was trained under.
//
//	version: 2026.10
//	features: features/v1
//	encoding:
//	  policy: charenc/v1
//	  max_len: 200
//	tabular:
//	  path: rf.json.gz
//	  sha256: 9f2c...
//	sequence:
//	  path: cnn.json.gz
//
// Everything is validated up front; any problem is a *model.LoadError and the
// process should not start.
package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/veil-waf/phishguard/internal/charenc"
	"github.com/veil-waf/phishguard/internal/features"
	"github.com/veil-waf/phishguard/internal/model"
	"github.com/veil-waf/phishguard/internal/model/charcnn"
	"github.com/veil-waf/phishguard/internal/model/forest"
)

// ManifestFile is the manifest's name inside a bundle directory.
const ManifestFile = "manifest.yaml"

// Manifest describes a bundle directory.
type Manifest struct {
	Version  string         `yaml:"version"`
	Features string         `yaml:"features"`
	Encoding charenc.Policy `yaml:"encoding"`
	Tabular  ArtifactRef    `yaml:"tabular"`
	Sequence ArtifactRef    `yaml:"sequence"`
}

// ArtifactRef locates one artifact relative to the bundle directory.
type ArtifactRef struct {
	Path   string `yaml:"path"`
	SHA256 string `yaml:"sha256,omitempty"`
}

// Bundle is a loaded, mutually consistent set of models.
type Bundle struct {
	Dir      string
	Manifest Manifest
	Encoder  *charenc.Encoder
	Tabular  *forest.Forest
	Sequence *charcnn.Network
}

// Version returns the manifest version, used to key cached scores.
func (b *Bundle) Version() string { return b.Manifest.Version }

// ReadManifest parses dir/manifest.yaml. Encoding fields the manifest omits
// default to charenc.PolicyV1.
func ReadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &model.LoadError{Artifact: "manifest", Path: path, Err: err}
	}

	m := Manifest{Encoding: charenc.PolicyV1}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &model.LoadError{Artifact: "manifest", Path: path, Err: err}
	}
	if err := m.validate(); err != nil {
		return nil, &model.LoadError{Artifact: "manifest", Path: path, Err: err}
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if m.Version == "" {
		return errors.New("version is required")
	}
	if m.Features != "" && m.Features != features.SchemaVersion {
		return fmt.Errorf("feature schema %q is not supported (extractor is %q)", m.Features, features.SchemaVersion)
	}
	if m.Tabular.Path == "" {
		return errors.New("tabular.path is required")
	}
	if m.Sequence.Path == "" {
		return errors.New("sequence.path is required")
	}
	return m.Encoding.Validate()
}

// Load reads the manifest in dir and both artifacts it names.
func Load(dir string, logger *slog.Logger) (*Bundle, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}

	enc, err := charenc.New(m.Encoding)
	if err != nil {
		return nil, &model.LoadError{Artifact: "manifest", Path: filepath.Join(dir, ManifestFile), Err: err}
	}

	tabPath := resolve(dir, m.Tabular.Path)
	if err := verifyDigest(tabPath, m.Tabular.SHA256); err != nil {
		return nil, &model.LoadError{Artifact: "tabular", Path: tabPath, Err: err}
	}
	tab, err := forest.Load(tabPath, logger)
	if err != nil {
		return nil, err
	}

	seqPath := resolve(dir, m.Sequence.Path)
	if err := verifyDigest(seqPath, m.Sequence.SHA256); err != nil {
		return nil, &model.LoadError{Artifact: "sequence", Path: seqPath, Err: err}
	}
	seq, err := charcnn.Load(seqPath, enc.Vocabulary().Size(), enc.MaxLen())
	if err != nil {
		return nil, err
	}

	logger.Info("model bundle loaded",
		"dir", dir,
		"version", m.Version,
		"encoding", m.Encoding.Version,
		"trees", tab.NumTrees(),
		"tabular_features", len(tab.FeatureNames()),
		"vocab_size", seq.VocabSize(),
	)
	return &Bundle{Dir: dir, Manifest: *m, Encoder: enc, Tabular: tab, Sequence: seq}, nil
}

func resolve(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// verifyDigest checks the file's SHA-256 when the manifest pins one.
func verifyDigest(path, want string) error {
	if want == "" {
		return nil
	}
	got, err := FileDigest(path)
	if err != nil {
		return err
	}
	if !strings.EqualFold(got, want) {
		return fmt.Errorf("sha256 mismatch: manifest %s, file %s", want, got)
	}
	return nil
}

// FileDigest returns the hex SHA-256 of the file at path.
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
