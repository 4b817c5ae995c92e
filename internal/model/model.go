// Package model defines the contract shared by the two URL classifiers so the
// scoring pipeline can treat them uniformly.
package model

import (
	"fmt"
	"sort"
	"strings"

	"github.com/veil-waf/phishguard/internal/features"
)

// Input carries every representation of one URL. Each classifier reads the
// part it was trained on.
type Input struct {
	URL      string
	Features features.Vector
	Sequence []int
}

// Classifier produces a phishing probability in [0,1]. Implementations are
// immutable after loading and safe for concurrent Predict calls.
type Classifier interface {
	Name() string
	Predict(in *Input) (float64, error)
}

// LoadError reports a model artifact that is missing, corrupt, or
// incompatible with the rest of the configuration. It is fatal at startup.
type LoadError struct {
	Artifact string // "tabular", "sequence", "manifest"
	Path     string
	Err      error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("load %s model: %v", e.Artifact, e.Err)
	}
	return fmt.Sprintf("load %s model %s: %v", e.Artifact, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// SchemaMismatchError reports a feature vector that does not carry every
// feature the tabular model was trained on. It means the extractor and the
// model are out of sync.
type SchemaMismatchError struct {
	Missing []string
	Extra   []string
}

func (e *SchemaMismatchError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ","))
	}
	if len(e.Extra) > 0 {
		parts = append(parts, "unexpected "+strings.Join(e.Extra, ","))
	}
	return "feature schema mismatch: " + strings.Join(parts, "; ")
}

// CompareSchema returns the names of want absent from have, and the names of
// have absent from want, both sorted.
func CompareSchema(want, have []string) (missing, extra []string) {
	wantSet := make(map[string]bool, len(want))
	for _, n := range want {
		wantSet[n] = true
	}
	haveSet := make(map[string]bool, len(have))
	for _, n := range have {
		haveSet[n] = true
		if !wantSet[n] {
			extra = append(extra, n)
		}
	}
	for _, n := range want {
		if !haveSet[n] {
			missing = append(missing, n)
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return missing, extra
}
