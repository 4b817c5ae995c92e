// Package forest runs inference for a pretrained tree ensemble over the URL
// feature vector.
//
// Artifacts use the array layout scikit-learn exposes on a fitted tree
// (children_left, children_right, feature, threshold) with the class-1
// probability stored per leaf. The ensemble probability is the mean of the
// per-tree leaf probabilities, as RandomForestClassifier.predict_proba does.
package forest

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/veil-waf/phishguard/internal/features"
	"github.com/veil-waf/phishguard/internal/model"
)

// Format is the artifact format this package reads.
const Format = "forest/v1"

const leaf = -1

// Artifact is the on-disk representation of a forest.
type Artifact struct {
	Format       string   `json:"format"`
	FeatureNames []string `json:"feature_names"`
	Trees        []Tree   `json:"trees"`
}

// Tree is one decision tree in array form. Node i is a leaf when
// ChildrenLeft[i] == -1; otherwise samples with
// x[Feature[i]] <= Threshold[i] go to ChildrenLeft[i].
type Tree struct {
	ChildrenLeft  []int     `json:"children_left"`
	ChildrenRight []int     `json:"children_right"`
	Feature       []int     `json:"feature"`
	Threshold     []float64 `json:"threshold"`
	Value         []float64 `json:"value"`
}

type node struct {
	left, right int
	feature     int
	threshold   float64
	value       float64
}

// Forest is an immutable, validated tree ensemble.
type Forest struct {
	featureNames []string
	trees        [][]node
	logger       *slog.Logger
	extraOnce    sync.Once
}

var _ model.Classifier = (*Forest)(nil)

// Load reads and validates the forest artifact at path.
func Load(path string, logger *slog.Logger) (*Forest, error) {
	var a Artifact
	if err := model.ReadJSON(path, &a); err != nil {
		return nil, &model.LoadError{Artifact: "tabular", Path: path, Err: err}
	}
	f, err := New(a, logger)
	if err != nil {
		return nil, &model.LoadError{Artifact: "tabular", Path: path, Err: err}
	}
	return f, nil
}

// New validates a and builds a Forest from it.
func New(a Artifact, logger *slog.Logger) (*Forest, error) {
	if a.Format != Format {
		return nil, fmt.Errorf("unsupported format %q (want %q)", a.Format, Format)
	}
	if len(a.FeatureNames) == 0 {
		return nil, errors.New("no feature names")
	}
	seen := make(map[string]bool, len(a.FeatureNames))
	for _, n := range a.FeatureNames {
		if seen[n] {
			return nil, fmt.Errorf("duplicate feature name %q", n)
		}
		seen[n] = true
	}
	if len(a.Trees) == 0 {
		return nil, errors.New("no trees")
	}
	if logger == nil {
		logger = slog.Default()
	}

	f := &Forest{
		featureNames: append([]string(nil), a.FeatureNames...),
		trees:        make([][]node, 0, len(a.Trees)),
		logger:       logger,
	}
	for i, t := range a.Trees {
		nodes, err := buildTree(t, len(a.FeatureNames))
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		f.trees = append(f.trees, nodes)
	}
	return f, nil
}

func buildTree(t Tree, numFeatures int) ([]node, error) {
	n := len(t.ChildrenLeft)
	if n == 0 {
		return nil, errors.New("empty tree")
	}
	if len(t.ChildrenRight) != n || len(t.Feature) != n || len(t.Threshold) != n || len(t.Value) != n {
		return nil, fmt.Errorf("array lengths differ (left=%d right=%d feature=%d threshold=%d value=%d)",
			n, len(t.ChildrenRight), len(t.Feature), len(t.Threshold), len(t.Value))
	}

	nodes := make([]node, n)
	for i := 0; i < n; i++ {
		l, r := t.ChildrenLeft[i], t.ChildrenRight[i]
		if l == leaf {
			if r != leaf {
				return nil, fmt.Errorf("node %d: left is a leaf marker but right is %d", i, r)
			}
			v := t.Value[i]
			if math.IsNaN(v) || v < 0 || v > 1 {
				return nil, fmt.Errorf("node %d: leaf probability %v outside [0,1]", i, v)
			}
			nodes[i] = node{left: leaf, right: leaf, value: v}
			continue
		}
		// Children strictly after their parent guarantees traversal ends.
		if l <= i || l >= n || r <= i || r >= n {
			return nil, fmt.Errorf("node %d: child index out of range (left=%d right=%d)", i, l, r)
		}
		if t.Feature[i] < 0 || t.Feature[i] >= numFeatures {
			return nil, fmt.Errorf("node %d: feature index %d out of range", i, t.Feature[i])
		}
		if math.IsNaN(t.Threshold[i]) {
			return nil, fmt.Errorf("node %d: NaN threshold", i)
		}
		nodes[i] = node{left: l, right: r, feature: t.Feature[i], threshold: t.Threshold[i]}
	}
	return nodes, nil
}

// Name identifies the classifier in results and logs.
func (f *Forest) Name() string { return "rf" }

// FeatureNames returns the features the forest was trained on, in training order.
func (f *Forest) FeatureNames() []string {
	return append([]string(nil), f.featureNames...)
}

// NumTrees returns the ensemble size.
func (f *Forest) NumTrees() int { return len(f.trees) }

// Predict returns the mean leaf probability across trees. It fails with a
// *model.SchemaMismatchError when in.Features lacks a trained feature; it
// never substitutes a default.
func (f *Forest) Predict(in *model.Input) (float64, error) {
	x, err := f.row(in.Features)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, t := range f.trees {
		sum += walk(t, x)
	}
	return sum / float64(len(f.trees)), nil
}

func walk(t []node, x []float64) float64 {
	i := 0
	for t[i].left != leaf {
		if x[t[i].feature] <= t[i].threshold {
			i = t[i].left
		} else {
			i = t[i].right
		}
	}
	return t[i].value
}

// row lays v out in training order.
func (f *Forest) row(v features.Vector) ([]float64, error) {
	x := make([]float64, len(f.featureNames))
	if len(v) == len(f.featureNames) {
		inOrder := true
		for i, feat := range v {
			if feat.Name != f.featureNames[i] {
				inOrder = false
				break
			}
			x[i] = feat.Value
		}
		if inOrder {
			return x, nil
		}
	}

	values := v.Map()
	missing, extra := model.CompareSchema(f.featureNames, v.Names())
	if len(missing) > 0 {
		return nil, &model.SchemaMismatchError{Missing: missing, Extra: extra}
	}
	if len(extra) > 0 {
		f.extraOnce.Do(func() {
			f.logger.Warn("forest: ignoring features the model was not trained on", "extra", extra)
		})
	}
	for i, name := range f.featureNames {
		x[i] = values[name]
	}
	return x, nil
}
