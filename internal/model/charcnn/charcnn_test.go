package charcnn

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veil-waf/phishguard/internal/charenc"
	"github.com/veil-waf/phishguard/internal/model"
)

// tiny returns a network over a four-token vocabulary whose single embedding
// dimension is the token's "weight" (0, 0, 1, 2) and whose conv is identity.
func tiny() Artifact {
	return Artifact{
		Format:    Format,
		VocabSize: 4,
		MaxLen:    5,
		Embedding: [][]float64{{0}, {0}, {1}, {2}},
		Conv: []ConvLayer{{
			Weight: [][][]float64{{{1}}},
			Bias:   []float64{0},
		}},
		Pooling: PoolMax,
		Dense:   []DenseLayer{{Weight: [][]float64{{1}}, Bias: []float64{0}}},
	}
}

func sig(z float64) float64 { return 1 / (1 + math.Exp(-z)) }

func predict(t *testing.T, a Artifact, seq []int) float64 {
	t.Helper()
	n, err := New(a)
	require.NoError(t, err)
	p, err := n.Predict(&model.Input{Sequence: seq})
	require.NoError(t, err)
	return p
}

func TestPredictForwardPass(t *testing.T) {
	seq := []int{2, 3, 0, 0, 0}

	t.Run("global max", func(t *testing.T) {
		assert.InDelta(t, sig(2), predict(t, tiny(), seq), 1e-12)
	})

	t.Run("global mean", func(t *testing.T) {
		a := tiny()
		a.Pooling = PoolMean
		assert.InDelta(t, sig(0.6), predict(t, a, seq), 1e-12)
	})

	t.Run("padded kernel", func(t *testing.T) {
		a := tiny()
		a.Conv[0].Weight = [][][]float64{{{1, 1, 1}}}
		a.Conv[0].Padding = 1
		a.Pooling = PoolMean
		// embeds to [2,0,0,0,0]; window sums are 2,2,0,0,0
		assert.InDelta(t, sig(0.8), predict(t, a, []int{3, 0, 0, 0, 0}), 1e-12)
	})

	t.Run("local max pool", func(t *testing.T) {
		a := tiny()
		a.Conv[0].Pool = 2
		a.Pooling = PoolMean
		// [1,2,0,0,0] pools to [2,0]
		assert.InDelta(t, sig(1), predict(t, a, seq), 1e-12)
	})

	t.Run("relu between dense layers", func(t *testing.T) {
		a := tiny()
		a.Dense = []DenseLayer{
			{Weight: [][]float64{{1}, {-1}}, Bias: []float64{0, 0}},
			{Weight: [][]float64{{1, 1}}, Bias: []float64{-1}},
		}
		assert.InDelta(t, sig(1), predict(t, a, seq), 1e-12)
	})

	t.Run("conv relu clamps negatives", func(t *testing.T) {
		a := tiny()
		a.Conv[0].Bias = []float64{-5}
		assert.InDelta(t, 0.5, predict(t, a, seq), 1e-12)
	})
}

func TestPredictRejectsBadSequences(t *testing.T) {
	n, err := New(tiny())
	require.NoError(t, err)

	_, err = n.Predict(&model.Input{Sequence: []int{2, 3}})
	assert.Error(t, err)

	_, err = n.Predict(&model.Input{Sequence: []int{2, 3, 4, 0, 0}})
	assert.Error(t, err)

	_, err = n.Predict(&model.Input{Sequence: []int{-1, 0, 0, 0, 0}})
	assert.Error(t, err)
}

func TestSigmoidStable(t *testing.T) {
	assert.InDelta(t, 1.0, sigmoid(800), 1e-12)
	assert.InDelta(t, 0.0, sigmoid(-800), 1e-12)
	assert.InDelta(t, 0.5, sigmoid(0), 1e-12)
}

func TestNewRejectsBadShapes(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Artifact)
	}{
		{"format", func(a *Artifact) { a.Format = "charcnn/v0" }},
		{"embedding rows", func(a *Artifact) { a.Embedding = a.Embedding[:3] }},
		{"ragged embedding", func(a *Artifact) { a.Embedding[2] = []float64{1, 2} }},
		{"pooling", func(a *Artifact) { a.Pooling = "sum" }},
		{"no conv", func(a *Artifact) { a.Conv = nil }},
		{"conv input channels", func(a *Artifact) { a.Conv[0].Weight = [][][]float64{{{1}, {1}}} }},
		{"conv bias", func(a *Artifact) { a.Conv[0].Bias = nil }},
		{"kernel longer than sequence", func(a *Artifact) { a.Conv[0].Weight = [][][]float64{{{1, 1, 1, 1, 1, 1}}} }},
		{"no dense", func(a *Artifact) { a.Dense = nil }},
		{"dense width", func(a *Artifact) { a.Dense[0].Weight = [][]float64{{1, 1}} }},
		{"two outputs", func(a *Artifact) {
			a.Dense[0] = DenseLayer{Weight: [][]float64{{1}, {1}}, Bias: []float64{0, 0}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tiny()
			tt.mutate(&a)
			_, err := New(a)
			assert.Error(t, err)
		})
	}
}

func writeArtifact(t *testing.T, a Artifact) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cnn.json")
	data, err := json.Marshal(a)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoadChecksEncoderCompatibility(t *testing.T) {
	path := writeArtifact(t, tiny())

	n, err := Load(path, 4, 5)
	require.NoError(t, err)
	assert.Equal(t, "cnn", n.Name())
	assert.Equal(t, 4, n.VocabSize())
	assert.Equal(t, 5, n.MaxLen())

	var le *model.LoadError
	_, err = Load(path, 96, 5)
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "sequence", le.Artifact)
	assert.Contains(t, err.Error(), "vocab size")

	_, err = Load(path, 4, 200)
	require.True(t, errors.As(err, &le))
	assert.Contains(t, err.Error(), "max_len")
}

func TestPredictOnEncodedURL(t *testing.T) {
	enc := charenc.Default()
	vocab := enc.Vocabulary().Size()

	// Embedding marks digits and hyphens; the network fires on any of them.
	emb := make([][]float64, vocab)
	for i := range emb {
		emb[i] = []float64{0}
	}
	for _, r := range "0123456789-" {
		emb[enc.Vocabulary().ID(r)][0] = 1
	}
	a := Artifact{
		Format:    Format,
		VocabSize: vocab,
		MaxLen:    enc.MaxLen(),
		Embedding: emb,
		Conv:      []ConvLayer{{Weight: [][][]float64{{{1}}}, Bias: []float64{0}}},
		Pooling:   PoolMax,
		Dense:     []DenseLayer{{Weight: [][]float64{{4}}, Bias: []float64{-1}}},
	}
	n, err := Load(writeArtifact(t, a), vocab, enc.MaxLen())
	require.NoError(t, err)

	hit, err := n.Predict(&model.Input{Sequence: enc.Encode("http://paypa1-login.tk")})
	require.NoError(t, err)
	miss, err := n.Predict(&model.Input{Sequence: enc.Encode("https://example.com")})
	require.NoError(t, err)

	assert.InDelta(t, sig(3), hit, 1e-12)
	assert.InDelta(t, sig(-1), miss, 1e-12)
}
