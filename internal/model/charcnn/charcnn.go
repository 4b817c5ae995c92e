// Package charcnn runs inference for a pretrained character-level
// convolutional network over encoded URL sequences.
//
// The network is embedding, then one or more Conv1d+ReLU blocks (each with an
// optional max-pool), then a global max or mean pool over time, then dense
// layers with ReLU between them and a single sigmoid output. Weights use the
// PyTorch layouts: conv weight is [out][in][kernel], dense weight is [out][in].
package charcnn

import (
	"errors"
	"fmt"
	"math"

	"github.com/veil-waf/phishguard/internal/model"
)

// Format is the artifact format this package reads.
const Format = "charcnn/v1"

// Global pooling modes.
const (
	PoolMax  = "max"
	PoolMean = "mean"
)

// Artifact is the on-disk representation of a network.
type Artifact struct {
	Format    string       `json:"format"`
	VocabSize int          `json:"vocab_size"`
	MaxLen    int          `json:"max_len"`
	Embedding [][]float64  `json:"embedding"`
	Conv      []ConvLayer  `json:"conv"`
	Pooling   string       `json:"pooling"`
	Dense     []DenseLayer `json:"dense"`
}

// ConvLayer is a 1-D convolution with stride 1 followed by ReLU and, when
// Pool > 1, a non-overlapping max-pool of that width.
type ConvLayer struct {
	Weight  [][][]float64 `json:"weight"`
	Bias    []float64     `json:"bias"`
	Padding int           `json:"padding"`
	Pool    int           `json:"pool,omitempty"`
}

// DenseLayer is a fully connected layer.
type DenseLayer struct {
	Weight [][]float64 `json:"weight"`
	Bias   []float64   `json:"bias"`
}

// Network is an immutable, shape-checked CNN.
type Network struct {
	a   Artifact
	dim int
}

var _ model.Classifier = (*Network)(nil)

// Load reads the artifact at path and checks it against the encoder's
// vocabulary size and sequence length.
func Load(path string, vocabSize, maxLen int) (*Network, error) {
	var a Artifact
	if err := model.ReadJSON(path, &a); err != nil {
		return nil, &model.LoadError{Artifact: "sequence", Path: path, Err: err}
	}
	if a.VocabSize != vocabSize {
		return nil, &model.LoadError{Artifact: "sequence", Path: path,
			Err: fmt.Errorf("vocab size %d does not match encoder vocab size %d", a.VocabSize, vocabSize)}
	}
	if a.MaxLen != maxLen {
		return nil, &model.LoadError{Artifact: "sequence", Path: path,
			Err: fmt.Errorf("max_len %d does not match encoder max_len %d", a.MaxLen, maxLen)}
	}
	n, err := New(a)
	if err != nil {
		return nil, &model.LoadError{Artifact: "sequence", Path: path, Err: err}
	}
	return n, nil
}

// New validates every tensor shape in a and builds a Network.
func New(a Artifact) (*Network, error) {
	if a.Format != Format {
		return nil, fmt.Errorf("unsupported format %q (want %q)", a.Format, Format)
	}
	if a.VocabSize < 2 {
		return nil, fmt.Errorf("vocab size %d too small", a.VocabSize)
	}
	if a.MaxLen <= 0 {
		return nil, fmt.Errorf("max_len must be positive, got %d", a.MaxLen)
	}
	if len(a.Embedding) != a.VocabSize {
		return nil, fmt.Errorf("embedding has %d rows, want %d", len(a.Embedding), a.VocabSize)
	}
	dim := len(a.Embedding[0])
	if dim == 0 {
		return nil, errors.New("embedding dimension is zero")
	}
	for i, row := range a.Embedding {
		if len(row) != dim {
			return nil, fmt.Errorf("embedding row %d has %d values, want %d", i, len(row), dim)
		}
	}
	if a.Pooling != PoolMax && a.Pooling != PoolMean {
		return nil, fmt.Errorf("unknown pooling %q", a.Pooling)
	}

	channels, length := dim, a.MaxLen
	if len(a.Conv) == 0 {
		return nil, errors.New("no conv layers")
	}
	for i, c := range a.Conv {
		if len(c.Weight) == 0 {
			return nil, fmt.Errorf("conv %d: no output channels", i)
		}
		if len(c.Bias) != len(c.Weight) {
			return nil, fmt.Errorf("conv %d: %d biases for %d output channels", i, len(c.Bias), len(c.Weight))
		}
		if c.Padding < 0 || c.Pool < 0 {
			return nil, fmt.Errorf("conv %d: negative padding or pool", i)
		}
		kernel := -1
		for o, w := range c.Weight {
			if len(w) != channels {
				return nil, fmt.Errorf("conv %d: output %d has %d input channels, want %d", i, o, len(w), channels)
			}
			for _, k := range w {
				if kernel == -1 {
					kernel = len(k)
				}
				if len(k) == 0 || len(k) != kernel {
					return nil, fmt.Errorf("conv %d: inconsistent kernel width", i)
				}
			}
		}
		length = length + 2*c.Padding - kernel + 1
		if c.Pool > 1 {
			length /= c.Pool
		}
		if length < 1 {
			return nil, fmt.Errorf("conv %d: sequence shrinks to %d", i, length)
		}
		channels = len(c.Weight)
	}

	if len(a.Dense) == 0 {
		return nil, errors.New("no dense layers")
	}
	width := channels
	for i, d := range a.Dense {
		if len(d.Weight) == 0 || len(d.Bias) != len(d.Weight) {
			return nil, fmt.Errorf("dense %d: %d biases for %d outputs", i, len(d.Bias), len(d.Weight))
		}
		for o, w := range d.Weight {
			if len(w) != width {
				return nil, fmt.Errorf("dense %d: output %d has %d inputs, want %d", i, o, len(w), width)
			}
		}
		width = len(d.Weight)
	}
	if width != 1 {
		return nil, fmt.Errorf("final layer has %d outputs, want 1", width)
	}

	return &Network{a: a, dim: dim}, nil
}

// Name identifies the classifier in results and logs.
func (n *Network) Name() string { return "cnn" }

// VocabSize returns the number of embedding rows.
func (n *Network) VocabSize() int { return n.a.VocabSize }

// MaxLen returns the sequence length the network expects.
func (n *Network) MaxLen() int { return n.a.MaxLen }

// Predict returns the sigmoid of the network's logit for in.Sequence.
func (n *Network) Predict(in *model.Input) (float64, error) {
	seq := in.Sequence
	if len(seq) != n.a.MaxLen {
		return 0, fmt.Errorf("sequence length %d, want %d", len(seq), n.a.MaxLen)
	}
	for i, id := range seq {
		if id < 0 || id >= n.a.VocabSize {
			return 0, fmt.Errorf("token %d at position %d outside vocabulary", id, i)
		}
	}

	x := n.embed(seq)
	for _, c := range n.a.Conv {
		x = conv1d(x, c)
		relu2(x)
		if c.Pool > 1 {
			x = maxPool(x, c.Pool)
		}
	}
	h := globalPool(x, n.a.Pooling)
	for i, d := range n.a.Dense {
		h = dense(h, d)
		if i < len(n.a.Dense)-1 {
			relu(h)
		}
	}
	p := sigmoid(h[0])
	if math.IsNaN(p) {
		return 0, errors.New("network produced NaN")
	}
	return p, nil
}

// embed returns the [channel][time] activation for seq.
func (n *Network) embed(seq []int) [][]float64 {
	x := make([][]float64, n.dim)
	for c := range x {
		x[c] = make([]float64, len(seq))
	}
	for t, id := range seq {
		row := n.a.Embedding[id]
		for c := 0; c < n.dim; c++ {
			x[c][t] = row[c]
		}
	}
	return x
}

func conv1d(x [][]float64, c ConvLayer) [][]float64 {
	length := len(x[0])
	kernel := len(c.Weight[0][0])
	outLen := length + 2*c.Padding - kernel + 1
	out := make([][]float64, len(c.Weight))
	for o, w := range c.Weight {
		row := make([]float64, outLen)
		for t := 0; t < outLen; t++ {
			sum := c.Bias[o]
			for i, wi := range w {
				xi := x[i]
				for k, wk := range wi {
					pos := t + k - c.Padding
					if pos < 0 || pos >= length {
						continue
					}
					sum += wk * xi[pos]
				}
			}
			row[t] = sum
		}
		out[o] = row
	}
	return out
}

func maxPool(x [][]float64, width int) [][]float64 {
	outLen := len(x[0]) / width
	out := make([][]float64, len(x))
	for c, row := range x {
		pooled := make([]float64, outLen)
		for t := 0; t < outLen; t++ {
			m := row[t*width]
			for _, v := range row[t*width+1 : (t+1)*width] {
				if v > m {
					m = v
				}
			}
			pooled[t] = m
		}
		out[c] = pooled
	}
	return out
}

func globalPool(x [][]float64, mode string) []float64 {
	out := make([]float64, len(x))
	for c, row := range x {
		switch mode {
		case PoolMean:
			var sum float64
			for _, v := range row {
				sum += v
			}
			out[c] = sum / float64(len(row))
		default:
			m := row[0]
			for _, v := range row[1:] {
				if v > m {
					m = v
				}
			}
			out[c] = m
		}
	}
	return out
}

func dense(h []float64, d DenseLayer) []float64 {
	out := make([]float64, len(d.Weight))
	for o, w := range d.Weight {
		sum := d.Bias[o]
		for i, v := range h {
			sum += w[i] * v
		}
		out[o] = sum
	}
	return out
}

func relu(v []float64) {
	for i, x := range v {
		if x < 0 {
			v[i] = 0
		}
	}
}

func relu2(x [][]float64) {
	for _, row := range x {
		relu(row)
	}
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
