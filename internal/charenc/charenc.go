// Package charenc maps URL strings to the fixed-length integer sequences the
// character CNN consumes.
//
// The encoding policy (alphabet, case handling, padding side, truncation side,
// length) is part of the model contract. A sequence model trained under one
// policy silently loses accuracy when fed sequences built under another, so
// the policy travels with the weights (see internal/bundle) and anything that
// deviates from it is rejected at load time.
package charenc

import (
	"fmt"
	"unicode"
)

// Reserved ids.
const (
	PAD = 0
	UNK = 1
)

// DefaultMaxLen is the sequence length the sequence classifier is built for.
const DefaultMaxLen = 200

// DefaultAlphabet is printable ASCII from '!' to '~'; ids start at 2.
const DefaultAlphabet = "!\"#$%&'()*+,-./0123456789:;<=>?@ABCDEFGHIJKLMNOPQRSTUVWXYZ[\\]^_`abcdefghijklmnopqrstuvwxyz{|}~"

// Padding and truncation sides. Only PadRight and TruncateKeepPrefix are
// implemented; they are declared so manifests can state them explicitly.
const (
	PadRight           = "right"
	TruncateKeepPrefix = "keep_prefix"
)

// VersionV1 names PolicyV1. It is the only version this package encodes.
const VersionV1 = "charenc/v1"

// PolicyV1 is the encoding the shipped sequence model was trained under.
var PolicyV1 = Policy{
	Version:   VersionV1,
	Alphabet:  DefaultAlphabet,
	Lowercase: false,
	MaxLen:    DefaultMaxLen,
	Pad:       PadRight,
	Truncate:  TruncateKeepPrefix,
}

// Policy pins every knob of the encoding.
type Policy struct {
	Version   string `yaml:"policy" json:"policy"`
	Alphabet  string `yaml:"alphabet" json:"alphabet"`
	Lowercase bool   `yaml:"lowercase" json:"lowercase"`
	MaxLen    int    `yaml:"max_len" json:"max_len"`
	Pad       string `yaml:"pad" json:"pad"`
	Truncate  string `yaml:"truncate" json:"truncate"`
}

// Validate rejects policies this package cannot reproduce.
func (p Policy) Validate() error {
	if p.Version != VersionV1 {
		return fmt.Errorf("charenc: unknown policy %q (want %q)", p.Version, VersionV1)
	}
	if p.MaxLen <= 0 {
		return fmt.Errorf("charenc: max_len must be positive, got %d", p.MaxLen)
	}
	if p.Pad != PadRight {
		return fmt.Errorf("charenc: unsupported pad side %q (want %q)", p.Pad, PadRight)
	}
	if p.Truncate != TruncateKeepPrefix {
		return fmt.Errorf("charenc: unsupported truncation %q (want %q)", p.Truncate, TruncateKeepPrefix)
	}
	if p.Alphabet == "" {
		return fmt.Errorf("charenc: empty alphabet")
	}
	seen := make(map[rune]bool, len(p.Alphabet))
	for _, r := range p.Alphabet {
		if seen[r] {
			return fmt.Errorf("charenc: duplicate character %q in alphabet", r)
		}
		if p.Lowercase && unicode.IsUpper(r) {
			return fmt.Errorf("charenc: uppercase %q in alphabet of a lowercasing policy", r)
		}
		seen[r] = true
	}
	return nil
}

// Vocabulary is a closed rune → id mapping with reserved PAD and UNK ids.
type Vocabulary struct {
	ids  map[rune]int
	size int
}

// NewVocabulary assigns ids 2.. to the runes of alphabet in order.
func NewVocabulary(alphabet string) *Vocabulary {
	v := &Vocabulary{ids: make(map[rune]int, len(alphabet)), size: 2}
	for _, r := range alphabet {
		if _, dup := v.ids[r]; dup {
			continue
		}
		v.ids[r] = v.size
		v.size++
	}
	return v
}

// ID returns the id of r, or UNK.
func (v *Vocabulary) ID(r rune) int {
	if id, ok := v.ids[r]; ok {
		return id
	}
	return UNK
}

// Size is the number of ids including PAD and UNK. It must equal the
// embedding table size of the sequence model.
func (v *Vocabulary) Size() int { return v.size }

// Encoder applies a Policy. It is immutable and safe for concurrent use.
type Encoder struct {
	policy Policy
	vocab  *Vocabulary
}

// New builds an Encoder for p.
func New(p Policy) (*Encoder, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Encoder{policy: p, vocab: NewVocabulary(p.Alphabet)}, nil
}

// Default returns the PolicyV1 encoder.
func Default() *Encoder {
	e, err := New(PolicyV1)
	if err != nil {
		panic(err)
	}
	return e
}

// Policy returns the policy the encoder was built with.
func (e *Encoder) Policy() Policy { return e.policy }

// Vocabulary returns the encoder's vocabulary.
func (e *Encoder) Vocabulary() *Vocabulary { return e.vocab }

// MaxLen is the fixed output length.
func (e *Encoder) MaxLen() int { return e.policy.MaxLen }

// Encode returns exactly MaxLen ids: one per character of raw (code points,
// unknown ones as UNK), cut to the first MaxLen characters and right-padded
// with PAD.
func (e *Encoder) Encode(raw string) []int {
	seq := make([]int, e.policy.MaxLen) // PAD is 0
	i := 0
	for _, r := range raw {
		if i == len(seq) {
			break
		}
		if e.policy.Lowercase {
			r = unicode.ToLower(r)
		}
		seq[i] = e.vocab.ID(r)
		i++
	}
	return seq
}
