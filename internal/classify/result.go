package classify

import (
	"time"

	"github.com/veil-waf/phishguard/internal/fusion"
)

// Result is the scoring output for one URL.
type Result struct {
	ID             string         `json:"id" yaml:"id"`
	URL            string         `json:"url" yaml:"url"`
	RFScore        float64        `json:"rf_score" yaml:"rf_score"`
	CNNScore       float64        `json:"cnn_score" yaml:"cnn_score"`
	FusedScore     float64        `json:"fused_score" yaml:"fused_score"`
	Label          int            `json:"label" yaml:"label"`
	Verdict        fusion.Verdict `json:"verdict" yaml:"verdict"`
	ModelVersion   string         `json:"model_version" yaml:"model_version"`
	ResponseTimeMs float64        `json:"response_time_ms,omitempty" yaml:"response_time_ms,omitempty"`
	Reachable      *bool          `json:"reachable,omitempty" yaml:"reachable,omitempty"`
	ScoredAt       time.Time      `json:"scored_at" yaml:"scored_at"`
	Cached         bool           `json:"cached,omitempty" yaml:"cached,omitempty"`
}

// Phishing reports whether the verdict is the top tier.
func (r *Result) Phishing() bool { return r.Verdict == fusion.Phishing }
