package db

import (
	"context"
	"time"
)

// ScoreRecord is one persisted scoring outcome.
type ScoreRecord struct {
	ID             string    `json:"id" yaml:"id"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
	URL            string    `json:"url" yaml:"url"`
	RFScore        float64   `json:"rf_score" yaml:"rf_score"`
	CNNScore       float64   `json:"cnn_score" yaml:"cnn_score"`
	FusedScore     float64   `json:"fused_score" yaml:"fused_score"`
	Label          int       `json:"label" yaml:"label"`
	Verdict        string    `json:"verdict" yaml:"verdict"`
	ModelVersion   string    `json:"model_version" yaml:"model_version"`
	Reachable      *bool     `json:"reachable,omitempty" yaml:"reachable,omitempty"`
	Source         string    `json:"source" yaml:"source"`
	SourceIP       string    `json:"source_ip,omitempty" yaml:"source_ip,omitempty"`
	ResponseTimeMs float64   `json:"response_time_ms" yaml:"response_time_ms"`
}

// UnreachableRecord is a request the reachability gate refused to score.
type UnreachableRecord struct {
	ID         string    `json:"id" yaml:"id"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
	URL        string    `json:"url" yaml:"url"`
	StatusCode int       `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
	Source     string    `json:"source" yaml:"source"`
	SourceIP   string    `json:"source_ip,omitempty" yaml:"source_ip,omitempty"`
}

// Stats aggregates the score history. Unreachable counts gated-out requests,
// which are not part of Total.
type Stats struct {
	Total         int64   `json:"total" yaml:"total"`
	Safe          int64   `json:"safe" yaml:"safe"`
	Suspicious    int64   `json:"suspicious" yaml:"suspicious"`
	Phishing      int64   `json:"phishing" yaml:"phishing"`
	Unreachable   int64   `json:"unreachable" yaml:"unreachable"`
	AvgFusedScore float64 `json:"avg_fused_score" yaml:"avg_fused_score"`
	AvgResponseMs float64 `json:"avg_response_ms" yaml:"avg_response_ms"`
}

// ScoreFilter narrows RecentScores.
type ScoreFilter struct {
	Limit   int
	Verdict string
}

// Store persists score history. Postgres backs the server; SQLite backs the
// CLI, single-node deployments and tests.
type Store interface {
	InsertScore(ctx context.Context, r *ScoreRecord) error
	InsertUnreachable(ctx context.Context, r *UnreachableRecord) error
	GetScore(ctx context.Context, id string) (*ScoreRecord, error)
	RecentScores(ctx context.Context, f ScoreFilter) ([]ScoreRecord, error)
	Stats(ctx context.Context) (*Stats, error)
	PingContext(ctx context.Context) error
	Close()
}

// Verdict values stored in the verdict column.
const (
	VerdictSafe       = "SAFE"
	VerdictSuspicious = "SUSPICIOUS"
	VerdictPhishing   = "PHISHING"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

func clampLimit(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}
