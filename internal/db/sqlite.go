package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite stores score history in a local SQLite file.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLite)(nil)

// sqlitePragmas are applied to every pooled connection through the DSN.
var sqlitePragmas = []string{
	"foreign_keys(1)",
	"journal_mode(WAL)",
	"busy_timeout(10000)",
	"synchronous(NORMAL)",
}

// OpenSQLite opens (creating if needed) the database at path and migrates it.
// path ":memory:" opens a private in-memory database on a single connection.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLite, error) {
	memory := path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: mkdir: %w", err)
		}
	}

	q := url.Values{}
	for _, p := range sqlitePragmas {
		q.Add("_pragma", p)
	}
	dsn := "file:" + path + "?" + q.Encode()

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if memory {
		// Each connection to :memory: is a separate database.
		conn.SetMaxOpenConns(1)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	s := &SQLite{db: conn, logger: logger}
	if err := s.migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	schema, err := migrations.ReadFile("migrations/sqlite/001_init.sql")
	if err != nil {
		return fmt.Errorf("sqlite: read migration: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, string(schema)); err != nil {
		return fmt.Errorf("sqlite: exec migration: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Warn("sqlite: close failed", "err", err)
	}
}

// PingContext checks the database connection.
func (s *SQLite) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertScore inserts a scoring outcome.
func (s *SQLite) InsertScore(ctx context.Context, r *ScoreRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	var reachable any
	if r.Reachable != nil {
		reachable = boolInt(*r.Reachable)
	}
	var sourceIP any
	if r.SourceIP != "" {
		sourceIP = r.SourceIP
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO score_log (id, created_at_ms, url, rf_score, cnn_score, fused_score, label, verdict, model_version, reachable, source, source_ip, response_time_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CreatedAt.UnixMilli(), r.URL, r.RFScore, r.CNNScore, r.FusedScore, r.Label, r.Verdict,
		r.ModelVersion, reachable, sourceOrDefault(r.Source), sourceIP, r.ResponseTimeMs)
	return err
}

// InsertUnreachable records a request that was not scored.
func (s *SQLite) InsertUnreachable(ctx context.Context, r *UnreachableRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO unreachable_log (id, created_at_ms, url, status_code, error, source, source_ip)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CreatedAt.UnixMilli(), r.URL, nullInt(r.StatusCode), nullString(r.Error),
		sourceOrDefault(r.Source), nullString(r.SourceIP))
	return err
}

func nullInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

const sqliteColumns = `id, created_at_ms, url, rf_score, cnn_score, fused_score, label, verdict, model_version, reachable, source, source_ip, response_time_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteScore(row rowScanner) (*ScoreRecord, error) {
	var r ScoreRecord
	var createdMs int64
	var reachable sql.NullInt64
	var sourceIP sql.NullString
	if err := row.Scan(&r.ID, &createdMs, &r.URL, &r.RFScore, &r.CNNScore, &r.FusedScore, &r.Label,
		&r.Verdict, &r.ModelVersion, &reachable, &r.Source, &sourceIP, &r.ResponseTimeMs); err != nil {
		return nil, err
	}
	r.CreatedAt = time.UnixMilli(createdMs).UTC()
	if reachable.Valid {
		b := reachable.Int64 != 0
		r.Reachable = &b
	}
	r.SourceIP = sourceIP.String
	return &r, nil
}

// GetScore retrieves a score by id.
func (s *SQLite) GetScore(ctx context.Context, id string) (*ScoreRecord, error) {
	r, err := scanSQLiteScore(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM score_log WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// RecentScores returns the newest scores, optionally filtered by verdict.
func (s *SQLite) RecentScores(ctx context.Context, f ScoreFilter) ([]ScoreRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteColumns+` FROM score_log
		 WHERE (?1 = '' OR verdict = ?1)
		 ORDER BY created_at_ms DESC, rowid DESC LIMIT ?2`, f.Verdict, clampLimit(f.Limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ScoreRecord
	for rows.Next() {
		r, err := scanSQLiteScore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats returns aggregate counts across the whole history.
func (s *SQLite) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT
		    COUNT(*),
		    COALESCE(SUM(verdict = 'SAFE'), 0),
		    COALESCE(SUM(verdict = 'SUSPICIOUS'), 0),
		    COALESCE(SUM(verdict = 'PHISHING'), 0),
		    (SELECT COUNT(*) FROM unreachable_log),
		    COALESCE(AVG(fused_score), 0),
		    COALESCE(AVG(response_time_ms), 0)
		 FROM score_log`,
	).Scan(&st.Total, &st.Safe, &st.Suspicious, &st.Phishing, &st.Unreachable, &st.AvgFusedScore, &st.AvgResponseMs)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
