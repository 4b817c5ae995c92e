package sse

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ScoreChannel is the PostgreSQL NOTIFY channel the score_log trigger uses.
const ScoreChannel = "score_stream"

// PGListener subscribes to PostgreSQL NOTIFY and fans notifications out to
// the SSE hub, so every replica streams scores recorded by any replica.
type PGListener struct {
	pool   *pgxpool.Pool
	hub    *Hub
	logger *slog.Logger
}

// NewPGListener creates a new PGListener that bridges PostgreSQL notifications to SSE.
func NewPGListener(pool *pgxpool.Pool, hub *Hub, logger *slog.Logger) *PGListener {
	return &PGListener{pool: pool, hub: hub, logger: logger}
}

// Listen subscribes to the score channel and fans out to the SSE hub.
// It blocks until ctx is cancelled or an error occurs.
// It should be run inside RunWithRecovery so it auto-restarts on failure.
func (pl *PGListener) Listen(ctx context.Context) {
	conn, err := pl.pool.Acquire(ctx)
	if err != nil {
		pl.logger.Error("pg-listen: acquire connection failed", "err", err)
		return
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+ScoreChannel); err != nil {
		pl.logger.Error("pg-listen: LISTEN failed", "channel", ScoreChannel, "err", err)
		return
	}
	pl.logger.Info("pg-listen: subscribed", "channel", ScoreChannel)

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // graceful shutdown
			}
			pl.logger.Error("pg-listen: notification error", "err", err)
			return // RunWithRecovery will reconnect
		}
		pl.dispatch([]byte(notification.Payload))
	}
}

func (pl *PGListener) dispatch(payload []byte) {
	var head struct {
		Verdict string `json:"verdict"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		pl.logger.Warn("pg-listen: unmarshal payload failed", "err", err)
		return
	}
	pl.hub.PublishScore(head.Verdict, payload)
}
