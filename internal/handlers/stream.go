package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/veil-waf/phishguard/internal/db"
	"github.com/veil-waf/phishguard/internal/sse"
)

// StreamHandler serves SSE streams of live scores.
type StreamHandler struct {
	hub       *sse.Hub
	store     db.Store
	keepalive time.Duration
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(hub *sse.Hub, store db.Store) *StreamHandler {
	return &StreamHandler{hub: hub, store: store, keepalive: 30 * time.Second}
}

// HandleSSE handles GET /api/stream/events?verdict=V
// It sends an initial hydration payload of stats and recent scores, then
// streams live score events with periodic keepalives. Without a verdict
// every score is streamed.
func (sh *StreamHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	topic := sse.TopicAll
	filter := db.ScoreFilter{Limit: 20}
	if v := strings.ToUpper(r.URL.Query().Get("verdict")); v != "" {
		switch v {
		case db.VerdictSafe, db.VerdictSuspicious, db.VerdictPhishing:
			topic = v
			filter.Verdict = v
		default:
			jsonError(w, "invalid verdict", http.StatusBadRequest)
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Subscribe before hydrating so nothing recorded in between is lost.
	ch, cancel := sh.hub.Subscribe(topic)
	defer cancel()

	if sh.store != nil {
		if stats, err := sh.store.Stats(r.Context()); err == nil {
			data, _ := json.Marshal(stats)
			fmt.Fprintf(w, "event: stats\ndata: %s\n\n", data)
		}
		recent, _ := sh.store.RecentScores(r.Context(), filter)
		for i := len(recent) - 1; i >= 0; i-- {
			data, _ := json.Marshal(recent[i])
			fmt.Fprintf(w, "event: score\ndata: %s\n\n", data)
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(sh.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, event.Data)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
