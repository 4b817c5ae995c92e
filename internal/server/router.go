package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/veil-waf/phishguard/internal/auth"
	"github.com/veil-waf/phishguard/internal/handlers"
	"github.com/veil-waf/phishguard/internal/ratelimit"
	"github.com/veil-waf/phishguard/internal/ws"
)

// Routes holds the handlers mounted by NewRouter. WS, Keys and Limiter may
// be nil.
type Routes struct {
	Score   *handlers.ScoreHandler
	History *handlers.HistoryHandler
	Stream  *handlers.StreamHandler
	Health  *handlers.HealthHandler
	WS      *ws.Manager
	Keys    *auth.Keys
	Limiter *ratelimit.Limiter
}

// NewRouter builds the HTTP API.
func NewRouter(rt Routes) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(corsMiddleware)

	// Health checks
	r.Get("/ping", rt.Health.Ping)
	r.Get("/healthz", rt.Health.Healthz)

	// Scoring (rate limited, no auth; the extension posts anonymously)
	r.Post("/predict", rt.Score.Predict)
	r.Post("/v1/score", rt.Score.Score)

	if rt.WS != nil {
		r.Get("/ws", rt.WS.HandleWS)
	}

	// History and live feed (API key when configured)
	r.Route("/api", func(api chi.Router) {
		api.Use(auth.RequireAPIKey(rt.Keys))
		if rt.Limiter != nil {
			api.Use(rt.Limiter.Middleware("api"))
		}

		api.Get("/scores", rt.History.ListScores)
		api.Get("/scores/{id}", rt.History.GetScore)
		api.Get("/stats", rt.History.Stats)
		api.Get("/stream/events", rt.Stream.HandleSSE)
	})
	return r
}

// corsMiddleware lets browser extensions and dashboards on other origins
// call the API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
