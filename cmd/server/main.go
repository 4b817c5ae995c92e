package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veil-waf/phishguard/internal/auth"
	"github.com/veil-waf/phishguard/internal/bundle"
	"github.com/veil-waf/phishguard/internal/cache"
	"github.com/veil-waf/phishguard/internal/classify"
	"github.com/veil-waf/phishguard/internal/config"
	"github.com/veil-waf/phishguard/internal/db"
	"github.com/veil-waf/phishguard/internal/handlers"
	"github.com/veil-waf/phishguard/internal/ratelimit"
	"github.com/veil-waf/phishguard/internal/reach"
	"github.com/veil-waf/phishguard/internal/scoring"
	"github.com/veil-waf/phishguard/internal/server"
	"github.com/veil-waf/phishguard/internal/sse"
	phishtls "github.com/veil-waf/phishguard/internal/tls"
	"github.com/veil-waf/phishguard/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := server.SetupLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Models. Any load or schema problem is fatal.
	models, err := bundle.Load(cfg.ModelDir, logger)
	if err != nil {
		logger.Error("failed to load model bundle", "dir", cfg.ModelDir, "err", err)
		os.Exit(1)
	}
	pipeline, err := classify.NewPipeline(models, logger)
	if err != nil {
		logger.Error("model bundle failed startup probe", "err", err)
		os.Exit(1)
	}

	sseHub := sse.NewHub(logger)

	// Score history. With Postgres the score_log trigger feeds the hub
	// through LISTEN/NOTIFY; with SQLite the scorer publishes directly.
	var (
		store      db.Store
		publishHub *sse.Hub
		pgDB       *db.DB
	)
	if cfg.DatabaseURL != "" {
		pgDB, err = db.Connect(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Error("failed to connect to database", "err", err)
			os.Exit(1)
		}
		store = pgDB
	} else {
		lite, err := db.OpenSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			logger.Error("failed to open sqlite store", "path", cfg.SQLitePath, "err", err)
			os.Exit(1)
		}
		store = lite
		publishHub = sseHub
	}
	defer store.Close()

	// Result cache: Redis when configured, in-process otherwise.
	var backend cache.Cache = cache.NewMemory(0)
	if cfg.RedisURL != "" {
		rc, err := cache.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("redis unavailable, using in-process cache", "err", err)
		} else {
			defer rc.Close()
			backend = rc
		}
	}
	scoreCache := cache.NewScoreCache(backend, cfg.CacheTTL, logger)

	checker := reach.New(reach.Options{
		Timeout:      cfg.ReachabilityTimeout,
		AllowPrivate: cfg.AllowPrivateTargets,
		Logger:       logger,
	})

	svc, err := scoring.New(scoring.Options{
		Pipeline:          pipeline,
		Cache:             scoreCache,
		Store:             store,
		Hub:               publishHub,
		Reach:             checker,
		CheckReachability: cfg.ReachabilityCheck,
		Logger:            logger,
	})
	if err != nil {
		logger.Error("failed to build scorer", "err", err)
		os.Exit(1)
	}

	limiter := ratelimit.New()
	wsManager := ws.NewManager(sseHub, store, logger)
	keys := auth.NewKeys(cfg.APIKeys)
	if !keys.Enabled() {
		logger.Warn("API_KEYS not set, history endpoints are open")
	}

	router := server.NewRouter(server.Routes{
		Score:   handlers.NewScoreHandler(svc, limiter, logger),
		History: handlers.NewHistoryHandler(store),
		Stream:  handlers.NewStreamHandler(sseHub, store),
		Health:  handlers.NewHealthHandler(svc.ModelVersion(), store, scoreCache, checker),
		WS:      wsManager,
		Keys:    keys,
		Limiter: limiter,
	})

	// Start background goroutines
	if pgDB != nil {
		pgListener := sse.NewPGListener(pgDB.Pool, sseHub, logger)
		go server.RunWithRecovery(ctx, logger, "pg-listener", pgListener.Listen)
		go server.RunWithRecovery(ctx, logger, "partition-maintenance", pgDB.PartitionLoop)
	}
	go server.RunWithRecovery(ctx, logger, "ws-relay", wsManager.Run)
	go server.RunWithRecovery(ctx, logger, "ratelimit-sweep", limiter.SweepLoop)

	if len(cfg.TLSDomains) > 0 {
		cm := phishtls.NewCertManager(phishtls.Options{
			Domains:    cfg.TLSDomains,
			Email:      cfg.ACMEEmail,
			CertDir:    cfg.CertDir,
			Production: cfg.IsProduction(),
		}, logger)
		go func() {
			if err := cm.Serve(ctx, router); err != nil {
				logger.Error("TLS server failed", "err", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE + WebSocket need unlimited write time
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutdown signal received")
		cancel() // stop background goroutines

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "err", err)
		}
	}()

	logger.Info("server starting",
		"port", cfg.Port,
		"model_version", svc.ModelVersion(),
		"postgres", pgDB != nil,
		"redis", cfg.RedisURL != "",
		"reachability_check", cfg.ReachabilityCheck,
	)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
