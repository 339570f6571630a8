// Honeypot - scam engagement and intelligence extraction server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/honeypot/internal/agent"
	"github.com/ashureev/honeypot/internal/api"
	"github.com/ashureev/honeypot/internal/config"
	"github.com/ashureev/honeypot/internal/domain"
	"github.com/ashureev/honeypot/internal/engine"
	"github.com/ashureev/honeypot/internal/intel"
	"github.com/ashureev/honeypot/internal/live"
	"github.com/ashureev/honeypot/internal/middleware"
	"github.com/ashureev/honeypot/internal/report"
	"github.com/ashureev/honeypot/internal/session"
	"github.com/ashureev/honeypot/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "provider", cfg.Agent.Provider)

	// Report ledger (optional).
	var (
		repo   store.Repository
		ledger report.Ledger
	)
	if cfg.DBPath != "" {
		db, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				slog.Error("Failed to close repository", "error", closeErr)
			}
		}()
		if err := db.Ping(context.Background()); err != nil {
			slog.Error("Database health check failed", "error", err)
			os.Exit(1)
		}
		repo, ledger = db, db
		slog.Info("Report ledger connected", "path", cfg.DBPath)
	} else {
		slog.Info("Report ledger disabled (DB_PATH empty)")
	}

	rules, err := intel.LoadRules(cfg.RulesPath)
	if err != nil {
		slog.Error("Failed to load extractor rules", "error", err, "path", cfg.RulesPath)
		os.Exit(1)
	}
	extractor := intel.New(rules)

	backend, err := agent.NewBackend(cfg.Agent, extractor, logger)
	if err != nil {
		slog.Warn("Model provider unavailable, falling back to offline rules", "provider", cfg.Agent.Provider, "error", err)
		backend = agent.NewOfflineBackend(extractor)
	}
	defer backend.Close()

	var agentHealth api.HealthChecker
	if gc, ok := backend.(*agent.GrpcClient); ok {
		agentHealth = gc
	}

	conversationLogger, err := agent.NewConversationLogger(cfg.ConversationLog, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Warn("Failed to close conversation logger", "error", closeErr)
		}
	}()

	var reporter report.Reporter = report.NewLogReporter(logger)
	if cfg.Report.CallbackURL != "" {
		headers := map[string]string{}
		if cfg.Report.APIKey != "" {
			headers[middleware.APIKeyHeader] = cfg.Report.APIKey
		}
		webhook, err := report.NewWebhookReporter(cfg.Report.CallbackURL, headers, cfg.Report.Timeout)
		if err != nil {
			slog.Error("Failed to initialize report webhook", "error", err)
			os.Exit(1)
		}
		reporter = webhook
	}

	hub := live.NewHub(0, logger)
	dispatcher := report.NewDispatcher(reporter, ledger, report.DispatcherConfig{
		Workers:   cfg.Report.Workers,
		QueueSize: cfg.Report.QueueSize,
		Timeout:   cfg.Report.Timeout,
	}, func(rec domain.ReportRecord) {
		hub.Publish(domain.Event{
			Type:      domain.EventReported,
			SessionID: rec.SessionID,
			ReportID:  rec.ID,
			Status:    rec.Status,
			At:        rec.CompletedAt,
		})
	}, logger)

	// Initialize services.
	sessions := session.NewStore(session.WithLogger(logger))
	gate := report.NewGate(report.Policy{MinTurns: cfg.MinReportTurns}, sessions, logger)
	svc := agent.NewService(backend, backend, cfg.Agent, logger)
	eng := engine.New(sessions, extractor, svc, gate, dispatcher,
		engine.WithLogger(logger),
		engine.WithConversationLogger(conversationLogger),
		engine.WithPublisher(hub),
		engine.WithMaxConcurrentCalls(cfg.MaxConcurrentLLMCalls),
	)

	// Initialize handlers.
	apiHandler := api.NewHandler(eng, sessions, repo, cfg.MaxRequestBytes, logger)
	healthHandler := api.NewHealthHandler(sessions, repo, dispatcher, agentHealth)
	wsHandler := live.NewHandler(hub, cfg.AllowedOrigins, cfg.IsDevelopment(), logger)
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	defer rateLimiter.Stop()

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKey(cfg.APIKey))
		r.Use(rateLimiter.Middleware)
		healthHandler.RegisterHealth(r)
		apiHandler.RegisterRoutes(r)
	})

	// WebSocket endpoint.
	r.With(middleware.APIKey(cfg.APIKey)).Get("/ws/sessions", wsHandler.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket feed connections are long-lived
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeperDone := session.StartSweeper(ctx, sessions, cfg.SweepInterval, cfg.SessionIdleTTL, func(id string) {
		conversationLogger.Log(agent.ConversationLogEvent{
			SessionID: id,
			Channel:   "sweeper",
			Direction: "internal",
			EventType: "session_evicted",
		})
	})
	slog.Info("Session sweeper started", "idle_ttl", cfg.SessionIdleTTL)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		slog.Warn("Report queue not fully drained", "error", err)
	}
	<-sweeperDone

	slog.Info("Server stopped successfully")
}
