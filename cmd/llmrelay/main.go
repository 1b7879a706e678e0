package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stackbound/llmrelay"
	"github.com/stackbound/llmrelay/internal/health"
	"github.com/stackbound/llmrelay/internal/logging"
	"github.com/stackbound/llmrelay/internal/telemetry"
	"github.com/stackbound/llmrelay/internal/upstream"
	"github.com/stackbound/llmrelay/internal/version"
)

func main() {
	logger := logging.Logger

	cfgPath := os.Getenv("RELAY_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	store, err := llmrelay.NewStore(cfgPath, logger)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := store.Watch(ctx); err != nil {
		logger.Error("failed to start config watcher", "error", err)
		os.Exit(1)
	}

	dsn := os.Getenv("RECORD_DB")
	if dsn == "" {
		dsn = "./record.db"
	}
	var sink upstream.Sink
	records, err := telemetry.Open(dsn, logger)
	if err != nil {
		logger.Error("record store unavailable, telemetry disabled", "error", err)
	} else {
		defer records.Close()
		sink = records
	}

	client := upstream.NewClient()

	if cc := store.Snapshot().CheckConfig; cc != nil && cc.Enabled {
		checker := &health.Checker{Store: store, Client: client, Logger: logger}
		go checker.Run(ctx)
		logger.Info("health checker started", "endpoint", cc.Endpoint, "interval", cc.Interval)
	}

	srv := &server{store: store, client: client, sink: sink, logger: logger}

	var corsOrigins []string
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		corsOrigins = strings.Split(origins, ",")
	}

	addr := ":8080"
	if p := os.Getenv("PORT"); p != "" {
		addr = ":" + p
	}
	httpSrv := &http.Server{
		Addr:        addr,
		Handler:     newRouter(srv, corsOrigins),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	logger.Info("llmrelay listening",
		"version", version.Short(), "addr", addr,
		"providers", len(store.Snapshot().Providers))
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stop()
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// newRouter builds the HTTP router.
func newRouter(s *server, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware)
	r.Use(logging.AccessLog)
	r.Use(corsMiddleware(corsOrigins...))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/v1/models", s.handleModels)

	r.Post("/v1/chat/completions", s.handleChat)
	r.Post("/v1/completions", s.handleCompletion)
	r.Post("/v1/embeddings", s.handleEmbedding)
	r.Post("/v1/rerank", s.handleRerank)
	r.Post("/rerank", s.handleRerank)
	r.Post("/score", s.handleScore)
	r.Post("/classify", s.handleClassify)

	r.Post("/v1/audio/transcriptions", s.handleAudio("audio/transcriptions"))
	r.Post("/v1/audio/translations", s.handleAudio("audio/translations"))

	return r
}
