package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/dsearch/internal/app"
	"github.com/kailas-cloud/dsearch/internal/config"
	logpkg "github.com/kailas-cloud/dsearch/internal/logger"
	chiTransport "github.com/kailas-cloud/dsearch/internal/transport/chi"
	mcpTransport "github.com/kailas-cloud/dsearch/internal/transport/mcp"
	scheduleruc "github.com/kailas-cloud/dsearch/internal/usecase/scheduler"
	"github.com/kailas-cloud/dsearch/internal/version"
)

// modelLoadWait bounds the background retries of the first model load.
const modelLoadWait = 10 * time.Minute

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting dsearch API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("vector_backend", cfg.Vector.Backend),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("fusion", cfg.Fusion.Method),
	)
	if d := cfg.Defaulted(); len(d) > 0 {
		logger.Info("Configuration defaults applied", zap.Strings("keys", d))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build application", zap.Error(err))
	}

	if err := a.EnsureIndexes(ctx); err != nil {
		logger.Fatal("Failed to ensure indexes", zap.Error(err))
	}

	// The server starts degraded when the model is unreachable and keeps
	// probing in the background; lexical search works meanwhile.
	if err := a.Embedding.Load(ctx); err != nil {
		logger.Warn("Embedding model not loaded, retrying in background", zap.Error(err))
		go func() {
			if err := a.LoadModel(ctx, modelLoadWait); err != nil {
				logger.Error("Embedding model unavailable", zap.Error(err))
			}
		}()
	}

	if n, err := a.Ingest.RecoverInterrupted(ctx); err != nil {
		logger.Error("Failed to recover interrupted jobs", zap.Error(err))
	} else if n > 0 {
		logger.Warn("Marked interrupted jobs as failed", zap.Int("count", n))
	}

	svc := chiTransport.Services{
		Search:    a.Search,
		Ingest:    a.Ingest,
		Documents: a.Lexical,
		Cache:     a.Cache,
		Health:    a.Health,
	}
	// Optional services stay nil interfaces when switched off.
	var runner *scheduleruc.Runner
	if cfg.Scheduler.Enabled {
		runner = scheduleruc.New(logger)
		if err := a.RegisterJobs(runner); err != nil {
			logger.Fatal("Failed to register scheduled jobs", zap.Error(err))
		}
		runner.Start(ctx)
		svc.Scheduler = runner
	}
	if a.Augment.Enabled() {
		svc.Augment = a.Augment
	}

	var mcpHandler http.Handler
	if cfg.MCP.Enabled {
		mcpHandler = mcpTransport.NewServer(a.Search, a.Ingest, cfg.Search.MaxLimit, logger).Handler()
	}

	server := chiTransport.NewServer(svc, chiTransport.Config{
		DefaultLimit: cfg.Search.DefaultLimit,
		MaxLimit:     cfg.Search.MaxLimit,
	}, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      chiTransport.NewRouter(server, mcpHandler, logger),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	if runner != nil {
		runner.Stop()
	}
	if err := a.Close(shutdownCtx); err != nil {
		logger.Error("Error while draining ingestion", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}
