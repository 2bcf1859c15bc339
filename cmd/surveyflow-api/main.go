package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"surveyflow/internal/api"
	"surveyflow/internal/auth"
	"surveyflow/internal/branching"
	"surveyflow/internal/config"
	"surveyflow/internal/db"
	"surveyflow/internal/jobs"
	"surveyflow/internal/pubsub"
	"surveyflow/internal/schema"
	"surveyflow/internal/service"
	"surveyflow/internal/ws"
)

func main() {
	cfg := config.Load()

	// Check for goose migrate command
	if len(os.Args) > 1 && os.Args[1] == "goose-migrate" {
		command := ""
		if len(os.Args) > 2 {
			command = os.Args[2]
		}
		if err := runGooseMigrations(cfg, command); err != nil {
			log.Fatalf("Goose migration failed: %v", err)
		}
		os.Exit(0)
	}

	// Check for serve command (default)
	if len(os.Args) > 1 && os.Args[1] != "serve" {
		log.Fatalf("Unknown command: %s (use 'serve' or 'goose-migrate')", os.Args[1])
	}

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	// Database connection
	dbPool, err := db.NewPool(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer dbPool.Close()

	// Redis connection
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	// Pub/sub bus
	bus := pubsub.New(rdb, logger)

	// WebSocket hub for live events
	hub := ws.NewHub(logger)
	hub.SetReplayer(bus.GetStreams())
	bus.SetBroadcaster(hub)
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	// Branching service
	evaluator := branching.NewEvaluator(cfg.PatternCacheSize)
	branchingSvc := service.NewBranchingService(dbPool.Queries, evaluator, bus, logger)
	branchingSvc.SetEventLog(bus.GetStreams())
	branchingSvc.SetRuleImportLimit(cfg.RuleImportMax)

	// Background jobs
	jobServer, jobClient := jobs.NewJobServer(cfg.RedisAddr, cfg.JobConcurrency, bus, logger)
	jobServer.SetValidator(branchingSvc)
	branchingSvc.SetJobClient(service.NewAsynqJobClient(jobClient))
	go func() {
		if err := jobServer.Start(); err != nil {
			logger.Fatal("Job server failed", zap.Error(err))
		}
	}()
	defer jobServer.Stop()

	schemaComp, err := schema.NewCompilerWithCache(16)
	if err != nil {
		logger.Fatal("Failed to load document schemas", zap.Error(err))
	}

	// HTTP router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Mount API routes
	r.Mount("/v1", api.Routes(api.Dependencies{
		Branching:      branchingSvc,
		Schema:         schemaComp,
		JWT:            auth.NewJWTConfig(cfg.JWTSecret),
		Hub:            hub,
		AllowedOrigins: cfg.AllowedOrigins,
		Log:            logger,
	}))

	// Health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}

	// Start server
	logger.Info("Starting server", zap.String("addr", cfg.Addr))
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}
