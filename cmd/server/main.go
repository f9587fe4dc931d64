package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/brightwell/donorhub/internal/api"
	"github.com/brightwell/donorhub/internal/audit"
	"github.com/brightwell/donorhub/internal/config"
	"github.com/brightwell/donorhub/internal/dedup"
	"github.com/brightwell/donorhub/internal/importer"
	"github.com/brightwell/donorhub/internal/pkg/distlock"
	"github.com/brightwell/donorhub/internal/pkg/logger"
	"github.com/brightwell/donorhub/internal/repository/postgres"
	"github.com/brightwell/donorhub/internal/segment"
)

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	configureLogging(cfg.Logging)
	logger.Info("starting donorhub server", "host", cfg.Server.Host, "port", cfg.Server.Port)

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("failed to open database", "error", err.Error())
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifeMins) * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		logger.Error("database ping failed", "error", err.Error())
		os.Exit(1)
	}
	pingCancel()
	logger.Info("database connected")

	// Redis backs the live progress mirror. The importer works without
	// it; progress reads just fall back to the job record.
	var redisClient *redis.Client
	var progressCache *importer.ProgressCache
	rc := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, pingCancel = context.WithTimeout(context.Background(), 3*time.Second)
	if err := rc.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, live progress disabled", "addr", cfg.Redis.Addr, "error", err.Error())
		rc.Close()
	} else {
		redisClient = rc
		progressCache = importer.NewProgressCache(redisClient)
		logger.Info("redis connected", "addr", cfg.Redis.Addr)
	}
	pingCancel()

	if err := os.MkdirAll(cfg.Import.UploadDir, 0o755); err != nil {
		logger.Error("failed to create upload dir", "dir", cfg.Import.UploadDir, "error", err.Error())
		os.Exit(1)
	}

	donorRepo := postgres.NewDonorRepo(db)
	jobRepo := postgres.NewImportJobRepo(db)
	segmentStore := segment.NewStore(db)
	auditSink := audit.NewPostgresSink(db)

	detector := dedup.NewDetector(donorRepo, dedup.Options{
		PoolLimit:  cfg.Dedup.PoolLimit,
		MaxResults: cfg.Dedup.MaxResults,
	})

	orchestrator := importer.NewOrchestrator(
		jobRepo, donorRepo, detector, &importer.FormatParser{}, auditSink, progressCache,
		importer.Options{
			BatchSize:        cfg.Import.BatchSize,
			MaxErrors:        cfg.Import.MaxErrors,
			MaxWarnings:      cfg.Import.MaxWarnings,
			MaxBatchFailures: cfg.Import.MaxBatchFailures,
		})
	orchestrator.SetLockFactory(distlock.NewFactory(redisClient, db, time.Hour))

	router := api.NewRouter(api.Deps{
		Orchestrator: orchestrator,
		Jobs:         jobRepo,
		Progress:     progressCache,
		Donors:       donorRepo,
		Segments:     segmentStore,
		Detector:     detector,
		UploadDir:    cfg.Import.UploadDir,
	})

	srv := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout(),
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err.Error())
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err.Error())
	}

	// Let in-flight import jobs reach a batch boundary and persist.
	orchestrator.Wait()

	if redisClient != nil {
		redisClient.Close()
	}
	db.Close()
	logger.Info("server stopped")
}

func configureLogging(cfg config.LoggingConfig) {
	switch cfg.Level {
	case "debug":
		logger.SetLevel(logger.DEBUG)
	case "warn":
		logger.SetLevel(logger.WARN)
	case "error":
		logger.SetLevel(logger.ERROR)
	default:
		logger.SetLevel(logger.INFO)
	}
	if cfg.RedactPII != nil {
		logger.SetRedactPII(*cfg.RedactPII)
	}
}
