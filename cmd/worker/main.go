/**
 * Document Verification Worker - Main Entry Point
 *
 * Architecture:
 * - Asynq consumer for document:process and uploads:sweep tasks
 * - OCR pipeline (tesseract TSV or libtesseract) with PDF first-page rasterizing
 * - Field matching, classification and per-type verification rules
 * - Upload slots and processing locks in Redis, committed documents in PostgreSQL
 * - Ops endpoint with Prometheus metrics and health checks
 */

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/educaid/docverify-worker/internal/config"
	"github.com/educaid/docverify-worker/internal/guard"
	"github.com/educaid/docverify-worker/internal/logging"
	"github.com/educaid/docverify-worker/internal/matcher"
	"github.com/educaid/docverify-worker/internal/observability/metrics"
	"github.com/educaid/docverify-worker/internal/processor"
	"github.com/educaid/docverify-worker/internal/queue"
	"github.com/educaid/docverify-worker/internal/registry"
	"github.com/educaid/docverify-worker/internal/storage"
	"github.com/educaid/docverify-worker/internal/upload"
	"github.com/educaid/docverify-worker/internal/verification"
)

const queueName = "docverify"

func main() {
	logger := logging.NewLogger("worker")

	if err := godotenv.Load(); err != nil {
		logger.Warn(".env not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.SetLevel(cfg.LogLevel)

	logger.Info("Document verification worker starting",
		"ocr_engine", cfg.OCREngine,
		"workers", cfg.WorkerConcurrency,
		"upload_root", cfg.UploadRoot)

	reg := registry.Default()
	if cfg.DocumentTypesFile != "" {
		if reg, err = registry.Load(cfg.DocumentTypesFile); err != nil {
			logger.Error("Failed to load document types", "file", cfg.DocumentTypesFile, "error", err)
			os.Exit(1)
		}
	}

	db, err := storage.NewPostgresClient(cfg.DatabaseURL)
	if err != nil {
		logger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("Failed to parse Redis URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpt)
	defer rdb.Close()
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	files, err := storage.NewFileStore(cfg.UploadRoot)
	if err != nil {
		logger.Error("Failed to prepare upload root", "error", err)
		os.Exit(1)
	}

	workerMetrics := metrics.NewWorkerMetrics("docverify-worker")

	extractor, err := processor.NewPipeline(processor.PipelineConfig{
		Engine:        cfg.OCREngine,
		TesseractPath: cfg.TesseractPath,
		PdftoppmPath:  cfg.PdftoppmPath,
		Language:      cfg.OCRLanguage,
		OCRTimeout:    cfg.OCRTimeout,
		AuditFailures: workerMetrics.AuditFailures(),
		Logger:        logger.With("component", "ocr"),
	})
	if err != nil {
		logger.Error("Failed to build OCR pipeline", "error", err)
		os.Exit(1)
	}

	engine := verification.NewEngine(reg, matcher.Default(), verification.Places{
		Municipality: cfg.Municipality,
		Aliases:      cfg.MunicipalityAliases,
	})

	svc, err := upload.NewService(upload.Deps{
		Registry:    reg,
		Slots:       upload.NewRedisSlotStore(rdb, ""),
		Guard:       guard.NewRedisGuard(rdb, "", cfg.LockTTL),
		Files:       files,
		Documents:   db,
		Committer:   storage.NewCommitManager(files, db, logger.With("component", "commit")),
		Profiles:    db,
		Extractor:   extractor,
		Verifier:    engine,
		Events:      queue.NewRedisEventPublisher(rdb, cfg.EventChannel),
		Metrics:     workerMetrics,
		Logger:      logger.With("component", "upload"),
		OCRTimeout:  cfg.OCRTimeout,
		LockRefresh: cfg.LockRefresh(),
	})
	if err != nil {
		logger.Error("Failed to initialize upload service", "error", err)
		os.Exit(1)
	}

	consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:    cfg.RedisURL,
		QueueName:   queueName,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: queue.NewHandlers(svc, queue.HandlerConfig{
			ProcessingTimeout: cfg.ProcessingTimeout,
			TempTTL:           cfg.TempTTL,
			OrphanTTL:         cfg.OrphanTTL,
			Logger:            logger.With("component", "queue"),
		}),
		Logger: logger.With("component", "queue"),
	})
	if err != nil {
		logger.Error("Failed to initialize queue consumer", "error", err)
		os.Exit(1)
	}
	if err := consumer.Start(); err != nil {
		logger.Error("Failed to start queue consumer", "error", err)
		os.Exit(1)
	}

	scheduler, err := queue.NewSweepScheduler(cfg.RedisURL, cfg.SweepInterval, queueName)
	if err != nil {
		logger.Error("Failed to initialize sweep scheduler", "error", err)
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		logger.Error("Failed to start sweep scheduler", "error", err)
		os.Exit(1)
	}

	ops := &http.Server{
		Addr:              cfg.OpsAddr,
		Handler:           newOpsRouter(workerMetrics.Handler(), db, redisPinger{rdb}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Ops server failed", "addr", cfg.OpsAddr, "error", err)
		}
	}()

	logger.Info("Document verification worker is ready",
		"queue", queueName,
		"sweep", cfg.SweepInterval,
		"ops_addr", cfg.OpsAddr)

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received signal, initiating graceful shutdown", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ops.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Error stopping ops server", "error", err)
	}
	scheduler.Shutdown()
	consumer.Stop()

	logger.Info("Shutdown complete")
}
