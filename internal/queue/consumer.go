/**
 * Queue Consumer for the Document Verification Worker
 *
 * Consumes document processing and upload sweep tasks from Redis via Asynq.
 * Each processing task runs OCR and verification for one staged slot.
 */

package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/educaid/docverify-worker/internal/errors"
	"github.com/educaid/docverify-worker/internal/logging"
	"github.com/educaid/docverify-worker/internal/verification"
)

// Task types
const (
	TypeProcessDocument = "document:process"
	TypeSweepUploads    = "uploads:sweep"
)

// ProcessPayload identifies the slot to process
type ProcessPayload struct {
	ApplicantID  string `json:"applicantId"`
	DocumentType string `json:"documentType"`
}

// SlotProcessor is the part of the upload service the worker drives
type SlotProcessor interface {
	Process(ctx context.Context, applicantID, docType string) (*verification.Result, error)
	SweepExpired(ctx context.Context, maxAge time.Duration) (int, error)
	SweepOrphans(ctx context.Context, maxAge time.Duration) (int, error)
}

// HandlerConfig holds task handler settings
type HandlerConfig struct {
	ProcessingTimeout time.Duration
	TempTTL           time.Duration
	OrphanTTL         time.Duration
	Logger            *logging.Logger
}

// Handlers execute tasks against the upload service
type Handlers struct {
	svc    SlotProcessor
	cfg    HandlerConfig
	logger *logging.Logger
}

// NewHandlers creates task handlers
func NewHandlers(svc SlotProcessor, cfg HandlerConfig) *Handlers {
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = 2 * time.Minute
	}
	if cfg.TempTTL <= 0 {
		cfg.TempTTL = 24 * time.Hour
	}
	if cfg.OrphanTTL <= 0 {
		cfg.OrphanTTL = 7 * 24 * time.Hour
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("queue")
	}
	return &Handlers{svc: svc, cfg: cfg, logger: logger}
}

// HandleProcessDocument processes one staged slot
func (h *Handlers) HandleProcessDocument(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	var payload ProcessPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.ApplicantID == "" || payload.DocumentType == "" {
		return fmt.Errorf("payload missing applicantId or documentType: %w", asynq.SkipRetry)
	}

	log := h.logger.With("applicant_id", payload.ApplicantID, "document_type", payload.DocumentType)
	log.Info("Processing document", "timeout", h.cfg.ProcessingTimeout.String())

	processCtx, cancel := context.WithTimeout(ctx, h.cfg.ProcessingTimeout)
	defer cancel()

	result, err := h.svc.Process(processCtx, payload.ApplicantID, payload.DocumentType)
	duration := time.Since(startTime)

	if err != nil {
		if stderrors.Is(processCtx.Err(), context.DeadlineExceeded) {
			timeoutErr := errors.NewProcessingTimeoutError(payload.ApplicantID, payload.DocumentType, h.cfg.ProcessingTimeout, err)
			log.Error("Processing timed out", "duration", duration.String(), "error", timeoutErr)
			return fmt.Errorf("processing timeout: %w", timeoutErr)
		}

		if errors.IsRetryable(err) {
			log.Warn("Processing failed, will retry", "duration", duration.String(), "error", err)
			return fmt.Errorf("document processing failed: %w", err)
		}

		log.Error("Processing failed", "duration", duration.String(), "error", err)
		return fmt.Errorf("document processing failed: %w: %w", err, asynq.SkipRetry)
	}

	log.Info("Processing completed",
		"duration", duration.String(),
		"passed", result.Passed,
		"overall_confidence", result.OverallConfidence)
	return nil
}

// HandleSweep expires stale slots and removes orphaned temp files
func (h *Handlers) HandleSweep(ctx context.Context, _ *asynq.Task) error {
	expired, err := h.svc.SweepExpired(ctx, h.cfg.TempTTL)
	if err != nil {
		return fmt.Errorf("failed to sweep expired slots: %w", err)
	}
	orphans, err := h.svc.SweepOrphans(ctx, h.cfg.OrphanTTL)
	if err != nil {
		return fmt.Errorf("failed to sweep orphaned files: %w", err)
	}
	h.logger.Info("Upload sweep finished", "expired_slots", expired, "orphaned_files", orphans)
	return nil
}

// Consumer handles task consumption from the Redis queue
type Consumer struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	config *ConsumerConfig
	logger *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	Handlers    *Handlers
	Logger      *logging.Logger
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Handlers == nil {
		return nil, fmt.Errorf("Handlers are required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("queue")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			// Exponential backoff: 5s, 10s, 20s, capped at 60s
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task processing error",
					"type", task.Type(),
					"payload", string(task.Payload()),
					"error", err)
			}),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeProcessDocument, cfg.Handlers.HandleProcessDocument)
	mux.HandleFunc(TypeSweepUploads, cfg.Handlers.HandleSweep)

	return &Consumer{server: server, mux: mux, config: cfg, logger: logger}, nil
}

// Start starts the queue consumer without blocking
func (c *Consumer) Start() error {
	c.logger.Info("Starting queue consumer",
		"concurrency", c.config.Concurrency,
		"queue", c.config.QueueName)
	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}
	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop() {
	c.logger.Info("Stopping queue consumer")
	c.server.Shutdown()
	c.logger.Info("Queue consumer stopped")
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
	}
}
