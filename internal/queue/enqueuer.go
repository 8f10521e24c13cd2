package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// uniqueWindow matches the processing lock window so duplicate submissions collapse
const uniqueWindow = 30 * time.Second

// NewProcessTask builds the task for one slot.
func NewProcessTask(applicantID, docType string) (*asynq.Task, error) {
	if applicantID == "" || docType == "" {
		return nil, fmt.Errorf("applicant ID and document type are required")
	}
	payload, err := json.Marshal(ProcessPayload{ApplicantID: applicantID, DocumentType: docType})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TypeProcessDocument, payload, asynq.MaxRetry(3), asynq.Timeout(5*time.Minute)), nil
}

// Enqueuer submits processing tasks
type Enqueuer struct {
	client *asynq.Client
	queue  string
}

// NewEnqueuer connects to the queue at redisURL.
func NewEnqueuer(redisURL, queue string) (*Enqueuer, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &Enqueuer{client: asynq.NewClient(redisOpt), queue: queue}, nil
}

// EnqueueProcess schedules OCR and verification for a staged slot. A second
// request for the same slot within the unique window is rejected by Asynq.
func (e *Enqueuer) EnqueueProcess(ctx context.Context, applicantID, docType string) (*asynq.TaskInfo, error) {
	task, err := NewProcessTask(applicantID, docType)
	if err != nil {
		return nil, err
	}
	info, err := e.client.EnqueueContext(ctx, task,
		asynq.Queue(e.queue),
		asynq.Unique(uniqueWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue %s/%s: %w", applicantID, docType, err)
	}
	return info, nil
}

// Close releases the client connection
func (e *Enqueuer) Close() error {
	return e.client.Close()
}

// NewSweepScheduler registers the periodic upload sweep.
func NewSweepScheduler(redisURL, cronspec, queue string) (*asynq.Scheduler, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC})
	if _, err := scheduler.Register(cronspec, asynq.NewTask(TypeSweepUploads, nil), asynq.Queue(queue)); err != nil {
		return nil, fmt.Errorf("failed to register sweep (%s): %w", cronspec, err)
	}
	return scheduler, nil
}
