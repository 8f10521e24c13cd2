package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/educaid/docverify-worker/internal/errors"
	"github.com/educaid/docverify-worker/internal/logging"
	"github.com/educaid/docverify-worker/internal/upload"
	"github.com/educaid/docverify-worker/internal/verification"
)

type fakeService struct {
	processErr  error
	block       bool
	calls       []ProcessPayload
	sweptTemp   time.Duration
	sweptOrphan time.Duration
}

func (f *fakeService) Process(ctx context.Context, applicantID, docType string) (*verification.Result, error) {
	f.calls = append(f.calls, ProcessPayload{ApplicantID: applicantID, DocumentType: docType})
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.processErr != nil {
		return nil, f.processErr
	}
	return &verification.Result{DocumentType: docType, Passed: true}, nil
}

func (f *fakeService) SweepExpired(_ context.Context, maxAge time.Duration) (int, error) {
	f.sweptTemp = maxAge
	return 2, nil
}

func (f *fakeService) SweepOrphans(_ context.Context, maxAge time.Duration) (int, error) {
	f.sweptOrphan = maxAge
	return 1, nil
}

func newTestHandlers(svc SlotProcessor, timeout time.Duration) *Handlers {
	return NewHandlers(svc, HandlerConfig{ProcessingTimeout: timeout, Logger: logging.Discard()})
}

func TestNewProcessTask(t *testing.T) {
	task, err := NewProcessTask("stu-001", "02")
	if err != nil {
		t.Fatalf("NewProcessTask() error = %v", err)
	}
	if task.Type() != TypeProcessDocument {
		t.Fatalf("Type() = %s", task.Type())
	}
	var p ProcessPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if p.ApplicantID != "stu-001" || p.DocumentType != "02" {
		t.Fatalf("payload = %+v", p)
	}
	if _, err := NewProcessTask("", "02"); err == nil {
		t.Fatalf("NewProcessTask() accepted an empty applicant")
	}
}

func TestHandleProcessDocument(t *testing.T) {
	svc := &fakeService{}
	h := newTestHandlers(svc, time.Second)
	task, _ := NewProcessTask("stu-001", "00")

	if err := h.HandleProcessDocument(context.Background(), task); err != nil {
		t.Fatalf("HandleProcessDocument() error = %v", err)
	}
	if len(svc.calls) != 1 || svc.calls[0].DocumentType != "00" {
		t.Fatalf("calls = %+v", svc.calls)
	}
}

func TestHandleProcessDocumentBadPayload(t *testing.T) {
	h := newTestHandlers(&fakeService{}, time.Second)

	for _, payload := range []string{"not json", `{"applicantId":"stu-001"}`} {
		err := h.HandleProcessDocument(context.Background(), asynq.NewTask(TypeProcessDocument, []byte(payload)))
		if !stderrors.Is(err, asynq.SkipRetry) {
			t.Fatalf("payload %q: error = %v, want SkipRetry", payload, err)
		}
	}
}

func TestHandleProcessDocumentRetryPolicy(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		skipRetry bool
	}{
		{"locked", errors.NewAlreadyLockedError("stu-001", "00", time.Second), false},
		{"storage", errors.NewStorageFailedError("stu-001", "00", "read slot", stderrors.New("io")), false},
		{"no temp file", errors.NewNoTempFileError("stu-001", "00"), true},
		{"extraction", errors.NewExtractionError("stu-001", "00", "tesseract-tsv", stderrors.New("exit 1")), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandlers(&fakeService{processErr: tt.err}, time.Second)
			task, _ := NewProcessTask("stu-001", "00")

			err := h.HandleProcessDocument(context.Background(), task)
			if err == nil {
				t.Fatalf("HandleProcessDocument() error = nil")
			}
			if got := stderrors.Is(err, asynq.SkipRetry); got != tt.skipRetry {
				t.Fatalf("SkipRetry = %v, want %v (err %v)", got, tt.skipRetry, err)
			}
			if errors.CodeOf(err) != errors.CodeOf(tt.err) {
				t.Fatalf("code lost: %v", err)
			}
		})
	}
}

func TestHandleProcessDocumentTimeout(t *testing.T) {
	h := newTestHandlers(&fakeService{block: true}, 20*time.Millisecond)
	task, _ := NewProcessTask("stu-001", "00")

	err := h.HandleProcessDocument(context.Background(), task)
	if !errors.HasCode(err, errors.ErrorProcessingTimeout) {
		t.Fatalf("HandleProcessDocument() error = %v, want PROCESSING_TIMEOUT", err)
	}
}

func TestHandleSweep(t *testing.T) {
	svc := &fakeService{}
	h := NewHandlers(svc, HandlerConfig{TempTTL: 24 * time.Hour, OrphanTTL: 168 * time.Hour, Logger: logging.Discard()})

	if err := h.HandleSweep(context.Background(), asynq.NewTask(TypeSweepUploads, nil)); err != nil {
		t.Fatalf("HandleSweep() error = %v", err)
	}
	if svc.sweptTemp != 24*time.Hour || svc.sweptOrphan != 168*time.Hour {
		t.Fatalf("sweep ages = %v, %v", svc.sweptTemp, svc.sweptOrphan)
	}
}

func TestNewConsumerValidation(t *testing.T) {
	h := newTestHandlers(&fakeService{}, time.Second)
	tests := []*ConsumerConfig{
		{QueueName: "docverify", Handlers: h},
		{RedisURL: "redis://localhost:6379", Handlers: h},
		{RedisURL: "redis://localhost:6379", QueueName: "docverify"},
	}
	for i, cfg := range tests {
		if _, err := NewConsumer(cfg); err == nil {
			t.Errorf("case %d: NewConsumer() error = nil", i)
		}
	}
}

func TestRedisEventPublisher(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sub := client.Subscribe(ctx, "docverify:events")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	passed := true
	pub := NewRedisEventPublisher(client, "")
	ev := upload.Event{
		Event:        upload.EventProcessed,
		ApplicantID:  "stu-001",
		DocumentType: "00",
		Timestamp:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Passed:       &passed,
	}
	if err := pub.Publish(ctx, ev); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var got upload.Event
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatalf("payload not JSON: %v", err)
		}
		if got.Event != "processed" || got.ApplicantID != "stu-001" || got.Passed == nil || !*got.Passed {
			t.Fatalf("event = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no event received")
	}
}
