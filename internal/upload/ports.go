package upload

import (
	"context"
	"time"

	"github.com/educaid/docverify-worker/internal/processor"
	"github.com/educaid/docverify-worker/internal/storage"
	"github.com/educaid/docverify-worker/internal/verification"
)

// Verifier turns tokens into a verdict
type Verifier interface {
	Verify(docType string, tokens *processor.TokenSet, profile verification.Profile) (*verification.Result, error)
}

// ProfileSource returns what an applicant declared at registration
type ProfileSource interface {
	GetDeclaredProfile(ctx context.Context, applicantID string) (verification.Profile, error)
}

// Files is the temp side of the storage collaborator
type Files interface {
	WriteTemp(folder, applicantID, ext string, data []byte) (string, error)
	Exists(path string) bool
	Remove(paths ...string) error
	StaleTempFiles(cutoff time.Time) ([]string, error)
}

// Committer promotes staged files and removes committed ones
type Committer interface {
	Commit(ctx context.Context, in storage.CommitInput) (*storage.Document, error)
	Purge(ctx context.Context, folder, applicantID, docType string) error
}

// Event names published on slot transitions
const (
	EventStaged    = "staged"
	EventProcessed = "processed"
	EventCommitted = "committed"
	EventCancelled = "cancelled"
	EventRestarted = "restarted"
)

// Event is a slot transition notification
type Event struct {
	Event        string    `json:"event"`
	ApplicantID  string    `json:"applicantId"`
	DocumentType string    `json:"documentType"`
	Timestamp    time.Time `json:"timestamp"`
	Passed       *bool     `json:"passed,omitempty"`
}

// Publisher delivers events. Delivery failures never fail the transition.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Recorder collects operation metrics
type Recorder interface {
	ObserveOperation(op, outcome string)
	ObserveVerification(docType string, passed bool)
	ObserveOCR(engine string, d time.Duration)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, string)  {}
func (nopRecorder) ObserveVerification(string, bool) {}
func (nopRecorder) ObserveOCR(string, time.Duration) {}
