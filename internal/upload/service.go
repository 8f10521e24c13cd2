/**
 * Upload State Machine
 *
 * Governs one document slot per (applicant, document type):
 *
 *   stage -> STAGED -> process -> PROCESSED -> confirm -> COMMITTED (slot removed)
 *                 \_____________________\_____ cancel -> CANCELLED (slot removed)
 *
 * restart clears a COMMITTED document so a fresh stage can begin.
 * Processing is serialized per slot by the concurrency guard.
 */

package upload

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/educaid/docverify-worker/internal/errors"
	"github.com/educaid/docverify-worker/internal/guard"
	"github.com/educaid/docverify-worker/internal/logging"
	"github.com/educaid/docverify-worker/internal/processor"
	"github.com/educaid/docverify-worker/internal/registry"
	"github.com/educaid/docverify-worker/internal/storage"
	"github.com/educaid/docverify-worker/internal/verification"
)

// Operation names used for metrics
const (
	OpStage   = "stage"
	OpProcess = "process"
	OpConfirm = "confirm"
	OpCancel  = "cancel"
	OpRestart = "restart"
	OpSweep   = "sweep"
)

// FileInput is an uploaded file
type FileInput struct {
	Name   string
	Reader io.Reader
}

// Deps are the collaborators of a Service
type Deps struct {
	Registry    *registry.Registry
	Slots       SlotStore
	Guard       guard.Guard
	Files       Files
	Documents   storage.DocumentRepository
	Committer   Committer
	Profiles    ProfileSource
	Extractor   processor.Extractor
	Verifier    Verifier
	Events      Publisher
	Metrics     Recorder
	Logger      *logging.Logger
	OCRTimeout  time.Duration
	LockRefresh time.Duration
	Now         func() time.Time
}

// Service implements the slot lifecycle
type Service struct {
	reg         *registry.Registry
	slots       SlotStore
	guard       guard.Guard
	files       Files
	docs        storage.DocumentRepository
	committer   Committer
	profiles    ProfileSource
	extractor   processor.Extractor
	verifier    Verifier
	events      Publisher
	metrics     Recorder
	logger      *logging.Logger
	ocrTimeout  time.Duration
	lockRefresh time.Duration
	now         func() time.Time
}

// NewService wires a Service. Events, Metrics, Logger and Now are optional.
// LockRefresh must stay well under the guard TTL; it defaults to a third of guard.DefaultTTL.
func NewService(d Deps) (*Service, error) {
	switch {
	case d.Registry == nil:
		return nil, fmt.Errorf("registry is required")
	case d.Slots == nil:
		return nil, fmt.Errorf("slot store is required")
	case d.Guard == nil:
		return nil, fmt.Errorf("guard is required")
	case d.Files == nil:
		return nil, fmt.Errorf("file store is required")
	case d.Documents == nil:
		return nil, fmt.Errorf("document repository is required")
	case d.Committer == nil:
		return nil, fmt.Errorf("committer is required")
	case d.Profiles == nil:
		return nil, fmt.Errorf("profile source is required")
	case d.Extractor == nil:
		return nil, fmt.Errorf("extractor is required")
	case d.Verifier == nil:
		return nil, fmt.Errorf("verifier is required")
	}

	s := &Service{
		reg:         d.Registry,
		slots:       d.Slots,
		guard:       d.Guard,
		files:       d.Files,
		docs:        d.Documents,
		committer:   d.Committer,
		profiles:    d.Profiles,
		extractor:   d.Extractor,
		verifier:    d.Verifier,
		events:      d.Events,
		metrics:     d.Metrics,
		logger:      d.Logger,
		ocrTimeout:  d.OCRTimeout,
		lockRefresh: d.LockRefresh,
		now:         d.Now,
	}
	if s.events == nil {
		s.events = nopPublisher{}
	}
	if s.metrics == nil {
		s.metrics = nopRecorder{}
	}
	if s.logger == nil {
		s.logger = logging.NewLogger("upload")
	}
	if s.ocrTimeout <= 0 {
		s.ocrTimeout = 60 * time.Second
	}
	if s.lockRefresh <= 0 {
		s.lockRefresh = guard.DefaultTTL / 3
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Stage stores a new file for the slot, replacing any previous staged file.
// A slot that is being processed cannot be replaced.
func (s *Service) Stage(ctx context.Context, applicantID, docType string, in FileInput) (slot *Slot, err error) {
	defer func() { s.observe(OpStage, err) }()

	if err := checkApplicant(applicantID, docType); err != nil {
		return nil, err
	}

	dt, err := s.reg.Get(docType)
	if err != nil {
		return nil, err
	}
	if err := s.ensureNotCommitted(ctx, applicantID, docType); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(in.Reader, dt.MaxSizeBytes()+1))
	if err != nil {
		return nil, errors.NewStorageFailedError(applicantID, docType, "read upload", err)
	}
	if int64(len(data)) > dt.MaxSizeBytes() {
		return nil, errors.NewFileTooLargeError(applicantID, docType, int64(len(data)), dt.MaxSizeBytes())
	}

	mime := processor.DetectMimeType(data)
	if mime == "" || !dt.Accepts(mime) {
		return nil, errors.NewUnsupportedFormatError(applicantID, docType, mimeOrUnknown(mime))
	}
	if mime == "application/pdf" {
		if _, err := processor.ValidatePDF(bytes.NewReader(data)); err != nil {
			e := errors.NewUnsupportedFormatError(applicantID, docType, mime)
			e.Cause = err
			return nil, e
		}
	}

	key := guard.Key(applicantID, docType)
	lease, acquired, err := s.guard.Acquire(ctx, key)
	if err != nil {
		return nil, errors.NewStorageFailedError(applicantID, docType, "acquire lock", err)
	}
	if !acquired {
		return nil, errors.NewAlreadyLockedError(applicantID, docType, s.lockAge(ctx, key))
	}
	defer s.releaseLock(ctx, lease)

	if prev, ok, err := s.slots.Get(ctx, applicantID, docType); err != nil {
		return nil, errors.NewStorageFailedError(applicantID, docType, "read slot", err)
	} else if ok {
		s.removeArtifacts(prev)
	}

	path, err := s.files.WriteTemp(dt.Folder, applicantID, processor.ExtensionFor(mime), data)
	if err != nil {
		return nil, errors.NewStorageFailedError(applicantID, docType, "write temp file", err)
	}

	slot = &Slot{
		ApplicantID:      applicantID,
		DocumentType:     docType,
		State:            SlotStaged,
		TempPath:         path,
		OriginalFilename: in.Name,
		MimeType:         mime,
		Size:             int64(len(data)),
		UploadedAt:       s.now(),
	}
	if err := s.slots.Put(ctx, slot); err != nil {
		s.files.Remove(path)
		return nil, errors.NewStorageFailedError(applicantID, docType, "store slot", err)
	}

	s.logger.Info("Document staged",
		"applicant_id", applicantID,
		"document_type", docType,
		"mime_type", mime,
		"size", slot.Size)
	s.publish(ctx, EventStaged, applicantID, docType, nil)
	return slot, nil
}

// Process runs OCR and verification on the staged file. A slot that was
// already processed returns its cached result without running OCR again.
func (s *Service) Process(ctx context.Context, applicantID, docType string) (res *verification.Result, err error) {
	defer func() { s.observe(OpProcess, err) }()

	if err := checkApplicant(applicantID, docType); err != nil {
		return nil, err
	}

	dt, err := s.reg.Get(docType)
	if err != nil {
		return nil, err
	}

	key := guard.Key(applicantID, docType)
	lease, acquired, err := s.guard.Acquire(ctx, key)
	if err != nil {
		return nil, errors.NewStorageFailedError(applicantID, docType, "acquire lock", err)
	}
	if !acquired {
		return nil, errors.NewAlreadyLockedError(applicantID, docType, s.lockAge(ctx, key))
	}
	held := s.holdLock(ctx, lease)
	defer func() {
		held.stop()
		if !held.Lost() {
			s.releaseLock(ctx, lease)
		}
	}()
	outer := ctx
	ctx = held.ctx

	slot, ok, err := s.slots.Get(ctx, applicantID, docType)
	if err != nil {
		return nil, errors.NewStorageFailedError(applicantID, docType, "read slot", err)
	}
	if !ok || !s.files.Exists(slot.TempPath) {
		return nil, errors.NewNoTempFileError(applicantID, docType)
	}
	if slot.State == SlotProcessed && slot.Verification != nil {
		return slot.Verification, nil
	}

	if dt.Exempt {
		res, err = s.verifier.Verify(docType, nil, verification.Profile{ApplicantID: applicantID})
	} else {
		res, err = s.extractAndVerify(ctx, slot)
	}
	if held.Lost() && outer.Err() == nil {
		return nil, errors.NewAlreadyLockedError(applicantID, docType, s.lockAge(outer, key))
	}
	if err != nil {
		return nil, err
	}

	// Cancel or an expiry sweep may have removed the slot while OCR ran.
	if cur, ok, err := s.slots.Get(ctx, applicantID, docType); err != nil {
		return nil, errors.NewStorageFailedError(applicantID, docType, "read slot", err)
	} else if !ok || cur.TempPath != slot.TempPath {
		s.logger.Warn("Slot changed during processing, discarding result",
			"applicant_id", applicantID,
			"document_type", docType,
			"temp_path", slot.TempPath)
		return nil, errors.NewNoTempFileError(applicantID, docType)
	}

	s.writeSidecars(slot, res)

	processedAt := s.now()
	slot.State = SlotProcessed
	slot.OCRProcessedAt = &processedAt
	slot.Verification = res
	if err := s.slots.Put(ctx, slot); err != nil {
		return nil, errors.NewStorageFailedError(applicantID, docType, "store slot", err)
	}

	s.metrics.ObserveVerification(docType, res.Passed)
	s.logger.Info("Document processed",
		"applicant_id", applicantID,
		"document_type", docType,
		"passed", res.Passed,
		"overall_confidence", res.OverallConfidence,
		"reasons", len(res.Reasons))
	passed := res.Passed
	s.publish(ctx, EventProcessed, applicantID, docType, &passed)
	return res, nil
}

func (s *Service) extractAndVerify(ctx context.Context, slot *Slot) (*verification.Result, error) {
	profile, err := s.profiles.GetDeclaredProfile(ctx, slot.ApplicantID)
	if err != nil {
		return nil, errors.NewStorageFailedError(slot.ApplicantID, slot.DocumentType, "load profile", err)
	}

	ocrCtx, cancel := context.WithTimeout(ctx, s.ocrTimeout)
	defer cancel()

	tokens, err := s.extractor.Extract(ocrCtx, slot.TempPath)
	if err != nil {
		e := errors.NewExtractionError(slot.ApplicantID, slot.DocumentType, "", err)
		if stderrors.Is(ocrCtx.Err(), context.DeadlineExceeded) {
			e.Details["timeout"] = s.ocrTimeout.String()
		}
		s.logger.Error("OCR extraction failed",
			"applicant_id", slot.ApplicantID,
			"document_type", slot.DocumentType,
			"temp_path", slot.TempPath,
			"mime_type", slot.MimeType,
			"error", err)
		return nil, e
	}
	s.metrics.ObserveOCR(tokens.Engine, tokens.Duration)

	return s.verifier.Verify(slot.DocumentType, tokens, profile)
}

// writeSidecars stores the verdict next to the temp file. Failures are logged;
// the slot still carries the result.
func (s *Service) writeSidecars(slot *Slot, res *verification.Result) {
	write := func(path string, v interface{}) {
		data, err := json.MarshalIndent(v, "", "  ")
		if err == nil {
			err = os.WriteFile(path, data, 0o640)
		}
		if err != nil {
			s.logger.Error("Failed to write verification sidecar",
				"path", path,
				"applicant_id", slot.ApplicantID,
				"document_type", slot.DocumentType,
				"error", err)
		}
	}
	write(slot.VerifyPath(), res)
	write(slot.ConfidencePath(), res.Confidence())
}

// Confirm commits a processed slot whose document passed, or a staged exempt one.
func (s *Service) Confirm(ctx context.Context, applicantID, docType string) (doc *storage.Document, err error) {
	defer func() { s.observe(OpConfirm, err) }()

	if err := checkApplicant(applicantID, docType); err != nil {
		return nil, err
	}

	dt, err := s.reg.Get(docType)
	if err != nil {
		return nil, err
	}

	slot, ok, err := s.slots.Get(ctx, applicantID, docType)
	if err != nil {
		return nil, errors.NewStorageFailedError(applicantID, docType, "read slot", err)
	}
	if !ok {
		return nil, errors.NewNoTempFileError(applicantID, docType)
	}

	res := slot.Verification
	if dt.Exempt && res == nil {
		res, err = s.verifier.Verify(docType, nil, verification.Profile{ApplicantID: applicantID})
		if err != nil {
			return nil, err
		}
	}
	if res == nil {
		return nil, errors.NewVerificationFailedError(applicantID, docType, []verification.Reason{{
			Code:    verification.ReasonNotVerified,
			Message: "The document has not been verified yet. Please wait for processing to finish.",
		}})
	}
	if !res.Passed && !dt.Exempt {
		return nil, errors.NewVerificationFailedError(applicantID, docType, res.Reasons)
	}
	if !s.files.Exists(slot.TempPath) {
		return nil, errors.NewExpiredTempFileError(applicantID, docType, slot.TempPath)
	}

	doc = storage.NewDocument(applicantID, docType, "", slot.OriginalFilename, slot.MimeType, slot.Size, res)
	doc, err = s.committer.Commit(ctx, storage.CommitInput{
		Document: doc,
		Folder:   dt.Folder,
		TempPath: slot.TempPath,
		Sidecars: slot.Sidecars(),
	})
	if err != nil {
		s.logger.Error("Commit failed",
			"applicant_id", applicantID,
			"document_type", docType,
			"temp_path", slot.TempPath,
			"error", err)
		return nil, errors.NewStorageFailedError(applicantID, docType, "commit", err)
	}

	s.files.Remove(processor.AuditPaths(slot.TempPath)...)
	if err := s.slots.Delete(ctx, applicantID, docType); err != nil {
		s.logger.Warn("Failed to clear committed slot", "applicant_id", applicantID, "document_type", docType, "error", err)
	}

	s.logger.Info("Document committed",
		"applicant_id", applicantID,
		"document_type", docType,
		"document_id", doc.ID,
		"path", doc.FilePath)
	s.publish(ctx, EventCommitted, applicantID, docType, nil)
	return doc, nil
}

// Cancel discards the slot and its temp artifacts. Cancelling an empty slot is a no-op.
func (s *Service) Cancel(ctx context.Context, applicantID, docType string) (err error) {
	defer func() { s.observe(OpCancel, err) }()

	if err := checkApplicant(applicantID, docType); err != nil {
		return err
	}

	if _, err := s.reg.Get(docType); err != nil {
		return err
	}
	slot, ok, err := s.slots.Get(ctx, applicantID, docType)
	if err != nil {
		return errors.NewStorageFailedError(applicantID, docType, "read slot", err)
	}
	if !ok {
		return nil
	}
	s.removeArtifacts(slot)
	if err := s.slots.Delete(ctx, applicantID, docType); err != nil {
		return errors.NewStorageFailedError(applicantID, docType, "delete slot", err)
	}
	s.publish(ctx, EventCancelled, applicantID, docType, nil)
	return nil
}

// Restart removes a committed document and its files so the slot can be staged again.
func (s *Service) Restart(ctx context.Context, applicantID, docType string) (err error) {
	defer func() { s.observe(OpRestart, err) }()

	if err := checkApplicant(applicantID, docType); err != nil {
		return err
	}

	dt, err := s.reg.Get(docType)
	if err != nil {
		return err
	}
	if _, err := s.docs.GetDocument(ctx, applicantID, docType); err != nil {
		if stderrors.Is(err, storage.ErrDocumentNotFound) {
			return errors.NewNotCommittedError(applicantID, docType)
		}
		return errors.NewStorageFailedError(applicantID, docType, "read document", err)
	}

	if err := s.committer.Purge(ctx, dt.Folder, applicantID, docType); err != nil {
		s.logger.Error("Failed to purge committed document",
			"applicant_id", applicantID,
			"document_type", docType,
			"error", err)
		return errors.NewStorageFailedError(applicantID, docType, "purge", err)
	}

	if slot, ok, err := s.slots.Get(ctx, applicantID, docType); err == nil && ok {
		s.removeArtifacts(slot)
		s.slots.Delete(ctx, applicantID, docType)
	}

	s.logger.Info("Document reset for re-upload", "applicant_id", applicantID, "document_type", docType)
	s.publish(ctx, EventRestarted, applicantID, docType, nil)
	return nil
}

// SlotStatus describes one document type for an applicant
type SlotStatus struct {
	DocumentType registry.DocumentType
	Slot         *Slot
	Document     *storage.Document
}

// Status lists every registered document type with its open slot and committed document.
func (s *Service) Status(ctx context.Context, applicantID string) ([]SlotStatus, error) {
	if err := checkApplicant(applicantID, ""); err != nil {
		return nil, err
	}
	slots, err := s.slots.List(ctx, applicantID)
	if err != nil {
		return nil, errors.NewStorageFailedError(applicantID, "", "list slots", err)
	}
	docs, err := s.docs.ListDocuments(ctx, applicantID)
	if err != nil {
		return nil, errors.NewStorageFailedError(applicantID, "", "list documents", err)
	}

	byType := make(map[string]*Slot, len(slots))
	for _, sl := range slots {
		byType[sl.DocumentType] = sl
	}
	committed := make(map[string]*storage.Document, len(docs))
	for _, d := range docs {
		committed[d.DocumentType] = d
	}

	all := s.reg.All()
	out := make([]SlotStatus, 0, len(all))
	for _, dt := range all {
		out = append(out, SlotStatus{DocumentType: dt, Slot: byType[dt.Code], Document: committed[dt.Code]})
	}
	return out, nil
}

// SweepExpired cancels slots staged more than maxAge ago and returns how many it removed.
func (s *Service) SweepExpired(ctx context.Context, maxAge time.Duration) (n int, err error) {
	defer func() { s.observe(OpSweep, err) }()

	slots, err := s.slots.All(ctx)
	if err != nil {
		return 0, errors.NewStorageFailedError("", "", "list slots", err)
	}
	cutoff := s.now().Add(-maxAge)
	for _, slot := range slots {
		if !slot.UploadedAt.Before(cutoff) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := s.Cancel(ctx, slot.ApplicantID, slot.DocumentType); err != nil {
			s.logger.Warn("Failed to expire slot",
				"applicant_id", slot.ApplicantID,
				"document_type", slot.DocumentType,
				"error", err)
			continue
		}
		n++
	}
	if n > 0 {
		s.logger.Info("Expired staged uploads", "count", n, "max_age", maxAge.String())
	}
	return n, nil
}

// SweepOrphans deletes temp files older than maxAge that no slot references.
func (s *Service) SweepOrphans(ctx context.Context, maxAge time.Duration) (int, error) {
	slots, err := s.slots.All(ctx)
	if err != nil {
		return 0, errors.NewStorageFailedError("", "", "list slots", err)
	}
	owned := make(map[string]bool)
	for _, slot := range slots {
		for _, p := range slot.Artifacts() {
			owned[p] = true
		}
	}

	stale, err := s.files.StaleTempFiles(s.now().Add(-maxAge))
	if err != nil {
		return 0, errors.NewStorageFailedError("", "", "scan temp files", err)
	}
	n := 0
	for _, path := range stale {
		if owned[path] {
			continue
		}
		if err := s.files.Remove(path); err != nil {
			s.logger.Warn("Failed to remove orphaned temp file", "path", path, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

// checkApplicant rejects IDs that cannot name a lock, slot or file path.
func checkApplicant(applicantID, docType string) error {
	if !storage.ValidApplicantID(applicantID) {
		return errors.NewInvalidApplicantError(applicantID, docType)
	}
	return nil
}

func (s *Service) ensureNotCommitted(ctx context.Context, applicantID, docType string) error {
	_, err := s.docs.GetDocument(ctx, applicantID, docType)
	switch {
	case err == nil:
		return errors.NewDocumentAlreadySubmittedError(applicantID, docType)
	case stderrors.Is(err, storage.ErrDocumentNotFound):
		return nil
	default:
		return errors.NewStorageFailedError(applicantID, docType, "read document", err)
	}
}

func (s *Service) removeArtifacts(slot *Slot) {
	if err := s.files.Remove(slot.Artifacts()...); err != nil {
		s.logger.Warn("Failed to remove temp artifacts",
			"applicant_id", slot.ApplicantID,
			"document_type", slot.DocumentType,
			"temp_path", slot.TempPath,
			"error", err)
	}
}

func (s *Service) releaseLock(ctx context.Context, lease *guard.Lease) {
	if err := s.guard.Release(context.WithoutCancel(ctx), lease); err != nil {
		s.logger.Error("Failed to release processing lock", "key", lease.Key, "error", err)
	}
}

func (s *Service) lockAge(ctx context.Context, key string) time.Duration {
	if g, ok := s.guard.(interface {
		Age(context.Context, string) (time.Duration, bool)
	}); ok {
		if age, held := g.Age(ctx, key); held {
			return age
		}
	}
	return 0
}

func (s *Service) publish(ctx context.Context, name, applicantID, docType string, passed *bool) {
	ev := Event{Event: name, ApplicantID: applicantID, DocumentType: docType, Timestamp: s.now(), Passed: passed}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn("Failed to publish event", "event", name, "applicant_id", applicantID, "error", err)
	}
}

func (s *Service) observe(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = strings.ToLower(string(errors.CodeOf(err)))
		if outcome == "" {
			outcome = "error"
		}
	}
	s.metrics.ObserveOperation(op, outcome)
}

func mimeOrUnknown(mime string) string {
	if mime == "" {
		return "unknown"
	}
	return mime
}
