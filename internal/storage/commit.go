/**
 * Commit Manager
 *
 * Promotes a verified temp file to permanent storage and records it. The file
 * moves first; the record is written only after the move succeeds, and the move
 * is undone when the record cannot be written.
 */

package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/educaid/docverify-worker/internal/logging"
)

// DocumentRepository persists committed documents
type DocumentRepository interface {
	InsertDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, applicantID, docType string) (*Document, error)
	ListDocuments(ctx context.Context, applicantID string) ([]*Document, error)
	DeleteDocuments(ctx context.Context, applicantID, docType string) ([]string, error)
}

// CommitManager coordinates the filesystem and the document repository
type CommitManager struct {
	files  *FileStore
	repo   DocumentRepository
	logger *logging.Logger
}

// CommitInput describes a staged file ready to become permanent
type CommitInput struct {
	Document *Document
	Folder   string
	TempPath string
	// Sidecars travel with the file (verification and confidence reports).
	Sidecars []string
}

// NewCommitManager creates a commit manager
func NewCommitManager(files *FileStore, repo DocumentRepository, logger *logging.Logger) *CommitManager {
	if logger == nil {
		logger = logging.NewLogger("commit")
	}
	return &CommitManager{files: files, repo: repo, logger: logger}
}

// Commit moves the temp file and its sidecars into the applicant's permanent
// folder, then inserts the record. On insert failure the files are moved back.
func (cm *CommitManager) Commit(ctx context.Context, in CommitInput) (*Document, error) {
	if in.Document == nil {
		return nil, fmt.Errorf("document is required")
	}
	if err := checkApplicantID(in.Document.ApplicantID); err != nil {
		return nil, err
	}

	dir := cm.files.PermanentDir(in.Folder, in.Document.ApplicantID)
	dest := filepath.Join(dir, filepath.Base(in.TempPath))

	// Step 1: move the file
	if err := cm.files.Move(in.TempPath, dest); err != nil {
		return nil, fmt.Errorf("failed to move file to permanent storage: %w", err)
	}
	moved := [][2]string{{in.TempPath, dest}}

	for _, sidecar := range in.Sidecars {
		if !cm.files.Exists(sidecar) {
			continue
		}
		target := filepath.Join(dir, filepath.Base(sidecar))
		if err := cm.files.Move(sidecar, target); err != nil {
			cm.logger.Warn("Failed to move sidecar", "sidecar", sidecar, "error", err)
			continue
		}
		moved = append(moved, [2]string{sidecar, target})
	}

	// Step 2: record it
	in.Document.FilePath = dest
	if err := cm.repo.InsertDocument(ctx, in.Document); err != nil {
		cm.rollback(moved)
		return nil, fmt.Errorf("failed to record document: %w", err)
	}

	return in.Document, nil
}

func (cm *CommitManager) rollback(moved [][2]string) {
	for i := len(moved) - 1; i >= 0; i-- {
		src, dst := moved[i][0], moved[i][1]
		if err := cm.files.Move(dst, src); err != nil {
			cm.logger.Error("Rollback failed, file left in permanent storage",
				"from", dst,
				"to", src,
				"error", err)
		}
	}
}

// Purge deletes every record of the slot and its permanent files.
func (cm *CommitManager) Purge(ctx context.Context, folder, applicantID, docType string) error {
	paths, err := cm.repo.DeleteDocuments(ctx, applicantID, docType)
	if err != nil {
		return err
	}
	if err := cm.files.Remove(paths...); err != nil {
		cm.logger.Warn("Failed to remove recorded files", "applicant_id", applicantID, "document_type", docType, "error", err)
	}
	return cm.files.PurgePermanent(folder, applicantID)
}
