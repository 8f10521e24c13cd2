package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/educaid/docverify-worker/internal/verification"
)

// ErrDocumentNotFound is returned when no committed document exists for a slot
var ErrDocumentNotFound = stderrors.New("document not found")

// Verification statuses stored with a committed document
const (
	StatusVerified = "verified"
	StatusExempt   = "exempt"
)

// Document is a committed upload
type Document struct {
	ID                 string
	ApplicantID        string
	DocumentType       string
	FilePath           string
	OriginalFilename   string
	MimeType           string
	Size               int64
	OCRConfidence      float64
	VerificationScore  float64
	VerificationStatus string
	Verification       *verification.Result
	UploadedAt         time.Time
}

// NewDocument builds the record for a passed (or exempt) verification.
func NewDocument(applicantID, docType, filePath, originalName, mimeType string, size int64, res *verification.Result) *Document {
	doc := &Document{
		ID:                 uuid.New().String(),
		ApplicantID:        applicantID,
		DocumentType:       docType,
		FilePath:           filePath,
		OriginalFilename:   originalName,
		MimeType:           mimeType,
		Size:               size,
		VerificationStatus: StatusVerified,
		Verification:       res,
	}
	if res != nil {
		doc.OCRConfidence = res.OverallConfidence
		doc.VerificationScore = verificationScore(res)
		if res.Exempt {
			doc.VerificationStatus = StatusExempt
		}
	}
	return doc
}

// verificationScore is 100 for a passed result and 80% of the OCR confidence otherwise.
func verificationScore(res *verification.Result) float64 {
	if res.Passed {
		return 100
	}
	return sanitizeConfidence(res.OverallConfidence * 0.8)
}

// InsertDocument records a committed document
func (p *PostgresClient) InsertDocument(ctx context.Context, doc *Document) error {
	if doc.ApplicantID == "" || doc.DocumentType == "" {
		return fmt.Errorf("applicant ID and document type are required")
	}
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}

	details, err := marshalVerification(doc.Verification)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO documents (
			document_id, student_id, document_type_code, file_path, file_name,
			mime_type, file_size_bytes, ocr_confidence, verification_score,
			verification_status, verification_details, status, upload_date
		) VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8::NUMERIC(5,2), $9::NUMERIC(5,2), $10, $11::jsonb, 'submitted', NOW())
		RETURNING upload_date
	`

	err = p.db.QueryRowContext(
		ctx,
		query,
		doc.ID,
		doc.ApplicantID,
		doc.DocumentType,
		doc.FilePath,
		doc.OriginalFilename,
		doc.MimeType,
		doc.Size,
		sanitizeConfidence(doc.OCRConfidence),
		sanitizeConfidence(doc.VerificationScore),
		doc.VerificationStatus,
		details,
	).Scan(&doc.UploadedAt)
	if err != nil {
		return fmt.Errorf("failed to insert document (applicant=%s, type=%s): %w",
			doc.ApplicantID, doc.DocumentType, err)
	}
	return nil
}

const documentColumns = `
	document_id, student_id, document_type_code, file_path, COALESCE(file_name, ''),
	COALESCE(mime_type, ''), COALESCE(file_size_bytes, 0), COALESCE(ocr_confidence, 0),
	COALESCE(verification_score, 0), COALESCE(verification_status, ''), verification_details,
	upload_date
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		doc     Document
		details []byte
	)
	if err := row.Scan(
		&doc.ID, &doc.ApplicantID, &doc.DocumentType, &doc.FilePath, &doc.OriginalFilename,
		&doc.MimeType, &doc.Size, &doc.OCRConfidence, &doc.VerificationScore,
		&doc.VerificationStatus, &details, &doc.UploadedAt,
	); err != nil {
		return nil, err
	}
	if len(details) > 0 && string(details) != "{}" {
		var res verification.Result
		if err := json.Unmarshal(details, &res); err != nil {
			return nil, fmt.Errorf("failed to unmarshal verification details: %w", err)
		}
		doc.Verification = &res
	}
	return &doc, nil
}

// GetDocument returns the committed document for the slot, or ErrDocumentNotFound.
func (p *PostgresClient) GetDocument(ctx context.Context, applicantID, docType string) (*Document, error) {
	query := `SELECT ` + documentColumns + `
		FROM documents
		WHERE student_id = $1 AND document_type_code = $2
		ORDER BY upload_date DESC
		LIMIT 1`

	doc, err := scanDocument(p.db.QueryRowContext(ctx, query, applicantID, docType))
	if err == sql.ErrNoRows {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document (applicant=%s, type=%s): %w", applicantID, docType, err)
	}
	return doc, nil
}

// ListDocuments returns every committed document of an applicant
func (p *PostgresClient) ListDocuments(ctx context.Context, applicantID string) ([]*Document, error) {
	query := `SELECT ` + documentColumns + `
		FROM documents
		WHERE student_id = $1
		ORDER BY document_type_code`

	rows, err := p.db.QueryContext(ctx, query, applicantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents for %s: %w", applicantID, err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocuments removes every record for the slot and returns their file paths.
func (p *PostgresClient) DeleteDocuments(ctx context.Context, applicantID, docType string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`DELETE FROM documents WHERE student_id = $1 AND document_type_code = $2 RETURNING file_path`,
		applicantID, docType)
	if err != nil {
		return nil, fmt.Errorf("failed to delete documents (applicant=%s, type=%s): %w", applicantID, docType, err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("failed to scan deleted path: %w", err)
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}
