package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the document verification worker
 *
 * Every failure that leaves the upload state machine is a *ProcessingError
 * carrying a stable ErrorCode. Verification failures are the only user-facing
 * kind and carry the structured reason list produced by the engine.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Extraction errors
	ErrorExtractionFailed  ErrorCode = "EXTRACTION_FAILED"
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
	ErrorUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"

	// Request errors
	ErrorInvalidDocumentType ErrorCode = "INVALID_DOCUMENT_TYPE"
	ErrorInvalidApplicant    ErrorCode = "INVALID_APPLICANT"

	// Slot lifecycle errors
	ErrorAlreadyLocked            ErrorCode = "ALREADY_LOCKED"
	ErrorNoTempFile               ErrorCode = "NO_TEMP_FILE"
	ErrorExpiredTempFile          ErrorCode = "EXPIRED_TEMP_FILE"
	ErrorVerificationFailed       ErrorCode = "VERIFICATION_FAILED"
	ErrorDocumentAlreadySubmitted ErrorCode = "DOCUMENT_ALREADY_SUBMITTED"
	ErrorNotCommitted             ErrorCode = "NOT_COMMITTED"

	// Storage errors
	ErrorStorageFailed ErrorCode = "STORAGE_FAILED"
)

// Reason is a machine-readable explanation attached to a VERIFICATION_FAILED error.
type Reason struct {
	Code     string `json:"code"`
	Field    string `json:"field,omitempty"`
	Expected string `json:"expected,omitempty"`
	Found    string `json:"found,omitempty"`
	Message  string `json:"message"`
}

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code         ErrorCode
	Message      string
	ApplicantID  string
	DocumentType string
	Timestamp    time.Time
	Details      map[string]interface{}
	Reasons      []Reason
	Cause        error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Is matches another *ProcessingError by code, so sentinel comparisons work with errors.Is.
func (e *ProcessingError) Is(target error) bool {
	t, ok := target.(*ProcessingError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// HasCode reports whether err (or anything it wraps) is a ProcessingError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var pe *ProcessingError
	if !stderrors.As(err, &pe) {
		return false
	}
	return pe.Code == code
}

// CodeOf returns the code of the first ProcessingError in err's chain, or "" if there is none.
func CodeOf(err error) ErrorCode {
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsRetryable reports whether the caller may retry the same request unchanged.
// Lock contention and storage hiccups are transient; everything else needs a new upload or a fix.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrorAlreadyLocked, ErrorStorageFailed, ErrorProcessingTimeout:
		return true
	default:
		return false
	}
}

func newError(code ErrorCode, applicantID, docType, message string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:         code,
		Message:      message,
		ApplicantID:  applicantID,
		DocumentType: docType,
		Timestamp:    time.Now(),
		Details:      map[string]interface{}{},
		Cause:        cause,
	}
}

// Factory functions for common errors

func NewExtractionError(applicantID, docType, engine string, cause error) *ProcessingError {
	e := newError(ErrorExtractionFailed, applicantID, docType,
		"OCR could not read the document; upload a clearer scan", cause)
	e.Details["ocr_engine"] = engine
	return e
}

func NewProcessingTimeoutError(applicantID, docType string, duration time.Duration, cause error) *ProcessingError {
	e := newError(ErrorProcessingTimeout, applicantID, docType,
		fmt.Sprintf("Processing timed out after %v", duration), cause)
	e.Details["timeout_duration"] = duration.String()
	return e
}

func NewUnsupportedFormatError(applicantID, docType, mimeType string) *ProcessingError {
	e := newError(ErrorUnsupportedFormat, applicantID, docType,
		fmt.Sprintf("Unsupported file format: %s", mimeType), nil)
	e.Details["mime_type"] = mimeType
	return e
}

func NewFileTooLargeError(applicantID, docType string, size, limit int64) *ProcessingError {
	e := newError(ErrorUnsupportedFormat, applicantID, docType,
		fmt.Sprintf("File is %d bytes, limit is %d bytes", size, limit), nil)
	e.Details["size"] = size
	e.Details["limit"] = limit
	return e
}

func NewInvalidDocumentTypeError(docType string) *ProcessingError {
	return newError(ErrorInvalidDocumentType, "", docType,
		fmt.Sprintf("Unknown document type: %q", docType), nil)
}

func NewInvalidApplicantError(applicantID, docType string) *ProcessingError {
	return newError(ErrorInvalidApplicant, applicantID, docType,
		fmt.Sprintf("Invalid applicant ID: %q", applicantID), nil)
}

func NewAlreadyLockedError(applicantID, docType string, age time.Duration) *ProcessingError {
	e := newError(ErrorAlreadyLocked, applicantID, docType,
		"This document is already being processed. Please wait for completion.", nil)
	e.Details["lock_age"] = age.String()
	return e
}

func NewNoTempFileError(applicantID, docType string) *ProcessingError {
	return newError(ErrorNoTempFile, applicantID, docType,
		"No temporary file found. Please upload the document again.", nil)
}

func NewExpiredTempFileError(applicantID, docType, path string) *ProcessingError {
	e := newError(ErrorExpiredTempFile, applicantID, docType,
		"Temporary file has expired. Please upload again.", nil)
	e.Details["temp_path"] = path
	return e
}

func NewVerificationFailedError(applicantID, docType string, reasons []Reason) *ProcessingError {
	e := newError(ErrorVerificationFailed, applicantID, docType,
		"Document did not pass verification", nil)
	e.Reasons = reasons
	return e
}

func NewDocumentAlreadySubmittedError(applicantID, docType string) *ProcessingError {
	return newError(ErrorDocumentAlreadySubmitted, applicantID, docType,
		"A document of this type was already submitted; start a re-upload first", nil)
}

func NewNotCommittedError(applicantID, docType string) *ProcessingError {
	return newError(ErrorNotCommitted, applicantID, docType,
		"No submitted document of this type to replace", nil)
}

func NewStorageFailedError(applicantID, docType, operation string, cause error) *ProcessingError {
	e := newError(ErrorStorageFailed, applicantID, docType,
		fmt.Sprintf("Storage operation failed: %s", operation), cause)
	e.Details["operation"] = operation
	return e
}

// Sentinels for errors.Is comparisons.
var (
	ErrExtractionFailed         = &ProcessingError{Code: ErrorExtractionFailed}
	ErrInvalidDocumentType      = &ProcessingError{Code: ErrorInvalidDocumentType}
	ErrInvalidApplicant         = &ProcessingError{Code: ErrorInvalidApplicant}
	ErrAlreadyLocked            = &ProcessingError{Code: ErrorAlreadyLocked}
	ErrNoTempFile               = &ProcessingError{Code: ErrorNoTempFile}
	ErrExpiredTempFile          = &ProcessingError{Code: ErrorExpiredTempFile}
	ErrVerificationFailed       = &ProcessingError{Code: ErrorVerificationFailed}
	ErrStorageFailed            = &ProcessingError{Code: ErrorStorageFailed}
	ErrDocumentAlreadySubmitted = &ProcessingError{Code: ErrorDocumentAlreadySubmitted}
	ErrNotCommitted             = &ProcessingError{Code: ErrorNotCommitted}
)

// ToMap converts error to map for logging and event payloads
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	if e.ApplicantID != "" {
		result["applicant_id"] = e.ApplicantID
	}
	if e.DocumentType != "" {
		result["document_type"] = e.DocumentType
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if len(e.Reasons) > 0 {
		result["reasons"] = e.Reasons
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
