package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestProcessingErrorIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("process: %w", NewNoTempFileError("stu-001", "00"))

	if !stderrors.Is(err, ErrNoTempFile) {
		t.Fatalf("errors.Is(ErrNoTempFile) = false for %v", err)
	}
	if stderrors.Is(err, ErrExpiredTempFile) {
		t.Fatalf("errors.Is(ErrExpiredTempFile) = true for %v", err)
	}
	if !HasCode(err, ErrorNoTempFile) {
		t.Fatalf("HasCode() = false")
	}
	if got := CodeOf(err); got != ErrorNoTempFile {
		t.Fatalf("CodeOf() = %q", got)
	}
	if got := CodeOf(stderrors.New("plain")); got != "" {
		t.Fatalf("CodeOf(plain) = %q, want empty", got)
	}
}

func TestProcessingErrorUnwrapsCause(t *testing.T) {
	cause := stderrors.New("tesseract exited 1")
	err := NewExtractionError("stu-001", "01", "tesseract-tsv", cause)

	if !stderrors.Is(err, cause) {
		t.Fatalf("cause not reachable through Unwrap")
	}
	if !strings.Contains(err.Error(), "EXTRACTION_FAILED") || !strings.Contains(err.Error(), "tesseract exited 1") {
		t.Fatalf("Error() = %q", err.Error())
	}
	if err.Details["ocr_engine"] != "tesseract-tsv" {
		t.Fatalf("Details = %v", err.Details)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{NewAlreadyLockedError("a", "00", time.Second), true},
		{NewStorageFailedError("a", "00", "insert", stderrors.New("conn reset")), true},
		{NewProcessingTimeoutError("a", "00", time.Minute, nil), true},
		{NewVerificationFailedError("a", "00", nil), false},
		{NewInvalidDocumentTypeError("99"), false},
		{NewInvalidApplicantError("../x", "00"), false},
		{stderrors.New("plain"), false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestToMap(t *testing.T) {
	reasons := []Reason{{Code: "field_not_found", Field: "last_name", Message: "Last name not found"}}
	err := NewVerificationFailedError("stu-001", "02", reasons)
	m := err.ToMap()

	if m["error_code"] != "VERIFICATION_FAILED" {
		t.Fatalf("error_code = %v", m["error_code"])
	}
	if m["applicant_id"] != "stu-001" || m["document_type"] != "02" {
		t.Fatalf("identity missing from %v", m)
	}
	got, ok := m["reasons"].([]Reason)
	if !ok || len(got) != 1 || got[0].Field != "last_name" {
		t.Fatalf("reasons = %v", m["reasons"])
	}
	if _, ok := m["cause"]; ok {
		t.Fatalf("cause present without a cause")
	}

	withCause := NewStorageFailedError("stu-001", "02", "move", stderrors.New("disk full")).ToMap()
	if withCause["cause"] != "disk full" || withCause["operation"] != "move" {
		t.Fatalf("ToMap() = %v", withCause)
	}
}

func TestFileTooLargeIsUnsupportedFormat(t *testing.T) {
	err := NewFileTooLargeError("stu-001", "04", 6<<20, 5<<20)
	if err.Code != ErrorUnsupportedFormat {
		t.Fatalf("Code = %s", err.Code)
	}
	if err.Details["limit"] != int64(5<<20) {
		t.Fatalf("Details = %v", err.Details)
	}
}
