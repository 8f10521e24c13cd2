package verification

import (
	"time"

	"github.com/educaid/docverify-worker/internal/classifier"
	"github.com/educaid/docverify-worker/internal/errors"
	"github.com/educaid/docverify-worker/internal/processor"
)

// FieldName identifies one extracted field
type FieldName string

const (
	FieldFirstName    FieldName = "first_name"
	FieldMiddleName   FieldName = "middle_name"
	FieldLastName     FieldName = "last_name"
	FieldStudentName  FieldName = "student_name"
	FieldCourse       FieldName = "course"
	FieldYearLevel    FieldName = "year_level"
	FieldUniversity   FieldName = "university"
	FieldAcademicYear FieldName = "academic_year"
	FieldStudentID    FieldName = "student_id"
	FieldDocumentType FieldName = "document_type"
	FieldMunicipality FieldName = "municipality"
	FieldBarangay     FieldName = "barangay"
)

// ExtractedField is the outcome of looking for one field in the OCR text.
// Matched is only meaningful for fields compared against a declared value
// with a second, stricter threshold (university, course).
type ExtractedField struct {
	RawValue        string  `json:"raw_value,omitempty"`
	NormalizedValue string  `json:"normalized_value,omitempty"`
	Found           bool    `json:"found"`
	Matched         bool    `json:"matched,omitempty"`
	Similarity      float64 `json:"similarity"`
	Confidence      float64 `json:"confidence"`
}

// State of a verification attempt
type State string

const (
	StateNew       State = "new"
	StateExtracted State = "extracted"
	StatePassed    State = "passed"
	StateFailed    State = "failed"
)

// Reason codes
const (
	ReasonLowQuality        = "low_quality"
	ReasonWrongDocumentType = "wrong_document_type"
	ReasonFieldNotFound     = "field_not_found"
	ReasonFieldMismatch     = "field_mismatch"
	ReasonKeywordMissing    = "keyword_missing"
	ReasonNotVerified       = "not_verified"
)

// Reason explains one failed check
type Reason = errors.Reason

// Result is the verdict for one processed document
type Result struct {
	DocumentType      string                       `json:"document_type"`
	State             State                        `json:"state"`
	Fields            map[FieldName]ExtractedField `json:"fields"`
	OverallConfidence float64                      `json:"overall_confidence"`
	Passed            bool                         `json:"passed"`
	Exempt            bool                         `json:"exempt"`
	Quality           processor.Quality            `json:"quality"`
	Classification    *classifier.Result           `json:"classification,omitempty"`
	Reasons           []Reason                     `json:"reasons"`
	VerifiedAt        time.Time                    `json:"verified_at"`
}

// ConfidenceReport is the compact summary written next to the staged file
type ConfidenceReport struct {
	DocumentType      string                `json:"document_type"`
	OverallConfidence float64               `json:"overall_confidence"`
	Passed            bool                  `json:"passed"`
	Quality           processor.Quality     `json:"quality"`
	Fields            map[FieldName]float64 `json:"field_confidence"`
	VerifiedAt        time.Time             `json:"verified_at"`
}

// Confidence returns the compact per-field confidence summary.
func (r *Result) Confidence() ConfidenceReport {
	fields := make(map[FieldName]float64, len(r.Fields))
	for name, f := range r.Fields {
		fields[name] = f.Confidence
	}
	return ConfidenceReport{
		DocumentType:      r.DocumentType,
		OverallConfidence: r.OverallConfidence,
		Passed:            r.Passed,
		Quality:           r.Quality,
		Fields:            fields,
		VerifiedAt:        r.VerifiedAt,
	}
}

// Profile is what the applicant declared at registration
type Profile struct {
	ApplicantID string `json:"applicant_id"`
	FirstName   string `json:"first_name"`
	MiddleName  string `json:"middle_name"`
	LastName    string `json:"last_name"`
	Course      string `json:"course"`
	University  string `json:"university"`
	YearLevel   string `json:"year_level"`
	Barangay    string `json:"barangay"`
}
