package verification

import (
	"strings"
	"testing"
	"time"

	"github.com/educaid/docverify-worker/internal/errors"
	"github.com/educaid/docverify-worker/internal/processor"
	"github.com/educaid/docverify-worker/internal/registry"
)

const enrollmentText = `CAVITE STATE UNIVERSITY
CERTIFICATE OF REGISTRATION
Student No: 202112345
Name: SANTOS, JUAN
Program: BSIT
Year Level: 3rd Year
School Year 2024-2025
Assessment of Fees Tuition`

const indigencyText = `Republic of the Philippines
Province of Cavite
Barangay Pasong Camachile, General Trias, Cavite
CERTIFICATE OF INDIGENCY
This is to certify that JUAN SANTOS, of legal age,
is a bona fide resident and belongs to an indigent family.`

const gradesText = `CAVITE STATE UNIVERSITY
Report of Grades
Name: Santos, Juan
First Semester A.Y. 2024-2025`

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func juan() Profile {
	return Profile{
		ApplicantID: "stu-001",
		FirstName:   "Juan",
		LastName:    "Santos",
		Course:      "BS Information Technology",
		University:  "Cavite State University",
		YearLevel:   "3rd Year",
		Barangay:    "Pasong Camachile",
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(registry.Default(), nil, Places{Municipality: "General Trias", Aliases: []string{"generaltrias"}},
		WithClock(func() time.Time { return fixedNow }))
}

// tokensFrom turns text into a token set, one OCR line per text line.
func tokensFrom(text string, confidence float64) *processor.TokenSet {
	var tokens []processor.WordToken
	for li, line := range strings.Split(text, "\n") {
		for wi, w := range strings.Fields(line) {
			tokens = append(tokens, processor.WordToken{
				Text: w, Confidence: confidence, Page: 1, Block: 1, Paragraph: 1, Line: li + 1, Word: wi + 1,
			})
		}
	}
	return &processor.TokenSet{Tokens: tokens, Quality: processor.ComputeQuality(tokens), Engine: "test"}
}

func reasonCodes(r *Result) []string {
	codes := make([]string, 0, len(r.Reasons))
	for _, reason := range r.Reasons {
		codes = append(codes, reason.Code)
	}
	return codes
}

func TestEnrollmentFormPasses(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Verify("00", tokensFrom(enrollmentText, 92), juan())
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !res.Passed || res.State != StatePassed || len(res.Reasons) != 0 {
		t.Fatalf("Verify() = passed %v state %s reasons %+v", res.Passed, res.State, res.Reasons)
	}

	course := res.Fields[FieldCourse]
	if course.RawValue != "BSIT" || course.NormalizedValue != "BS Information Technology" || course.Confidence != 95 || !course.Matched {
		t.Fatalf("course = %+v", course)
	}
	if y := res.Fields[FieldYearLevel]; y.NormalizedValue != "3rd Year College" {
		t.Fatalf("year level = %+v", y)
	}
	if ay := res.Fields[FieldAcademicYear]; ay.NormalizedValue != "2024-2025" {
		t.Fatalf("academic year = %+v", ay)
	}
	if id := res.Fields[FieldStudentID]; id.RawValue != "202112345" {
		t.Fatalf("student id = %+v", id)
	}
	// student_name 100, course 95, year 85, university 100, document_type 100
	if res.OverallConfidence != 96 {
		t.Fatalf("OverallConfidence = %v, want 96", res.OverallConfidence)
	}
	if !res.VerifiedAt.Equal(fixedNow) {
		t.Fatalf("VerifiedAt = %v", res.VerifiedAt)
	}
}

func TestEnrollmentFormWrongPerson(t *testing.T) {
	e := newTestEngine(t)
	p := juan()
	p.FirstName, p.LastName = "Maria", "Villanueva"

	res, err := e.Verify("00", tokensFrom(enrollmentText, 92), p)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if res.Passed {
		t.Fatalf("wrong applicant passed verification")
	}
	codes := reasonCodes(res)
	if len(codes) != 2 || codes[0] != ReasonFieldNotFound || codes[1] != ReasonFieldNotFound {
		t.Fatalf("reasons = %+v", res.Reasons)
	}
	if res.Reasons[0].Field != "first_name" || res.Reasons[1].Field != "last_name" || res.Reasons[1].Expected != "Villanueva" {
		t.Fatalf("reasons = %+v", res.Reasons)
	}
}

func TestEnrollmentFourOfFiveSignals(t *testing.T) {
	e := newTestEngine(t)
	text := strings.Replace(enrollmentText, "Year Level: 3rd Year\n", "", 1)

	res, err := e.Verify("00", tokensFrom(text, 92), juan())
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if res.Fields[FieldYearLevel].Found {
		t.Fatalf("year level should be missing")
	}
	if !res.Passed {
		t.Fatalf("4 of 5 signals should pass, reasons = %+v", res.Reasons)
	}
}

func TestEnrollmentUniversityMismatchBlocks(t *testing.T) {
	e := newTestEngine(t)
	p := juan()
	p.University = "Cavite State College"

	res, err := e.Verify("00", tokensFrom(enrollmentText, 92), p)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	u := res.Fields[FieldUniversity]
	if !u.Found || u.Matched {
		t.Fatalf("university = %+v, want found but not matched", u)
	}
	if res.Passed || len(res.Reasons) != 1 || res.Reasons[0].Code != ReasonFieldMismatch || res.Reasons[0].Field != "university" {
		t.Fatalf("reasons = %+v", res.Reasons)
	}
}

func TestEnrollmentCourseMismatchBlocks(t *testing.T) {
	e := newTestEngine(t)
	p := juan()
	p.Course = "BS Nursing"

	res, err := e.Verify("00", tokensFrom(enrollmentText, 92), p)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if res.Passed || res.Reasons[0].Field != "course" || res.Reasons[0].Found != "BS Information Technology" {
		t.Fatalf("reasons = %+v", res.Reasons)
	}
}

func TestEnrollmentMismatchNotHiddenByClassifier(t *testing.T) {
	e := newTestEngine(t)
	p := juan()
	p.Course = "BS Nursing"
	text := `CAVITE STATE UNIVERSITY
Student No: 202112345
Name: SANTOS, JUAN
Program: BSIT
Year Level: 3rd Year
School Year 2024-2025`

	res, err := e.Verify("00", tokensFrom(text, 92), p)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if res.Classification == nil || res.Classification.Matched {
		t.Fatalf("classification = %+v, want no keyword match", res.Classification)
	}
	if res.Passed || len(res.Reasons) != 1 {
		t.Fatalf("reasons = %+v, want only the course mismatch", res.Reasons)
	}
	if r := res.Reasons[0]; r.Code != ReasonFieldMismatch || r.Field != "course" {
		t.Fatalf("reason = %+v, want course field_mismatch", r)
	}
}

func TestUndeclaredUniversityIsExcludedFromConfidence(t *testing.T) {
	e := newTestEngine(t)
	p := juan()
	p.University = ""

	res, err := e.Verify("00", tokensFrom(enrollmentText, 92), p)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if _, ok := res.Fields[FieldUniversity]; ok {
		t.Fatalf("university field should not be present")
	}
	// (100 + 95 + 85 + 100) / 4
	if res.OverallConfidence != 95 {
		t.Fatalf("OverallConfidence = %v, want 95", res.OverallConfidence)
	}
}

func TestConfidenceFloorPreemptsFieldReasons(t *testing.T) {
	yaml := func(weight string) string {
		return `
document_types:
  - code: "09"
    name: Test Form
    folder: test
    accept: [image/png]
    max_size_mb: 1
    rule: letter
    classifier: {keywords: [mayor], min_matches: 1, hit_weight: ` + weight + `}
    confidence_fields: [document_type]
`
	}
	text := "Hon. Mayor\nsomeone else entirely"

	tests := []struct {
		weight  string
		wantLow bool
	}{
		{"39", true},
		{"40", false},
	}
	for _, tt := range tests {
		reg, err := registry.Parse([]byte(yaml(tt.weight)))
		if err != nil {
			t.Fatalf("Parse() error = %v", err)
		}
		e := NewEngine(reg, nil, Places{Municipality: "General Trias"})

		res, err := e.Verify("09", tokensFrom(text, 90), juan())
		if err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
		codes := reasonCodes(res)
		if tt.wantLow {
			if len(codes) != 1 || codes[0] != ReasonLowQuality || res.Passed {
				t.Fatalf("weight %s: reasons = %v, want only low_quality", tt.weight, codes)
			}
			continue
		}
		for _, c := range codes {
			if c == ReasonLowQuality {
				t.Fatalf("weight %s: confidence %v rejected as low quality", tt.weight, res.OverallConfidence)
			}
		}
		if len(codes) == 0 {
			t.Fatalf("weight %s: expected field-level reasons", tt.weight)
		}
	}
}

func TestCertificateInLetterSlotIsWrongDocumentType(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Verify("02", tokensFrom(indigencyText, 90), juan())
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if res.Passed {
		t.Fatalf("certificate accepted as letter")
	}
	if !res.Fields[FieldLastName].Found {
		t.Fatalf("surname should be found on the certificate")
	}
	if len(res.Reasons) != 1 {
		t.Fatalf("reasons = %+v, want a single wrong_document_type", res.Reasons)
	}
	r := res.Reasons[0]
	if r.Code != ReasonWrongDocumentType || r.Expected != "Letter to Mayor" || r.Found != "Certificate of Indigency" {
		t.Fatalf("reason = %+v", r)
	}
}

func TestCertificatePasses(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Verify("03", tokensFrom(indigencyText, 90), juan())
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !res.Passed {
		t.Fatalf("reasons = %+v", res.Reasons)
	}
	if !res.Fields[FieldBarangay].Found || !res.Fields[FieldMunicipality].Found {
		t.Fatalf("fields = %+v", res.Fields)
	}
}

func TestCertificateWrongBarangay(t *testing.T) {
	e := newTestEngine(t)
	p := juan()
	p.Barangay = "Tejero"

	res, err := e.Verify("03", tokensFrom(indigencyText, 90), p)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if res.Passed || len(res.Reasons) != 1 || res.Reasons[0].Field != "barangay" {
		t.Fatalf("reasons = %+v", res.Reasons)
	}
}

func TestGradesPasses(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Verify("01", tokensFrom(gradesText, 88), juan())
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !res.Passed {
		t.Fatalf("reasons = %+v", res.Reasons)
	}
}

func TestGradesMissingSchool(t *testing.T) {
	e := newTestEngine(t)
	text := strings.Replace(gradesText, "CAVITE STATE UNIVERSITY", "LYCEUM COLLEGE", 1)

	res, err := e.Verify("01", tokensFrom(text, 88), juan())
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if res.Passed || res.Reasons[0].Code != ReasonKeywordMissing {
		t.Fatalf("reasons = %+v", res.Reasons)
	}
}

func TestExemptTypeSkipsVerification(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Verify("04", nil, Profile{})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !res.Passed || !res.Exempt || res.State != StatePassed || len(res.Fields) != 0 {
		t.Fatalf("Verify(04) = %+v", res)
	}
}

func TestUnknownDocumentType(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Verify("77", tokensFrom("x", 90), juan()); !errors.HasCode(err, errors.ErrorInvalidDocumentType) {
		t.Fatalf("Verify(77) error = %v", err)
	}
}

func TestNormalizeCourse(t *testing.T) {
	tests := map[string]string{
		"BS IT":                           "BS Information Technology",
		"B.S. Computer Science":           "BS Computer Science",
		"Bachelor of Science in   CS":     "BS Computer Science",
		"Information Technology":          "BS Information Technology",
		"AB Psychology":                   "BS Psychology",
		"Bachelor of Secondary Education": "Bachelor of Secondary Education",
	}
	for in, want := range tests {
		if got := NormalizeCourse(in); got != want {
			t.Errorf("NormalizeCourse(%q) = %q, want %q", in, got, want)
		}
	}
}
