package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/educaid/docverify-worker/internal/errors"
)

func TestDefaultRegistry(t *testing.T) {
	r := Default()

	if got := len(r.All()); got != 5 {
		t.Fatalf("len(All()) = %d, want 5", got)
	}

	photo, ok := r.Lookup("04")
	if !ok || !photo.Exempt || photo.Required {
		t.Fatalf("ID picture = %+v, want exempt and optional", photo)
	}
	if photo.Accepts("application/pdf") {
		t.Fatalf("ID picture must not accept PDF")
	}

	eaf, err := r.Get("00")
	if err != nil {
		t.Fatalf("Get(00) error = %v", err)
	}
	if eaf.Rule != RuleEnrollment || eaf.Classifier.MinMatches != 2 || eaf.Classifier.HitWeight != 25 {
		t.Fatalf("EAF = %+v", eaf)
	}
	if !eaf.Accepts("APPLICATION/PDF") {
		t.Fatalf("EAF must accept PDF regardless of case")
	}
	if eaf.MaxSizeBytes() != 10*1024*1024 {
		t.Fatalf("MaxSizeBytes() = %d", eaf.MaxSizeBytes())
	}

	if got := len(r.Classified()); got != 4 {
		t.Fatalf("len(Classified()) = %d, want 4", got)
	}
}

func TestGetUnknownCode(t *testing.T) {
	_, err := Default().Get("99")
	if !errors.HasCode(err, errors.ErrorInvalidDocumentType) {
		t.Fatalf("Get(99) error = %v, want INVALID_DOCUMENT_TYPE", err)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", "document_types: []", "no document types"},
		{"unknown rule", `
document_types:
  - {code: "01", folder: grades, accept: [image/png], max_size_mb: 1, rule: magic}`, "unknown rule"},
		{"exempt mismatch", `
document_types:
  - {code: "04", folder: ids, accept: [image/png], max_size_mb: 1, rule: exempt, exempt: false}`, "disagree"},
		{"missing keywords", `
document_types:
  - {code: "01", folder: grades, accept: [image/png], max_size_mb: 1, rule: grades, confidence_fields: [student_name]}`, "keywords"},
		{"duplicate code", `
document_types:
  - {code: "04", folder: a, accept: [image/png], max_size_mb: 1, rule: exempt, exempt: true}
  - {code: "04", folder: b, accept: [image/png], max_size_mb: 1, rule: exempt, exempt: true}`, "duplicate"},
		{"path folder", `
document_types:
  - {code: "04", folder: ../etc, accept: [image/png], max_size_mb: 1, rule: exempt, exempt: true}`, "plain directory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Parse() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestLoadOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "types.yaml")
	content := `
document_types:
  - code: "01"
    folder: grades
    accept: [image/png]
    max_size_mb: 2
    rule: grades
    classifier: {keywords: [" GRADE ", Academic], min_matches: 1, hit_weight: 50}
    confidence_fields: [student_name]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	dt, _ := r.Lookup("01")
	if dt.Classifier.Keywords[0] != "grade" || dt.Classifier.Keywords[1] != "academic" {
		t.Fatalf("keywords not normalized: %#v", dt.Classifier.Keywords)
	}
	if _, ok := r.Lookup("00"); ok {
		t.Fatalf("override must replace the embedded set")
	}
}
