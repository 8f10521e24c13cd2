/**
 * Document-type registry
 *
 * Static configuration mapping a document-type code to its storage folder,
 * accepted MIME types, classifier keywords and verification rule. The default
 * set is embedded; DOCUMENT_TYPES_FILE replaces it wholesale.
 */

package registry

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/educaid/docverify-worker/internal/errors"
)

//go:embed document_types.yaml
var defaultDocumentTypes []byte

// Verification rules understood by the engine
const (
	RuleExempt      = "exempt"
	RuleEnrollment  = "enrollment"
	RuleGrades      = "grades"
	RuleLetter      = "letter"
	RuleCertificate = "certificate"
)

var knownRules = map[string]bool{
	RuleExempt:      true,
	RuleEnrollment:  true,
	RuleGrades:      true,
	RuleLetter:      true,
	RuleCertificate: true,
}

// ClassifierSpec is the keyword set that identifies a document type
type ClassifierSpec struct {
	Keywords   []string `yaml:"keywords"`
	MinMatches int      `yaml:"min_matches"`
	HitWeight  float64  `yaml:"hit_weight"`
}

// DocumentType describes one uploadable document
type DocumentType struct {
	Code             string         `yaml:"code"`
	Key              string         `yaml:"key"`
	Name             string         `yaml:"name"`
	Folder           string         `yaml:"folder"`
	Required         bool           `yaml:"required"`
	Exempt           bool           `yaml:"exempt"`
	Accept           []string       `yaml:"accept"`
	MaxSizeMB        int            `yaml:"max_size_mb"`
	Rule             string         `yaml:"rule"`
	Classifier       ClassifierSpec `yaml:"classifier"`
	ConfidenceFields []string       `yaml:"confidence_fields"`
}

// Accepts reports whether mimeType is allowed for this document type.
func (d DocumentType) Accepts(mimeType string) bool {
	for _, m := range d.Accept {
		if strings.EqualFold(m, mimeType) {
			return true
		}
	}
	return false
}

// MaxSizeBytes returns the upload size limit in bytes.
func (d DocumentType) MaxSizeBytes() int64 {
	return int64(d.MaxSizeMB) * 1024 * 1024
}

type document struct {
	DocumentTypes []DocumentType `yaml:"document_types"`
}

// Registry is an immutable lookup of document types by code
type Registry struct {
	byCode map[string]DocumentType
	codes  []string
}

// Default returns the embedded registry. It panics if the embedded file is invalid.
func Default() *Registry {
	r, err := Parse(defaultDocumentTypes)
	if err != nil {
		panic(fmt.Sprintf("embedded document types are invalid: %v", err))
	}
	return r
}

// Load reads a registry from path, or returns the embedded default when path is empty.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Parse(defaultDocumentTypes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document types file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML registry.
func Parse(data []byte) (*Registry, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse document types: %w", err)
	}
	if len(doc.DocumentTypes) == 0 {
		return nil, fmt.Errorf("no document types defined")
	}

	r := &Registry{byCode: make(map[string]DocumentType, len(doc.DocumentTypes))}
	folders := make(map[string]string)
	for _, dt := range doc.DocumentTypes {
		if err := validate(dt); err != nil {
			return nil, err
		}
		if _, dup := r.byCode[dt.Code]; dup {
			return nil, fmt.Errorf("duplicate document type code %q", dt.Code)
		}
		if other, dup := folders[dt.Folder]; dup {
			return nil, fmt.Errorf("document types %q and %q share folder %q", other, dt.Code, dt.Folder)
		}
		folders[dt.Folder] = dt.Code
		for i, kw := range dt.Classifier.Keywords {
			dt.Classifier.Keywords[i] = strings.ToLower(strings.TrimSpace(kw))
		}
		r.byCode[dt.Code] = dt
		r.codes = append(r.codes, dt.Code)
	}
	sort.Strings(r.codes)
	return r, nil
}

func validate(dt DocumentType) error {
	if dt.Code == "" {
		return fmt.Errorf("document type without code")
	}
	if dt.Folder == "" || strings.ContainsAny(dt.Folder, `/\.`) {
		return fmt.Errorf("document type %s: folder %q must be a plain directory name", dt.Code, dt.Folder)
	}
	if len(dt.Accept) == 0 {
		return fmt.Errorf("document type %s: accept list is empty", dt.Code)
	}
	if dt.MaxSizeMB <= 0 {
		return fmt.Errorf("document type %s: max_size_mb must be positive", dt.Code)
	}
	if !knownRules[dt.Rule] {
		return fmt.Errorf("document type %s: unknown rule %q", dt.Code, dt.Rule)
	}
	if dt.Exempt != (dt.Rule == RuleExempt) {
		return fmt.Errorf("document type %s: exempt flag and rule %q disagree", dt.Code, dt.Rule)
	}
	if dt.Exempt {
		return nil
	}
	if len(dt.Classifier.Keywords) == 0 {
		return fmt.Errorf("document type %s: classifier keywords are required", dt.Code)
	}
	if dt.Classifier.MinMatches < 1 || dt.Classifier.MinMatches > len(dt.Classifier.Keywords) {
		return fmt.Errorf("document type %s: min_matches must be between 1 and %d", dt.Code, len(dt.Classifier.Keywords))
	}
	if dt.Classifier.HitWeight <= 0 {
		return fmt.Errorf("document type %s: hit_weight must be positive", dt.Code)
	}
	if len(dt.ConfidenceFields) == 0 {
		return fmt.Errorf("document type %s: confidence_fields is empty", dt.Code)
	}
	return nil
}

// Lookup returns the document type for code.
func (r *Registry) Lookup(code string) (DocumentType, bool) {
	dt, ok := r.byCode[code]
	return dt, ok
}

// Get is Lookup that fails with INVALID_DOCUMENT_TYPE.
func (r *Registry) Get(code string) (DocumentType, error) {
	dt, ok := r.byCode[code]
	if !ok {
		return DocumentType{}, errors.NewInvalidDocumentTypeError(code)
	}
	return dt, nil
}

// All returns every document type ordered by code.
func (r *Registry) All() []DocumentType {
	out := make([]DocumentType, 0, len(r.codes))
	for _, c := range r.codes {
		out = append(out, r.byCode[c])
	}
	return out
}

// Classified returns the non-exempt document types, the candidates for classification.
func (r *Registry) Classified() []DocumentType {
	var out []DocumentType
	for _, dt := range r.All() {
		if !dt.Exempt {
			out = append(out, dt)
		}
	}
	return out
}
