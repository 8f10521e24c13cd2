/**
 * Verification Engine
 *
 * Turns an OCR token set and the applicant's declared profile into a
 * pass/fail verdict with machine-readable reasons. Which fields are extracted,
 * which count toward the overall confidence and how they gate a pass are
 * declared per document type in the registry.
 *
 * A failed verification is a normal result, not an error. Errors are reserved
 * for configuration faults (unknown type or rule).
 */

package verification

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/educaid/docverify-worker/internal/classifier"
	"github.com/educaid/docverify-worker/internal/matcher"
	"github.com/educaid/docverify-worker/internal/processor"
	"github.com/educaid/docverify-worker/internal/registry"
)

// MinOverallConfidence rejects a non-exempt document before any field-level check
const MinOverallConfidence = 40.0

// Places are the location names letters and certificates must mention
type Places struct {
	Municipality string
	Aliases      []string
}

// Engine verifies documents
type Engine struct {
	reg        *registry.Registry
	classifier *classifier.Classifier
	matcher    *matcher.Matcher
	places     Places
	floor      float64
	now        func() time.Time
}

// EngineOption customizes an Engine
type EngineOption func(*Engine)

// WithClock replaces time.Now for VerifiedAt stamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithConfidenceFloor overrides MinOverallConfidence.
func WithConfidenceFloor(floor float64) EngineOption {
	return func(e *Engine) { e.floor = floor }
}

// NewEngine builds an engine over the registry's document types
func NewEngine(reg *registry.Registry, m *matcher.Matcher, places Places, opts ...EngineOption) *Engine {
	if m == nil {
		m = matcher.Default()
	}
	e := &Engine{
		reg:        reg,
		classifier: classifier.New(reg),
		matcher:    m,
		places:     places,
		floor:      MinOverallConfidence,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Exempt returns the verdict for a document type that bypasses verification.
func (e *Engine) Exempt(docType string) *Result {
	return &Result{
		DocumentType: docType,
		State:        StatePassed,
		Fields:       map[FieldName]ExtractedField{},
		Passed:       true,
		Exempt:       true,
		Reasons:      []Reason{},
		VerifiedAt:   e.now(),
	}
}

// Verify evaluates tokens against profile under docType's rule.
func (e *Engine) Verify(docType string, tokens *processor.TokenSet, profile Profile) (*Result, error) {
	dt, err := e.reg.Get(docType)
	if err != nil {
		return nil, err
	}
	if dt.Exempt {
		return e.Exempt(docType), nil
	}
	r, ok := rules[dt.Rule]
	if !ok {
		return nil, fmt.Errorf("no verification rule %q for document type %s", dt.Rule, dt.Code)
	}
	if tokens == nil {
		return nil, fmt.Errorf("no tokens to verify for document type %s", dt.Code)
	}

	text := tokens.FullText()
	cls, err := e.classifier.Classify(docType, text)
	if err != nil {
		return nil, err
	}

	ev := &evaluation{
		dt:             dt,
		profile:        profile,
		places:         e.places,
		x:              newExtractor(e.matcher, text),
		classification: cls,
		detect:         func() (classifier.Result, bool) { return e.classifier.Detect(text) },
		names:          e.typeName,
		fields:         make(map[FieldName]ExtractedField),
	}
	r.collect(ev)
	ev.fields[FieldDocumentType] = ExtractedField{
		RawValue:        strings.Join(cls.Found, ", "),
		NormalizedValue: dt.Key,
		Found:           cls.Matched,
		Similarity:      cls.Confidence,
		Confidence:      cls.Confidence,
	}

	result := &Result{
		DocumentType:      docType,
		State:             StateExtracted,
		Fields:            ev.fields,
		OverallConfidence: overallConfidence(dt.ConfidenceFields, ev.fields),
		Quality:           tokens.Quality,
		Classification:    &cls,
		VerifiedAt:        e.now(),
	}

	if result.OverallConfidence < e.floor {
		return result.fail([]Reason{{
			Code:     ReasonLowQuality,
			Expected: fmt.Sprintf(">= %.0f", e.floor),
			Found:    fmt.Sprintf("%.1f", result.OverallConfidence),
			Message:  "The document quality is too low to verify. Please upload a clearer scan.",
		}}), nil
	}

	reasons := r.check(ev)
	if len(reasons) == 0 {
		return result.pass(), nil
	}
	// A document of the wrong kind is reported as such, not as a list of missing fields.
	// Only when the classifier is one of the blocking reasons: an enrollment form
	// can lack keywords and still fail on a school or course mismatch alone.
	if blockedByClassifier(reasons) {
		reasons = []Reason{ev.wrongType()}
	}
	return result.fail(reasons), nil
}

func blockedByClassifier(reasons []Reason) bool {
	for _, r := range reasons {
		if r.Code == ReasonWrongDocumentType {
			return true
		}
	}
	return false
}

func (e *Engine) typeName(code string) string {
	if dt, ok := e.reg.Lookup(code); ok && dt.Name != "" {
		return dt.Name
	}
	return code
}

func (r *Result) pass() *Result {
	r.State = StatePassed
	r.Passed = true
	r.Reasons = []Reason{}
	return r
}

func (r *Result) fail(reasons []Reason) *Result {
	r.State = StateFailed
	r.Passed = false
	r.Reasons = reasons
	return r
}

// overallConfidence averages the confidences of the listed fields that apply
// to this document. Missing fields are excluded, not counted as zero.
func overallConfidence(names []string, fields map[FieldName]ExtractedField) float64 {
	var sum float64
	n := 0
	for _, name := range names {
		f, ok := fields[FieldName(name)]
		if !ok {
			continue
		}
		sum += f.Confidence
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Round(sum/float64(n)*10) / 10
}
