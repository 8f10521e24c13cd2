/**
 * Keyword-based document classifier
 *
 * Confirms an upload plausibly is the document type its slot expects. Each
 * type carries its own keyword list, minimum hit count and per-hit weight
 * (from the registry). Keywords are matched as substrings so that stems like
 * "indigen" cover "indigent" and "indigency".
 */

package classifier

import (
	"math"
	"strings"

	"github.com/educaid/docverify-worker/internal/errors"
	"github.com/educaid/docverify-worker/internal/matcher"
	"github.com/educaid/docverify-worker/internal/registry"
)

// Result of checking text against one document type
type Result struct {
	DocumentType string   `json:"document_type"`
	Matched      bool     `json:"matched"`
	Hits         int      `json:"hits"`
	Required     int      `json:"required"`
	Found        []string `json:"found"`
	Missing      []string `json:"missing"`
	Confidence   float64  `json:"confidence"`
}

type entry struct {
	code string
	spec registry.ClassifierSpec
}

// Classifier holds the keyword sets of every non-exempt document type
type Classifier struct {
	entries []entry
	byCode  map[string]registry.ClassifierSpec
}

// New builds a classifier from the registry's non-exempt types.
func New(reg *registry.Registry) *Classifier {
	c := &Classifier{byCode: make(map[string]registry.ClassifierSpec)}
	for _, dt := range reg.Classified() {
		c.entries = append(c.entries, entry{code: dt.Code, spec: dt.Classifier})
		c.byCode[dt.Code] = dt.Classifier
	}
	return c
}

// Classify checks text against docType's keyword set.
func (c *Classifier) Classify(docType, text string) (Result, error) {
	spec, ok := c.byCode[docType]
	if !ok {
		return Result{}, errors.NewInvalidDocumentTypeError(docType)
	}
	return score(docType, spec, matcher.Normalize(text)), nil
}

// Detect returns the best-scoring document type whose threshold the text meets.
// The second return is false when no type matches.
func (c *Classifier) Detect(text string) (Result, bool) {
	normalized := matcher.Normalize(text)

	var best Result
	found := false
	for _, e := range c.entries {
		r := score(e.code, e.spec, normalized)
		if !r.Matched {
			continue
		}
		if !found || r.Confidence > best.Confidence || (r.Confidence == best.Confidence && r.Hits > best.Hits) {
			best = r
			found = true
		}
	}
	return best, found
}

func score(code string, spec registry.ClassifierSpec, normalized string) Result {
	r := Result{
		DocumentType: code,
		Required:     spec.MinMatches,
		Found:        []string{},
		Missing:      []string{},
	}
	for _, kw := range spec.Keywords {
		if strings.Contains(normalized, kw) {
			r.Found = append(r.Found, kw)
		} else {
			r.Missing = append(r.Missing, kw)
		}
	}
	r.Hits = len(r.Found)
	r.Matched = r.Hits >= spec.MinMatches
	r.Confidence = math.Min(100, float64(r.Hits)*spec.HitWeight)
	return r
}
