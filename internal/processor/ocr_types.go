/**
 * OCR Types - Shared data structures for OCR operations
 *
 * Common types used by the tesseract TSV engine and the in-process gosseract engine
 */

package processor

import (
	"context"
	"math"
	"strings"
	"time"
)

// MinTokenConfidence is the floor below which word tokens are dropped as layout noise
const MinTokenConfidence = 30.0

// LowConfidence marks a token as unreliable for the quality score
const LowConfidence = 70.0

// Extractor turns an image or PDF on disk into word tokens
type Extractor interface {
	Extract(ctx context.Context, path string) (*TokenSet, error)
}

// BoundingBox represents coordinates of a region
type BoundingBox struct {
	X      int `json:"left"`
	Y      int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// WordToken is one recognized word
type WordToken struct {
	Text        string      `json:"text"`
	BoundingBox BoundingBox `json:"box"`
	Confidence  float64     `json:"confidence"`
	Page        int         `json:"page"`
	Block       int         `json:"block"`
	Paragraph   int         `json:"paragraph"`
	Line        int         `json:"line"`
	Word        int         `json:"word"`
}

// Quality summarizes token confidence for one OCR run
type Quality struct {
	TotalWords    int     `json:"total_words"`
	AvgConfidence float64 `json:"avg_confidence"`
	QualityScore  float64 `json:"quality_score"`
}

// TokenSet is the output of one OCR run, ordered by reading position
type TokenSet struct {
	Tokens   []WordToken   `json:"tokens"`
	Quality  Quality       `json:"quality"`
	Engine   string        `json:"engine"`
	Duration time.Duration `json:"duration"`
}

// FullText joins tokens with spaces inside a line and newlines between lines.
func (ts *TokenSet) FullText() string {
	if ts == nil || len(ts.Tokens) == 0 {
		return ""
	}
	var b strings.Builder
	prev := ts.Tokens[0]
	b.WriteString(prev.Text)
	for _, tok := range ts.Tokens[1:] {
		if sameLine(prev, tok) {
			b.WriteByte(' ')
		} else {
			b.WriteByte('\n')
		}
		b.WriteString(tok.Text)
		prev = tok
	}
	return b.String()
}

func sameLine(a, b WordToken) bool {
	return a.Page == b.Page && a.Block == b.Block && a.Paragraph == b.Paragraph && a.Line == b.Line
}

// ComputeQuality returns mean confidence (2 decimals) and the share of
// tokens at or above LowConfidence (1 decimal). An empty set is all zeros.
func ComputeQuality(tokens []WordToken) Quality {
	if len(tokens) == 0 {
		return Quality{}
	}
	var sum float64
	low := 0
	for _, t := range tokens {
		sum += t.Confidence
		if t.Confidence < LowConfidence {
			low++
		}
	}
	n := float64(len(tokens))
	return Quality{
		TotalWords:    len(tokens),
		AvgConfidence: round(sum/n, 2),
		QualityScore:  round(100-float64(low)/n*100, 1),
	}
}

func keepToken(text string, confidence float64) bool {
	return strings.TrimSpace(text) != "" && confidence > MinTokenConfidence
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
