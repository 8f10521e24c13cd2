/**
 * Tesseract OCR - in-process engine
 *
 * Uses libtesseract through gosseract instead of the CLI. Word boxes carry
 * no layout indices, so lines are recovered by the layout analyzer.
 */

package processor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"
)

// TesseractConfig holds gosseract configuration
type TesseractConfig struct {
	Languages []string
	Timeout   time.Duration
}

// GosseractExtractor handles OCR using libtesseract
type GosseractExtractor struct {
	languages     []string
	timeout       time.Duration
	clientFactory func() *gosseract.Client
}

// NewGosseractExtractor creates a new in-process Tesseract engine
func NewGosseractExtractor(cfg TesseractConfig) *GosseractExtractor {
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"eng"}
	}
	return &GosseractExtractor{
		languages:     cfg.Languages,
		timeout:       cfg.Timeout,
		clientFactory: gosseract.NewClient,
	}
}

type gosseractOutcome struct {
	tokens []WordToken
	err    error
}

// Extract performs OCR on the image at path. libtesseract cannot be
// interrupted, so on timeout the call returns while recognition finishes in
// the background and its client is closed there.
func (g *GosseractExtractor) Extract(ctx context.Context, path string) (*TokenSet, error) {
	start := time.Now()
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	done := make(chan gosseractOutcome, 1)
	go func() {
		tokens, err := g.recognize(path)
		done <- gosseractOutcome{tokens: tokens, err: err}
	}()

	var outcome gosseractOutcome
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("gosseract interrupted: %w", ctx.Err())
	case outcome = <-done:
	}
	if outcome.err != nil {
		return nil, outcome.err
	}
	if len(outcome.tokens) == 0 {
		return nil, ErrNoTokens
	}

	return &TokenSet{
		Tokens:   OrderTokens(outcome.tokens),
		Quality:  ComputeQuality(outcome.tokens),
		Engine:   "gosseract",
		Duration: time.Since(start),
	}, nil
}

func (g *GosseractExtractor) recognize(path string) ([]WordToken, error) {
	client := g.clientFactory()
	defer client.Close()

	if err := client.SetLanguage(g.languages...); err != nil {
		return nil, fmt.Errorf("set languages: %w", err)
	}
	if err := client.SetImage(path); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	tokens := make([]WordToken, 0, len(boxes))
	for _, b := range boxes {
		if !keepToken(b.Word, b.Confidence) {
			continue
		}
		tokens = append(tokens, WordToken{
			Text:       strings.TrimSpace(b.Word),
			Confidence: b.Confidence,
			Page:       1,
			BoundingBox: BoundingBox{
				X:      b.Box.Min.X,
				Y:      b.Box.Min.Y,
				Width:  b.Box.Dx(),
				Height: b.Box.Dy(),
			},
		})
	}
	return tokens, nil
}
