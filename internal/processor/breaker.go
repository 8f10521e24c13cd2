package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/educaid/docverify-worker/internal/logging"
)

// BreakerConfig controls when the OCR engine is considered down
type BreakerConfig struct {
	MinRequests  uint32
	FailureRatio float64
	OpenTimeout  time.Duration
	Interval     time.Duration
}

// DefaultBreakerConfig trips at >= 5 requests with >= 60% failures and stays open 30s
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MinRequests:  5,
		FailureRatio: 0.6,
		OpenTimeout:  30 * time.Second,
		Interval:     time.Minute,
	}
}

// BreakerExtractor fails fast while the wrapped engine keeps failing.
// Unreadable scans (no tokens, bad PDFs) are the user's problem, not the engine's,
// and do not count as failures.
type BreakerExtractor struct {
	next    Extractor
	breaker *gobreaker.CircuitBreaker[*TokenSet]
}

// NewBreakerExtractor wraps next
func NewBreakerExtractor(next Extractor, cfg BreakerConfig, logger *logging.Logger) *BreakerExtractor {
	if logger == nil {
		logger = logging.NewLogger("ocr-breaker")
	}
	settings := gobreaker.Settings{
		Name:        "ocr",
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoTokens) || errors.Is(err, ErrInvalidPDF)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("OCR circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
	return &BreakerExtractor{next: next, breaker: gobreaker.NewCircuitBreaker[*TokenSet](settings)}
}

func (b *BreakerExtractor) Extract(ctx context.Context, path string) (*TokenSet, error) {
	ts, err := b.breaker.Execute(func() (*TokenSet, error) {
		return b.next.Extract(ctx, path)
	})
	if IsCircuitOpen(err) {
		return nil, fmt.Errorf("OCR engine unavailable: %w", err)
	}
	return ts, err
}

// IsCircuitOpen reports whether err came from an open or saturated breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
