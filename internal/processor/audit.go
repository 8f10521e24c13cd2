package processor

import (
	"context"
	"os"

	"github.com/educaid/docverify-worker/internal/logging"
)

// Counter is the subset of a metrics counter the audit decorator needs
type Counter interface {
	Inc()
}

// AuditPaths returns the debug files written next to source.
func AuditPaths(source string) []string {
	return []string{source + ".ocr.txt", source + ".tsv"}
}

// AuditingExtractor persists the extracted text and a token dump next to the
// source file. Write failures are logged and counted but do not fail the extraction.
type AuditingExtractor struct {
	next      Extractor
	logger    *logging.Logger
	failures  Counter
	writeFile func(name string, data []byte, perm os.FileMode) error
}

// NewAuditingExtractor wraps next. failures may be nil.
func NewAuditingExtractor(next Extractor, logger *logging.Logger, failures Counter) *AuditingExtractor {
	if logger == nil {
		logger = logging.NewLogger("ocr-audit")
	}
	return &AuditingExtractor{next: next, logger: logger, failures: failures, writeFile: os.WriteFile}
}

func (a *AuditingExtractor) Extract(ctx context.Context, path string) (*TokenSet, error) {
	ts, err := a.next.Extract(ctx, path)
	if err != nil {
		return nil, err
	}

	paths := AuditPaths(path)
	a.write(paths[0], []byte(ts.FullText()), path, ts)
	a.write(paths[1], FormatTSV(ts.Tokens), path, ts)
	return ts, nil
}

func (a *AuditingExtractor) write(target string, data []byte, source string, ts *TokenSet) {
	if err := a.writeFile(target, data, 0o640); err != nil {
		a.logger.Error("Failed to write OCR audit file",
			"target", target,
			"source", source,
			"engine", ts.Engine,
			"words", ts.Quality.TotalWords,
			"bytes", len(data),
			"error", err)
		if a.failures != nil {
			a.failures.Inc()
		}
	}
}
