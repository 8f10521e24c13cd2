/**
 * Document Processor for the verification worker
 *
 * Assembles the OCR pipeline used by the upload service:
 *   audit sidecars -> circuit breaker -> PDF first-page rasterizer -> OCR engine
 * and sniffs upload content types from magic bytes.
 */

package processor

import (
	"bytes"
	"fmt"
	"time"

	"github.com/educaid/docverify-worker/internal/logging"
)

// Engine names accepted by PipelineConfig
const (
	EngineTSV       = "tsv"
	EngineGosseract = "gosseract"
)

// PipelineConfig holds processor configuration
type PipelineConfig struct {
	Engine        string
	TesseractPath string
	PdftoppmPath  string
	Language      string
	OCRTimeout    time.Duration
	Breaker       BreakerConfig
	Runner        CommandRunner
	AuditFailures Counter
	Logger        *logging.Logger
}

// NewPipeline builds the decorated extractor for cfg.Engine
func NewPipeline(cfg PipelineConfig) (Extractor, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("processor")
	}

	var engine Extractor
	switch cfg.Engine {
	case EngineTSV, "":
		engine = NewTSVExtractor(TSVConfig{
			TesseractPath: cfg.TesseractPath,
			Language:      cfg.Language,
			Timeout:       cfg.OCRTimeout,
			Runner:        cfg.Runner,
		})
	case EngineGosseract:
		engine = NewGosseractExtractor(TesseractConfig{
			Languages: []string{cfg.Language},
			Timeout:   cfg.OCRTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown OCR engine %q", cfg.Engine)
	}

	breakerCfg := cfg.Breaker
	if breakerCfg == (BreakerConfig{}) {
		breakerCfg = DefaultBreakerConfig()
	}

	var ex Extractor = NewPDFRasterizer(engine, cfg.PdftoppmPath, cfg.Runner, logger)
	ex = NewBreakerExtractor(ex, breakerCfg, logger)
	ex = NewAuditingExtractor(ex, logger, cfg.AuditFailures)

	logger.Info("OCR pipeline ready", "engine", engineName(cfg.Engine), "timeout", cfg.OCRTimeout.String())
	return ex, nil
}

func engineName(e string) string {
	if e == "" {
		return EngineTSV
	}
	return e
}

// DetectMimeType identifies a file type by its magic bytes.
// Returns "" when the content is not recognized.
func DetectMimeType(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	// PDF: %PDF-
	if bytes.HasPrefix(data, []byte("%PDF")) {
		return "application/pdf"
	}

	// PNG: 0x89 'P' 'N' 'G' 0x0D 0x0A 0x1A 0x0A
	if len(data) >= 8 && bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}) {
		return "image/png"
	}

	// JPEG: 0xFF 0xD8 0xFF
	if bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}) {
		return "image/jpeg"
	}

	// GIF87a / GIF89a
	if bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")) {
		return "image/gif"
	}

	// WebP: RIFF....WEBP
	if len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP" {
		return "image/webp"
	}

	// TIFF, little- or big-endian
	if bytes.HasPrefix(data, []byte{0x49, 0x49, 0x2A, 0x00}) || bytes.HasPrefix(data, []byte{0x4D, 0x4D, 0x00, 0x2A}) {
		return "image/tiff"
	}

	// BMP: 'B' 'M'
	if bytes.HasPrefix(data, []byte("BM")) {
		return "image/bmp"
	}

	// ZIP and Office containers are never valid scans, but name them for the error message
	if bytes.HasPrefix(data, []byte{0x50, 0x4B, 0x03, 0x04}) {
		return "application/zip"
	}

	return ""
}

// ExtensionFor returns the file extension stored for a MIME type.
func ExtensionFor(mimeType string) string {
	switch mimeType {
	case "application/pdf":
		return ".pdf"
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/tiff":
		return ".tiff"
	case "image/bmp":
		return ".bmp"
	default:
		return ".bin"
	}
}
