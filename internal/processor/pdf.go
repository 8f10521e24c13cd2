package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/educaid/docverify-worker/internal/logging"
)

// ErrInvalidPDF is returned for PDFs pdfcpu cannot read or that have no pages
var ErrInvalidPDF = errors.New("invalid PDF document")

// RasterDPI is the resolution the first page is rendered at before OCR
const RasterDPI = 300

// ValidatePDF parses the document with pdfcpu and returns its page count.
func ValidatePDF(rs io.ReadSeeker) (int, error) {
	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(rs, conf)
	if err != nil {
		return 0, fmt.Errorf("%w: pdfcpu read: %v", ErrInvalidPDF, err)
	}
	if ctx.PageCount < 1 {
		return 0, fmt.Errorf("%w: no pages", ErrInvalidPDF)
	}
	return ctx.PageCount, nil
}

// PDFRasterizer renders the first page of a PDF to PNG with pdftoppm and
// hands the image to the wrapped engine. Other inputs pass through unchanged.
type PDFRasterizer struct {
	next     Extractor
	pdftoppm string
	runner   CommandRunner
	logger   *logging.Logger
}

// NewPDFRasterizer wraps next
func NewPDFRasterizer(next Extractor, pdftoppmPath string, runner CommandRunner, logger *logging.Logger) *PDFRasterizer {
	if pdftoppmPath == "" {
		pdftoppmPath = "/usr/bin/pdftoppm"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = logging.NewLogger("pdf-rasterizer")
	}
	return &PDFRasterizer{next: next, pdftoppm: pdftoppmPath, runner: runner, logger: logger}
}

func (p *PDFRasterizer) Extract(ctx context.Context, path string) (*TokenSet, error) {
	isPDF, err := fileIsPDF(path)
	if err != nil {
		return nil, err
	}
	if !isPDF {
		return p.next.Extract(ctx, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	pages, err := ValidatePDF(f)
	f.Close()
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "docverify-raster-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create raster dir: %w", err)
	}
	defer os.RemoveAll(dir)

	prefix := filepath.Join(dir, "page")
	if _, err := p.runner.Run(ctx, p.pdftoppm,
		"-r", strconv.Itoa(RasterDPI), "-f", "1", "-l", "1", "-png", "-singlefile", path, prefix); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w", err)
	}

	p.logger.Debug("Rasterized PDF first page", "source", path, "pages", pages, "dpi", RasterDPI)
	return p.next.Extract(ctx, prefix+".png")
}

func fileIsPDF(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, 16)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return DetectMimeType(head[:n]) == "application/pdf", nil
}
