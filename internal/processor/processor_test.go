package processor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/educaid/docverify-worker/internal/logging"
)

const sampleTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t2480\t3508\t-1\t\n" +
	"4\t1\t1\t1\t1\t0\t100\t100\t900\t40\t-1\t\n" +
	"5\t1\t1\t1\t1\t2\t300\t100\t200\t40\t91.5\tSANTOS\n" +
	"5\t1\t1\t1\t1\t1\t100\t100\t180\t40\t96.0\tJUAN\n" +
	"5\t1\t1\t1\t1\t3\t520\t100\t10\t40\t12.0\t|\n" +
	"5\t1\t1\t1\t2\t1\t100\t160\t220\t40\t65\tProgram:\n" +
	"5\t1\t1\t1\t2\t2\t330\t160\t120\t40\t88\tBSIT\n" +
	"5\t1\t1\t1\t2\t3\t460\t160\t120\t40\t95\t   \n" +
	"5\t1\t1\t1\t2\t4\t460\t160\t120\n"

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	out   []byte
	err   error
	block bool
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.out, f.err
}

type fakeExtractor struct {
	mu    sync.Mutex
	paths []string
	ts    *TokenSet
	err   error
}

func (f *fakeExtractor) Extract(ctx context.Context, path string) (*TokenSet, error) {
	f.mu.Lock()
	f.paths = append(f.paths, path)
	f.mu.Unlock()
	return f.ts, f.err
}

type countingCounter struct{ n int }

func (c *countingCounter) Inc() { c.n++ }

func TestParseTSVFiltersRows(t *testing.T) {
	tokens, err := ParseTSV(strings.NewReader(sampleTSV))
	if err != nil {
		t.Fatalf("ParseTSV() error = %v", err)
	}
	// kept: SANTOS, JUAN, Program:, BSIT. Dropped: non-word levels, conf <= 30, blank text, short row.
	if len(tokens) != 4 {
		t.Fatalf("len(tokens) = %d, want 4: %+v", len(tokens), tokens)
	}
	if tokens[0].Text != "SANTOS" || tokens[0].Word != 2 || tokens[0].BoundingBox.X != 300 {
		t.Fatalf("tokens[0] = %+v", tokens[0])
	}
}

func TestComputeQuality(t *testing.T) {
	q := ComputeQuality([]WordToken{{Confidence: 96}, {Confidence: 91.5}, {Confidence: 65}, {Confidence: 88}})
	if q.TotalWords != 4 {
		t.Fatalf("TotalWords = %d", q.TotalWords)
	}
	if q.AvgConfidence != 85.13 {
		t.Fatalf("AvgConfidence = %v, want 85.13", q.AvgConfidence)
	}
	if q.QualityScore != 75 {
		t.Fatalf("QualityScore = %v, want 75", q.QualityScore)
	}

	q = ComputeQuality([]WordToken{{Confidence: 50}, {Confidence: 90}, {Confidence: 90}})
	if q.QualityScore != 66.7 {
		t.Fatalf("QualityScore = %v, want 66.7", q.QualityScore)
	}

	if q := ComputeQuality(nil); q != (Quality{}) {
		t.Fatalf("ComputeQuality(nil) = %+v", q)
	}
}

func TestTSVExtractorOrdersTokensAndBuildsText(t *testing.T) {
	runner := &fakeRunner{out: []byte(sampleTSV)}
	ex := NewTSVExtractor(TSVConfig{TesseractPath: "/opt/tesseract", Runner: runner})

	ts, err := ex.Extract(context.Background(), "/tmp/scan.png")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	want := []string{"/opt/tesseract", "/tmp/scan.png", "stdout", "-l", "eng", "--oem", "1", "--psm", "6", "tsv"}
	if got := runner.calls[0]; strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("command = %v, want %v", got, want)
	}
	if got := ts.FullText(); got != "JUAN SANTOS\nProgram: BSIT" {
		t.Fatalf("FullText() = %q", got)
	}
	if ts.Engine != "tesseract-tsv" || ts.Quality.TotalWords != 4 {
		t.Fatalf("TokenSet = %+v", ts)
	}
}

func TestTSVExtractorNoTokens(t *testing.T) {
	runner := &fakeRunner{out: []byte("level\tpage_num\n")}
	ex := NewTSVExtractor(TSVConfig{Runner: runner})

	if _, err := ex.Extract(context.Background(), "x.png"); !errors.Is(err, ErrNoTokens) {
		t.Fatalf("Extract() error = %v, want ErrNoTokens", err)
	}
}

func TestTSVExtractorTimeout(t *testing.T) {
	runner := &fakeRunner{block: true}
	ex := NewTSVExtractor(TSVConfig{Runner: runner, Timeout: 20 * time.Millisecond})

	_, err := ex.Extract(context.Background(), "x.png")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Extract() error = %v, want deadline exceeded", err)
	}
}

func TestOrderTokensGeometric(t *testing.T) {
	tokens := []WordToken{
		{Text: "CRUZ", BoundingBox: BoundingBox{X: 400, Y: 103, Height: 30}},
		{Text: "Year", BoundingBox: BoundingBox{X: 160, Y: 200, Height: 30}},
		{Text: "JUAN", BoundingBox: BoundingBox{X: 100, Y: 100, Height: 30}},
		{Text: "1st", BoundingBox: BoundingBox{X: 100, Y: 205, Height: 30}},
		{Text: "DELA", BoundingBox: BoundingBox{X: 250, Y: 98, Height: 30}},
	}

	ordered := OrderTokens(tokens)
	ts := &TokenSet{Tokens: ordered}
	if got := ts.FullText(); got != "JUAN DELA CRUZ\n1st Year" {
		t.Fatalf("FullText() = %q", got)
	}
	if ordered[2].Line != 1 || ordered[2].Word != 3 || ordered[4].Line != 2 {
		t.Fatalf("indices not assigned: %+v", ordered)
	}
	if tokens[0].Text != "CRUZ" {
		t.Fatalf("OrderTokens mutated its input")
	}
}

func TestAuditingExtractorWritesSidecars(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "scan.png")
	inner := &fakeExtractor{ts: &TokenSet{
		Tokens: []WordToken{{Text: "JUAN", Confidence: 90, Line: 1}, {Text: "SANTOS", Confidence: 80, Line: 1}},
	}}

	ex := NewAuditingExtractor(inner, logging.Discard(), nil)
	if _, err := ex.Extract(context.Background(), src); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	text, err := os.ReadFile(src + ".ocr.txt")
	if err != nil || string(text) != "JUAN SANTOS" {
		t.Fatalf("ocr.txt = %q, %v", text, err)
	}
	dump, err := os.ReadFile(src + ".tsv")
	if err != nil {
		t.Fatalf("ReadFile(tsv) error = %v", err)
	}
	parsed, err := ParseTSV(bytes.NewReader(dump))
	if err != nil || len(parsed) != 2 {
		t.Fatalf("tsv dump did not round trip: %v, %+v", err, parsed)
	}
}

func TestAuditingExtractorWriteFailureIsCountedNotFatal(t *testing.T) {
	inner := &fakeExtractor{ts: &TokenSet{Tokens: []WordToken{{Text: "x", Confidence: 90}}}}
	counter := &countingCounter{}
	var logs bytes.Buffer

	ex := NewAuditingExtractor(inner, logging.NewLoggerTo(&logs, "audit"), counter)
	ex.writeFile = func(string, []byte, os.FileMode) error { return errors.New("disk full") }

	ts, err := ex.Extract(context.Background(), "/uploads/temp/scan.png")
	if err != nil || ts == nil {
		t.Fatalf("Extract() = %v, %v; want tokens despite audit failure", ts, err)
	}
	if counter.n != 2 {
		t.Fatalf("failures counted = %d, want 2", counter.n)
	}
	if !strings.Contains(logs.String(), "disk full") || !strings.Contains(logs.String(), "/uploads/temp/scan.png.tsv") {
		t.Fatalf("audit failure not logged with context: %s", logs.String())
	}
}

func TestBreakerTripsOnEngineFailures(t *testing.T) {
	inner := &fakeExtractor{err: errors.New("tesseract: exit status 1")}
	ex := NewBreakerExtractor(inner, BreakerConfig{MinRequests: 3, FailureRatio: 0.6, OpenTimeout: time.Minute}, logging.Discard())

	for i := 0; i < 3; i++ {
		if _, err := ex.Extract(context.Background(), "x.png"); err == nil || IsCircuitOpen(err) {
			t.Fatalf("call %d: error = %v, want engine error", i, err)
		}
	}
	_, err := ex.Extract(context.Background(), "x.png")
	if !IsCircuitOpen(err) {
		t.Fatalf("error = %v, want open circuit", err)
	}
	if len(inner.paths) != 3 {
		t.Fatalf("engine called %d times, want 3", len(inner.paths))
	}
}

func TestBreakerIgnoresUnreadableScans(t *testing.T) {
	inner := &fakeExtractor{err: ErrNoTokens}
	ex := NewBreakerExtractor(inner, BreakerConfig{MinRequests: 2, FailureRatio: 0.5, OpenTimeout: time.Minute}, logging.Discard())

	for i := 0; i < 5; i++ {
		if _, err := ex.Extract(context.Background(), "x.png"); !errors.Is(err, ErrNoTokens) {
			t.Fatalf("call %d: error = %v, want ErrNoTokens", i, err)
		}
	}
}

func TestPDFRasterizerPassesImagesThrough(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "photo.png")
	if err := os.WriteFile(img, []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0}, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	inner := &fakeExtractor{ts: &TokenSet{}}
	runner := &fakeRunner{}

	ex := NewPDFRasterizer(inner, "pdftoppm", runner, logging.Discard())
	if _, err := ex.Extract(context.Background(), img); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("pdftoppm invoked for a PNG: %v", runner.calls)
	}
	if inner.paths[0] != img {
		t.Fatalf("engine got %q, want %q", inner.paths[0], img)
	}
}

func TestPDFRasterizerRejectsCorruptPDF(t *testing.T) {
	dir := t.TempDir()
	pdf := filepath.Join(dir, "form.pdf")
	if err := os.WriteFile(pdf, []byte("%PDF-1.7\nthis is not a pdf body"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	inner := &fakeExtractor{ts: &TokenSet{}}

	ex := NewPDFRasterizer(inner, "pdftoppm", &fakeRunner{}, logging.Discard())
	if _, err := ex.Extract(context.Background(), pdf); !errors.Is(err, ErrInvalidPDF) {
		t.Fatalf("Extract() error = %v, want ErrInvalidPDF", err)
	}
	if len(inner.paths) != 0 {
		t.Fatalf("engine should not run on a corrupt PDF")
	}
}

func TestDetectMimeType(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"pdf", []byte("%PDF-1.4"), "application/pdf"},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, "image/png"},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, "image/jpeg"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "image/webp"},
		{"tiff", []byte{0x49, 0x49, 0x2A, 0x00}, "image/tiff"},
		{"zip", []byte{0x50, 0x4B, 0x03, 0x04}, "application/zip"},
		{"text", []byte("hello world"), ""},
		{"short", []byte{0xFF}, ""},
	}
	for _, tt := range tests {
		if got := DetectMimeType(tt.data); got != tt.want {
			t.Errorf("%s: DetectMimeType() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestNewPipelineRejectsUnknownEngine(t *testing.T) {
	if _, err := NewPipeline(PipelineConfig{Engine: "cloud", Logger: logging.Discard()}); err == nil {
		t.Fatalf("NewPipeline() error = nil, want unknown engine")
	}
}
