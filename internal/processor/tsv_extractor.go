/**
 * Tesseract TSV engine
 *
 * Runs the tesseract binary with TSV output and parses word-level records:
 * level page block par line word left top width height conf text
 */

package processor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ErrNoTokens is returned when OCR ran but produced no usable words
var ErrNoTokens = errors.New("OCR produced no usable words")

const tsvColumns = 12

// CommandRunner runs an external program and returns its stdout
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s interrupted: %w", name, ctxErr)
		}
		return nil, fmt.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// TSVConfig configures the tesseract binary invocation
type TSVConfig struct {
	TesseractPath string
	Language      string
	Timeout       time.Duration
	Runner        CommandRunner
}

// TSVExtractor runs `tesseract <image> stdout -l eng --oem 1 --psm 6 tsv`
type TSVExtractor struct {
	path     string
	language string
	timeout  time.Duration
	runner   CommandRunner
}

// NewTSVExtractor creates the CLI engine
func NewTSVExtractor(cfg TSVConfig) *TSVExtractor {
	if cfg.TesseractPath == "" {
		cfg.TesseractPath = "/usr/bin/tesseract"
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.Runner == nil {
		cfg.Runner = ExecRunner{}
	}
	return &TSVExtractor{
		path:     cfg.TesseractPath,
		language: cfg.Language,
		timeout:  cfg.Timeout,
		runner:   cfg.Runner,
	}
}

func (t *TSVExtractor) Extract(ctx context.Context, path string) (*TokenSet, error) {
	start := time.Now()
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	out, err := t.runner.Run(ctx, t.path, path, "stdout", "-l", t.language, "--oem", "1", "--psm", "6", "tsv")
	if err != nil {
		return nil, fmt.Errorf("tesseract: %w", err)
	}

	tokens, err := ParseTSV(bytes.NewReader(out))
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, ErrNoTokens
	}

	return &TokenSet{
		Tokens:   OrderTokens(tokens),
		Quality:  ComputeQuality(tokens),
		Engine:   "tesseract-tsv",
		Duration: time.Since(start),
	}, nil
}

// ParseTSV reads tesseract TSV output and keeps word rows (level 5) with
// non-empty text and confidence above MinTokenConfidence. The header row and
// short rows are skipped.
func ParseTSV(r io.Reader) ([]WordToken, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var tokens []WordToken
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			first = false
			if strings.HasPrefix(line, "level") {
				continue
			}
		}
		cols := strings.Split(line, "\t")
		if len(cols) < tsvColumns {
			continue
		}
		if cols[0] != "5" {
			continue
		}
		conf, err := strconv.ParseFloat(strings.TrimSpace(cols[10]), 64)
		if err != nil {
			continue
		}
		text := strings.TrimSpace(cols[11])
		if !keepToken(text, conf) {
			continue
		}
		tokens = append(tokens, WordToken{
			Text:       text,
			Confidence: conf,
			Page:       atoi(cols[1]),
			Block:      atoi(cols[2]),
			Paragraph:  atoi(cols[3]),
			Line:       atoi(cols[4]),
			Word:       atoi(cols[5]),
			BoundingBox: BoundingBox{
				X:      atoi(cols[6]),
				Y:      atoi(cols[7]),
				Width:  atoi(cols[8]),
				Height: atoi(cols[9]),
			},
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read TSV: %w", err)
	}
	return tokens, nil
}

// FormatTSV writes tokens back out in tesseract's TSV layout (debug dumps).
func FormatTSV(tokens []WordToken) []byte {
	var b bytes.Buffer
	b.WriteString("level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n")
	for _, t := range tokens {
		fmt.Fprintf(&b, "5\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			t.Page, t.Block, t.Paragraph, t.Line, t.Word,
			t.BoundingBox.X, t.BoundingBox.Y, t.BoundingBox.Width, t.BoundingBox.Height,
			strconv.FormatFloat(t.Confidence, 'f', -1, 64), t.Text)
	}
	return b.Bytes()
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
