/**
 * verifydoc - one-shot document verification
 *
 * Runs the OCR pipeline and verification rules against a local file and
 * prints the verdict as JSON. With -enqueue it instead schedules a
 * document:process task for a slot already staged by the portal.
 */

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/educaid/docverify-worker/internal/logging"
	"github.com/educaid/docverify-worker/internal/matcher"
	"github.com/educaid/docverify-worker/internal/processor"
	"github.com/educaid/docverify-worker/internal/queue"
	"github.com/educaid/docverify-worker/internal/registry"
	"github.com/educaid/docverify-worker/internal/verification"
)

type options struct {
	file         string
	docType      string
	engine       string
	language     string
	timeout      time.Duration
	typesFile    string
	municipality string
	aliases      string
	profile      verification.Profile

	enqueue  bool
	redisURL string
	queue    string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("verifydoc", flag.ContinueOnError)
	fs.SetOutput(stderr)

	o := &options{}
	fs.StringVar(&o.file, "file", "", "document to verify")
	fs.StringVar(&o.docType, "type", "", "document type code (00, 01, 02, 03, 04)")
	fs.StringVar(&o.engine, "engine", processor.EngineTSV, "OCR engine: tsv or gosseract")
	fs.StringVar(&o.language, "lang", "eng", "tesseract language")
	fs.DurationVar(&o.timeout, "timeout", 60*time.Second, "OCR timeout")
	fs.StringVar(&o.typesFile, "types", "", "document type registry (YAML); embedded default when empty")
	fs.StringVar(&o.municipality, "municipality", "General Trias", "municipality the letter and certificate rules check")
	fs.StringVar(&o.aliases, "aliases", "", "comma separated municipality aliases")

	fs.StringVar(&o.profile.ApplicantID, "applicant", "", "applicant id")
	fs.StringVar(&o.profile.FirstName, "first", "", "declared first name")
	fs.StringVar(&o.profile.MiddleName, "middle", "", "declared middle name")
	fs.StringVar(&o.profile.LastName, "last", "", "declared last name")
	fs.StringVar(&o.profile.Course, "course", "", "declared course")
	fs.StringVar(&o.profile.University, "university", "", "declared university")
	fs.StringVar(&o.profile.YearLevel, "year", "", "declared year level")
	fs.StringVar(&o.profile.Barangay, "barangay", "", "declared barangay")

	fs.BoolVar(&o.enqueue, "enqueue", false, "enqueue a document:process task instead of verifying locally")
	fs.StringVar(&o.redisURL, "redis", os.Getenv("REDIS_URL"), "Redis URL for -enqueue")
	fs.StringVar(&o.queue, "queue", "docverify", "queue name for -enqueue")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.docType == "" {
		return nil, fmt.Errorf("-type is required")
	}
	if o.enqueue {
		if o.profile.ApplicantID == "" || o.redisURL == "" {
			return nil, fmt.Errorf("-enqueue requires -applicant and -redis")
		}
		return o, nil
	}
	if o.file == "" {
		return nil, fmt.Errorf("-file is required")
	}
	return o, nil
}

// verifyFile runs extraction (skipped for exempt types) and the rules for one file
func verifyFile(ctx context.Context, o *options, reg *registry.Registry, ex processor.Extractor) (*verification.Result, error) {
	dt, err := reg.Get(o.docType)
	if err != nil {
		return nil, err
	}

	var aliases []string
	for _, a := range strings.Split(o.aliases, ",") {
		if a = strings.TrimSpace(a); a != "" {
			aliases = append(aliases, a)
		}
	}
	engine := verification.NewEngine(reg, matcher.Default(), verification.Places{
		Municipality: o.municipality,
		Aliases:      aliases,
	})

	if dt.Exempt {
		return engine.Verify(dt.Code, nil, o.profile)
	}

	f, err := os.Open(o.file)
	if err != nil {
		return nil, err
	}
	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	mimeType := processor.DetectMimeType(head[:n])
	if !dt.Accepts(mimeType) {
		f.Close()
		return nil, fmt.Errorf("%s is not accepted for %s (detected %q)", o.file, dt.Name, mimeType)
	}
	if mimeType == "application/pdf" {
		if _, err := processor.ValidatePDF(f); err != nil {
			f.Close()
			return nil, err
		}
	}
	f.Close()

	tokens, err := ex.Extract(ctx, o.file)
	if err != nil {
		return nil, err
	}
	return engine.Verify(dt.Code, tokens, o.profile)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, newExtractor func(*options) (processor.Extractor, error)) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	reg := registry.Default()
	if o.typesFile != "" {
		if reg, err = registry.Load(o.typesFile); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}

	if o.enqueue {
		if _, err := reg.Get(o.docType); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		enq, err := queue.NewEnqueuer(o.redisURL, o.queue)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		defer enq.Close()
		info, err := enq.EnqueueProcess(ctx, o.profile.ApplicantID, o.docType)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		fmt.Fprintf(stdout, "enqueued %s on %s\n", info.ID, info.Queue)
		return 0
	}

	ex, err := newExtractor(o)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	res, err := verifyFile(ctx, o, reg, ex)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if !res.Passed && !res.Exempt {
		return 3
	}
	return 0
}

func pipelineExtractor(o *options) (processor.Extractor, error) {
	return processor.NewPipeline(processor.PipelineConfig{
		Engine:        o.engine,
		TesseractPath: os.Getenv("TESSERACT_PATH"),
		PdftoppmPath:  os.Getenv("PDFTOPPM_PATH"),
		Language:      o.language,
		OCRTimeout:    o.timeout,
		Logger:        logging.NewLoggerTo(io.Discard, "verifydoc"),
	})
}

func main() {
	_ = godotenv.Load()
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr, pipelineExtractor))
}
