package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestWorkerMetricsCounters(t *testing.T) {
	m := NewWorkerMetrics("docverify-worker")

	m.ObserveOperation("process", "ok")
	m.ObserveOperation("process", "ok")
	m.ObserveOperation("process", "already_locked")
	m.ObserveVerification("00", true)
	m.ObserveVerification("02", false)
	m.AuditFailures().Inc()

	if got := testutil.ToFloat64(m.operationsTotal.WithLabelValues("process", "ok")); got != 2 {
		t.Fatalf("process ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.verificationsTotal.WithLabelValues("02", "failed")); got != 1 {
		t.Fatalf("02 failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.auditFailures); got != 1 {
		t.Fatalf("audit failures = %v, want 1", got)
	}
}

func TestWorkerMetricsHandler(t *testing.T) {
	m := NewWorkerMetrics("docverify-worker")
	m.ObserveOCR("tesseract-tsv", 1500*time.Millisecond)
	m.ObserveOCR("", time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `docverify_ocr_duration_seconds_count{engine="tesseract-tsv",service="docverify-worker"} 1`) {
		t.Fatalf("OCR histogram missing from output:\n%s", body)
	}
}
