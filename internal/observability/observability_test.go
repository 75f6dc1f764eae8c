package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewLoggerJSONRespectsLevel(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	logger, err := NewLogger(buf, "warn", "json")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "account_id", "1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered: %s", out)
	}
	if !strings.Contains(out, `"account_id":"1"`) {
		t.Fatalf("expected json attribute, got %s", out)
	}
}

func TestNewLoggerRejectsUnknownFormat(t *testing.T) {
	t.Parallel()

	if _, err := NewLogger(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Fatal("expected format error")
	}
	if _, err := NewLogger(&bytes.Buffer{}, "loud", "text"); err == nil {
		t.Fatal("expected level error")
	}
}

func TestMetricsNilReceiverIsNoop(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.ObserveGraphAttempt("ok")
	metrics.ObserveUnit("campaign", "ok", 3)
	metrics.AddDropped("unresolved campaign id", 1)
	metrics.ObserveSync("ok", time.Second)
	if metrics.Registry() != nil {
		t.Fatal("nil metrics should expose no registry")
	}
}

func TestMetricsCountersAndHandler(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics("")
	metrics.ObserveGraphAttempt("ok")
	metrics.ObserveGraphAttempt("ok")
	metrics.ObserveGraphRetry("rate_limit")
	metrics.ObserveUnit("creative", "ok", 5)
	metrics.AddWritten(5)
	metrics.ObserveDecision("SCALE")

	if got := testutil.ToFloat64(metrics.GraphAttempts.WithLabelValues("ok")); got != 2 {
		t.Fatalf("attempts=%v want=2", got)
	}
	if got := testutil.ToFloat64(metrics.RowsFetched.WithLabelValues("creative")); got != 5 {
		t.Fatalf("rows fetched=%v want=5", got)
	}
	if got := testutil.ToFloat64(metrics.RowsWritten); got != 5 {
		t.Fatalf("rows written=%v want=5", got)
	}

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "adplan_plan_items_classified_total") {
		t.Fatalf("expected classified counter in exposition output")
	}
}
