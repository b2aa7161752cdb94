package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerRendersDomainSeries(t *testing.T) {
	ObserveHTTPRequest("/api/orchestrate", "POST", 200, 120*time.Millisecond)
	ObserveHire("Summarizer", "ok")
	ObserveHire("Summarizer", "INVOCATION_TIMEOUT")
	ObservePayment("simulated", "ok", 5*time.Millisecond)
	ObserveAgentSource("fallback")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`agentmarket_http_requests_total{handler="/api/orchestrate",method="POST",code="200"}`,
		`agentmarket_http_request_duration_seconds_bucket{handler="/api/orchestrate",method="POST",le="0.25"} 1`,
		`agentmarket_hires_total{agent="Summarizer",outcome="INVOCATION_TIMEOUT"} 1`,
		`agentmarket_payments_total{mode="simulated",outcome="ok"}`,
		`agentmarket_settlement_duration_seconds_count{mode="simulated"}`,
		`agentmarket_agent_source_total{origin="fallback"}`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, text)
		}
	}
}

func TestHistogramOverflowOnlyCountsInf(t *testing.T) {
	h := newHistogram(1, 2)
	h.observe(5)
	if h.counts[0] != 0 || h.counts[1] != 0 || h.count != 1 {
		t.Fatalf("unexpected histogram state %+v", h)
	}
}
