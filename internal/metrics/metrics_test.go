package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"arbitrage-sentinel/internal/core/model"
)

func TestMetrics_Records(t *testing.T) {
	m := New()

	m.RecordScan()
	m.RecordScan()
	m.RecordOpportunity(true)
	m.RecordOpportunity(false)
	m.RecordVerdict(model.Verdict{Safe: true})
	m.RecordVerdict(model.Verdict{Safe: false, Cached: true})
	m.RecordTrade(54.98)
	m.SetState(model.StateExecuting)
	m.RecordError("audit")

	if got := testutil.ToFloat64(m.ScansTotal); got != 2 {
		t.Fatalf("scans=%v, want 2", got)
	}
	if got := testutil.ToFloat64(m.OpportunitiesTotal.WithLabelValues("dropped")); got != 1 {
		t.Fatalf("dropped=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.VerdictsTotal.WithLabelValues("unsafe", "true")); got != 1 {
		t.Fatalf("unsafe cached=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TotalProfit); got != 54.98 {
		t.Fatalf("profit=%v, want 54.98", got)
	}
	if got := testutil.ToFloat64(m.State.WithLabelValues("EXECUTING")); got != 1 {
		t.Fatalf("state EXECUTING=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.State.WithLabelValues("IDLE")); got != 0 {
		t.Fatalf("state IDLE=%v, want 0", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordScan()
	m.RecordOpportunity(true)
	m.RecordVerdict(model.Verdict{})
	m.RecordTrade(1)
	m.ObservePipeline("trade", 1)
	m.SetState(model.StateIdle)
	m.SetWSClients(3)
	m.RecordError("x")
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.RecordTrade(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "sentinel_trades_total 1") {
		t.Fatalf("指标输出缺少 sentinel_trades_total:\n%s", body)
	}
}
