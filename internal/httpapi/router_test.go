package httpapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"arbitrage-sentinel/internal/broadcast"
	"arbitrage-sentinel/internal/core/model"
	"arbitrage-sentinel/internal/metrics"
	"arbitrage-sentinel/internal/stats/ev"
	"arbitrage-sentinel/internal/stats/latency"
)

type staticSource struct {
	stats   model.Stats
	roasts  []model.RoastEntry
	timings []latency.Stats
	perf    ev.Stats
}

func (s staticSource) Stats() model.Stats { return s.stats }
func (s staticSource) Roasts() []model.RoastEntry { return s.roasts }
func (s staticSource) Timings() []latency.Stats { return s.timings }
func (s staticSource) Performance() ev.Stats { return s.perf }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	h := NewRouter(staticSource{}, Options{Clock: clock}, zap.NewNop())

	rec := get(t, h, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, HealthResponse{Status: "online", Agent: AgentName, Timestamp: 1_700_000_000_000}, body)
}

func TestStatsAndRoasts(t *testing.T) {
	src := staticSource{
		stats: model.Stats{ScansRun: 12, ScamsDodged: 2, TradesExecuted: 1, TotalProfit: 54.98, Uptime: 30, State: model.StateIdle},
		roasts: []model.RoastEntry{
			{ContractAddress: "0xDEAD", Roast: "Nope.", Confidence: 94, Timestamp: 1},
		},
	}
	h := NewRouter(src, Options{AllowedOrigin: "http://localhost:3000"}, zap.NewNop())

	rec := get(t, h, "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.JSONEq(t,
		`{"scansRun":12,"scamsDodged":2,"tradesExecuted":1,"totalProfit":54.98,"uptime":30,"state":"IDLE"}`,
		rec.Body.String())

	rec = get(t, h, "/api/roasts")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t,
		`[{"contractAddress":"0xDEAD","roast":"Nope.","confidence":94,"timestamp":1}]`,
		rec.Body.String())
}

func TestTimingsAndPerformance(t *testing.T) {
	src := staticSource{
		timings: []latency.Stats{{Stage: latency.StageAudit, Count: 3, P50Ms: 900, P90Ms: 1200, P99Ms: 1300, MaxMs: 1300}},
		perf:    ev.Stats{Count: 2, WinCount: 2, WinRate: 1, AvgWin: 37.5, AvgGas: 0.02, EV: 37.5},
	}
	h := NewRouter(src, Options{}, zap.NewNop())

	rec := get(t, h, "/api/timings")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t,
		`[{"stage":"audit","count":3,"p50Ms":900,"p90Ms":1200,"p99Ms":1300,"maxMs":1300}]`,
		rec.Body.String())

	rec = get(t, h, "/api/performance")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t,
		`{"count":2,"winCount":2,"lossCount":0,"winRate":1,"avgWin":37.5,"avgLoss":0,"avgGas":0.02,"ev":37.5}`,
		rec.Body.String())
}

func TestEmptyRoastsIsArray(t *testing.T) {
	h := NewRouter(staticSource{}, Options{}, zap.NewNop())
	rec := get(t, h, "/api/roasts")
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestPreflightAndUnknownRoute(t *testing.T) {
	h := NewRouter(staticSource{}, Options{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodOptions, "/api/stats", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/nope").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/metrics").Code)
}

func TestMetricsMounted(t *testing.T) {
	m := metrics.New()
	m.RecordScan()
	h := NewRouter(staticSource{}, Options{Metrics: m.Handler()}, zap.NewNop())

	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sentinel_scans_total 1")
}

func TestWebSocketThroughRouter(t *testing.T) {
	hub := broadcast.NewHub(zap.NewNop())
	h := NewRouter(staticSource{}, Options{WS: http.HandlerFunc(hub.ServeWS)}, zap.NewNop())
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	hub.Publish(broadcast.EventStateChange, model.StateChange{State: model.StateAuditing})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame struct {
		Event string            `json:"event"`
		Data  model.StateChange `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, broadcast.EventStateChange, frame.Event)
	assert.Equal(t, model.StateAuditing, frame.Data.State)
}

func TestServerShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewServer(ln.Addr().String(), NewRouter(staticSource{}, Options{}, zap.NewNop()), time.Second, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatalf("服务未关闭")
	}
}
