package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"arbitrage-sentinel/internal/broadcast"
	"arbitrage-sentinel/internal/core/model"
	"arbitrage-sentinel/internal/core/paper"
	"arbitrage-sentinel/internal/feed"
	"arbitrage-sentinel/internal/stats/latency"
)

type MockAuditor struct {
	mock.Mock
	logs chan model.LogEntry
}

func newMockAuditor() *MockAuditor {
	return &MockAuditor{logs: make(chan model.LogEntry, 16)}
}

func (m *MockAuditor) Audit(ctx context.Context, contract string) model.Verdict {
	args := m.Called(ctx, contract)
	return args.Get(0).(model.Verdict)
}

func (m *MockAuditor) Logs() <-chan model.LogEntry {
	return m.logs
}

type MockExecutor struct {
	mock.Mock
	logs chan model.LogEntry
}

func newMockExecutor() *MockExecutor {
	return &MockExecutor{logs: make(chan model.LogEntry, 16)}
}

func (m *MockExecutor) Execute(ctx context.Context, opp model.Opportunity) (model.TradeRecord, error) {
	args := m.Called(ctx, opp)
	return args.Get(0).(model.TradeRecord), args.Error(1)
}

func (m *MockExecutor) Totals() paper.Totals {
	args := m.Called()
	return args.Get(0).(paper.Totals)
}

func (m *MockExecutor) Logs() <-chan model.LogEntry {
	return m.logs
}

type MockSink struct {
	mock.Mock
}

func (m *MockSink) RecordTrade(ctx context.Context, rec model.TradeRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *MockSink) RecordVerdict(ctx context.Context, ev model.VerdictEvent) error {
	return m.Called(ctx, ev).Error(0)
}

func (m *MockSink) RecordRoast(ctx context.Context, entry model.RoastEntry) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *MockSink) Close() error {
	return m.Called().Error(0)
}

// fakeFeed 由测试直接推送事件
type fakeFeed struct {
	events  chan feed.Event
	mu      sync.Mutex
	started bool
	stopped bool
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{events: make(chan feed.Event, 16)}
}

func (f *fakeFeed) Start(context.Context) {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
}

func (f *fakeFeed) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeFeed) Events() <-chan feed.Event {
	return f.events
}

func (f *fakeFeed) state() (started, stopped bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started, f.stopped
}

// recorder 记录全部广播
type recorder struct {
	mu   sync.Mutex
	msgs []broadcast.Message
}

func (r *recorder) Publish(event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, broadcast.Message{Event: event, Data: payload})
}

func (r *recorder) events(event string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, m := range r.msgs {
		if m.Event == event {
			out = append(out, m.Data)
		}
	}
	return out
}

func (r *recorder) last(event string) any {
	all := r.events(event)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

func (r *recorder) states() []model.State {
	var out []model.State
	for _, d := range r.events(broadcast.EventStateChange) {
		out = append(out, d.(model.StateChange).State)
	}
	return out
}

func (r *recorder) logTypes() []model.LogType {
	var out []model.LogType
	for _, d := range r.events(broadcast.EventLog) {
		out = append(out, d.(model.LogEntry).Type)
	}
	return out
}

func testOpportunity() model.Opportunity {
	return model.Opportunity{
		ID:              "opp-1",
		Pair:            "MON/USDC",
		BuyVenue:        "Kuru",
		SellVenue:       "MockDex",
		BuyPrice:        1.0,
		SellPrice:       1.055,
		ProfitPercent:   5.5,
		EstimatedProfit: 4.13,
		ContractAddress: "0xDEAD000000000000000000000000000000000001",
	}
}

type harness struct {
	coord    *Coordinator
	auditor  *MockAuditor
	executor *MockExecutor
	pub      *recorder
	feed     *fakeFeed
}

func newHarness(opts ...Option) *harness {
	h := &harness{
		auditor:  newMockAuditor(),
		executor: newMockExecutor(),
		pub:      &recorder{},
		feed:     newFakeFeed(),
	}
	opts = append([]Option{WithSettleDelay(0)}, opts...)
	h.coord = New(h.feed, h.auditor, h.executor, h.pub, zap.NewNop(), opts...)
	return h
}

func TestUnsafeVerdictRoastsWithoutTrading(t *testing.T) {
	h := newHarness()
	opp := testOpportunity()
	verdict := model.Verdict{
		ContractAddress: opp.ContractAddress,
		Safe:            false,
		Confidence:      95,
		Threats:         []string{"honeypot", "hidden_mint"},
		Roast:           "Nice try.",
	}
	h.auditor.On("Audit", mock.Anything, opp.ContractAddress).Return(verdict).Once()

	require.True(t, h.coord.HandleOpportunity(context.Background(), opp))
	h.coord.Wait()

	h.executor.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
	h.auditor.AssertExpectations(t)
	assert.Equal(t, int64(0), h.coord.Performance().Count)

	stats := h.coord.Stats()
	assert.Equal(t, int64(1), stats.ScamsDodged)
	assert.Equal(t, int64(0), stats.TradesExecuted)
	assert.Equal(t, model.StateIdle, stats.State)

	roasts := h.coord.Roasts()
	require.Len(t, roasts, 1)
	assert.Equal(t, opp.ContractAddress, roasts[0].ContractAddress)
	assert.Equal(t, "Nice try.", roasts[0].Roast)
	assert.Equal(t, 95, roasts[0].Confidence)

	assert.Equal(t, []model.State{model.StateAuditing, model.StateRoasting, model.StateIdle}, h.pub.states())
	assert.Len(t, h.pub.events(broadcast.EventRoast), 1)
	assert.Len(t, h.pub.events(broadcast.EventVerdict), 1)
	assert.Empty(t, h.pub.events(broadcast.EventTradeComplete))
	assert.Contains(t, h.pub.logTypes(), model.LogScam)
	assert.Contains(t, h.pub.logTypes(), model.LogRoast)
	assert.Equal(t, stats, h.pub.last(broadcast.EventStatsUpdate))
	assert.False(t, h.coord.Busy())
}

func TestSafeVerdictExecutesOnce(t *testing.T) {
	h := newHarness()
	opp := testOpportunity()
	verdict := model.Verdict{ContractAddress: opp.ContractAddress, Safe: true, Confidence: 91, Threats: []string{}, Roast: "Clean."}
	rec := model.TradeRecord{
		TxHash:          "0xabcdef0123456789abcdef",
		Pair:            opp.Pair,
		NetProfit:       54.98,
		ExecutionTimeMs: 2400,
	}
	h.auditor.On("Audit", mock.Anything, opp.ContractAddress).Return(verdict).Once()
	h.executor.On("Execute", mock.Anything, opp).Return(rec, nil).Once()
	h.executor.On("Totals").Return(paper.Totals{TotalProfit: 54.98, TradeCount: 1}).Once()

	require.True(t, h.coord.HandleOpportunity(context.Background(), opp))
	h.coord.Wait()

	h.executor.AssertExpectations(t)

	stats := h.coord.Stats()
	assert.Equal(t, int64(1), stats.TradesExecuted)
	assert.Equal(t, 54.98, stats.TotalProfit)
	assert.Equal(t, int64(0), stats.ScamsDodged)
	assert.Empty(t, h.coord.Roasts())

	assert.Equal(t,
		[]model.State{model.StateAuditing, model.StateExecuting, model.StateSuccess, model.StateIdle},
		h.pub.states())
	trades := h.pub.events(broadcast.EventTradeComplete)
	require.Len(t, trades, 1)
	assert.Equal(t, rec, trades[0])

	ev, ok := h.pub.last(broadcast.EventVerdict).(model.VerdictEvent)
	require.True(t, ok)
	assert.Equal(t, opp, ev.Opportunity)
	assert.True(t, ev.Safe)

	var success string
	for _, d := range h.pub.events(broadcast.EventLog) {
		if e := d.(model.LogEntry); e.Type == model.LogSuccess {
			success = e.Message
		}
	}
	assert.Equal(t, "SUCCESS: Printed 54.98 MON in 2.4s | TX: 0xabcdef012345...", success)
	assert.Equal(t, stats, h.pub.last(broadcast.EventStatsUpdate))

	perf := h.coord.Performance()
	assert.Equal(t, int64(1), perf.Count)
	assert.Equal(t, 54.98, perf.EV)

	timings := map[string]latency.Stats{}
	for _, s := range h.coord.Timings() {
		timings[s.Stage] = s
	}
	assert.Equal(t, 2400.0, timings[latency.StageExecution].P50Ms)
	assert.Equal(t, int64(1), timings[latency.StageAudit].Count)
	assert.Equal(t, int64(1), timings[latency.StagePipeline].Count)
}

func TestBusyPipelineDropsOpportunity(t *testing.T) {
	h := newHarness()
	opp := testOpportunity()
	release := make(chan struct{})
	entered := make(chan struct{})
	h.auditor.On("Audit", mock.Anything, opp.ContractAddress).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(model.Verdict{Safe: false, Confidence: 90, Threats: []string{"rug_pull"}, Roast: "No."}).
		Once()

	require.True(t, h.coord.HandleOpportunity(context.Background(), opp))
	<-entered
	assert.True(t, h.coord.Busy())

	second := opp
	second.ID = "opp-2"
	assert.False(t, h.coord.HandleOpportunity(context.Background(), second))
	assert.False(t, h.coord.HandleOpportunity(context.Background(), second))

	close(release)
	h.coord.Wait()

	h.auditor.AssertNumberOfCalls(t, "Audit", 1)
	assert.Equal(t, int64(1), h.coord.Stats().ScamsDodged)

	busy := 0
	for _, d := range h.pub.events(broadcast.EventLog) {
		if d.(model.LogEntry).Message == "Pipeline busy. Skipping opportunity." {
			busy++
		}
	}
	assert.Equal(t, 2, busy)

	// 流水线结束后重新接纳
	h.auditor.On("Audit", mock.Anything, opp.ContractAddress).
		Return(model.Verdict{Safe: false, Confidence: 90, Threats: []string{"rug_pull"}, Roast: "No."}).
		Once()
	assert.True(t, h.coord.HandleOpportunity(context.Background(), opp))
	h.coord.Wait()
	assert.Equal(t, int64(2), h.coord.Stats().ScamsDodged)
}

func TestExecutorErrorForcesIdle(t *testing.T) {
	h := newHarness()
	opp := testOpportunity()
	h.auditor.On("Audit", mock.Anything, opp.ContractAddress).
		Return(model.Verdict{Safe: true, Confidence: 90, Threats: []string{}, Roast: "ok"}).Once()
	h.executor.On("Execute", mock.Anything, opp).
		Return(model.TradeRecord{}, errors.New("swap reverted")).Once()

	require.True(t, h.coord.HandleOpportunity(context.Background(), opp))
	h.coord.Wait()

	h.executor.AssertNotCalled(t, "Totals")
	stats := h.coord.Stats()
	assert.Equal(t, model.StateIdle, stats.State)
	assert.Equal(t, int64(0), stats.TradesExecuted)
	assert.Contains(t, h.pub.logTypes(), model.LogError)
	assert.Empty(t, h.pub.events(broadcast.EventTradeComplete))
	assert.False(t, h.coord.Busy())
}

func TestPanicIsRecovered(t *testing.T) {
	h := newHarness()
	opp := testOpportunity()
	h.auditor.On("Audit", mock.Anything, opp.ContractAddress).
		Run(func(mock.Arguments) { panic("boom") }).
		Return(model.Verdict{}).Once()

	require.True(t, h.coord.HandleOpportunity(context.Background(), opp))
	h.coord.Wait()

	assert.Equal(t, model.StateIdle, h.coord.Stats().State)
	assert.False(t, h.coord.Busy())
	assert.Contains(t, h.pub.logTypes(), model.LogError)
}

func TestJournalReceivesRecords(t *testing.T) {
	sink := new(MockSink)
	h := newHarness(WithJournal(sink))
	opp := testOpportunity()
	verdict := model.Verdict{Safe: false, Confidence: 93, Threats: []string{"honeypot"}, Roast: "Trap."}
	h.auditor.On("Audit", mock.Anything, opp.ContractAddress).Return(verdict).Once()
	sink.On("RecordVerdict", mock.Anything, model.VerdictEvent{Verdict: verdict, Opportunity: opp}).Return(nil).Once()
	sink.On("RecordRoast", mock.Anything, mock.MatchedBy(func(e model.RoastEntry) bool {
		return e.Roast == "Trap." && e.Confidence == 93
	})).Return(errors.New("disk full")).Once()

	require.True(t, h.coord.HandleOpportunity(context.Background(), opp))
	h.coord.Wait()

	sink.AssertExpectations(t)
	sink.AssertNotCalled(t, "RecordTrade", mock.Anything, mock.Anything)
	// 落盘失败不影响流水线
	assert.Equal(t, int64(1), h.coord.Stats().ScamsDodged)
	assert.Equal(t, model.StateIdle, h.coord.Stats().State)
}

func TestSettleDelayHoldsStateUntilClockAdvances(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := newHarness(WithClock(clock), WithSettleDelay(2*time.Second))
	opp := testOpportunity()
	h.auditor.On("Audit", mock.Anything, opp.ContractAddress).
		Return(model.Verdict{Safe: false, Confidence: 90, Threats: []string{"x"}, Roast: "r"}).Once()

	require.True(t, h.coord.HandleOpportunity(context.Background(), opp))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, model.StateRoasting, h.coord.Stats().State)
	assert.True(t, h.coord.Busy())

	clock.Advance(2 * time.Second)
	h.coord.Wait()
	assert.Equal(t, model.StateIdle, h.coord.Stats().State)
}

func TestCancelDuringSettleAbortsToIdle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := newHarness(WithClock(clock), WithSettleDelay(time.Hour))
	opp := testOpportunity()
	h.auditor.On("Audit", mock.Anything, opp.ContractAddress).
		Return(model.Verdict{Safe: false, Confidence: 90, Threats: []string{"x"}, Roast: "r"}).Once()

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, h.coord.HandleOpportunity(ctx, opp))

	wctx, wcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer wcancel()
	require.NoError(t, clock.BlockUntilContext(wctx, 1))

	cancel()
	h.coord.Wait()
	assert.Equal(t, model.StateIdle, h.coord.Stats().State)
	assert.Equal(t, int64(1), h.coord.Stats().ScamsDodged)
}

func TestRunConsumesFeedAndStops(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := newHarness(WithClock(clock), WithStatsInterval(5*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.coord.Run(ctx) }()

	obs := model.PriceObservation{Pair: "MON/USDC", PriceA: 1, PriceB: 1.01, Spread: 1}
	h.feed.events <- feed.Event{Kind: feed.KindPrice, Price: &obs}
	h.feed.events <- feed.Event{Kind: feed.KindPrice, Price: &obs}
	h.feed.events <- feed.Event{Kind: feed.KindLog, Log: &model.LogEntry{Agent: model.AgentScanner, Message: "scan", Type: model.LogScan}}
	h.auditor.logs <- model.LogEntry{Agent: model.AgentVibe, Message: "audit line", Type: model.LogAudit}

	require.Eventually(t, func() bool {
		return h.coord.Stats().ScansRun == 2 && len(h.pub.events(broadcast.EventLog)) >= 4
	}, 2*time.Second, 5*time.Millisecond)

	started, _ := h.feed.state()
	assert.True(t, started)
	assert.Len(t, h.pub.events(broadcast.EventPriceUpdate), 2)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(7 * time.Second)
	require.Eventually(t, func() bool {
		return h.coord.Stats().Uptime == 7
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("Run 未退出")
	}

	_, stopped := h.feed.state()
	assert.True(t, stopped)
	assert.Equal(t, model.StateIdle, h.coord.Stats().State)
	assert.Equal(t, h.coord.Stats(), h.pub.last(broadcast.EventStatsUpdate))

	logs := h.pub.events(broadcast.EventLog)
	lastLog := logs[len(logs)-1].(model.LogEntry)
	assert.Equal(t, "The Sentinad is shutting down. All agents stopped.", lastLog.Message)
}

func TestRunAdmitsOpportunityFromFeed(t *testing.T) {
	h := newHarness()
	opp := testOpportunity()
	h.auditor.On("Audit", mock.Anything, opp.ContractAddress).
		Return(model.Verdict{Safe: false, Confidence: 90, Threats: []string{"x"}, Roast: "r"}).Once()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.coord.Run(ctx) }()

	h.feed.events <- feed.Event{Kind: feed.KindOpportunity, Opportunity: &opp}
	require.Eventually(t, func() bool {
		return h.coord.Stats().ScamsDodged == 1 && !h.coord.Busy()
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	h.auditor.AssertExpectations(t)
}

func TestWelcomeReflectsCurrentState(t *testing.T) {
	h := newHarness()
	msgs := h.coord.Welcome()
	require.Len(t, msgs, 2)
	assert.Equal(t, broadcast.EventStateChange, msgs[0].Event)
	assert.Equal(t, model.StateChange{State: model.StateIdle}, msgs[0].Data)
	assert.Equal(t, h.coord.Stats(), msgs[1].Data)
}
