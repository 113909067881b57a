// Package pipeline 实现哨兵的状态机协调器。
// 协调器消费价格模拟器、安全审计器、成交模拟器的事件流，
// 对套利机会做准入控制（同一时刻至多一条流水线），维护聚合统计并广播状态。
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"arbitrage-sentinel/internal/broadcast"
	"arbitrage-sentinel/internal/core/model"
	"arbitrage-sentinel/internal/core/paper"
	"arbitrage-sentinel/internal/core/store"
	"arbitrage-sentinel/internal/feed"
	"arbitrage-sentinel/internal/journal"
	"arbitrage-sentinel/internal/metrics"
	"arbitrage-sentinel/internal/stats/ev"
	"arbitrage-sentinel/internal/stats/latency"
)

// 流水线结果路径，用于耗时指标
const (
	PathTrade = "trade"
	PathRoast = "roast"
	PathError = "error"
)

// Feed 价格事件来源
type Feed interface {
	Start(ctx context.Context)
	Stop()
	Events() <-chan feed.Event
}

// Auditor 安全审计
type Auditor interface {
	Audit(ctx context.Context, contract string) model.Verdict
	Logs() <-chan model.LogEntry
}

// Executor 模拟成交
type Executor interface {
	Execute(ctx context.Context, opp model.Opportunity) (model.TradeRecord, error)
	Totals() paper.Totals
	Logs() <-chan model.LogEntry
}

// Publisher 广播出口
type Publisher interface {
	Publish(event string, payload any)
}

// Option 协调器可选项
type Option func(*Coordinator)

// WithClock 注入时钟
func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithSettleDelay 设置流水线结束后回到 IDLE 前的停顿，0 表示不停顿
func WithSettleDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.settle = d }
}

// WithStatsInterval 设置统计定时广播间隔
func WithStatsInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.statsInterval = d }
}

// WithRoastHistory 设置吐槽历史容量
func WithRoastHistory(limit int) Option {
	return func(c *Coordinator) { c.roasts = store.NewRoastLog(limit) }
}

// WithJournal 设置成交/裁决/吐槽落盘
func WithJournal(sink journal.Sink) Option {
	return func(c *Coordinator) { c.journal = sink }
}

// WithMetrics 设置指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithStatsWindow 设置阶段耗时与成交 EV 的滚动窗口大小
func WithStatsWindow(n int) Option {
	return func(c *Coordinator) {
		c.timings = latency.NewTracker(n)
		c.performance = ev.NewCalculator(n)
	}
}

// Coordinator 流水线协调器
type Coordinator struct {
	feed     Feed
	auditor  Auditor
	executor Executor
	pub      Publisher
	journal  journal.Sink
	metrics  *metrics.Metrics
	logger   *zap.Logger
	clock    clockwork.Clock

	// settle SUCCESS/ROASTING 之后回到 IDLE 前的停顿
	settle time.Duration
	// statsInterval 统计定时广播间隔
	statsInterval time.Duration

	// mu 保护 stats 与 startedAt；统计修改与 stats-update 广播在同一把锁内完成
	mu        sync.Mutex
	stats     model.Stats
	startedAt time.Time

	roasts *store.RoastLog
	// timings 阶段耗时
	timings *latency.Tracker
	// performance 成交 EV
	performance *ev.Calculator

	// processing 流水线准入标志
	processing atomic.Bool
	// inflight 正在运行的流水线
	inflight sync.WaitGroup
}

// New 创建协调器
// 参数 f: 价格事件来源
// 参数 auditor: 安全审计器
// 参数 executor: 成交模拟器
// 参数 pub: 广播出口
// 参数 logger: 日志记录器
func New(f Feed, auditor Auditor, executor Executor, pub Publisher, logger *zap.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		feed:          f,
		auditor:       auditor,
		executor:      executor,
		pub:           pub,
		logger:        logger.Named("pipeline"),
		clock:         clockwork.NewRealClock(),
		settle:        2 * time.Second,
		statsInterval: 5 * time.Second,
		stats:         model.Stats{State: model.StateIdle},
		roasts:        store.NewRoastLog(store.DefaultRoastHistory),
		timings:       latency.NewTracker(latency.DefaultWindow),
		performance:   ev.NewCalculator(ev.DefaultWindow),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.startedAt = c.clock.Now()
	return c
}

// Run 启动价格模拟器并消费各组件事件，直到 ctx 取消
// 退出前停止模拟器并等待正在运行的流水线结束
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	c.startedAt = c.clock.Now()
	c.mu.Unlock()
	c.metrics.SetState(model.StateIdle)

	c.log(model.AgentOrchestrator, "The Sentinad is online. All agents initialized.", model.LogSystem)
	c.log(model.AgentOrchestrator, "State machine: IDLE -> Waiting for price gaps...", model.LogSystem)
	c.feed.Start(ctx)

	ticker := c.clock.NewTicker(c.statsInterval)
	defer ticker.Stop()

	c.logger.Info("协调器已启动",
		zap.Duration("settle", c.settle),
		zap.Duration("stats_interval", c.statsInterval),
	)

	events := c.feed.Events()
	auditLogs := c.auditor.Logs()
	execLogs := c.executor.Logs()
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case event := <-events:
			c.handleFeedEvent(ctx, event)
		case entry := <-auditLogs:
			c.broadcastLog(entry)
		case entry := <-execLogs:
			c.broadcastLog(entry)
		case <-ticker.Chan():
			c.refreshUptime()
		}
	}
}

func (c *Coordinator) shutdown() {
	c.logger.Info("协调器停止中，等待流水线结束")
	c.feed.Stop()
	c.inflight.Wait()
	c.drainLogs()
	c.setState(model.StateIdle)
	c.log(model.AgentOrchestrator, "The Sentinad is shutting down. All agents stopped.", model.LogSystem)
	c.logger.Info("协调器已停止")
}

// drainLogs 转发缓冲中剩余的日志行
func (c *Coordinator) drainLogs() {
	for {
		select {
		case event := <-c.feed.Events():
			if event.Kind == feed.KindLog && event.Log != nil {
				c.broadcastLog(*event.Log)
			}
		case entry := <-c.auditor.Logs():
			c.broadcastLog(entry)
		case entry := <-c.executor.Logs():
			c.broadcastLog(entry)
		default:
			return
		}
	}
}

func (c *Coordinator) handleFeedEvent(ctx context.Context, event feed.Event) {
	switch event.Kind {
	case feed.KindPrice:
		if event.Price != nil {
			c.recordScan(*event.Price)
		}
	case feed.KindOpportunity:
		if event.Opportunity != nil {
			c.HandleOpportunity(ctx, *event.Opportunity)
		}
	case feed.KindLog:
		if event.Log != nil {
			c.broadcastLog(*event.Log)
		}
	}
}

// HandleOpportunity 机会准入
// 已有流水线在运行时丢弃该机会并返回 false，不排队；否则在新协程中启动流水线并返回 true
// 参数 ctx: 流水线的上下文，取消即中止
// 参数 opp: 套利机会
func (c *Coordinator) HandleOpportunity(ctx context.Context, opp model.Opportunity) bool {
	if !c.processing.CompareAndSwap(false, true) {
		c.metrics.RecordOpportunity(false)
		c.logger.Debug("流水线繁忙，丢弃机会", zap.String("id", opp.ID))
		c.log(model.AgentOrchestrator, "Pipeline busy. Skipping opportunity.", model.LogSystem)
		return false
	}
	c.metrics.RecordOpportunity(true)

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		defer c.processing.Store(false)
		c.runPipeline(ctx, opp)
	}()
	return true
}

// Wait 阻塞直到正在运行的流水线结束
func (c *Coordinator) Wait() {
	c.inflight.Wait()
}

// Busy 是否有流水线在运行
func (c *Coordinator) Busy() bool {
	return c.processing.Load()
}

// runPipeline 运行一条流水线，错误与 panic 在此处收敛：记录日志并强制回到 IDLE
func (c *Coordinator) runPipeline(ctx context.Context, opp model.Opportunity) {
	start := c.clock.Now()
	path := PathError
	defer func() {
		if r := recover(); r != nil {
			path = PathError
			c.fail(opp, fmt.Errorf("panic: %v", r))
		}
		elapsed := c.clock.Since(start)
		c.timings.Add(latency.StagePipeline, elapsed)
		c.metrics.ObservePipeline(path, elapsed.Seconds())
	}()

	p, err := c.pipeline(ctx, opp)
	if err != nil {
		c.fail(opp, err)
		return
	}
	path = p
}

func (c *Coordinator) fail(opp model.Opportunity, err error) {
	c.logger.Error("流水线出错", zap.String("opportunity", opp.ID), zap.Error(err))
	c.metrics.RecordError("pipeline")
	c.log(model.AgentOrchestrator, fmt.Sprintf("Pipeline error: %v", err), model.LogError)
	c.setState(model.StateIdle)
}

func (c *Coordinator) pipeline(ctx context.Context, opp model.Opportunity) (string, error) {
	c.setState(model.StateAuditing)
	c.log(model.AgentOrchestrator,
		fmt.Sprintf("Opportunity received! %s, %v%% gap. Initiating vibe check...", opp.Pair, opp.ProfitPercent),
		model.LogState)

	verdict := c.auditor.Audit(ctx, opp.ContractAddress)
	if err := ctx.Err(); err != nil {
		return PathError, err
	}
	c.metrics.RecordVerdict(verdict)
	if !verdict.Cached {
		c.timings.Add(latency.StageAudit, time.Duration(verdict.AuditTimeMs)*time.Millisecond)
	}

	event := model.VerdictEvent{Verdict: verdict, Opportunity: opp}
	c.record("verdict", func(s journal.Sink) error { return s.RecordVerdict(ctx, event) })

	var path string
	if verdict.Safe {
		if err := c.executeSafe(ctx, opp, event); err != nil {
			return PathTrade, err
		}
		path = PathTrade
	} else {
		c.roast(ctx, opp, event)
		path = PathRoast
	}

	c.publishStats()

	if c.settle > 0 {
		select {
		case <-c.clock.After(c.settle):
		case <-ctx.Done():
			return path, ctx.Err()
		}
	}
	c.setState(model.StateIdle)
	return path, nil
}

func (c *Coordinator) executeSafe(ctx context.Context, opp model.Opportunity, event model.VerdictEvent) error {
	v := event.Verdict
	c.log(model.AgentVibe, fmt.Sprintf("SAFE | Confidence: %d%% | %s", v.Confidence, v.Roast), model.LogSafe)
	c.pub.Publish(broadcast.EventVerdict, event)

	c.setState(model.StateExecuting)
	c.log(model.AgentOrchestrator, "Vibe check passed. Deploying Executor Agent...", model.LogState)

	rec, err := c.executor.Execute(ctx, opp)
	if err != nil {
		return err
	}

	c.timings.Add(latency.StageExecution, time.Duration(rec.ExecutionTimeMs)*time.Millisecond)
	c.performance.Add(rec)

	totals := c.executor.Totals()
	c.mutate(func(s *model.Stats) {
		s.State = model.StateSuccess
		s.TradesExecuted++
		s.TotalProfit = totals.TotalProfit
	})
	c.pub.Publish(broadcast.EventStateChange, model.StateChange{State: model.StateSuccess})
	c.metrics.SetState(model.StateSuccess)
	c.metrics.RecordTrade(totals.TotalProfit)

	c.log(model.AgentSystem,
		fmt.Sprintf("SUCCESS: Printed %v MON in %.1fs | TX: %s...",
			rec.NetProfit, float64(rec.ExecutionTimeMs)/1000, shortHash(rec.TxHash)),
		model.LogSuccess)
	c.pub.Publish(broadcast.EventTradeComplete, rec)
	c.record("trade", func(s journal.Sink) error { return s.RecordTrade(ctx, rec) })
	return nil
}

func (c *Coordinator) roast(ctx context.Context, opp model.Opportunity, event model.VerdictEvent) {
	v := event.Verdict
	c.mutate(func(s *model.Stats) {
		s.State = model.StateRoasting
		s.ScamsDodged++
	})
	c.pub.Publish(broadcast.EventStateChange, model.StateChange{State: model.StateRoasting})
	c.metrics.SetState(model.StateRoasting)

	c.log(model.AgentVibe,
		fmt.Sprintf("SCAM DETECTED | Confidence: %d%% | Threats: %s", v.Confidence, strings.Join(v.Threats, ", ")),
		model.LogScam)
	c.log(model.AgentVibe, v.Roast, model.LogRoast)

	entry := model.RoastEntry{
		ContractAddress: opp.ContractAddress,
		Roast:           v.Roast,
		Confidence:      v.Confidence,
		Timestamp:       c.clock.Now().UnixMilli(),
	}
	c.roasts.Append(entry)
	c.pub.Publish(broadcast.EventRoast, entry)
	c.pub.Publish(broadcast.EventVerdict, event)
	c.record("roast", func(s journal.Sink) error { return s.RecordRoast(ctx, entry) })
}

// record 写入落盘，失败只记录日志
func (c *Coordinator) record(kind string, fn func(journal.Sink) error) {
	if c.journal == nil {
		return
	}
	if err := fn(c.journal); err != nil {
		c.metrics.RecordError("journal")
		c.logger.Warn("写入落盘失败", zap.String("kind", kind), zap.Error(err))
	}
}

func (c *Coordinator) recordScan(obs model.PriceObservation) {
	c.metrics.RecordScan()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.ScansRun++
	c.pub.Publish(broadcast.EventPriceUpdate, obs)
	c.pub.Publish(broadcast.EventStatsUpdate, c.stats)
}

// mutate 修改统计并在同一把锁内广播 stats-update
func (c *Coordinator) mutate(fn func(*model.Stats)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.stats)
	c.pub.Publish(broadcast.EventStatsUpdate, c.stats)
}

func (c *Coordinator) setState(s model.State) {
	c.mu.Lock()
	c.stats.State = s
	c.pub.Publish(broadcast.EventStateChange, model.StateChange{State: s})
	c.pub.Publish(broadcast.EventStatsUpdate, c.stats)
	c.mu.Unlock()

	c.metrics.SetState(s)
	c.logger.Debug("状态切换", zap.String("state", string(s)))
}

func (c *Coordinator) refreshUptime() {
	c.mutate(func(s *model.Stats) {
		s.Uptime = int64(c.clock.Since(c.startedAt) / time.Second)
	})
}

func (c *Coordinator) publishStats() {
	c.mutate(func(*model.Stats) {})
}

// log 构造日志行并广播
func (c *Coordinator) log(agent, msg string, typ model.LogType) {
	c.broadcastLog(model.LogEntry{Agent: agent, Message: msg, Type: typ})
}

// broadcastLog 广播日志行，同时写入 zap
func (c *Coordinator) broadcastLog(entry model.LogEntry) {
	if entry.Timestamp == 0 {
		entry.Timestamp = c.clock.Now().UnixMilli()
	}
	c.logger.Info(entry.Message,
		zap.String("agent", entry.Agent),
		zap.String("type", string(entry.Type)),
	)
	c.pub.Publish(broadcast.EventLog, entry)
}

// Stats 返回统计副本，与最近一次 stats-update 广播一致
func (c *Coordinator) Stats() model.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Roasts 返回吐槽历史副本
func (c *Coordinator) Roasts() []model.RoastEntry {
	return c.roasts.Snapshot()
}

// Timings 返回各阶段耗时统计
func (c *Coordinator) Timings() []latency.Stats {
	return c.timings.Snapshot()
}

// Performance 返回模拟成交的滚动 EV 统计
func (c *Coordinator) Performance() ev.Stats {
	return c.performance.Stats()
}

// Welcome 新 WebSocket 连接的初始消息：当前状态与统计
func (c *Coordinator) Welcome() []broadcast.Message {
	st := c.Stats()
	return []broadcast.Message{
		{Event: broadcast.EventStateChange, Data: model.StateChange{State: st.State}},
		{Event: broadcast.EventStatsUpdate, Data: st},
	}
}

func shortHash(h string) string {
	if len(h) <= 14 {
		return h
	}
	return h[:14]
}
