// Package audit 实现合约安全审计。
// 审计结果按合约标识缓存；未命中时模拟获取源码，再交给分类器（AI 或离线样例）判定。
// 分类失败时返回保守裁决（不安全、置信度 0），错误不向上传播。
package audit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"arbitrage-sentinel/internal/config"
	"arbitrage-sentinel/internal/core/model"
	"arbitrage-sentinel/internal/util/delay"
	"arbitrage-sentinel/internal/util/random"
)

// FailSafeThreat 保守裁决的威胁标签
const FailSafeThreat = "error"

// Option 审计器可选项
type Option func(*Auditor)

// WithClock 注入时钟
func WithClock(clock clockwork.Clock) Option {
	return func(a *Auditor) { a.clock = clock }
}

// WithRandom 注入随机源
func WithRandom(src random.Source) Option {
	return func(a *Auditor) { a.rnd = src }
}

// WithFetchDelay 覆盖模拟获取源码耗时
func WithFetchDelay(r delay.Range) Option {
	return func(a *Auditor) { a.fetch = r }
}

// WithLogBuffer 设置日志通道缓冲大小
func WithLogBuffer(n int) Option {
	return func(a *Auditor) { a.bufSize = n }
}

// WithTimeout 覆盖外部调用超时
func WithTimeout(d time.Duration) Option {
	return func(a *Auditor) { a.timeout = d }
}

// Auditor 安全审计器
type Auditor struct {
	// classifier 分类器
	classifier Classifier
	// store 裁决缓存
	store VerdictStore
	// logger 日志记录器
	logger *zap.Logger
	// clock 时间来源
	clock clockwork.Clock
	// rnd 随机源
	rnd random.Source
	// fetch 模拟获取源码耗时
	fetch delay.Range
	// timeout 分类调用超时
	timeout time.Duration
	// bufSize 日志通道缓冲大小
	bufSize int
	// logs 日志行输出通道
	logs chan model.LogEntry
	// dropped 因通道已满丢弃的日志数
	dropped atomic.Int64
}

// New 创建审计器
// 参数 classifier: 分类器
// 参数 store: 裁决缓存
// 参数 logger: 日志记录器
func New(classifier Classifier, store VerdictStore, logger *zap.Logger, opts ...Option) *Auditor {
	a := &Auditor{
		classifier: classifier,
		store:      store,
		logger:     logger.Named("audit"),
		clock:      clockwork.NewRealClock(),
		rnd:        random.Default(),
		fetch:      delay.Range{MinMs: 300, MaxMs: 700},
		timeout:    15 * time.Second,
		bufSize:    64,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.bufSize <= 0 {
		a.bufSize = 64
	}
	a.logs = make(chan model.LogEntry, a.bufSize)

	if classifier.Name() == "openai" {
		a.emitLog("AI auditor online. Model connected.", model.LogSystem)
	} else {
		a.emitLog("Running in demo mode (no API key). Using pre-computed audits.", model.LogSystem)
	}
	return a
}

// Build 按配置创建审计器（选择分类器与缓存后端）
// 参数 ctx: 用于连接 Redis
// 参数 cfg: 审计配置
// 参数 clock: 时间来源，nil 时使用真实时钟
// 参数 rnd: 随机源，nil 时使用全局随机源
// 参数 logger: 日志记录器
func Build(ctx context.Context, cfg config.AuditConfig, clock clockwork.Clock, rnd random.Source, logger *zap.Logger) (*Auditor, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if rnd == nil {
		rnd = random.Default()
	}

	var store VerdictStore
	switch cfg.CacheBackend {
	case config.CacheBackendRedis:
		rs, err := NewRedisStore(ctx, cfg.RedisURL, cfg.CacheTTL())
		if err != nil {
			return nil, fmt.Errorf("创建 Redis 裁决缓存失败: %w", err)
		}
		store = rs
	default:
		store = NewMemoryStore(cfg.CacheTTL(), clock)
	}

	var classifier Classifier
	if cfg.UseAI() {
		c, err := NewOpenAIClassifier(cfg, logger)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		classifier = c
	} else {
		classifier = NewOfflineClassifier(cfg.ThinkDelay, clock, rnd)
	}

	logger.Info("安全审计器已创建",
		zap.String("classifier", classifier.Name()),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.Duration("cache_ttl", cfg.CacheTTL()),
	)
	return New(classifier, store, logger,
		WithClock(clock),
		WithRandom(rnd),
		WithFetchDelay(cfg.FetchDelay),
		WithTimeout(cfg.Timeout()),
		WithLogBuffer(cfg.BufferSize),
	), nil
}

// Logs 返回日志行通道
func (a *Auditor) Logs() <-chan model.LogEntry {
	return a.logs
}

// ClassifierName 返回当前分类器名称
func (a *Auditor) ClassifierName() string {
	return a.classifier.Name()
}

// Close 释放缓存后端
func (a *Auditor) Close() error {
	return a.store.Close()
}

// Audit 审计合约
// 缓存命中时直接返回副本（Cached=true）；否则获取源码、分类并写入缓存
// 分类失败（含超时）返回保守裁决，不返回错误
// 参数 contract: 合约标识
func (a *Auditor) Audit(ctx context.Context, contract string) model.Verdict {
	short := truncAddr(contract)

	cached, ok, err := a.store.Get(ctx, contract)
	if err != nil {
		a.logger.Warn("读取裁决缓存失败，按未命中处理", zap.String("contract", contract), zap.Error(err))
	}
	if ok {
		a.emitLog(fmt.Sprintf("Cache hit for %s. Returning stored verdict.", short), model.LogCache)
		cached.Cached = true
		return cached
	}

	a.emitLog(fmt.Sprintf("Fetching contract source for %s...", short), model.LogAudit)

	start := a.clock.Now()
	var verdict model.Verdict
	if err := delay.Wait(ctx, a.clock, a.rnd, a.fetch); err != nil {
		// 进程退出中，不写缓存
		return a.finish(contract, failSafe(err), start)
	}

	source := ContractSource(contract)
	a.emitLog(fmt.Sprintf("Running AI security audit on %s...", short), model.LogAudit)

	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	verdict, err = a.classifier.Classify(cctx, contract, source)
	cancel()
	if err != nil {
		a.emitLog(fmt.Sprintf("Audit error: %v. Treating contract as unsafe.", err), model.LogError)
		a.logger.Error("安全分类失败，返回保守裁决",
			zap.String("contract", contract),
			zap.String("classifier", a.classifier.Name()),
			zap.Error(err),
		)
		verdict = failSafe(err)
	}

	verdict = a.finish(contract, verdict, start)
	if ctx.Err() != nil {
		return verdict
	}

	if err := a.store.Set(ctx, verdict); err != nil {
		a.logger.Warn("写入裁决缓存失败", zap.String("contract", contract), zap.Error(err))
	}
	return verdict.Clone()
}

// finish 补全裁决的公共字段
func (a *Auditor) finish(contract string, v model.Verdict, start time.Time) model.Verdict {
	v.ContractAddress = contract
	v.Cached = false
	v.AuditTimeMs = a.clock.Since(start).Milliseconds()
	v.Timestamp = a.clock.Now().UnixMilli()
	if v.Threats == nil {
		v.Threats = []string{}
	}
	return v
}

// failSafe 保守裁决
func failSafe(err error) model.Verdict {
	return model.Verdict{
		Safe:       false,
		Confidence: 0,
		Threats:    []string{FailSafeThreat},
		Roast:      fmt.Sprintf("Audit failed (%v). The Sentinad refuses to trade blind.", err),
	}
}

// emitLog 非阻塞发送日志行
func (a *Auditor) emitLog(msg string, typ model.LogType) {
	entry := model.LogEntry{
		Agent:     model.AgentVibe,
		Message:   msg,
		Type:      typ,
		Timestamp: a.clock.Now().UnixMilli(),
	}
	select {
	case a.logs <- entry:
	default:
		a.dropped.Add(1)
	}
}
