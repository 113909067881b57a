// Package paper 实现闪电贷套利的模拟成交。
// 每个阶段只做定时等待并输出日志，最终生成一条伪造的成交记录。
// 重要：仅用于演示，不构造也不发送任何真实交易。
package paper

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"arbitrage-sentinel/internal/config"
	"arbitrage-sentinel/internal/core/model"
	"arbitrage-sentinel/internal/util/decimal"
	"arbitrage-sentinel/internal/util/delay"
	"arbitrage-sentinel/internal/util/random"
)

// 成交阶段名称
const (
	PhaseBuild    = "build"
	PhaseBorrow   = "borrow"
	PhaseBuySwap  = "buy_swap"
	PhaseSellSwap = "sell_swap"
	PhaseRepay    = "repay"
)

// FailureHook 阶段失败注入（仅测试使用）
// 返回非 nil 错误时成交在该阶段中止
type FailureHook func(phase string, opp model.Opportunity) error

// Totals 执行器累计值快照
type Totals struct {
	// TotalProfit 累计净利（2 位小数）
	TotalProfit float64 `json:"totalProfit"`
	// TradeCount 成交笔数
	TradeCount int64 `json:"tradeCount"`
}

// Option 执行器可选项
type Option func(*Executor)

// WithClock 注入时钟
func WithClock(clock clockwork.Clock) Option {
	return func(e *Executor) { e.clock = clock }
}

// WithRandom 注入随机源
func WithRandom(src random.Source) Option {
	return func(e *Executor) { e.rnd = src }
}

// WithFailureHook 注入阶段失败
func WithFailureHook(hook FailureHook) Option {
	return func(e *Executor) { e.failure = hook }
}

// Executor 模拟成交执行器
// 重要：仅用于演示，严禁真实下单。
type Executor struct {
	// cfg 模拟成交配置
	cfg config.ExecutorConfig
	// logger 日志记录器
	logger *zap.Logger
	// clock 时间来源
	clock clockwork.Clock
	// rnd 随机源
	rnd random.Source
	// failure 失败注入
	failure FailureHook
	// logs 日志行输出通道
	logs chan model.LogEntry

	// mu 保护累计值
	mu          sync.Mutex
	totalProfit float64
	tradeCount  int64
}

// NewExecutor 创建模拟成交执行器
// 参数 cfg: 模拟成交配置
// 参数 logger: 日志记录器
func NewExecutor(cfg config.ExecutorConfig, logger *zap.Logger, opts ...Option) *Executor {
	size := cfg.BufferSize
	if size <= 0 {
		size = 64
	}
	e := &Executor{
		cfg:    cfg,
		logger: logger.Named("paper"),
		clock:  clockwork.NewRealClock(),
		rnd:    random.Default(),
		logs:   make(chan model.LogEntry, size),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Logs 返回日志行通道
func (e *Executor) Logs() <-chan model.LogEntry {
	return e.logs
}

// Execute 执行一次模拟闪电贷套利
// 依次经过: 构造交易 → 借入 → 买入侧兑换 → 卖出侧兑换 → 归还
// ctx 取消时中止等待并返回 ctx 错误，累计值不变
// 参数 opp: 已通过安全审计的机会
func (e *Executor) Execute(ctx context.Context, opp model.Opportunity) (model.TradeRecord, error) {
	start := e.clock.Now()
	base, quote := splitPair(opp.Pair)

	phases := []struct {
		name string
		msg  string
		r    delay.Range
	}{
		{PhaseBuild, "Constructing flash loan transaction...", e.cfg.BuildDelay},
		{PhaseBorrow, fmt.Sprintf("Flash borrowing %v %s from %s...", e.cfg.BorrowAmount, base, opp.BuyVenue), e.cfg.BorrowDelay},
		{PhaseBuySwap, fmt.Sprintf("Swapping %s -> %s on %s (buy low)...", base, quote, opp.BuyVenue), e.cfg.BuySwapDelay},
		{PhaseSellSwap, fmt.Sprintf("Swapping %s -> %s on %s (sell high)...", quote, base, opp.SellVenue), e.cfg.SellSwapDelay},
	}

	for _, p := range phases {
		e.emitLog(p.msg)
		if err := delay.Wait(ctx, e.clock, e.rnd, p.r); err != nil {
			return model.TradeRecord{}, fmt.Errorf("模拟成交在 %s 阶段中止: %w", p.name, err)
		}
		if err := e.checkFailure(p.name, opp); err != nil {
			return model.TradeRecord{}, err
		}
	}
	if err := e.checkFailure(PhaseRepay, opp); err != nil {
		return model.TradeRecord{}, err
	}

	amountIn := e.cfg.BorrowAmount
	profit := decimal.Round2(amountIn * opp.ProfitPercent / 100)
	jitter := e.cfg.GasJitter
	gasCost := decimal.Round4(e.cfg.GasBaseline * (1 - jitter + e.rnd.Float64()*2*jitter))
	netProfit := decimal.Round2(profit - gasCost)

	rec := model.TradeRecord{
		TxHash:          e.txHash(),
		Pair:            opp.Pair,
		BuyVenue:        opp.BuyVenue,
		SellVenue:       opp.SellVenue,
		AmountIn:        amountIn,
		AmountOut:       decimal.Round2(amountIn + profit),
		Profit:          profit,
		GasCost:         gasCost,
		NetProfit:       netProfit,
		ExecutionTimeMs: e.clock.Since(start).Milliseconds(),
		Timestamp:       e.clock.Now().UnixMilli(),
	}

	e.mu.Lock()
	e.totalProfit += netProfit
	e.tradeCount++
	e.mu.Unlock()

	e.emitLog("Repaying flash loan... Transaction confirmed!")
	e.logger.Info("模拟成交完成",
		zap.String("tx_hash", rec.TxHash),
		zap.String("pair", rec.Pair),
		zap.Float64("net_profit", rec.NetProfit),
		zap.Int64("execution_ms", rec.ExecutionTimeMs),
	)
	return rec, nil
}

// Totals 返回累计值快照
func (e *Executor) Totals() Totals {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Totals{
		TotalProfit: decimal.Round2(e.totalProfit),
		TradeCount:  e.tradeCount,
	}
}

func (e *Executor) checkFailure(phase string, opp model.Opportunity) error {
	if e.failure == nil {
		return nil
	}
	if err := e.failure(phase, opp); err != nil {
		return fmt.Errorf("模拟成交在 %s 阶段失败: %w", phase, err)
	}
	return nil
}

// txHash 伪造交易哈希: 0x + 32 个随机字节的十六进制
func (e *Executor) txHash() string {
	var buf [32]byte
	for i := 0; i < 4; i++ {
		binary.BigEndian.PutUint64(buf[i*8:], e.rnd.Uint64())
	}
	return "0x" + hex.EncodeToString(buf[:])
}

func (e *Executor) emitLog(msg string) {
	entry := model.LogEntry{
		Agent:     model.AgentExecutor,
		Message:   msg,
		Type:      model.LogExecution,
		Timestamp: e.clock.Now().UnixMilli(),
	}
	select {
	case e.logs <- entry:
	default:
		e.logger.Warn("日志通道已满，丢弃日志", zap.String("message", msg))
	}
}

// splitPair 拆分交易对名称，如 MON/USDC → MON, USDC
func splitPair(pair string) (base, quote string) {
	base, quote, ok := strings.Cut(pair, "/")
	if !ok {
		return pair, "USDC"
	}
	return base, quote
}
