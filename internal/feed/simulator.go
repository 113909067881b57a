// Package feed 实现合成价格源。
// 围绕两个场所的基准价格做有界随机扰动，每隔固定次数采样人为制造一次价差，
// 价差超过阈值时产生套利机会。
package feed

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"arbitrage-sentinel/internal/config"
	"arbitrage-sentinel/internal/core/model"
	"arbitrage-sentinel/internal/util/decimal"
	"arbitrage-sentinel/internal/util/delay"
	"arbitrage-sentinel/internal/util/random"
)

// Option 模拟器可选项
type Option func(*Simulator)

// WithClock 注入时钟
func WithClock(clock clockwork.Clock) Option {
	return func(s *Simulator) { s.clock = clock }
}

// WithRandom 注入随机源
func WithRandom(src random.Source) Option {
	return func(s *Simulator) { s.rnd = src }
}

// Simulator 合成价格源
type Simulator struct {
	// cfg 模拟参数
	cfg config.FeedConfig
	// logger 日志记录器
	logger *zap.Logger
	// clock 时间来源
	clock clockwork.Clock
	// rnd 随机源
	rnd random.Source
	// events 事件输出通道
	events chan Event

	// scanCount 已采样次数
	scanCount atomic.Int64
	// dropped 因通道已满丢弃的事件数
	dropped atomic.Int64

	// mu 保护生命周期字段
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New 创建价格模拟器
// 参数 cfg: 模拟参数（已设置默认值）
// 参数 logger: 日志记录器
func New(cfg config.FeedConfig, logger *zap.Logger, opts ...Option) *Simulator {
	size := cfg.BufferSize
	if size <= 0 {
		size = 256
	}
	s := &Simulator{
		cfg:    cfg,
		logger: logger.Named("feed"),
		clock:  clockwork.NewRealClock(),
		events: make(chan Event, size),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rnd == nil {
		if cfg.Seed != 0 {
			s.rnd = random.NewSeeded(cfg.Seed)
		} else {
			s.rnd = random.Default()
		}
	}
	return s
}

// Start 开始周期采样（幂等）
// 先等待模拟的连接耗时，再按采样间隔运行
// 参数 ctx: 生命周期上下文
func (s *Simulator) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	pair := s.cfg.Pairs[0]
	s.emitLog(fmt.Sprintf("Initializing price monitors on %s and %s...", pair.VenueA, pair.VenueB), model.LogSystem)

	s.wg.Add(1)
	go s.run(runCtx)
}

// Stop 停止采样（幂等）
func (s *Simulator) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.emitLog("Scanner stopped.", model.LogSystem)
	s.logger.Info("价格模拟器已停止", zap.Int64("scans", s.scanCount.Load()), zap.Int64("dropped", s.dropped.Load()))
}

// Running 是否正在运行
func (s *Simulator) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Events 返回事件通道
func (s *Simulator) Events() <-chan Event {
	return s.events
}

// ScanCount 返回已采样次数
func (s *Simulator) ScanCount() int64 {
	return s.scanCount.Load()
}

// Dropped 返回因通道已满丢弃的事件数
func (s *Simulator) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Simulator) run(ctx context.Context) {
	defer s.wg.Done()

	if err := delay.Sleep(ctx, s.clock, s.cfg.ConnectDelay()); err != nil {
		return
	}

	names := make([]string, len(s.cfg.Pairs))
	for i, p := range s.cfg.Pairs {
		names[i] = p.Name
	}
	s.emitLog(fmt.Sprintf("Connected to price feeds. Monitoring %v.", names), model.LogSystem)
	s.logger.Info("价格模拟器已连接", zap.Strings("pairs", names), zap.Duration("interval", s.cfg.PollInterval()))

	ticker := s.clock.NewTicker(s.cfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.Sample()
		}
	}
}

// Sample 执行一次采样
// 总是产出一次价格观测；价差绝对值超过阈值时额外产出一个机会
// 返回: 本次观测与机会（未触发时为 nil）
func (s *Simulator) Sample() (model.PriceObservation, *model.Opportunity) {
	n := s.scanCount.Add(1)
	pair := s.cfg.Pairs[int((n-1)%int64(len(s.cfg.Pairs)))]

	// 有界扰动: (rand - 0.5) × noise
	noiseA := (s.rnd.Float64() - 0.5) * s.cfg.Noise
	noiseB := (s.rnd.Float64() - 0.5) * s.cfg.Noise

	var boost float64
	if s.cfg.OpportunityEvery > 0 && n%int64(s.cfg.OpportunityEvery) == 0 {
		boost = s.cfg.BoostMin + s.rnd.Float64()*(s.cfg.BoostMax-s.cfg.BoostMin)
	}

	priceA := decimal.Round4(pair.BasePriceA + noiseA)
	priceB := decimal.Round4(pair.BasePriceB + noiseB + boost)
	spread := decimal.Round2((priceB - priceA) / priceA * 100)
	now := s.clock.Now().UnixMilli()

	obs := model.PriceObservation{
		Pair:      pair.Name,
		VenueA:    pair.VenueA,
		VenueB:    pair.VenueB,
		PriceA:    priceA,
		PriceB:    priceB,
		Spread:    spread,
		Timestamp: now,
	}
	s.emit(Event{Kind: KindPrice, Price: &obs})

	abs := math.Abs(spread)
	if abs <= s.cfg.ProfitThreshold {
		if s.cfg.ScanLogEvery > 0 && n%int64(s.cfg.ScanLogEvery) == 0 {
			s.emitLog(fmt.Sprintf("Scanning %s... %s: $%v | %s: $%v | Spread: %v%%",
				pair.Name, pair.VenueA, priceA, pair.VenueB, priceB, spread), model.LogScan)
		}
		return obs, nil
	}

	opp := model.Opportunity{
		ID:              fmt.Sprintf("opp-%d-%s", n, uuid.NewString()),
		Pair:            pair.Name,
		BuyPrice:        math.Min(priceA, priceB),
		SellPrice:       math.Max(priceA, priceB),
		ProfitPercent:   abs,
		EstimatedProfit: decimal.Round2(abs * s.cfg.Haircut),
		ContractAddress: s.cfg.Contracts[s.rnd.IntN(len(s.cfg.Contracts))],
		Timestamp:       now,
	}
	if priceA < priceB {
		opp.BuyVenue, opp.SellVenue = pair.VenueA, pair.VenueB
	} else {
		opp.BuyVenue, opp.SellVenue = pair.VenueB, pair.VenueA
	}

	s.emitLog(fmt.Sprintf("Price gap detected: %s - %v%% arb available (%s -> %s)",
		pair.Name, abs, opp.BuyVenue, opp.SellVenue), model.LogOpportunity)
	s.emit(Event{Kind: KindOpportunity, Opportunity: &opp})

	s.logger.Debug("发现价差机会",
		zap.String("id", opp.ID),
		zap.String("pair", opp.Pair),
		zap.Float64("profit_percent", opp.ProfitPercent),
		zap.String("contract", opp.ContractAddress),
	)

	return obs, &opp
}

func (s *Simulator) emitLog(msg string, typ model.LogType) {
	s.emit(Event{Kind: KindLog, Log: &model.LogEntry{
		Agent:     model.AgentScanner,
		Message:   msg,
		Type:      typ,
		Timestamp: s.clock.Now().UnixMilli(),
	}})
}

// emit 非阻塞发送，通道已满时丢弃
func (s *Simulator) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		if s.dropped.Add(1)%100 == 1 {
			s.logger.Warn("事件通道已满，丢弃事件", zap.String("kind", string(ev.Kind)), zap.Int64("dropped", s.dropped.Load()))
		}
	}
}
