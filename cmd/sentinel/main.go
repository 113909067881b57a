// Package main 是套利哨兵的入口点。
// 哨兵模拟两个场所之间的价格差，发现套利机会后先做合约安全审计，
// 审计通过才执行模拟闪电贷成交，全过程通过 WebSocket 实时广播。
//
// 重要：本系统只做模拟，不接入任何真实链上交易。
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"arbitrage-sentinel/internal/audit"
	"arbitrage-sentinel/internal/broadcast"
	"arbitrage-sentinel/internal/config"
	"arbitrage-sentinel/internal/core/paper"
	"arbitrage-sentinel/internal/core/pipeline"
	"arbitrage-sentinel/internal/feed"
	"arbitrage-sentinel/internal/httpapi"
	"arbitrage-sentinel/internal/journal"
	"arbitrage-sentinel/internal/metrics"
)

func main() {
	var configPath, envFile string
	flag.StringVar(&configPath, "config", "config.yaml", "配置文件路径")
	flag.StringVar(&envFile, "env", ".env", "环境变量文件路径（不存在时忽略）")
	flag.Parse()

	_ = godotenv.Load(envFile)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.App.LogLevel)
	defer logger.Sync()
	logger = logger.With(zap.String("app", cfg.App.Name))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 捕获 SIGINT/SIGTERM，触发优雅退出
	sigCh := make(chan os.Signal, 2)
	ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("收到退出信号，开始优雅关闭")
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("哨兵异常退出", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("关闭完成")
}

// run 组装各组件并运行到 ctx 取消
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) (err error) {
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	sink, err := journal.Open(ctx, cfg.Journal, logger)
	if err != nil {
		return fmt.Errorf("打开落盘失败: %w", err)
	}
	if sink != nil {
		defer func() { err = multierr.Append(err, sink.Close()) }()
	}

	auditor, err := audit.Build(ctx, cfg.Audit, nil, nil, logger)
	if err != nil {
		return fmt.Errorf("创建安全审计器失败: %w", err)
	}
	defer func() { err = multierr.Append(err, auditor.Close()) }()

	sim := feed.New(cfg.Feed, logger)
	executor := paper.NewExecutor(cfg.Executor, logger)

	var coord *pipeline.Coordinator
	hub := broadcast.NewHub(logger,
		broadcast.WithAllowedOrigin(cfg.Server.AllowedOrigin),
		broadcast.WithWelcome(func() []broadcast.Message { return coord.Welcome() }),
		broadcast.WithClientHook(m.SetWSClients),
	)
	defer hub.Close()

	coord = pipeline.New(sim, auditor, executor, hub, logger,
		pipeline.WithSettleDelay(cfg.Pipeline.SettleDelay()),
		pipeline.WithStatsInterval(cfg.Pipeline.StatsInterval()),
		pipeline.WithRoastHistory(cfg.Pipeline.RoastHistory),
		pipeline.WithJournal(sink),
		pipeline.WithMetrics(m),
	)

	opts := httpapi.Options{
		AllowedOrigin: cfg.Server.AllowedOrigin,
		WS:            http.HandlerFunc(hub.ServeWS),
	}
	if m != nil {
		opts.Metrics = m.Handler()
	}
	server := httpapi.NewServer(cfg.Server.Addr, httpapi.NewRouter(coord, opts, logger), cfg.Server.ShutdownTimeout(), logger)

	logger.Info("哨兵已上线",
		zap.String("addr", cfg.Server.Addr),
		zap.String("classifier", auditor.ClassifierName()),
		zap.Bool("metrics", m != nil),
		zap.Bool("journal", sink != nil),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return coord.Run(gctx) })
	return g.Wait()
}

func newLogger(level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
