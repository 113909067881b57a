// Package journal 记录流水线产出的成交、裁决与吐槽。
// 支持 JSONL 文件与 Postgres 两种落盘方式，可同时启用。
package journal

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"arbitrage-sentinel/internal/config"
	"arbitrage-sentinel/internal/core/model"
)

// Sink 落盘目标
type Sink interface {
	// RecordTrade 记录模拟成交
	RecordTrade(ctx context.Context, rec model.TradeRecord) error
	// RecordVerdict 记录审计裁决（含触发机会）
	RecordVerdict(ctx context.Context, ev model.VerdictEvent) error
	// RecordRoast 记录不安全裁决摘要
	RecordRoast(ctx context.Context, entry model.RoastEntry) error
	// Close 释放资源
	Close() error
}

// Multi 把每条记录写入全部目标
// 单个目标失败不影响其他目标，错误合并返回
type Multi []Sink

// RecordTrade 写入全部目标
func (m Multi) RecordTrade(ctx context.Context, rec model.TradeRecord) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.RecordTrade(ctx, rec))
	}
	return err
}

// RecordVerdict 写入全部目标
func (m Multi) RecordVerdict(ctx context.Context, ev model.VerdictEvent) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.RecordVerdict(ctx, ev))
	}
	return err
}

// RecordRoast 写入全部目标
func (m Multi) RecordRoast(ctx context.Context, entry model.RoastEntry) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.RecordRoast(ctx, entry))
	}
	return err
}

// Close 关闭全部目标
func (m Multi) Close() error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Close())
	}
	return err
}

// Open 按配置打开落盘目标
// 未启用任何目标时返回 nil, nil
// 参数 ctx: 用于连接 Postgres
// 参数 cfg: 落盘配置
// 参数 logger: 日志记录器
func Open(ctx context.Context, cfg config.JournalConfig, logger *zap.Logger) (Sink, error) {
	var sinks Multi

	if cfg.JSONLEnabled {
		js, err := NewJSONLSink(cfg.Dir, cfg.BufferSize)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, js)
		logger.Info("JSONL 落盘已启用", zap.String("dir", filepath.Clean(cfg.Dir)))
	}

	if cfg.PostgresDSN != "" {
		ps, err := NewPostgresSink(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("打开 Postgres 落盘失败: %w", err), sinks.Close())
		}
		sinks = append(sinks, ps)
		logger.Info("Postgres 落盘已启用")
	}

	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}
