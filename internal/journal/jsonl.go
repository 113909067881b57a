package journal

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/multierr"

	"arbitrage-sentinel/internal/core/model"
	"arbitrage-sentinel/internal/output/jsonl"
)

// JSONLSink 按记录类型写入三个 JSONL 文件
// trades.jsonl / verdicts.jsonl / roasts.jsonl
type JSONLSink struct {
	trades   *jsonl.Writer
	verdicts *jsonl.Writer
	roasts   *jsonl.Writer
}

// NewJSONLSink 创建 JSONL 落盘
// 参数 dir: 输出目录
// 参数 bufferSize: 每个文件的异步写入缓冲区大小
func NewJSONLSink(dir string, bufferSize int) (*JSONLSink, error) {
	var (
		s   JSONLSink
		err error
	)
	if s.trades, err = jsonl.NewWriter(filepath.Join(dir, "trades.jsonl"), bufferSize); err != nil {
		return nil, fmt.Errorf("创建 trades writer 失败: %w", err)
	}
	if s.verdicts, err = jsonl.NewWriter(filepath.Join(dir, "verdicts.jsonl"), bufferSize); err != nil {
		_ = s.trades.Close()
		return nil, fmt.Errorf("创建 verdicts writer 失败: %w", err)
	}
	if s.roasts, err = jsonl.NewWriter(filepath.Join(dir, "roasts.jsonl"), bufferSize); err != nil {
		_ = multierr.Combine(s.trades.Close(), s.verdicts.Close())
		return nil, fmt.Errorf("创建 roasts writer 失败: %w", err)
	}
	return &s, nil
}

// RecordTrade 写入 trades.jsonl
func (s *JSONLSink) RecordTrade(_ context.Context, rec model.TradeRecord) error {
	return s.trades.Write(rec)
}

// RecordVerdict 写入 verdicts.jsonl
func (s *JSONLSink) RecordVerdict(_ context.Context, ev model.VerdictEvent) error {
	return s.verdicts.Write(ev)
}

// RecordRoast 写入 roasts.jsonl
func (s *JSONLSink) RecordRoast(_ context.Context, entry model.RoastEntry) error {
	return s.roasts.Write(entry)
}

// Flush 等待已投递的记录落盘
func (s *JSONLSink) Flush() error {
	return multierr.Combine(s.trades.Flush(), s.verdicts.Flush(), s.roasts.Flush())
}

// Stats 返回三个文件的写入计数
func (s *JSONLSink) Stats() map[string]jsonl.Stats {
	return map[string]jsonl.Stats{
		"trades":   s.trades.Stats(),
		"verdicts": s.verdicts.Stats(),
		"roasts":   s.roasts.Stats(),
	}
}

// Close 关闭全部文件
func (s *JSONLSink) Close() error {
	return multierr.Combine(s.trades.Close(), s.verdicts.Close(), s.roasts.Close())
}
