// Package delay 实现带随机区间的人工延迟。
// 模拟组件的每个阶段都等待 [Min, Max) 内的随机时长，可被 context 取消。
package delay

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"arbitrage-sentinel/internal/util/random"
)

// Range 延迟区间（毫秒）
type Range struct {
	// MinMs 最小延迟（毫秒）
	MinMs int `yaml:"min_ms"`
	// MaxMs 最大延迟（毫秒），小于 MinMs 时视为固定延迟
	MaxMs int `yaml:"max_ms"`
}

// Fixed 创建固定延迟区间
func Fixed(ms int) Range {
	return Range{MinMs: ms, MaxMs: ms}
}

// Pick 在区间内取一个随机时长
// 计算公式: Min + rand × (Max - Min)
func (r Range) Pick(src random.Source) time.Duration {
	minMs := float64(r.MinMs)
	if minMs < 0 {
		minMs = 0
	}
	span := float64(r.MaxMs) - minMs
	if span <= 0 || src == nil {
		return time.Duration(minMs * float64(time.Millisecond))
	}
	return time.Duration((minMs + src.Float64()*span) * float64(time.Millisecond))
}

// Validate 检查区间合法性
func (r Range) Validate() bool {
	return r.MinMs >= 0 && r.MaxMs >= 0
}

// Sleep 在给定时钟上等待 d，ctx 取消时提前返回 ctx.Err()
// d <= 0 时立即返回
func Sleep(ctx context.Context, clock clockwork.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	}
}

// Wait 在区间内取随机时长并等待
func Wait(ctx context.Context, clock clockwork.Clock, src random.Source, r Range) error {
	return Sleep(ctx, clock, r.Pick(src))
}
