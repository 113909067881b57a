// Package delay 延迟区间测试
package delay

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"arbitrage-sentinel/internal/util/random"
)

// TestRange_PickBounds 测试随机延迟落在区间内
func TestRange_PickBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// 属性: Min <= Pick < Max（区间非空时）
	properties.Property("延迟在区间内", prop.ForAll(
		func(minMs, spanMs int, f float64) bool {
			r := Range{MinMs: minMs, MaxMs: minMs + spanMs}
			d := r.Pick(random.Const{F: f})
			lo := time.Duration(minMs) * time.Millisecond
			hi := time.Duration(minMs+spanMs) * time.Millisecond
			return d >= lo && d < hi
		},
		gen.IntRange(0, 5000),
		gen.IntRange(1, 5000),
		gen.Float64Range(0, 0.999),
	))

	properties.TestingRun(t)
}

func TestRange_FixedAndInverted(t *testing.T) {
	if d := Fixed(250).Pick(random.Const{F: 0.9}); d != 250*time.Millisecond {
		t.Fatalf("Fixed=%v, want 250ms", d)
	}
	// Max < Min 视为固定延迟
	if d := (Range{MinMs: 300, MaxMs: 100}).Pick(random.Const{F: 0.5}); d != 300*time.Millisecond {
		t.Fatalf("inverted=%v, want 300ms", d)
	}
	if d := (Range{}).Pick(random.Default()); d != 0 {
		t.Fatalf("zero=%v, want 0", d)
	}
}

func TestSleep_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	clock := clockwork.NewFakeClock()
	if err := Sleep(ctx, clock, time.Hour); err == nil {
		t.Fatalf("已取消的 ctx 应返回错误")
	}
}

func TestSleep_FakeClockAdvance(t *testing.T) {
	clock := clockwork.NewFakeClock()
	done := make(chan error, 1)
	go func() {
		done <- Sleep(context.Background(), clock, 2*time.Second)
	}()

	if err := clock.BlockUntilContext(context.Background(), 1); err != nil {
		t.Fatalf("BlockUntilContext: %v", err)
	}
	clock.Advance(2 * time.Second)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Sleep: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("推进时钟后 Sleep 未返回")
	}
}
