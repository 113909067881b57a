// Package latency 维护流水线各阶段耗时的滚动窗口统计（P50/P90/P99）。
package latency

import (
	"sort"
	"sync"
	"time"
)

// 阶段名称
const (
	// StageAudit 安全审计（仅统计未命中缓存的审计）
	StageAudit = "audit"
	// StageExecution 模拟成交
	StageExecution = "execution"
	// StagePipeline 整条流水线（含回到 IDLE 前的停顿）
	StagePipeline = "pipeline"
)

// DefaultWindow 默认滚动窗口大小
const DefaultWindow = 1000

// Stats 单个阶段的耗时统计快照
// 单位：毫秒
type Stats struct {
	// Stage 阶段名称
	Stage string `json:"stage"`
	// Count 样本总数（累计）
	Count int64 `json:"count"`
	// P50Ms 中位数
	P50Ms float64 `json:"p50Ms"`
	// P90Ms P90
	P90Ms float64 `json:"p90Ms"`
	// P99Ms P99
	P99Ms float64 `json:"p99Ms"`
	// MaxMs 窗口内最大值
	MaxMs float64 `json:"maxMs"`
}

type rollingWindow struct {
	size  int
	buf   []time.Duration
	pos   int
	count int64
	full  bool
}

func newRollingWindow(size int) *rollingWindow {
	return &rollingWindow{size: size, buf: make([]time.Duration, 0, size)}
}

func (w *rollingWindow) add(v time.Duration) {
	w.count++
	if !w.full {
		w.buf = append(w.buf, v)
		if len(w.buf) == w.size {
			w.full = true
			w.pos = 0
		}
		return
	}

	w.buf[w.pos] = v
	w.pos++
	if w.pos >= w.size {
		w.pos = 0
	}
}

// quantiles 返回窗口内的分位数（最近秩），窗口为空时全为 0
func (w *rollingWindow) quantiles(qs ...float64) []time.Duration {
	values := make([]time.Duration, len(qs))
	if len(w.buf) == 0 {
		return values
	}

	tmp := make([]time.Duration, len(w.buf))
	copy(tmp, w.buf)
	sort.Slice(tmp, func(i, j int) bool { return tmp[i] < tmp[j] })

	n := len(tmp)
	for i, q := range qs {
		switch {
		case q <= 0:
			values[i] = tmp[0]
		case q >= 1:
			values[i] = tmp[n-1]
		default:
			values[i] = tmp[int(float64(n-1)*q)]
		}
	}
	return values
}

// Tracker 阶段耗时追踪器，并发安全
type Tracker struct {
	windowSize int

	mu     sync.Mutex
	stages map[string]*rollingWindow
}

// NewTracker 创建耗时追踪器
// 参数 windowSize: 每个阶段的滚动窗口大小，<= 0 时使用 DefaultWindow
func NewTracker(windowSize int) *Tracker {
	if windowSize <= 0 {
		windowSize = DefaultWindow
	}
	return &Tracker{
		windowSize: windowSize,
		stages:     make(map[string]*rollingWindow),
	}
}

// Add 记录一次阶段耗时，负值忽略
func (t *Tracker) Add(stage string, d time.Duration) {
	if t == nil || d < 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.stages[stage]
	if !ok {
		w = newRollingWindow(t.windowSize)
		t.stages[stage] = w
	}
	w.add(d)
}

// Stats 返回指定阶段的统计快照，未记录过的阶段返回零值
func (t *Tracker) Stats(stage string) Stats {
	out := Stats{Stage: stage}
	if t == nil {
		return out
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.stages[stage]
	if !ok {
		return out
	}
	qs := w.quantiles(0.50, 0.90, 0.99, 1)
	out.Count = w.count
	out.P50Ms = toMs(qs[0])
	out.P90Ms = toMs(qs[1])
	out.P99Ms = toMs(qs[2])
	out.MaxMs = toMs(qs[3])
	return out
}

// Snapshot 返回全部已记录阶段的统计，按阶段名排序
func (t *Tracker) Snapshot() []Stats {
	if t == nil {
		return []Stats{}
	}
	t.mu.Lock()
	names := make([]string, 0, len(t.stages))
	for name := range t.stages {
		names = append(names, name)
	}
	t.mu.Unlock()

	sort.Strings(names)
	out := make([]Stats, 0, len(names))
	for _, name := range names {
		out = append(out, t.Stats(name))
	}
	return out
}

func toMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
