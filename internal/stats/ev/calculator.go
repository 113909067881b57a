// Package ev 计算模拟成交的滚动期望值（EV）。
// 盈利样本：净利 > 0；亏损样本：净利 <= 0。
// EV = p × W - (1 - p) × L，其中 p 为胜率，W 为平均净盈利，L 为平均净亏损（绝对值）。
package ev

import (
	"math"
	"sync"

	"arbitrage-sentinel/internal/core/model"
	"arbitrage-sentinel/internal/util/decimal"
)

// DefaultWindow 默认滚动窗口大小
const DefaultWindow = 1000

type tradeSample struct {
	win       bool
	netProfit float64
	gasCost   float64
}

// Stats EV 统计信息（滚动窗口）
type Stats struct {
	// Count 窗口内样本数
	Count int64 `json:"count"`
	// WinCount 盈利样本数
	WinCount int64 `json:"winCount"`
	// LossCount 亏损样本数
	LossCount int64 `json:"lossCount"`

	// WinRate 胜率 p
	WinRate float64 `json:"winRate"`
	// AvgWin 平均净盈利 W
	AvgWin float64 `json:"avgWin"`
	// AvgLoss 平均净亏损 L（绝对值）
	AvgLoss float64 `json:"avgLoss"`
	// AvgGas 平均模拟成本
	AvgGas float64 `json:"avgGas"`

	// EV 每笔期望净利
	EV float64 `json:"ev"`
}

// Calculator EV 计算器（滚动窗口），并发安全
type Calculator struct {
	mu sync.Mutex

	// windowSize 滚动窗口大小
	windowSize int
	// buf 环形缓冲区
	buf []tradeSample
	// pos 写入位置
	pos int
	// full 是否已填满
	full bool

	// 维护滚动统计（O(1) 更新）
	count     int64
	winCount  int64
	lossCount int64
	sumWin    float64
	sumLoss   float64
	sumGas    float64
}

// NewCalculator 创建 EV 计算器
// 参数 windowSize: 滚动窗口大小，<= 0 时使用 DefaultWindow
func NewCalculator(windowSize int) *Calculator {
	if windowSize <= 0 {
		windowSize = DefaultWindow
	}
	return &Calculator{
		windowSize: windowSize,
		buf:        make([]tradeSample, windowSize),
	}
}

// Add 添加一笔模拟成交
func (c *Calculator) Add(rec model.TradeRecord) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s := tradeSample{
		win:       rec.NetProfit > 0,
		netProfit: rec.NetProfit,
		gasCost:   rec.GasCost,
	}

	// 若环已满，移除旧样本对统计的贡献
	if c.full {
		c.remove(c.buf[c.pos])
	}

	c.buf[c.pos] = s
	c.pos++
	if c.pos >= c.windowSize {
		c.pos = 0
		c.full = true
	}

	c.count++
	if s.win {
		c.winCount++
		c.sumWin += s.netProfit
	} else {
		c.lossCount++
		c.sumLoss += math.Abs(s.netProfit)
	}
	c.sumGas += s.gasCost
}

func (c *Calculator) remove(old tradeSample) {
	c.count--
	if old.win {
		c.winCount--
		c.sumWin -= old.netProfit
	} else {
		c.lossCount--
		c.sumLoss -= math.Abs(old.netProfit)
	}
	c.sumGas -= old.gasCost
}

// Stats 返回滚动窗口统计（保留 4 位小数）
func (c *Calculator) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	out := Stats{
		Count:     c.count,
		WinCount:  c.winCount,
		LossCount: c.lossCount,
	}
	if c.count <= 0 {
		return out
	}

	p := float64(c.winCount) / float64(c.count)
	var w, l float64
	if c.winCount > 0 {
		w = c.sumWin / float64(c.winCount)
	}
	if c.lossCount > 0 {
		l = c.sumLoss / float64(c.lossCount)
	}

	out.WinRate = decimal.Round4(p)
	out.AvgWin = decimal.Round4(w)
	out.AvgLoss = decimal.Round4(l)
	out.AvgGas = decimal.Round4(c.sumGas / float64(c.count))
	out.EV = decimal.Round4(p*w - (1-p)*l)
	return out
}
