// Package random 提供可注入的随机数源。
// 模拟器、审计器、成交模拟器都通过 Source 取随机数，测试可替换为固定值。
package random

import (
	"math/rand/v2"
	"sync"
)

// Source 随机数源
// 与 *rand.Rand 的方法子集一致
type Source interface {
	// Float64 返回 [0, 1) 内的均匀随机数
	Float64() float64
	// IntN 返回 [0, n) 内的均匀随机整数
	IntN(n int) int
	// Uint64 返回 64 位均匀随机数
	Uint64() uint64
}

type global struct{}

func (global) Float64() float64 { return rand.Float64() }
func (global) IntN(n int) int   { return rand.IntN(n) }
func (global) Uint64() uint64   { return rand.Uint64() }

// Default 返回基于 math/rand/v2 全局源的随机数源（并发安全）
func Default() Source {
	return global{}
}

// locked 加锁包装的带种子随机源
type locked struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewSeeded 创建带固定种子的随机源，便于复现模拟行情
// 参数 seed: 随机种子
func NewSeeded(seed uint64) Source {
	return &locked{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (l *locked) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *locked) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

func (l *locked) Uint64() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Uint64()
}

// Const 固定随机源（仅用于测试）
// Float64 恒返回 F；IntN 返回 int(F*n)；Uint64 返回 U
type Const struct {
	F float64
	U uint64
}

func (c Const) Float64() float64 { return c.F }

func (c Const) IntN(n int) int {
	if n <= 0 {
		return 0
	}
	i := int(c.F * float64(n))
	if i >= n {
		i = n - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}

func (c Const) Uint64() uint64 { return c.U }
