// Package store 维护不安全裁决的有界历史。
// 只追加，超出容量时丢弃最旧的条目。
package store

import (
	"sync"

	"arbitrage-sentinel/internal/core/model"
)

// DefaultRoastHistory 默认历史容量
const DefaultRoastHistory = 50

// RoastLog 吐槽历史（有界、只追加）
// 由协调器写入；读取方通过 Snapshot 获取副本。
type RoastLog struct {
	mu      sync.RWMutex
	limit   int
	entries []model.RoastEntry
}

// NewRoastLog 创建吐槽历史
// 参数 limit: 最大条目数，<= 0 时使用默认值
func NewRoastLog(limit int) *RoastLog {
	if limit <= 0 {
		limit = DefaultRoastHistory
	}
	return &RoastLog{
		limit:   limit,
		entries: make([]model.RoastEntry, 0, limit),
	}
}

// Append 追加一条记录
// 参数 e: 不安全裁决的摘要
func (s *RoastLog) Append(e model.RoastEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) >= s.limit {
		// 丢弃最旧的条目，复用底层数组
		n := copy(s.entries, s.entries[len(s.entries)-s.limit+1:])
		s.entries = s.entries[:n]
	}
	s.entries = append(s.entries, e)
}

// Snapshot 返回按时间顺序排列的副本
func (s *RoastLog) Snapshot() []model.RoastEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.RoastEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len 返回当前条目数
func (s *RoastLog) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Limit 返回容量
func (s *RoastLog) Limit() int {
	return s.limit
}
