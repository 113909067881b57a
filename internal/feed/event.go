package feed

import "arbitrage-sentinel/internal/core/model"

// EventKind 事件类型
type EventKind string

const (
	// KindPrice 价格观测
	KindPrice EventKind = "price-update"
	// KindOpportunity 套利机会
	KindOpportunity EventKind = "opportunity"
	// KindLog 日志行
	KindLog EventKind = "log"
)

// Event 模拟器输出事件
// 按 Kind 只有一个负载字段非空
type Event struct {
	Kind        EventKind
	Price       *model.PriceObservation
	Opportunity *model.Opportunity
	Log         *model.LogEntry
}
