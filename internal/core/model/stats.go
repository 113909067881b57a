package model

// State 协调器状态
type State string

const (
	// StateIdle 空闲，等待机会
	StateIdle State = "IDLE"
	// StateAuditing 安全审计中
	StateAuditing State = "AUDITING"
	// StateExecuting 模拟成交中
	StateExecuting State = "EXECUTING"
	// StateRoasting 记录不安全裁决
	StateRoasting State = "ROASTING"
	// StateSuccess 成交完成
	StateSuccess State = "SUCCESS"
)

// Stats 聚合统计
// 仅由协调器持有和修改，外部只能读取副本
type Stats struct {
	// ScansRun 已观测的价格采样次数
	ScansRun int64 `json:"scansRun"`
	// ScamsDodged 不安全裁决次数
	ScamsDodged int64 `json:"scamsDodged"`
	// TradesExecuted 已执行的模拟成交次数
	TradesExecuted int64 `json:"tradesExecuted"`
	// TotalProfit 累计净利（来自成交模拟器的累计值）
	TotalProfit float64 `json:"totalProfit"`
	// Uptime 运行时长（秒）
	Uptime int64 `json:"uptime"`
	// State 当前协调器状态
	State State `json:"state"`
}

// StateChange state-change 广播事件负载
type StateChange struct {
	State State `json:"state"`
}

// RoastEntry 不安全裁决的历史记录
type RoastEntry struct {
	// ContractAddress 合约标识
	ContractAddress string `json:"contractAddress"`
	// Roast 说明文本
	Roast string `json:"roast"`
	// Confidence 置信度
	Confidence int `json:"confidence"`
	// Timestamp 记录时间（Unix 毫秒）
	Timestamp int64 `json:"timestamp"`
}
