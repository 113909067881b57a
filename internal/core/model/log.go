package model

// LogType 日志行类型，前端据此着色
type LogType string

const (
	LogSystem      LogType = "system"
	LogScan        LogType = "scan"
	LogOpportunity LogType = "opportunity"
	LogAudit       LogType = "audit"
	LogCache       LogType = "cache"
	LogState       LogType = "state"
	LogSafe        LogType = "safe"
	LogScam        LogType = "scam"
	LogRoast       LogType = "roast"
	LogExecution   LogType = "execution"
	LogSuccess     LogType = "success"
	LogError       LogType = "error"
)

// 组件名称，出现在 LogEntry.Agent 中
const (
	AgentScanner      = "Scanner"
	AgentVibe         = "Vibe"
	AgentExecutor     = "Executor"
	AgentOrchestrator = "Orchestrator"
	AgentSystem       = "System"
)

// LogEntry 可读日志行
// 各组件产生，经协调器以 log 事件广播
type LogEntry struct {
	// Agent 产生日志的组件
	Agent string `json:"agent"`
	// Message 日志内容
	Message string `json:"message"`
	// Type 日志类型
	Type LogType `json:"type"`
	// Timestamp 时间（Unix 毫秒）
	Timestamp int64 `json:"timestamp"`
}
