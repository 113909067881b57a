package model

// Verdict 安全审计裁决
// 由安全审计器生成，按合约标识缓存（默认 1 小时）
type Verdict struct {
	// ContractAddress 合约标识
	ContractAddress string `json:"contractAddress"`
	// Safe 是否安全
	Safe bool `json:"safe"`
	// Confidence 置信度（0-100）
	Confidence int `json:"confidence"`
	// Threats 威胁标签列表
	Threats []string `json:"threats"`
	// Roast 审计说明文本（安全时为夸奖，不安全时为吐槽）
	Roast string `json:"roast"`
	// Cached 是否来自缓存
	Cached bool `json:"cached"`
	// AuditTimeMs 审计耗时（毫秒）
	AuditTimeMs int64 `json:"auditTimeMs"`
	// Timestamp 裁决时间（Unix 毫秒）
	Timestamp int64 `json:"timestamp"`
}

// Clone 返回裁决的副本
// Threats 切片被复制，副本与原值不共享底层数组
func (v Verdict) Clone() Verdict {
	out := v
	if v.Threats != nil {
		out.Threats = make([]string, len(v.Threats))
		copy(out.Threats, v.Threats)
	}
	return out
}

// VerdictEvent verdict 广播事件负载
// 裁决与触发它的机会一起发布
type VerdictEvent struct {
	Verdict
	// Opportunity 触发审计的机会
	Opportunity Opportunity `json:"opportunity"`
}
