package audit

import (
	"context"

	"arbitrage-sentinel/internal/core/model"
)

// Classifier 安全分类器
// 返回的裁决只需填写 Safe/Confidence/Threats/Roast，其余字段由审计器补全
type Classifier interface {
	// Classify 对合约源码做安全分类
	// 参数 contract: 合约标识
	// 参数 source: 合约源码
	Classify(ctx context.Context, contract, source string) (model.Verdict, error)
	// Name 分类器名称（日志与指标标签）
	Name() string
}
