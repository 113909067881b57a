package model

// TradeRecord 模拟成交记录
// 仅在裁决为安全时生成，创建后不再修改
type TradeRecord struct {
	// TxHash 伪造的交易哈希（0x + 64 位十六进制）
	TxHash string `json:"txHash"`
	// Pair 交易对名称
	Pair string `json:"pair"`
	// BuyVenue 买入场所
	BuyVenue string `json:"buyDex"`
	// SellVenue 卖出场所
	SellVenue string `json:"sellDex"`
	// AmountIn 借入数量
	AmountIn float64 `json:"amountIn"`
	// AmountOut 归还前的产出数量
	AmountOut float64 `json:"amountOut"`
	// Profit 毛利
	// 计算公式: AmountIn × ProfitPercent / 100
	Profit float64 `json:"profit"`
	// GasCost 模拟成本
	GasCost float64 `json:"gasCost"`
	// NetProfit 净利 = Profit - GasCost
	NetProfit float64 `json:"netProfit"`
	// ExecutionTimeMs 执行耗时（毫秒）
	ExecutionTimeMs int64 `json:"executionTimeMs"`
	// Timestamp 完成时间（Unix 毫秒）
	Timestamp int64 `json:"timestamp"`
}
