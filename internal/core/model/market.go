// Package model 定义哨兵流水线中使用的核心数据结构。
// 包含价格观测、套利机会、安全裁决、成交记录、聚合统计等类型。
package model

// Pair 交易对定义
// 描述一个交易对及其在两个模拟场所上的基准价格
type Pair struct {
	// Name 交易对名称，如 MON/USDC
	Name string `json:"name" yaml:"name"`
	// TokenA 基础币种
	TokenA string `json:"tokenA" yaml:"token_a"`
	// TokenB 计价币种
	TokenB string `json:"tokenB" yaml:"token_b"`
	// VenueA 场所 A 标识
	VenueA string `json:"dexA" yaml:"venue_a"`
	// VenueB 场所 B 标识
	VenueB string `json:"dexB" yaml:"venue_b"`
	// BasePriceA 场所 A 的基准价格
	BasePriceA float64 `json:"basePriceA" yaml:"base_price_a"`
	// BasePriceB 场所 B 的基准价格
	BasePriceB float64 `json:"basePriceB" yaml:"base_price_b"`
}

// PriceObservation 单次价格采样结果
// 每次采样都会发布一次，不做保留
type PriceObservation struct {
	// Pair 交易对名称
	Pair string `json:"pair"`
	// VenueA 场所 A
	VenueA string `json:"dexA"`
	// VenueB 场所 B
	VenueB string `json:"dexB"`
	// PriceA 场所 A 价格（4 位小数）
	PriceA float64 `json:"priceA"`
	// PriceB 场所 B 价格（4 位小数）
	PriceB float64 `json:"priceB"`
	// Spread 价差百分比（2 位小数）
	// 计算公式: (PriceB - PriceA) / PriceA × 100
	Spread float64 `json:"spread"`
	// Timestamp 采样时间（Unix 毫秒）
	Timestamp int64 `json:"timestamp"`
}

// Opportunity 套利机会
// 当 |Spread| 超过阈值时由价格模拟器生成，协调器至多消费一次
type Opportunity struct {
	// ID 机会唯一标识
	ID string `json:"id"`
	// Pair 交易对名称
	Pair string `json:"pair"`
	// BuyVenue 买入场所（价格较低的一侧）
	BuyVenue string `json:"buyDex"`
	// SellVenue 卖出场所（价格较高的一侧）
	SellVenue string `json:"sellDex"`
	// BuyPrice 买入价
	BuyPrice float64 `json:"buyPrice"`
	// SellPrice 卖出价
	SellPrice float64 `json:"sellPrice"`
	// ProfitPercent 利润百分比 = |Spread|
	ProfitPercent float64 `json:"profitPercent"`
	// EstimatedProfit 扣除固定折扣后的预估利润
	EstimatedProfit float64 `json:"estimatedProfit"`
	// ContractAddress 关联合约标识，交给安全审计
	ContractAddress string `json:"contractAddress"`
	// Timestamp 生成时间（Unix 毫秒）
	Timestamp int64 `json:"timestamp"`
}
