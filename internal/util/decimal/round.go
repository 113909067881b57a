// Package decimal 提供价格与利润的定点舍入。
package decimal

import "math"

// Round 按指定小数位四舍五入
// 参数 v: 原始值
// 参数 places: 小数位数
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Round2 保留 2 位小数（价差、利润）
func Round2(v float64) float64 { return Round(v, 2) }

// Round4 保留 4 位小数（价格、成本）
func Round4(v float64) float64 { return Round(v, 4) }
