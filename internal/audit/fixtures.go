package audit

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed fixtures/*.sol
var fixtureFS embed.FS

//go:embed prompt.md
var systemPrompt string

// SystemPrompt 返回 AI 审计使用的系统提示词
func SystemPrompt() string {
	return systemPrompt
}

// Fixture 样例合约
// 离线审计按地址命中样例；AI 审计把样例源码发给模型
type Fixture struct {
	// Address 合约地址
	Address string
	// Name 合约名称，对应 fixtures/<Name>.sol
	Name string
	// Safe 是否为安全样例
	Safe bool
	// Threats 恶意样例的威胁标签
	Threats []string
	// Roast 恶意样例的吐槽文本
	Roast string
}

// Source 返回样例源码
func (f Fixture) Source() string {
	data, err := fixtureFS.ReadFile("fixtures/" + f.Name + ".sol")
	if err != nil {
		return ""
	}
	return string(data)
}

var fixtures = []Fixture{
	{
		Address: "0x742d35Cc6634C0532925a3b844Bc9e7595f2bD28",
		Name:    "StandardERC20",
		Safe:    true,
	},
	{
		Address: "0x8B3a08B22F23f37FA4e2E0E5a0F147F4829E2c3A",
		Name:    "SimpleDEXPool",
		Safe:    true,
	},
	{
		Address: "0xDEAD000000000000000000000000000000001337",
		Name:    "HoneypotToken",
		Threats: []string{"sell function permanently disabled", "hidden 25% tax", "owner blacklist function", "owner can withdraw all ETH"},
		Roast:   "Absolute MOLANDAK energy from this mid-curve dev. They named it 'Definitely Not A Scam' and the irony is chef's kiss. Sell function is locked behind sellEnabled which is NEVER set to true. Plus a hidden 25% tax AND a blacklist? This dev needs to touch grass immediately. The Sentinad says HARD PASS.",
	},
	{
		Address: "0xBAD0000000000000000000000000000000000069",
		Name:    "RugPullDex",
		Threats: []string{"only owner can remove liquidity", "pausable by owner", "selfdestruct enabled", "fake swap function"},
		Roast:   "This 'DEX' is about as decentralized as a piggy bank. Only the owner can pull liquidity, they can pause your trades anytime, and they literally have a SELFDESTRUCT function. This dev out here playing with everyone's funds like it's Monopoly money. Peak mid-curve rug energy. Stay away, nads.",
	},
	{
		Address: "0xFAKE00000000000000000000000000000000DEAD",
		Name:    "ProxyRugToken",
		Threats: []string{"delegatecall to mutable implementation", "unlimited owner minting", "changeable transfer logic"},
		Roast:   "Oh we got a big brain mid-curve here using delegatecall to hide their rug. The owner can literally REWRITE the transfer function at any time AND mint infinite tokens. This is the Web3 equivalent of writing checks from someone else's account. Molandak level: CRITICAL. The Sentinad is disgusted.",
	},
}

// praiseTemplates 安全样例的夸奖文本，%[1]s 为合约名称
var praiseTemplates = []string{
	"Gmonad fam! %[1]s is clean as a freshly deployed purple chain. No hidden fees, no owner backdoors. Chog energy only. The nads approve.",
	"The Sentinad gives this one the purple stamp of approval. Standard logic, transparent code, zero molandak vibes. Gmonad and carry on.",
	"Scanned every line of %[1]s. This dev actually knows what they're doing. Clean mint, clean transfers, clean everything. Absolute chog behavior.",
}

// 未知合约的通用威胁标签
var genericThreats = []string{"suspicious owner privileges", "potential transfer restrictions"}

// LookupFixture 按地址查找样例合约
func LookupFixture(address string) (Fixture, bool) {
	for _, f := range fixtures {
		if f.Address == address {
			return f, true
		}
	}
	return Fixture{}, false
}

// Fixtures 返回全部样例合约
func Fixtures() []Fixture {
	out := make([]Fixture, len(fixtures))
	copy(out, fixtures)
	return out
}

// ContractSource 返回合约源码，未知地址返回占位文本
func ContractSource(address string) string {
	if f, ok := LookupFixture(address); ok {
		if src := f.Source(); src != "" {
			return src
		}
	}
	return fmt.Sprintf("// Contract source not available for %s\n// Using bytecode analysis fallback", address)
}

// truncAddr 缩写地址: 前 6 位 + ... + 后 4 位
func truncAddr(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

// praise 生成安全样例的夸奖文本
func praise(template, name string) string {
	if !strings.Contains(template, "%[1]s") {
		return template
	}
	return fmt.Sprintf(template, name)
}
