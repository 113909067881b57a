package audit

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"arbitrage-sentinel/internal/util/delay"
	"arbitrage-sentinel/internal/util/random"
)

// TestOfflineClassifier_Fixtures 测试样例合约的离线裁决
func TestOfflineClassifier_Fixtures(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// 属性: 安全样例 → safe，置信度 ∈ [88, 98)，无威胁
	properties.Property("安全样例判定为安全", prop.ForAll(
		func(f float64, idx int) bool {
			c := NewOfflineClassifier(delay.Fixed(0), nil, random.Const{F: f})
			addr := []string{
				"0x742d35Cc6634C0532925a3b844Bc9e7595f2bD28",
				"0x8B3a08B22F23f37FA4e2E0E5a0F147F4829E2c3A",
			}[idx]
			v, err := c.Classify(context.Background(), addr, "")
			if err != nil {
				return false
			}
			return v.Safe && v.Confidence >= 88 && v.Confidence < 98 && len(v.Threats) == 0 && v.Roast != ""
		},
		gen.Float64Range(0, 0.9999),
		gen.IntRange(0, 1),
	))

	// 属性: 恶意样例 → 威胁标签与样例表完全一致，置信度 ∈ [90, 98)
	properties.Property("恶意样例威胁与样例表一致", prop.ForAll(
		func(f float64) bool {
			c := NewOfflineClassifier(delay.Fixed(0), nil, random.Const{F: f})
			for _, fx := range Fixtures() {
				if fx.Safe {
					continue
				}
				v, err := c.Classify(context.Background(), fx.Address, "")
				if err != nil {
					return false
				}
				if v.Safe || !reflect.DeepEqual(v.Threats, fx.Threats) || v.Roast != fx.Roast {
					return false
				}
				if v.Confidence < 90 || v.Confidence >= 98 {
					return false
				}
			}
			return true
		},
		gen.Float64Range(0, 0.9999),
	))

	properties.TestingRun(t)
}

func TestOfflineClassifier_UnknownContract(t *testing.T) {
	const addr = "0x1234567890abcdef1234567890abcdef12345678"

	// rand > 0.4 → 安全
	c := NewOfflineClassifier(delay.Fixed(0), nil, random.Const{F: 0.9})
	v, err := c.Classify(context.Background(), addr, "")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !v.Safe || v.Confidence < 80 || v.Confidence >= 95 {
		t.Fatalf("未知合约安全分支错误: %+v", v)
	}
	if !strings.Contains(v.Roast, "0x1234...5678") {
		t.Fatalf("吐槽文本应包含缩写地址: %s", v.Roast)
	}

	// rand <= 0.4 → 不安全
	c = NewOfflineClassifier(delay.Fixed(0), nil, random.Const{F: 0.2})
	v, err = c.Classify(context.Background(), addr, "")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if v.Safe || v.Confidence < 85 || v.Confidence >= 97 {
		t.Fatalf("未知合约不安全分支错误: %+v", v)
	}
	if !reflect.DeepEqual(v.Threats, []string{"suspicious owner privileges", "potential transfer restrictions"}) {
		t.Fatalf("threats=%v", v.Threats)
	}
}

func TestOfflineClassifier_ThreatsNotShared(t *testing.T) {
	c := NewOfflineClassifier(delay.Fixed(0), nil, random.Const{F: 0.5})
	v, _ := c.Classify(context.Background(), "0xDEAD000000000000000000000000000000001337", "")
	v.Threats[0] = "mutated"

	f, _ := LookupFixture("0xDEAD000000000000000000000000000000001337")
	if f.Threats[0] == "mutated" {
		t.Fatalf("修改裁决不应影响样例表")
	}
}

func TestOfflineClassifier_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewOfflineClassifier(delay.Fixed(1000), nil, random.Default())
	if _, err := c.Classify(ctx, "0x742d35Cc6634C0532925a3b844Bc9e7595f2bD28", ""); err == nil {
		t.Fatalf("已取消的 ctx 应返回错误")
	}
}

func TestContractSource(t *testing.T) {
	src := ContractSource("0xDEAD000000000000000000000000000000001337")
	if !strings.Contains(src, "contract HoneypotToken") {
		t.Fatalf("样例源码未嵌入: %q", src)
	}
	src = ContractSource("0xunknown")
	if !strings.HasPrefix(src, "// Contract source not available for 0xunknown") {
		t.Fatalf("未知合约占位文本错误: %q", src)
	}
	for _, f := range Fixtures() {
		if f.Source() == "" {
			t.Fatalf("样例 %s 缺少源码", f.Name)
		}
	}
	if !strings.Contains(SystemPrompt(), "STRICT JSON") {
		t.Fatalf("系统提示词未嵌入")
	}
}
