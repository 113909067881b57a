package audit

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"

	"arbitrage-sentinel/internal/core/model"
	"arbitrage-sentinel/internal/util/delay"
	"arbitrage-sentinel/internal/util/random"
)

// OfflineClassifier 离线分类器
// 按样例表返回预置裁决，未知合约随机判定（60% 安全）
type OfflineClassifier struct {
	think delay.Range
	clock clockwork.Clock
	rnd   random.Source
}

// NewOfflineClassifier 创建离线分类器
// 参数 think: 模拟思考耗时
// 参数 clock: 时间来源，nil 时使用真实时钟
// 参数 rnd: 随机源，nil 时使用全局随机源
func NewOfflineClassifier(think delay.Range, clock clockwork.Clock, rnd random.Source) *OfflineClassifier {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if rnd == nil {
		rnd = random.Default()
	}
	return &OfflineClassifier{think: think, clock: clock, rnd: rnd}
}

// Name 分类器名称
func (c *OfflineClassifier) Name() string { return "offline" }

// Classify 返回预置裁决
func (c *OfflineClassifier) Classify(ctx context.Context, contract, _ string) (model.Verdict, error) {
	if err := delay.Wait(ctx, c.clock, c.rnd, c.think); err != nil {
		return model.Verdict{}, err
	}

	if f, ok := LookupFixture(contract); ok {
		if f.Safe {
			return model.Verdict{
				Safe:       true,
				Confidence: 88 + c.rnd.IntN(10),
				Threats:    []string{},
				Roast:      praise(praiseTemplates[c.rnd.IntN(len(praiseTemplates))], f.Name),
			}, nil
		}
		return model.Verdict{
			Safe:       false,
			Confidence: 90 + c.rnd.IntN(8),
			Threats:    append([]string(nil), f.Threats...),
			Roast:      f.Roast,
		}, nil
	}

	short := truncAddr(contract)
	if c.rnd.Float64() > 0.4 {
		return model.Verdict{
			Safe:       true,
			Confidence: 80 + c.rnd.IntN(15),
			Threats:    []string{},
			Roast:      fmt.Sprintf("Gmonad! Contract %s passes the vibe check. No molandak patterns detected. Chog.", short),
		}, nil
	}
	return model.Verdict{
		Safe:       false,
		Confidence: 85 + c.rnd.IntN(12),
		Threats:    append([]string(nil), genericThreats...),
		Roast: fmt.Sprintf("This dev thought they could sneak one past The Sentinad? Mid-curve molandak energy detected at %s. "+
			"Hidden owner functions and sus transfer logic. Hard pass, nads.", short),
	}, nil
}
