package audit

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"arbitrage-sentinel/internal/config"
	"arbitrage-sentinel/internal/core/model"
)

// ErrEmptyCompletion 模型未返回任何候选
var ErrEmptyCompletion = errors.New("模型未返回候选结果")

// chatCompleter go-openai 客户端的方法子集
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClassifier 基于 OpenAI 兼容接口的分类器
// 每次分类发起一次 chat completion 调用，要求 JSON 对象输出
type OpenAIClassifier struct {
	client      chatCompleter
	validator   *SchemaValidator
	logger      *zap.Logger
	model       string
	temperature float32
	maxTokens   int
}

// NewOpenAIClassifier 创建 AI 分类器
// 参数 cfg: 审计配置（API Key、Base URL、模型参数）
// 参数 logger: 日志记录器
func NewOpenAIClassifier(cfg config.AuditConfig, logger *zap.Logger) (*OpenAIClassifier, error) {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	validator, err := NewSchemaValidator()
	if err != nil {
		return nil, err
	}

	return &OpenAIClassifier{
		client:      openai.NewClientWithConfig(clientCfg),
		validator:   validator,
		logger:      logger.Named("openai"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Name 分类器名称
func (c *OpenAIClassifier) Name() string { return "openai" }

// Classify 调用模型做安全分类
func (c *OpenAIClassifier) Classify(ctx context.Context, contract, source string) (model.Verdict, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(contract, source)},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return model.Verdict{}, fmt.Errorf("调用模型失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		return model.Verdict{}, ErrEmptyCompletion
	}

	verdict, violation, err := c.validator.ParseVerdict(resp.Choices[0].Message.Content)
	if err != nil {
		return model.Verdict{}, err
	}
	if violation != nil {
		c.logger.Warn("模型输出不符合 Schema，缺失字段使用默认值",
			zap.String("contract", contract),
			zap.Error(violation),
		)
	}

	c.logger.Debug("模型分类完成",
		zap.String("contract", contract),
		zap.Bool("safe", verdict.Safe),
		zap.Int("confidence", verdict.Confidence),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)
	return verdict, nil
}

func userPrompt(contract, source string) string {
	return fmt.Sprintf("Audit this smart contract at address %s:\n\n```solidity\n%s\n```", contract, source)
}
