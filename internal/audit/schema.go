package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"arbitrage-sentinel/internal/core/model"
)

// 结构化输出缺字段时的默认值
const (
	defaultConfidence = 50
	defaultRoast      = "Unable to parse AI response."
)

// ErrNotJSONObject 模型输出不是 JSON 对象
var ErrNotJSONObject = errors.New("模型输出不是 JSON 对象")

// verdictSchema 模型结构化输出的 JSON Schema
var verdictSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"safe":       map[string]any{"type": "boolean"},
		"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 100},
		"threats": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"roast": map[string]any{"type": "string"},
	},
	"required": []string{"safe", "confidence", "threats", "roast"},
}

// SchemaValidator 结构化输出校验器
type SchemaValidator struct {
	schema *jsonschema.Schema
}

// NewSchemaValidator 编译裁决 Schema（Draft 7）
func NewSchemaValidator() (*SchemaValidator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7

	raw, err := json.Marshal(verdictSchema)
	if err != nil {
		return nil, fmt.Errorf("序列化 Schema 失败: %w", err)
	}
	if err := compiler.AddResource("verdict.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("添加 Schema 资源失败: %w", err)
	}
	schema, err := compiler.Compile("verdict.json")
	if err != nil {
		return nil, fmt.Errorf("编译 Schema 失败: %w", err)
	}
	return &SchemaValidator{schema: schema}, nil
}

// ParseVerdict 解析模型输出
// 非 JSON 或非对象返回错误；Schema 不符时逐字段回退默认值，并通过 violation 返回校验错误
// 参数 content: 模型输出文本，空串视为 {}
func (v *SchemaValidator) ParseVerdict(content string) (verdict model.Verdict, violation error, err error) {
	if content == "" {
		content = "{}"
	}

	var doc any
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return model.Verdict{}, nil, fmt.Errorf("解析模型输出失败: %w", err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return model.Verdict{}, nil, ErrNotJSONObject
	}

	if v != nil && v.schema != nil {
		if verr := v.schema.Validate(doc); verr != nil {
			var ve *jsonschema.ValidationError
			if errors.As(verr, &ve) {
				violation = fmt.Errorf("%s: %s", ve.InstanceLocation, ve.Message)
			} else {
				violation = verr
			}
		}
	}

	return fieldsWithDefaults(obj), violation, nil
}

// fieldsWithDefaults 逐字段取值，类型不符或缺失时使用默认值
func fieldsWithDefaults(obj map[string]any) model.Verdict {
	out := model.Verdict{
		Confidence: defaultConfidence,
		Threats:    []string{},
		Roast:      defaultRoast,
	}

	if safe, ok := obj["safe"].(bool); ok {
		out.Safe = safe
	}
	if conf, ok := obj["confidence"].(float64); ok && !math.IsNaN(conf) {
		out.Confidence = int(math.Round(math.Max(0, math.Min(100, conf))))
	}
	if threats, ok := obj["threats"].([]any); ok {
		for _, t := range threats {
			if s, ok := t.(string); ok {
				out.Threats = append(out.Threats, s)
			}
		}
	}
	if roast, ok := obj["roast"].(string); ok {
		out.Roast = roast
	}
	return out
}
