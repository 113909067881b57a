// Package config 负责加载和验证 YAML 配置文件。
// 提供应用程序所需的所有配置项，包括价格模拟、安全审计、模拟成交、流水线节奏、输出等。
// 密钥与部署相关的配置项可由环境变量覆盖。
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"arbitrage-sentinel/internal/core/model"
	"arbitrage-sentinel/internal/util/delay"
)

// 审计模式
const (
	// AuditModeAuto 有可用 API Key 时走 AI，否则走离线审计
	AuditModeAuto = "auto"
	// AuditModeAI 强制走 AI
	AuditModeAI = "ai"
	// AuditModeOffline 强制走离线审计
	AuditModeOffline = "offline"
)

// 裁决缓存后端
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// PlaceholderAPIKey 示例配置中的占位 Key，视为未配置
const PlaceholderAPIKey = "your_openai_api_key_here"

// DefaultContracts 默认合约池（与离线审计的样例合约一致）
var DefaultContracts = []string{
	"0x742d35Cc6634C0532925a3b844Bc9e7595f2bD28",
	"0xDEAD000000000000000000000000000000001337",
	"0x8B3a08B22F23f37FA4e2E0E5a0F147F4829E2c3A",
	"0xBAD0000000000000000000000000000000000069",
	"0xFAKE00000000000000000000000000000000DEAD",
}

// Config 应用配置根结构
// 包含所有子模块的配置项
type Config struct {
	// App 应用基础配置
	App AppConfig `yaml:"app"`
	// Server HTTP/WebSocket 服务配置
	Server ServerConfig `yaml:"server"`
	// Feed 价格模拟器配置
	Feed FeedConfig `yaml:"feed"`
	// Audit 安全审计配置
	Audit AuditConfig `yaml:"audit"`
	// Executor 模拟成交配置
	Executor ExecutorConfig `yaml:"executor"`
	// Pipeline 协调器配置
	Pipeline PipelineConfig `yaml:"pipeline"`
	// Journal 成交/裁决落盘配置
	Journal JournalConfig `yaml:"journal"`
	// Metrics 指标配置
	Metrics MetricsConfig `yaml:"metrics"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	// Name 应用名称，用于日志标识与 /health 响应
	Name string `yaml:"name"`
	// LogLevel 日志级别: debug, info, warn, error
	LogLevel string `yaml:"log_level"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	// Addr 监听地址，如 :3001
	Addr string `yaml:"addr"`
	// AllowedOrigin CORS 允许的来源
	AllowedOrigin string `yaml:"allowed_origin"`
	// ShutdownTimeoutMs 优雅关闭超时（毫秒）
	ShutdownTimeoutMs int `yaml:"shutdown_timeout_ms"`
}

// FeedConfig 价格模拟器配置
type FeedConfig struct {
	// PollIntervalMs 采样间隔（毫秒）
	PollIntervalMs int `yaml:"poll_interval_ms"`
	// ConnectDelayMs 模拟连接耗时（毫秒）
	ConnectDelayMs int `yaml:"connect_delay_ms"`
	// ProfitThreshold 触发机会的价差阈值（百分比）
	ProfitThreshold float64 `yaml:"profit_threshold"`
	// Pairs 监控的交易对，多个时轮流采样
	Pairs []model.Pair `yaml:"pairs"`
	// Noise 扰动幅度，实际扰动范围为 ±Noise/2
	Noise float64 `yaml:"noise"`
	// OpportunityEvery 每 N 次采样对场所 B 注入一次价差
	OpportunityEvery int `yaml:"opportunity_every"`
	// BoostMin 注入价差下限
	BoostMin float64 `yaml:"boost_min"`
	// BoostMax 注入价差上限
	BoostMax float64 `yaml:"boost_max"`
	// Haircut 预估利润折扣（0-1）
	Haircut float64 `yaml:"haircut"`
	// ScanLogEvery 每 K 次普通采样输出一条扫描日志
	ScanLogEvery int `yaml:"scan_log_every"`
	// Contracts 机会关联的合约池
	Contracts []string `yaml:"contracts"`
	// Seed 随机种子，0 表示不固定
	Seed uint64 `yaml:"seed"`
	// BufferSize 事件通道缓冲大小
	BufferSize int `yaml:"buffer_size"`
}

// AuditConfig 安全审计配置
type AuditConfig struct {
	// Mode 审计模式: auto, ai, offline
	Mode string `yaml:"mode"`
	// APIKey OpenAI 兼容接口的 Key
	APIKey string `yaml:"api_key"`
	// BaseURL OpenAI 兼容接口地址，空表示官方地址
	BaseURL string `yaml:"base_url"`
	// Model 模型名称
	Model string `yaml:"model"`
	// Temperature 采样温度
	Temperature float32 `yaml:"temperature"`
	// MaxTokens 最大输出 token 数
	MaxTokens int `yaml:"max_tokens"`
	// TimeoutMs 外部调用超时（毫秒）
	TimeoutMs int `yaml:"timeout_ms"`
	// CacheTTLSec 裁决缓存时长（秒）
	CacheTTLSec int `yaml:"cache_ttl_sec"`
	// CacheBackend 缓存后端: memory, redis
	CacheBackend string `yaml:"cache_backend"`
	// RedisURL Redis 连接串（cache_backend=redis 时必填）
	RedisURL string `yaml:"redis_url"`
	// FetchDelay 模拟获取源码耗时
	FetchDelay delay.Range `yaml:"fetch_delay"`
	// ThinkDelay 离线审计模拟思考耗时
	ThinkDelay delay.Range `yaml:"think_delay"`
	// BufferSize 日志通道缓冲大小
	BufferSize int `yaml:"buffer_size"`
}

// ExecutorConfig 模拟成交配置
type ExecutorConfig struct {
	// BorrowAmount 闪电贷借入数量
	BorrowAmount float64 `yaml:"borrow_amount"`
	// BuildDelay 构造交易耗时
	BuildDelay delay.Range `yaml:"build_delay"`
	// BorrowDelay 借入耗时
	BorrowDelay delay.Range `yaml:"borrow_delay"`
	// BuySwapDelay 买入侧兑换耗时
	BuySwapDelay delay.Range `yaml:"buy_swap_delay"`
	// SellSwapDelay 卖出侧兑换耗时
	SellSwapDelay delay.Range `yaml:"sell_swap_delay"`
	// GasBaseline 基准成本
	GasBaseline float64 `yaml:"gas_baseline"`
	// GasJitter 成本抖动比例，成本落在 baseline × [1-j, 1+j)
	GasJitter float64 `yaml:"gas_jitter"`
	// BufferSize 日志通道缓冲大小
	BufferSize int `yaml:"buffer_size"`
}

// PipelineConfig 协调器配置
type PipelineConfig struct {
	// SettleDelayMs 一次流水线结束后回到 IDLE 前的停顿（毫秒），允许为 0
	SettleDelayMs *int `yaml:"settle_delay_ms"`
	// StatsIntervalMs 周期性统计广播间隔（毫秒）
	StatsIntervalMs int `yaml:"stats_interval_ms"`
	// RoastHistory 吐槽历史容量
	RoastHistory int `yaml:"roast_history"`
}

// JournalConfig 成交/裁决落盘配置
type JournalConfig struct {
	// Dir JSONL 输出目录
	Dir string `yaml:"dir"`
	// JSONLEnabled 是否写 JSONL 文件
	JSONLEnabled bool `yaml:"jsonl_enabled"`
	// BufferSize 异步写入缓冲区大小
	BufferSize int `yaml:"buffer_size"`
	// PostgresDSN Postgres 连接串，空表示不写库
	PostgresDSN string `yaml:"postgres_dsn"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// Enabled 是否暴露 /metrics
	Enabled bool `yaml:"enabled"`
}

// envOverlay 环境变量覆盖项
type envOverlay struct {
	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
	Port          string `env:"PORT"`
	LogLevel      string `env:"LOG_LEVEL"`
	RedisURL      string `env:"REDIS_URL"`
	JournalDSN    string `env:"JOURNAL_POSTGRES_DSN"`
}

// Load 从文件加载配置并验证
// 文件不存在时使用全部默认值
// 参数 path: 配置文件路径
// 返回: 解析后的配置对象，若失败则返回错误
func Load(path string) (*Config, error) {
	var cfg Config

	// 读取配置文件
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// 解析 YAML
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 环境变量覆盖
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	// 设置默认值
	cfg.setDefaults()

	// 验证配置
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &cfg, nil
}

// applyEnv 用环境变量覆盖配置（仅非空值）
func (c *Config) applyEnv() error {
	var ov envOverlay
	if err := env.Parse(&ov); err != nil {
		return fmt.Errorf("解析环境变量失败: %w", err)
	}

	if ov.OpenAIAPIKey != "" {
		c.Audit.APIKey = ov.OpenAIAPIKey
	}
	if ov.OpenAIBaseURL != "" {
		c.Audit.BaseURL = ov.OpenAIBaseURL
	}
	if ov.Port != "" {
		c.Server.Addr = ":" + strings.TrimPrefix(ov.Port, ":")
	}
	if ov.LogLevel != "" {
		c.App.LogLevel = ov.LogLevel
	}
	if ov.RedisURL != "" {
		c.Audit.RedisURL = ov.RedisURL
	}
	if ov.JournalDSN != "" {
		c.Journal.PostgresDSN = ov.JournalDSN
	}
	return nil
}

// setDefaults 设置配置默认值
func (c *Config) setDefaults() {
	// 应用默认值
	if c.App.Name == "" {
		c.App.Name = "arbitrage-sentinel"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}

	// 服务默认值
	if c.Server.Addr == "" {
		c.Server.Addr = ":3001"
	}
	if c.Server.AllowedOrigin == "" {
		c.Server.AllowedOrigin = "*"
	}
	if c.Server.ShutdownTimeoutMs == 0 {
		c.Server.ShutdownTimeoutMs = 10000 // 10 秒
	}

	// 价格模拟默认值
	if c.Feed.PollIntervalMs == 0 {
		c.Feed.PollIntervalMs = 3000 // 3 秒
	}
	if c.Feed.ConnectDelayMs == 0 {
		c.Feed.ConnectDelayMs = 1500
	}
	if c.Feed.ProfitThreshold == 0 {
		c.Feed.ProfitThreshold = 2.0
	}
	if len(c.Feed.Pairs) == 0 {
		c.Feed.Pairs = []model.Pair{{
			Name:   "MON/USDC",
			TokenA: "MON",
			TokenB: "USDC",
			VenueA: "Kuru",
			VenueB: "MockDex",
		}}
	}
	for i := range c.Feed.Pairs {
		p := &c.Feed.Pairs[i]
		if p.BasePriceA == 0 {
			p.BasePriceA = 1.0
		}
		if p.BasePriceB == 0 {
			p.BasePriceB = p.BasePriceA
		}
	}
	if c.Feed.Noise == 0 {
		c.Feed.Noise = 0.04
	}
	if c.Feed.OpportunityEvery == 0 {
		c.Feed.OpportunityEvery = 8
	}
	if c.Feed.BoostMin == 0 && c.Feed.BoostMax == 0 {
		c.Feed.BoostMin = 0.02
		c.Feed.BoostMax = 0.05
	}
	if c.Feed.Haircut == 0 {
		c.Feed.Haircut = 0.75
	}
	if c.Feed.ScanLogEvery == 0 {
		c.Feed.ScanLogEvery = 3
	}
	if len(c.Feed.Contracts) == 0 {
		c.Feed.Contracts = append([]string(nil), DefaultContracts...)
	}
	if c.Feed.BufferSize == 0 {
		c.Feed.BufferSize = 256
	}

	// 审计默认值
	if c.Audit.Mode == "" {
		c.Audit.Mode = AuditModeAuto
	}
	if c.Audit.Model == "" {
		c.Audit.Model = "gpt-4o-mini"
	}
	if c.Audit.Temperature == 0 {
		c.Audit.Temperature = 0.7
	}
	if c.Audit.MaxTokens == 0 {
		c.Audit.MaxTokens = 500
	}
	if c.Audit.TimeoutMs == 0 {
		c.Audit.TimeoutMs = 15000 // 15 秒
	}
	if c.Audit.CacheTTLSec == 0 {
		c.Audit.CacheTTLSec = 3600 // 1 小时
	}
	if c.Audit.CacheBackend == "" {
		c.Audit.CacheBackend = CacheBackendMemory
	}
	if c.Audit.FetchDelay == (delay.Range{}) {
		c.Audit.FetchDelay = delay.Range{MinMs: 300, MaxMs: 700}
	}
	if c.Audit.ThinkDelay == (delay.Range{}) {
		c.Audit.ThinkDelay = delay.Range{MinMs: 600, MaxMs: 1400}
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = 64
	}

	// 模拟成交默认值
	if c.Executor.BorrowAmount == 0 {
		c.Executor.BorrowAmount = 1000
	}
	if c.Executor.BuildDelay == (delay.Range{}) {
		c.Executor.BuildDelay = delay.Range{MinMs: 200, MaxMs: 500}
	}
	if c.Executor.BorrowDelay == (delay.Range{}) {
		c.Executor.BorrowDelay = delay.Range{MinMs: 800, MaxMs: 1500}
	}
	if c.Executor.BuySwapDelay == (delay.Range{}) {
		c.Executor.BuySwapDelay = delay.Range{MinMs: 150, MaxMs: 350}
	}
	if c.Executor.SellSwapDelay == (delay.Range{}) {
		c.Executor.SellSwapDelay = delay.Range{MinMs: 150, MaxMs: 350}
	}
	if c.Executor.GasBaseline == 0 {
		c.Executor.GasBaseline = 0.02
	}
	if c.Executor.GasJitter == 0 {
		c.Executor.GasJitter = 0.2
	}
	if c.Executor.BufferSize == 0 {
		c.Executor.BufferSize = 64
	}

	// 协调器默认值
	if c.Pipeline.SettleDelayMs == nil {
		settle := 2000 // 2 秒
		c.Pipeline.SettleDelayMs = &settle
	}
	if c.Pipeline.StatsIntervalMs == 0 {
		c.Pipeline.StatsIntervalMs = 5000 // 5 秒
	}
	if c.Pipeline.RoastHistory == 0 {
		c.Pipeline.RoastHistory = 50
	}

	// 输出默认值
	if c.Journal.Dir == "" {
		c.Journal.Dir = "./output"
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = 1000
	}
}

// Validate 验证配置合法性
// 检查所有必填项和数值范围
// 返回: 若配置无效则返回描述性错误
func (c *Config) Validate() error {
	var errs []string

	// 验证服务配置
	if c.Server.Addr == "" {
		errs = append(errs, "server.addr: 监听地址不能为空")
	}

	// 验证价格模拟配置
	if c.Feed.PollIntervalMs <= 0 {
		errs = append(errs, "feed.poll_interval_ms: 采样间隔必须为正数")
	}
	if c.Feed.ConnectDelayMs < 0 {
		errs = append(errs, "feed.connect_delay_ms: 连接耗时不能为负数")
	}
	if c.Feed.ProfitThreshold <= 0 {
		errs = append(errs, "feed.profit_threshold: 价差阈值必须为正数")
	}
	if len(c.Feed.Pairs) == 0 {
		errs = append(errs, "feed.pairs: 至少需要配置一个交易对")
	}
	for i, p := range c.Feed.Pairs {
		if p.Name == "" {
			errs = append(errs, fmt.Sprintf("feed.pairs[%d].name: 交易对名称不能为空", i))
		}
		if p.VenueA == "" || p.VenueB == "" {
			errs = append(errs, fmt.Sprintf("feed.pairs[%d]: venue_a 与 venue_b 不能为空", i))
		}
		if p.BasePriceA <= 0 || p.BasePriceB <= 0 {
			errs = append(errs, fmt.Sprintf("feed.pairs[%d]: 基准价格必须为正数", i))
		}
	}
	if c.Feed.Noise < 0 {
		errs = append(errs, "feed.noise: 扰动幅度不能为负数")
	}
	if c.Feed.OpportunityEvery <= 0 {
		errs = append(errs, "feed.opportunity_every: 注入周期必须为正数")
	}
	if c.Feed.BoostMin < 0 || c.Feed.BoostMax < c.Feed.BoostMin {
		errs = append(errs, "feed.boost_min/boost_max: 注入区间无效")
	}
	if c.Feed.Haircut <= 0 || c.Feed.Haircut > 1 {
		errs = append(errs, "feed.haircut: 利润折扣必须在 (0, 1] 之间")
	}
	if c.Feed.ScanLogEvery <= 0 {
		errs = append(errs, "feed.scan_log_every: 日志周期必须为正数")
	}
	if len(c.Feed.Contracts) == 0 {
		errs = append(errs, "feed.contracts: 合约池不能为空")
	}

	// 验证审计配置
	switch c.Audit.Mode {
	case AuditModeAuto, AuditModeOffline:
	case AuditModeAI:
		if !c.Audit.HasAPIKey() {
			errs = append(errs, "audit.api_key: mode=ai 时必须配置 API Key")
		}
	default:
		errs = append(errs, fmt.Sprintf("audit.mode: 无效的审计模式 '%s'，有效值: auto, ai, offline", c.Audit.Mode))
	}
	if c.Audit.Temperature < 0 || c.Audit.Temperature > 2 {
		errs = append(errs, "audit.temperature: 温度必须在 0-2 之间")
	}
	if c.Audit.MaxTokens <= 0 {
		errs = append(errs, "audit.max_tokens: 最大 token 数必须为正数")
	}
	if c.Audit.TimeoutMs <= 0 {
		errs = append(errs, "audit.timeout_ms: 超时时间必须为正数")
	}
	if c.Audit.CacheTTLSec <= 0 {
		errs = append(errs, "audit.cache_ttl_sec: 缓存时长必须为正数")
	}
	switch c.Audit.CacheBackend {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if c.Audit.RedisURL == "" {
			errs = append(errs, "audit.redis_url: cache_backend=redis 时必须配置 Redis 地址")
		}
	default:
		errs = append(errs, fmt.Sprintf("audit.cache_backend: 无效的缓存后端 '%s'，有效值: memory, redis", c.Audit.CacheBackend))
	}
	if !c.Audit.FetchDelay.Validate() {
		errs = append(errs, "audit.fetch_delay: 延迟不能为负数")
	}
	if !c.Audit.ThinkDelay.Validate() {
		errs = append(errs, "audit.think_delay: 延迟不能为负数")
	}

	// 验证模拟成交配置
	if c.Executor.BorrowAmount <= 0 {
		errs = append(errs, "executor.borrow_amount: 借入数量必须为正数")
	}
	for name, r := range map[string]delay.Range{
		"build_delay":     c.Executor.BuildDelay,
		"borrow_delay":    c.Executor.BorrowDelay,
		"buy_swap_delay":  c.Executor.BuySwapDelay,
		"sell_swap_delay": c.Executor.SellSwapDelay,
	} {
		if !r.Validate() {
			errs = append(errs, fmt.Sprintf("executor.%s: 延迟不能为负数", name))
		}
	}
	if c.Executor.GasBaseline < 0 {
		errs = append(errs, "executor.gas_baseline: 基准成本不能为负数")
	}
	if c.Executor.GasJitter < 0 || c.Executor.GasJitter > 1 {
		errs = append(errs, "executor.gas_jitter: 抖动比例必须在 0-1 之间")
	}

	// 验证协调器配置
	if c.Pipeline.SettleDelayMs != nil && *c.Pipeline.SettleDelayMs < 0 {
		errs = append(errs, "pipeline.settle_delay_ms: 停顿时间不能为负数")
	}
	if c.Pipeline.StatsIntervalMs <= 0 {
		errs = append(errs, "pipeline.stats_interval_ms: 统计间隔必须为正数")
	}
	if c.Pipeline.RoastHistory <= 0 {
		errs = append(errs, "pipeline.roast_history: 历史容量必须为正数")
	}

	// 验证输出配置
	if c.Journal.BufferSize < 0 {
		errs = append(errs, "journal.buffer_size: 缓冲区大小不能为负数")
	}

	// 验证日志级别
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.App.LogLevel)] {
		errs = append(errs, fmt.Sprintf("app.log_level: 无效的日志级别 '%s'，有效值: debug, info, warn, error", c.App.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("配置验证错误:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// HasAPIKey 是否配置了可用的 API Key（非空且不是占位值）
func (a *AuditConfig) HasAPIKey() bool {
	return a.APIKey != "" && a.APIKey != PlaceholderAPIKey
}

// UseAI 按模式判断是否走 AI 审计
func (a *AuditConfig) UseAI() bool {
	switch a.Mode {
	case AuditModeAI:
		return true
	case AuditModeOffline:
		return false
	default:
		return a.HasAPIKey()
	}
}

// Timeout 外部调用超时
func (a *AuditConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutMs) * time.Millisecond
}

// CacheTTL 裁决缓存时长
func (a *AuditConfig) CacheTTL() time.Duration {
	return time.Duration(a.CacheTTLSec) * time.Second
}

// PollInterval 采样间隔
func (f *FeedConfig) PollInterval() time.Duration {
	return time.Duration(f.PollIntervalMs) * time.Millisecond
}

// ConnectDelay 模拟连接耗时
func (f *FeedConfig) ConnectDelay() time.Duration {
	return time.Duration(f.ConnectDelayMs) * time.Millisecond
}

// SettleDelay 流水线结束后的停顿
func (p *PipelineConfig) SettleDelay() time.Duration {
	if p.SettleDelayMs == nil {
		return 0
	}
	return time.Duration(*p.SettleDelayMs) * time.Millisecond
}

// StatsInterval 周期性统计广播间隔
func (p *PipelineConfig) StatsInterval() time.Duration {
	return time.Duration(p.StatsIntervalMs) * time.Millisecond
}

// ShutdownTimeout 优雅关闭超时
func (s *ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutMs) * time.Millisecond
}
