// Package metrics 定义流水线的 Prometheus 指标。
// 所有记录方法对 nil 接收者安全，未启用指标时协调器可直接传 nil。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"arbitrage-sentinel/internal/core/model"
)

const namespace = "sentinel"

// allStates 状态指标的全部取值
var allStates = []model.State{
	model.StateIdle,
	model.StateAuditing,
	model.StateExecuting,
	model.StateRoasting,
	model.StateSuccess,
}

// Metrics 流水线指标
type Metrics struct {
	registry *prometheus.Registry

	ScansTotal         prometheus.Counter
	OpportunitiesTotal *prometheus.CounterVec
	VerdictsTotal      *prometheus.CounterVec
	TradesTotal        prometheus.Counter
	TotalProfit        prometheus.Gauge
	PipelineSeconds    *prometheus.HistogramVec
	State              *prometheus.GaugeVec
	WSClients          prometheus.Gauge
	ErrorsTotal        *prometheus.CounterVec
}

// New 在独立 registry 上创建并注册全部指标（含 Go 运行时与进程指标）
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ScansTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Price samples observed by the coordinator",
		}),
		OpportunitiesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "opportunities_total",
			Help:      "Opportunities received, by admission result",
		}, []string{"result"}),
		VerdictsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Safety verdicts, by outcome and cache hit",
		}, []string{"outcome", "cached"}),
		TradesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Simulated trades executed",
		}),
		TotalProfit: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_profit",
			Help:      "Cumulative simulated net profit",
		}),
		PipelineSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Duration of one pipeline run from admission to settle",
			Buckets:   []float64{0.5, 1, 2, 3, 4, 5, 7.5, 10, 15, 20},
		}, []string{"path"}),
		State: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Current coordinator state (1 for the active state)",
		}, []string{"state"}),
		WSClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Connected WebSocket observers",
		}),
		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors by component",
		}, []string{"component"}),
	}
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry 返回底层 registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordScan 记录一次价格采样
func (m *Metrics) RecordScan() {
	if m == nil {
		return
	}
	m.ScansTotal.Inc()
}

// RecordOpportunity 记录机会准入结果
// 参数 accepted: 是否被接纳
func (m *Metrics) RecordOpportunity(accepted bool) {
	if m == nil {
		return
	}
	result := "dropped"
	if accepted {
		result = "accepted"
	}
	m.OpportunitiesTotal.WithLabelValues(result).Inc()
}

// RecordVerdict 记录裁决
func (m *Metrics) RecordVerdict(v model.Verdict) {
	if m == nil {
		return
	}
	outcome := "unsafe"
	if v.Safe {
		outcome = "safe"
	}
	cached := "false"
	if v.Cached {
		cached = "true"
	}
	m.VerdictsTotal.WithLabelValues(outcome, cached).Inc()
}

// RecordTrade 记录一次模拟成交与最新累计利润
func (m *Metrics) RecordTrade(totalProfit float64) {
	if m == nil {
		return
	}
	m.TradesTotal.Inc()
	m.TotalProfit.Set(totalProfit)
}

// ObservePipeline 记录一次流水线耗时
// 参数 path: trade / roast / error
func (m *Metrics) ObservePipeline(path string, seconds float64) {
	if m == nil {
		return
	}
	m.PipelineSeconds.WithLabelValues(path).Observe(seconds)
}

// SetState 设置当前状态（当前状态为 1，其余为 0）
func (m *Metrics) SetState(s model.State) {
	if m == nil {
		return
	}
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		m.State.WithLabelValues(string(st)).Set(v)
	}
}

// SetWSClients 设置 WebSocket 连接数
func (m *Metrics) SetWSClients(n int) {
	if m == nil {
		return
	}
	m.WSClients.Set(float64(n))
}

// RecordError 记录组件错误
func (m *Metrics) RecordError(component string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(component).Inc()
}
