// Package httpapi 提供只读查询接口：健康检查、统计、吐槽历史、阶段耗时、成交 EV、WebSocket 订阅与 Prometheus 指标。
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"arbitrage-sentinel/internal/core/model"
	"arbitrage-sentinel/internal/stats/ev"
	"arbitrage-sentinel/internal/stats/latency"
)

// AgentName /health 响应中的服务名
const AgentName = "The Sentinad"

// Source 统计与吐槽历史来源
type Source interface {
	Stats() model.Stats
	Roasts() []model.RoastEntry
	Timings() []latency.Stats
	Performance() ev.Stats
}

// Options 路由可选项
type Options struct {
	// AllowedOrigin CORS 允许的来源，空表示 "*"
	AllowedOrigin string
	// WS WebSocket 处理器，nil 时不挂载 /ws
	WS http.Handler
	// Metrics 指标处理器，nil 时不挂载 /metrics
	Metrics http.Handler
	// Clock 时间来源，nil 时使用真实时钟
	Clock clockwork.Clock
}

// HealthResponse /health 响应
type HealthResponse struct {
	Status    string `json:"status"`
	Agent     string `json:"agent"`
	Timestamp int64  `json:"timestamp"`
}

// NewRouter 创建路由
// 参数 src: 统计与吐槽历史来源
// 参数 opts: 可选处理器与 CORS 设置
// 参数 logger: 日志记录器
func NewRouter(src Source, opts Options, logger *zap.Logger) http.Handler {
	logger = logger.Named("http")
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	origin := opts.AllowedOrigin
	if origin == "" {
		origin = "*"
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(logger))
	r.Use(CORSMiddleware(origin))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, logger, HealthResponse{
			Status:    "online",
			Agent:     AgentName,
			Timestamp: clock.Now().UnixMilli(),
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, logger, src.Stats())
		})
		r.Get("/roasts", func(w http.ResponseWriter, _ *http.Request) {
			roasts := src.Roasts()
			if roasts == nil {
				roasts = []model.RoastEntry{}
			}
			writeJSON(w, logger, roasts)
		})
		r.Get("/timings", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, logger, src.Timings())
		})
		r.Get("/performance", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, logger, src.Performance())
		})
	})

	if opts.WS != nil {
		r.Get("/ws", opts.WS.ServeHTTP)
	}
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	return r
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("写入响应失败", zap.Error(err))
	}
}

// LoggingMiddleware 记录每个请求
func LoggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debug("HTTP 请求",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote", r.RemoteAddr),
			)
		})
	}
}

// CORSMiddleware 设置跨域响应头，OPTIONS 预检直接返回 204
func CORSMiddleware(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
