// Package broadcast 实现一对多的事件广播。
// 进程内观察者通过 Subscribe 订阅；WebSocket 观察者通过 ServeWS 接入。
// 每个订阅者有独立的有界缓冲区，缓冲区已满时丢弃该订阅者的消息（至多一次、尽力而为）。
package broadcast

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// 广播事件名称
const (
	EventLog           = "log"
	EventStatsUpdate   = "stats-update"
	EventRoast         = "roast"
	EventTradeComplete = "trade-complete"
	EventStateChange   = "state-change"
	EventVerdict       = "verdict"
	EventPriceUpdate   = "price-update"
)

const (
	// writeWait 单次写超时
	writeWait = 10 * time.Second
	// pongWait 等待 pong 的最长时间
	pongWait = 60 * time.Second
	// pingPeriod ping 间隔，必须小于 pongWait
	pingPeriod = pongWait * 9 / 10
	// maxMessageSize 客户端上行消息上限
	maxMessageSize = 4096
	// wsBuffer 每个 WebSocket 连接的发送缓冲
	wsBuffer = 256
)

// Message 广播消息
// WebSocket 帧格式: {"event": "...", "data": {...}}
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Option Hub 可选项
type Option func(*Hub)

// WithWelcome 新 WebSocket 连接建立后先发送的消息（如当前统计与状态）
func WithWelcome(fn func() []Message) Option {
	return func(h *Hub) { h.welcome = fn }
}

// WithClientHook 连接数变化回调
func WithClientHook(fn func(n int)) Option {
	return func(h *Hub) { h.onClients = fn }
}

// WithAllowedOrigin 设置允许的 Origin，"*" 或空表示全部允许
func WithAllowedOrigin(origin string) Option {
	return func(h *Hub) { h.origin = origin }
}

// Hub 事件广播中心
type Hub struct {
	logger    *zap.Logger
	upgrader  websocket.Upgrader
	welcome   func() []Message
	onClients func(n int)
	origin    string

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64

	clients   atomic.Int64
	published atomic.Int64
	dropped   atomic.Int64
}

// NewHub 创建广播中心
// 参数 logger: 日志记录器
func NewHub(logger *zap.Logger, opts ...Option) *Hub {
	h := &Hub{
		logger: logger.Named("broadcast"),
		subs:   make(map[uint64]*Subscription),
		origin: "*",
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if h.origin == "" || h.origin == "*" {
		return true
	}
	return r.Header.Get("Origin") == h.origin
}

// Subscription 订阅句柄
type Subscription struct {
	id   uint64
	hub  *Hub
	ch   chan Message
	once sync.Once
}

// C 返回消息通道，订阅关闭后通道被关闭
func (s *Subscription) C() <-chan Message {
	return s.ch
}

// Close 取消订阅（幂等）
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		close(s.ch)
		s.hub.mu.Unlock()
	})
}

// Subscribe 创建进程内订阅
// 参数 buffer: 缓冲区大小，<= 0 时为 1
func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 1
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{id: h.nextID, hub: h, ch: make(chan Message, buffer)}
	h.subs[sub.id] = sub
	return sub
}

// Publish 向全部订阅者广播
// 不阻塞：订阅者缓冲区已满时对该订阅者丢弃
func (h *Hub) Publish(event string, payload any) {
	msg := Message{Event: event, Data: payload}
	h.published.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		select {
		case sub.ch <- msg:
		default:
			if h.dropped.Add(1)%100 == 1 {
				h.logger.Warn("订阅者缓冲区已满，丢弃消息", zap.String("event", event), zap.Int64("dropped", h.dropped.Load()))
			}
		}
	}
}

// SubscriberCount 返回订阅者数量（含 WebSocket 连接）
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// ClientCount 返回 WebSocket 连接数
func (h *Hub) ClientCount() int {
	return int(h.clients.Load())
}

// Dropped 返回累计丢弃的消息数
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close 关闭全部订阅（WebSocket 连接随之关闭）
func (h *Hub) Close() {
	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		s.Close()
	}
}
