package broadcast

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ServeWS 把 HTTP 连接升级为 WebSocket 并注册为订阅者
// 写协程负责发送消息与 ping；读协程只用于探测断开
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket 升级失败", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	sub := h.Subscribe(wsBuffer)
	n := h.clients.Add(1)
	h.logger.Info("客户端已连接", zap.String("remote", r.RemoteAddr), zap.Int64("clients", n))
	if h.onClients != nil {
		h.onClients(int(n))
	}

	if h.welcome != nil {
		for _, msg := range h.welcome() {
			select {
			case sub.ch <- msg:
			default:
			}
		}
	}

	done := make(chan struct{})
	go h.writePump(conn, sub, done)
	h.readPump(conn)

	sub.Close()
	<-done

	n = h.clients.Add(-1)
	h.logger.Info("客户端已断开", zap.String("remote", r.RemoteAddr), zap.Int64("clients", n))
	if h.onClients != nil {
		h.onClients(int(n))
	}
}

// readPump 读取并丢弃客户端消息，直到连接出错
func (h *Hub) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Debug("WebSocket 读取错误", zap.Error(err))
			}
			return
		}
	}
}

// writePump 把订阅消息写入连接，并定期发送 ping
func (h *Hub) writePump(conn *websocket.Conn, sub *Subscription, done chan<- struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
		close(done)
	}()

	for {
		select {
		case msg, ok := <-sub.C():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("WebSocket 写入失败", zap.String("event", msg.Event), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
