package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server HTTP 服务
type Server struct {
	srv      *http.Server
	logger   *zap.Logger
	shutdown time.Duration
}

// NewServer 创建 HTTP 服务
// 参数 addr: 监听地址
// 参数 handler: 路由
// 参数 shutdown: 优雅关闭超时
func NewServer(addr string, handler http.Handler, shutdown time.Duration, logger *zap.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger:   logger.Named("http"),
		shutdown: shutdown,
	}
}

// Run 监听并服务，直到 ctx 取消后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("监听 %s 失败: %w", s.srv.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve 在给定 listener 上服务，直到 ctx 取消后优雅关闭
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP 服务已启动", zap.String("addr", ln.Addr().String()))
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP 服务异常退出: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP 服务关闭失败: %w", err)
	}
	s.logger.Info("HTTP 服务已关闭")
	return nil
}
