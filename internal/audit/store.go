package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"arbitrage-sentinel/internal/cache"
	"arbitrage-sentinel/internal/core/model"
)

// VerdictStore 裁决缓存
// 条目在写入 TTL 后过期；读取未命中返回 ok=false
type VerdictStore interface {
	Get(ctx context.Context, contract string) (v model.Verdict, ok bool, err error)
	Set(ctx context.Context, v model.Verdict) error
	Close() error
}

// MemoryStore 进程内裁决缓存
type MemoryStore struct {
	ttl *cache.TTL[string, model.Verdict]
}

// NewMemoryStore 创建进程内裁决缓存
// 参数 ttl: 条目存活时长
// 参数 clock: 时间来源，nil 时使用真实时钟
func NewMemoryStore(ttl time.Duration, clock clockwork.Clock) *MemoryStore {
	return &MemoryStore{ttl: cache.NewTTL[string, model.Verdict](ttl, clock)}
}

// Get 读取裁决（返回副本）
func (s *MemoryStore) Get(_ context.Context, contract string) (model.Verdict, bool, error) {
	v, ok := s.ttl.Get(contract)
	if !ok {
		return model.Verdict{}, false, nil
	}
	return v.Clone(), true, nil
}

// Set 写入裁决
func (s *MemoryStore) Set(_ context.Context, v model.Verdict) error {
	s.ttl.Set(v.ContractAddress, v.Clone())
	return nil
}

// Close 无资源需要释放
func (s *MemoryStore) Close() error { return nil }

// RedisStore Redis 裁决缓存
// key: verdict:<contract>，过期由 Redis EX 控制
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore 连接 Redis 并创建裁决缓存
// 参数 redisURL: redis://host:port/db 格式连接串
// 参数 ttl: 条目存活时长
func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("无效的 Redis 地址: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("Redis ping 失败: %w", err)
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

func verdictKey(contract string) string {
	return "verdict:" + contract
}

// Get 读取裁决
func (s *RedisStore) Get(ctx context.Context, contract string) (model.Verdict, bool, error) {
	raw, err := s.client.Get(ctx, verdictKey(contract)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.Verdict{}, false, nil
		}
		return model.Verdict{}, false, fmt.Errorf("Redis GET 失败: %w", err)
	}

	var v model.Verdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return model.Verdict{}, false, fmt.Errorf("解析缓存裁决失败: %w", err)
	}
	return v, true, nil
}

// Set 写入裁决
func (s *RedisStore) Set(ctx context.Context, v model.Verdict) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("序列化裁决失败: %w", err)
	}
	if err := s.client.Set(ctx, verdictKey(v.ContractAddress), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("Redis SET 失败: %w", err)
	}
	return nil
}

// Close 关闭连接
func (s *RedisStore) Close() error {
	return s.client.Close()
}
