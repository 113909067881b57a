// Package cache 提供带过期时间的键值缓存。
// 时间来源可注入（clockwork.Clock），测试中用假时钟推进过期。
package cache

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// entry 缓存条目
type entry[V any] struct {
	value  V
	expiry time.Time
}

// TTL 带过期时间的并发安全缓存
// 条目在 expiry > now 时有效；过期条目在下一次读取时惰性删除。
type TTL[K comparable, V any] struct {
	mu    sync.Mutex
	ttl   time.Duration
	clock clockwork.Clock
	items map[K]entry[V]
}

// NewTTL 创建缓存
// 参数 ttl: 条目存活时长
// 参数 clock: 时间来源，nil 时使用真实时钟
func NewTTL[K comparable, V any](ttl time.Duration, clock clockwork.Clock) *TTL[K, V] {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TTL[K, V]{
		ttl:   ttl,
		clock: clock,
		items: make(map[K]entry[V]),
	}
}

// Get 读取未过期的条目
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !e.expiry.After(c.clock.Now()) {
		delete(c.items, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set 写入条目，expiry = now + ttl
func (c *TTL[K, V]) Set(key K, value V) {
	c.mu.Lock()
	c.items[key] = entry[V]{value: value, expiry: c.clock.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// GetOrCompute 命中时返回缓存值，否则调用 compute 并写入
// compute 在锁外执行，并发未命中时可能重复计算，以最后一次写入为准。
// 返回值 hit: 是否命中缓存
func (c *TTL[K, V]) GetOrCompute(key K, compute func() V) (value V, hit bool) {
	if v, ok := c.Get(key); ok {
		return v, true
	}
	v := compute()
	c.Set(key, v)
	return v, false
}

// Delete 删除条目
func (c *TTL[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Len 返回当前条目数（含尚未惰性清理的过期条目）
func (c *TTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// TTL 返回条目存活时长
func (c *TTL[K, V]) TTL() time.Duration {
	return c.ttl
}
