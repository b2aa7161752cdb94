package registry

import (
	"context"
	"sync"
	"time"
)

// Cache 缓存注册表的成功读取结果，回退集合不会写入缓存。
type Cache interface {
	Get(ctx context.Context) ([]AgentInfo, bool)
	Set(ctx context.Context, agents []AgentInfo)
	Invalidate(ctx context.Context)
}

// MemoryCache 在进程内保存一份带 TTL 的快照。
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	agents  []AgentInfo
	expires time.Time
}

// NewMemoryCache 创建内存缓存。ttl <= 0 时关闭缓存。
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: time.Now}
}

// Get 返回未过期的快照副本。
func (c *MemoryCache) Get(context.Context) ([]AgentInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.agents == nil || !c.now().Before(c.expires) {
		return nil, false
	}
	return append([]AgentInfo(nil), c.agents...), true
}

// Set 覆盖快照。
func (c *MemoryCache) Set(_ context.Context, agents []AgentInfo) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agents = append([]AgentInfo(nil), agents...)
	c.expires = c.now().Add(c.ttl)
}

// Invalidate 清空快照。
func (c *MemoryCache) Invalidate(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agents = nil
}

type noopCache struct{}

func (noopCache) Get(context.Context) ([]AgentInfo, bool) { return nil, false }
func (noopCache) Set(context.Context, []AgentInfo)        {}
func (noopCache) Invalidate(context.Context)              {}
