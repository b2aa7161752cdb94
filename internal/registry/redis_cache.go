package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCacheConfig 描述 Redis 缓存参数。
type RedisCacheConfig struct {
	Address  string
	Password string
	DB       int
	Key      string
	TTL      time.Duration
}

// RedisCache 将注册表快照以 JSON 形式写入 Redis，便于多个实例共享。
type RedisCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	log    *slog.Logger
}

// NewRedisCache 创建 Redis 缓存并检查连通性。
func NewRedisCache(cfg RedisCacheConfig, log *slog.Logger) (*RedisCache, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return newRedisCache(client, cfg.Key, cfg.TTL, log), nil
}

func newRedisCache(client *redis.Client, key string, ttl time.Duration, log *slog.Logger) *RedisCache {
	if key == "" {
		key = "agentmarket:registry:agents"
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisCache{client: client, key: key, ttl: ttl, log: log}
}

// Get 读取快照；Redis 故障视为未命中。
func (c *RedisCache) Get(ctx context.Context) ([]AgentInfo, bool) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("读取注册表缓存失败", slog.Any("error", err))
		}
		return nil, false
	}
	var agents []AgentInfo
	if err := json.Unmarshal(raw, &agents); err != nil {
		c.log.Warn("注册表缓存内容损坏", slog.Any("error", err))
		return nil, false
	}
	for i := range agents {
		agents[i].Route = classifyEndpoint(agents[i].Endpoint)
	}
	return agents, true
}

// Set 写入快照并设置过期时间。
func (c *RedisCache) Set(ctx context.Context, agents []AgentInfo) {
	if c.ttl <= 0 {
		return
	}
	raw, err := json.Marshal(agents)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key, raw, c.ttl).Err(); err != nil {
		c.log.Warn("写入注册表缓存失败", slog.Any("error", err))
	}
}

// Invalidate 删除快照。
func (c *RedisCache) Invalidate(ctx context.Context) {
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		c.log.Warn("清理注册表缓存失败", slog.Any("error", err))
	}
}

// Close 关闭 Redis 连接。
func (c *RedisCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
