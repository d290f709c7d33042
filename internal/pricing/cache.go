package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"Nara-Wallet/pkg/logger"
)

// Cache 保存按价格标识索引的单位美元价格，仅用于尽力报价。
type Cache interface {
	Get(ctx context.Context, id string) (decimal.Decimal, bool)
	Set(ctx context.Context, id string, price decimal.Decimal, ttl time.Duration)
}

type cacheEntry struct {
	price   decimal.Decimal
	expires time.Time
}

// MemoryCache 是进程内的 TTL 缓存。
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewMemoryCache 创建内存缓存。
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]cacheEntry), now: time.Now}
}

// Get 返回未过期的价格。
func (c *MemoryCache) Get(_ context.Context, id string) (decimal.Decimal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[id]
	if !ok {
		return decimal.Zero, false
	}
	if !c.now().Before(entry.expires) {
		delete(c.entries, id)
		return decimal.Zero, false
	}
	return entry.price, true
}

// Set 写入价格。
func (c *MemoryCache) Set(_ context.Context, id string, price decimal.Decimal, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = cacheEntry{price: price, expires: c.now().Add(ttl)}
}

// RedisCacheConfig 描述 Redis 缓存的连接参数。
type RedisCacheConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// RedisCache 把价格以十进制字符串写入 Redis，适合多实例共享。
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache 创建 Redis 缓存并检查连通性。
func NewRedisCache(ctx context.Context, cfg RedisCacheConfig) (*RedisCache, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "nara:price:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return NewRedisCacheFromClient(client, prefix), nil
}

// NewRedisCacheFromClient 复用已有的 Redis 客户端。
func NewRedisCacheFromClient(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// Get 读取价格，读取失败视为未命中。
func (c *RedisCache) Get(ctx context.Context, id string) (decimal.Decimal, bool) {
	value, err := c.client.Get(ctx, c.prefix+id).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Named("pricing").Warn("读取 Redis 价格缓存失败", "id", id, "error", err)
		}
		return decimal.Zero, false
	}
	price, err := decimal.NewFromString(value)
	if err != nil || !price.IsPositive() {
		return decimal.Zero, false
	}
	return price, true
}

// Set 写入价格，失败只记录日志。
func (c *RedisCache) Set(ctx context.Context, id string, price decimal.Decimal, ttl time.Duration) {
	if err := c.client.Set(ctx, c.prefix+id, price.String(), ttl).Err(); err != nil {
		logger.Named("pricing").Warn("写入 Redis 价格缓存失败", "id", id, "error", err)
	}
}

// Close 关闭 Redis 连接。
func (c *RedisCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
