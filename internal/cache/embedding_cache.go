package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/gin280/doc-qa-system-sub000/pkg/log"
)

// EmbeddingCache 缓存归一化查询文本到向量的映射。
// Get 未命中或数据损坏时返回 (nil, false)；Set 尽力而为，错误被吞掉。
type EmbeddingCache interface {
	Get(ctx context.Context, query string) ([]float32, bool)
	Set(ctx context.Context, query string, vector []float32)
}

type redisEmbeddingCache struct {
	redisClient *redis.Client
	namespace   string // 模型名，不同模型的向量互不可见
	dims        int
	ttl         time.Duration
}

// NewEmbeddingCache 创建一个基于 Redis 的 EmbeddingCache 实例。
func NewEmbeddingCache(redisClient *redis.Client, namespace string, dims int, ttl time.Duration) EmbeddingCache {
	return &redisEmbeddingCache{redisClient: redisClient, namespace: namespace, dims: dims, ttl: ttl}
}

// Get 查找缓存的向量。命中的数据先经过校验，损坏的条目被删除并视为未命中，
// 永远不把非法向量返回给调用方。
func (c *redisEmbeddingCache) Get(ctx context.Context, query string) ([]float32, bool) {
	key := EmbeddingKey(c.namespace, query)
	raw, err := c.redisClient.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		// 连接类错误一律退化为未命中
		log.Warnf("[EmbeddingCache] 读取缓存失败, key=%s: %v", key, err)
		return nil, false
	}

	vector, err := ParseVector(raw, c.dims)
	if err != nil {
		log.Warnf("[EmbeddingCache] 缓存条目损坏，已删除, key=%s: %v", key, err)
		_ = c.redisClient.Del(ctx, key).Err()
		return nil, false
	}
	return vector, true
}

// Set 写入向量缓存。序列化或写入失败只记录日志。
func (c *redisEmbeddingCache) Set(ctx context.Context, query string, vector []float32) {
	key := EmbeddingKey(c.namespace, query)
	raw, err := json.Marshal(vector)
	if err != nil {
		log.Warnf("[EmbeddingCache] 序列化向量失败, key=%s: %v", key, err)
		return
	}
	if err := c.redisClient.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		log.Warnf("[EmbeddingCache] 写入缓存失败, key=%s: %v", key, err)
	}
}
