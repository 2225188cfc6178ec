package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/gin280/doc-qa-system-sub000/internal/model"
	"github.com/gin280/doc-qa-system-sub000/pkg/log"
)

// RetrievalCache 缓存 (文档, 归一化查询) 到完整检索结果的映射。
type RetrievalCache interface {
	Get(ctx context.Context, documentID, query string) (*model.RetrievalResult, bool)
	Set(ctx context.Context, documentID, query string, result *model.RetrievalResult)
	// InvalidateDocument 清除某文档下的全部检索缓存，文档删除或重新入库后必须调用。
	InvalidateDocument(ctx context.Context, documentID string) error
}

type redisRetrievalCache struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewRetrievalCache 创建一个基于 Redis 的 RetrievalCache 实例。
func NewRetrievalCache(redisClient *redis.Client, ttl time.Duration) RetrievalCache {
	return &redisRetrievalCache{redisClient: redisClient, ttl: ttl}
}

// Get 查找缓存的检索结果，命中时 FromCache 置为 true。
func (c *redisRetrievalCache) Get(ctx context.Context, documentID, query string) (*model.RetrievalResult, bool) {
	key := RetrievalKey(documentID, query)
	raw, err := c.redisClient.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Warnf("[RetrievalCache] 读取缓存失败, key=%s: %v", key, err)
		return nil, false
	}

	var result model.RetrievalResult
	if err := json.Unmarshal(raw, &result); err != nil {
		log.Warnf("[RetrievalCache] 缓存条目损坏，已删除, key=%s: %v", key, err)
		_ = c.redisClient.Del(ctx, key).Err()
		return nil, false
	}
	result.FromCache = true
	return &result, true
}

// Set 写入检索结果缓存，失败只记录日志。
func (c *redisRetrievalCache) Set(ctx context.Context, documentID, query string, result *model.RetrievalResult) {
	key := RetrievalKey(documentID, query)
	raw, err := json.Marshal(result)
	if err != nil {
		log.Warnf("[RetrievalCache] 序列化检索结果失败, key=%s: %v", key, err)
		return
	}
	if err := c.redisClient.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		log.Warnf("[RetrievalCache] 写入缓存失败, key=%s: %v", key, err)
	}
}

// InvalidateDocument 用 SCAN 遍历该文档的缓存键并删除。
func (c *redisRetrievalCache) InvalidateDocument(ctx context.Context, documentID string) error {
	pattern := retrievalKeyPattern(documentID)
	var cursor uint64
	var deleted int
	for {
		keys, next, err := c.redisClient.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.redisClient.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if deleted > 0 {
		log.Infof("[RetrievalCache] 已清除文档 %s 的 %d 条检索缓存", documentID, deleted)
	}
	return nil
}
