package database

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/gin280/doc-qa-system-sub000/pkg/log"
)

// NewRedis 建立 Redis 连接并返回客户端。
func NewRedis(addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// 测试连接
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}

	log.Info("Redis client connected successfully")
	return rdb, nil
}
