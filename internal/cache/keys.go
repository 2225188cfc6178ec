// Package cache 提供了基于 Redis 的 Embedding 缓存与检索结果缓存。
// 缓存永远不是调用路径的硬失败来源：任何读写错误都退化为未命中或空操作。
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// NormalizeQuery 对查询文本做轻量归一化：去首尾空白、转小写、压缩内部空白。
// 归一化后相同的查询共享同一个缓存键。
func NormalizeQuery(q string) string {
	return whitespaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(q)), " ")
}

// EmbeddingKey 由归一化查询与模型命名空间推导 Embedding 缓存键。
func EmbeddingKey(namespace, query string) string {
	sum := sha256.Sum256([]byte(NormalizeQuery(query)))
	return fmt.Sprintf("emb:%s:%s", namespace, hex.EncodeToString(sum[:]))
}

// RetrievalKey 由文档 ID 与归一化查询推导检索缓存键。
func RetrievalKey(documentID, query string) string {
	sum := sha256.Sum256([]byte(NormalizeQuery(query)))
	return fmt.Sprintf("retrieval:%s:%s", documentID, hex.EncodeToString(sum[:]))
}

// retrievalKeyPattern 匹配某个文档下的全部检索缓存键，用于按文档失效。
func retrievalKeyPattern(documentID string) string {
	return fmt.Sprintf("retrieval:%s:*", documentID)
}

// ParseVector 校验缓存中的向量数据：必须是 JSON 数组、维度精确匹配、
// 所有分量有限。任何不满足的形态都返回错误，调用方按未命中处理。
func ParseVector(raw []byte, dims int) ([]float32, error) {
	var values []float64
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("缓存向量不是合法的 JSON 数组: %w", err)
	}
	if len(values) != dims {
		return nil, fmt.Errorf("缓存向量维度不匹配: 期望 %d, 实际 %d", dims, len(values))
	}
	vector := make([]float32, len(values))
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("缓存向量第 %d 个分量不是有限数", i)
		}
		vector[i] = float32(v)
	}
	return vector, nil
}
