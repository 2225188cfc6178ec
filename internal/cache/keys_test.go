package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeQuery(t *testing.T) {
	assert.Equal(t, "what is ai?", NormalizeQuery("  What   is \t AI?  "))
	assert.Equal(t, "什么是 ai", NormalizeQuery("什么是  AI"))
	assert.Equal(t, "", NormalizeQuery("   "))
}

func TestEmbeddingKeyEquivalentQueries(t *testing.T) {
	// 归一化后相同的查询共享同一个缓存键
	k1 := EmbeddingKey("text-embedding-v3", "What is AI?")
	k2 := EmbeddingKey("text-embedding-v3", "  what   is ai?  ")
	assert.Equal(t, k1, k2)

	// 不同模型命名空间的键互不可见
	k3 := EmbeddingKey("text-embedding-v2", "What is AI?")
	assert.NotEqual(t, k1, k3)

	assert.Contains(t, k1, "emb:text-embedding-v3:")
}

func TestRetrievalKeyScopedByDocument(t *testing.T) {
	k1 := RetrievalKey("doc-1", "question")
	k2 := RetrievalKey("doc-2", "question")
	assert.NotEqual(t, k1, k2)
	assert.Contains(t, k1, "retrieval:doc-1:")

	// 文档级失效的模式能匹配该文档的键
	assert.Contains(t, k1, "retrieval:doc-1:")
	assert.Equal(t, "retrieval:doc-1:*", retrievalKeyPattern("doc-1"))
}

func TestParseVectorValid(t *testing.T) {
	v, err := ParseVector([]byte("[0.1, 0.2, 0.3]"), 3)
	require.NoError(t, err)
	assert.Len(t, v, 3)
	assert.InDelta(t, 0.2, v[1], 1e-6)
}

func TestParseVectorRejectsBadData(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		dims int
	}{
		{"非 JSON", "not json", 3},
		{"非数组", `{"a":1}`, 3},
		{"维度过少", "[0.1, 0.2]", 3},
		{"维度过多", "[0.1, 0.2, 0.3, 0.4]", 3},
		{"含字符串元素", `[0.1, "x", 0.3]`, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseVector([]byte(tc.raw), tc.dims)
			assert.Error(t, err)
		})
	}
}
