package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocumentStatusCanTransition(t *testing.T) {
	// 正常前进路径
	assert.True(t, StatusPending.CanTransition(StatusParsing))
	assert.True(t, StatusParsing.CanTransition(StatusEmbedding))
	assert.True(t, StatusEmbedding.CanTransition(StatusReady))
	// 跳级前进同样合法
	assert.True(t, StatusPending.CanTransition(StatusReady))

	// 回退非法
	assert.False(t, StatusParsing.CanTransition(StatusPending))
	assert.False(t, StatusReady.CanTransition(StatusEmbedding))
	assert.False(t, StatusReady.CanTransition(StatusReady))

	// 任意状态都可以进入 FAILED，FAILED 不能再转移
	assert.True(t, StatusPending.CanTransition(StatusFailed))
	assert.True(t, StatusReady.CanTransition(StatusFailed))
	assert.False(t, StatusFailed.CanTransition(StatusFailed))
	assert.False(t, StatusFailed.CanTransition(StatusParsing))
}

func TestChunkID(t *testing.T) {
	assert.Equal(t, "doc-1_0", ChunkID("doc-1", 0))
	assert.Equal(t, "doc-1_42", ChunkID("doc-1", 42))
}
