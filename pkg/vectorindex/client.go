// Package vectorindex 定义了相似度检索服务的客户端契约及其 Elasticsearch 实现。
package vectorindex

import "context"

// Record 是写入向量索引的一条记录。ID 与分块 ID 相同。
type Record struct {
	ID           string    `json:"-"`
	DocumentID   string    `json:"document_id"`
	ChunkIndex   int       `json:"chunk_index"`
	TextContent  string    `json:"text_content"`
	Vector       []float32 `json:"vector"`
	ModelVersion string    `json:"model_version"`
	OwnerID      uint      `json:"owner_id"`
}

// Hit 是一次相似度检索命中的结果。
type Hit struct {
	ID          string
	DocumentID  string
	ChunkIndex  int
	TextContent string
	Score       float64
}

// Filter 限定检索范围：所有者与文档。
type Filter struct {
	OwnerID    uint
	DocumentID string
}

// SearchOptions 控制一次检索的返回数量与分数下限。
type SearchOptions struct {
	TopK     int
	MinScore float64
	Filter   Filter
}

// Index 是向量索引服务的契约。
// DeleteBatch 必须幂等：删除不存在的 ID 不是错误。
type Index interface {
	UpsertBatch(ctx context.Context, records []Record) error
	Search(ctx context.Context, vector []float32, opts SearchOptions) ([]Hit, error)
	DeleteBatch(ctx context.Context, ids []string) error
}
