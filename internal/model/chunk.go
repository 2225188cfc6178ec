package model

import "fmt"

// Chunk 对应于数据库中的 chunks 表。
// (document_id, chunk_index) 唯一，chunk_index 从 0 开始连续递增。
type Chunk struct {
	ID           string `gorm:"type:varchar(48);primaryKey" json:"id"`
	DocumentID   string `gorm:"type:varchar(36);not null;uniqueIndex:uk_doc_chunk,priority:1" json:"documentId"`
	ChunkIndex   int    `gorm:"not null;uniqueIndex:uk_doc_chunk,priority:2" json:"chunkIndex"`
	TextContent  string `gorm:"type:text;not null" json:"textContent"`
	VectorID     string `gorm:"type:varchar(48);column:vector_id" json:"vectorId"`
	ModelVersion string `gorm:"type:varchar(50)" json:"modelVersion"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Chunk) TableName() string {
	return "chunks"
}

// ChunkID 生成分块的唯一标识，向量索引中的记录复用同一个 ID。
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s_%d", documentID, index)
}
