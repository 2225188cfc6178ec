package repository

import (
	"gorm.io/gorm"

	"github.com/gin280/doc-qa-system-sub000/internal/model"
)

// ChunkRepository 定义了对 chunks 表的数据操作接口。
type ChunkRepository interface {
	BatchCreate(chunks []*model.Chunk) error
	FindByDocumentID(documentID string) ([]*model.Chunk, error)
	// MarkEmbedded 填写分块的向量引用：vector_id 与分块 ID 相同。
	MarkEmbedded(ids []string, modelVersion string) error
	CountByDocumentID(documentID string) (int64, error)
	DeleteByDocumentID(documentID string) error
}

type chunkRepository struct {
	db *gorm.DB
}

// NewChunkRepository 创建一个新的 ChunkRepository 实例。
func NewChunkRepository(db *gorm.DB) ChunkRepository {
	return &chunkRepository{db: db}
}

// BatchCreate 批量创建分块记录。
func (r *chunkRepository) BatchCreate(chunks []*model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.db.CreateInBatches(chunks, 100).Error // 每100条记录一批
}

// FindByDocumentID 按 chunk_index 升序查找文档的全部分块。
func (r *chunkRepository) FindByDocumentID(documentID string) ([]*model.Chunk, error) {
	var chunks []*model.Chunk
	err := r.db.Where("document_id = ?", documentID).Order("chunk_index asc").Find(&chunks).Error
	return chunks, err
}

// MarkEmbedded 将指定分块的向量引用置为其自身 ID，并记录模型版本。
func (r *chunkRepository) MarkEmbedded(ids []string, modelVersion string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.Model(&model.Chunk{}).Where("id IN ?", ids).Updates(map[string]interface{}{
		"vector_id":     gorm.Expr("id"),
		"model_version": modelVersion,
	}).Error
}

// CountByDocumentID 返回文档当前的分块行数。
func (r *chunkRepository) CountByDocumentID(documentID string) (int64, error) {
	var count int64
	err := r.db.Model(&model.Chunk{}).Where("document_id = ?", documentID).Count(&count).Error
	return count, err
}

// DeleteByDocumentID 删除文档的全部分块行。
func (r *chunkRepository) DeleteByDocumentID(documentID string) error {
	return r.db.Where("document_id = ?", documentID).Delete(&model.Chunk{}).Error
}
