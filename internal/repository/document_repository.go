// Package repository 提供了数据访问层的实现。
package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/gin280/doc-qa-system-sub000/internal/model"
)

// ErrDocumentNotFound 表示目标文档不存在。
var ErrDocumentNotFound = errors.New("document not found")

// DocumentRepository 定义了对 documents 表的数据操作接口。
type DocumentRepository interface {
	Create(doc *model.Document) error
	FindByID(id string) (*model.Document, error)
	FindByOwnerID(ownerID uint) ([]model.Document, error)
	// UpdateStatus 推进文档状态，非法的状态回退返回错误。
	UpdateStatus(id string, status model.DocumentStatus) error
	// MarkReady 将文档置为 READY 并记录分块数与向量维度。
	MarkReady(id string, chunkCount, vectorDim int) error
	// MarkFailed 将文档置为 FAILED 并记录错误信息。
	MarkFailed(id string, errMsg string) error
	// DeleteWithChunks 在单个事务中删除文档行及其全部分块行。
	DeleteWithChunks(id string) error
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// Create 在数据库中创建一条新的文档记录。
func (r *documentRepository) Create(doc *model.Document) error {
	return r.db.Create(doc).Error
}

// FindByID 根据 ID 检索文档记录。
func (r *documentRepository) FindByID(id string) (*model.Document, error) {
	var doc model.Document
	err := r.db.Where("id = ?", id).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindByOwnerID 查找指定用户的所有文档。
func (r *documentRepository) FindByOwnerID(ownerID uint) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.Where("owner_id = ?", ownerID).Order("created_at desc").Find(&docs).Error
	return docs, err
}

// UpdateStatus 推进文档状态。状态机只允许向前，任意状态可进入 FAILED。
func (r *documentRepository) UpdateStatus(id string, status model.DocumentStatus) error {
	doc, err := r.FindByID(id)
	if err != nil {
		return err
	}
	if !doc.Status.CanTransition(status) {
		return fmt.Errorf("非法的文档状态转换: %s -> %s", doc.Status, status)
	}
	return r.db.Model(&model.Document{}).Where("id = ?", id).Update("status", status).Error
}

// MarkReady 将文档置为 READY 并记录分块数与向量维度。
func (r *documentRepository) MarkReady(id string, chunkCount, vectorDim int) error {
	return r.db.Model(&model.Document{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        model.StatusReady,
		"chunk_count":   chunkCount,
		"vector_dim":    vectorDim,
		"error_message": "",
	}).Error
}

// MarkFailed 将文档置为 FAILED 并记录错误信息。
func (r *documentRepository) MarkFailed(id string, errMsg string) error {
	return r.db.Model(&model.Document{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        model.StatusFailed,
		"error_message": errMsg,
	}).Error
}

// DeleteWithChunks 在单个事务中删除分块行与文档行，保证关系库不出现半删状态。
func (r *documentRepository) DeleteWithChunks(id string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&model.Chunk{}).Error; err != nil {
			return fmt.Errorf("删除分块行失败: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&model.Document{}).Error; err != nil {
			return fmt.Errorf("删除文档行失败: %w", err)
		}
		return nil
	})
}
