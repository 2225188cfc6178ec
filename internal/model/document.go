// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// DocumentStatus 表示文档在处理管道中的状态。
type DocumentStatus string

// 文档状态只允许向前推进，任意状态都可以进入 FAILED。
const (
	StatusPending   DocumentStatus = "PENDING"
	StatusParsing   DocumentStatus = "PARSING"
	StatusEmbedding DocumentStatus = "EMBEDDING"
	StatusReady     DocumentStatus = "READY"
	StatusFailed    DocumentStatus = "FAILED"
)

// statusOrder 定义状态机的前进顺序，用于校验非法回退。
var statusOrder = map[DocumentStatus]int{
	StatusPending:   0,
	StatusParsing:   1,
	StatusEmbedding: 2,
	StatusReady:     3,
}

// CanTransition 判断从当前状态到目标状态是否是合法的前进转换。
// 进入 FAILED 始终允许；READY/FAILED 之后不再前进。
func (s DocumentStatus) CanTransition(to DocumentStatus) bool {
	if to == StatusFailed {
		return s != StatusFailed
	}
	from, ok1 := statusOrder[s]
	next, ok2 := statusOrder[to]
	if !ok1 || !ok2 {
		return false
	}
	return next > from
}

// Document 对应于数据库中的 documents 表，记录文档元数据与管道状态。
type Document struct {
	ID            string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	OwnerID       uint           `gorm:"not null;index" json:"ownerId"`
	FileName      string         `gorm:"type:varchar(255);not null" json:"fileName"`
	Status        DocumentStatus `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	ChunkCount    int            `gorm:"not null;default:0" json:"chunkCount"`
	ContentLength int            `gorm:"not null;default:0" json:"contentLength"`
	VectorDim     int            `gorm:"not null;default:0" json:"vectorDim"`
	ErrorMessage  string         `gorm:"type:text" json:"errorMessage,omitempty"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}
