package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/gin280/doc-qa-system-sub000/internal/cache"
	"github.com/gin280/doc-qa-system-sub000/internal/config"
	"github.com/gin280/doc-qa-system-sub000/internal/model"
	"github.com/gin280/doc-qa-system-sub000/internal/repository"
	"github.com/gin280/doc-qa-system-sub000/pkg/log"
	"github.com/gin280/doc-qa-system-sub000/pkg/storage"
	"github.com/gin280/doc-qa-system-sub000/pkg/tasks"
	"github.com/gin280/doc-qa-system-sub000/pkg/vectorindex"
)

// ErrNotOwner 表示调用方不是文档的归属者。
var ErrNotOwner = errors.New("document does not belong to caller")

// vectorDeleteAttempts 级联删除中向量索引删除的最大尝试次数。
const vectorDeleteAttempts = 3

// TaskProducer 定义了投递文档处理任务的接口，解耦具体的消息队列实现。
type TaskProducer interface {
	ProduceDocumentTask(ctx context.Context, task tasks.DocumentProcessingTask) error
}

// DocumentService 接口定义了文档的入库、查询与级联删除操作。
type DocumentService interface {
	Ingest(ctx context.Context, ownerID uint, fileName, content string) (*model.Document, error)
	Get(ctx context.Context, ownerID uint, documentID string) (*model.Document, error)
	List(ctx context.Context, ownerID uint) ([]model.Document, error)
	Delete(ctx context.Context, ownerID uint, documentID string) error
}

type documentService struct {
	docRepo        repository.DocumentRepository
	chunkRepo      repository.ChunkRepository
	store          storage.ObjectStore
	index          vectorindex.Index
	producer       TaskProducer
	retrievalCache cache.RetrievalCache
	cfg            config.PipelineConfig

	// sleep 可注入，测试中替换以避免真实等待
	sleep func(time.Duration)
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(
	docRepo repository.DocumentRepository,
	chunkRepo repository.ChunkRepository,
	store storage.ObjectStore,
	index vectorindex.Index,
	producer TaskProducer,
	retrievalCache cache.RetrievalCache,
	cfg config.PipelineConfig,
) DocumentService {
	return &documentService{
		docRepo:        docRepo,
		chunkRepo:      chunkRepo,
		store:          store,
		index:          index,
		producer:       producer,
		retrievalCache: retrievalCache,
		cfg:            cfg,
		sleep:          time.Sleep,
	}
}

// Ingest 接收纯文本内容：写入对象存储、创建 PENDING 文档记录、投递处理任务。
func (s *documentService) Ingest(ctx context.Context, ownerID uint, fileName, content string) (*model.Document, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("文档内容不能为空")
	}

	docID := uuid.NewString()
	objectName := path.Join(s.cfg.TextObjectDir, docID+".txt")

	// 1. 文本先落对象存储，任务消费者从这里取回
	log.Infof("[DocumentService] 步骤1: 上传文档文本到对象存储, DocumentID: %s, Object: %s", docID, objectName)
	if err := s.store.PutText(ctx, objectName, content); err != nil {
		return nil, fmt.Errorf("上传文档文本失败: %w", err)
	}

	// 2. 创建 PENDING 状态的文档记录
	doc := &model.Document{
		ID:            docID,
		OwnerID:       ownerID,
		FileName:      fileName,
		Status:        model.StatusPending,
		ContentLength: utf8.RuneCountInString(content),
	}
	if err := s.docRepo.Create(doc); err != nil {
		return nil, fmt.Errorf("创建文档记录失败: %w", err)
	}
	log.Infof("[DocumentService] 步骤2: 文档记录已创建, DocumentID: %s, Status: %s", docID, doc.Status)

	// 3. 投递异步处理任务
	task := tasks.DocumentProcessingTask{
		DocumentID: docID,
		ObjectName: objectName,
		FileName:   fileName,
		OwnerID:    ownerID,
	}
	if err := s.producer.ProduceDocumentTask(ctx, task); err != nil {
		// 任务没投出去文档会一直停在 PENDING，直接标记失败更诚实
		if markErr := s.docRepo.MarkFailed(docID, "任务投递失败: "+err.Error()); markErr != nil {
			log.Errorf("[DocumentService] 标记文档 %s FAILED 失败: %v", docID, markErr)
		}
		return nil, fmt.Errorf("投递文档处理任务失败: %w", err)
	}
	log.Infof("[DocumentService] 步骤3: 处理任务已投递, DocumentID: %s", docID)

	return doc, nil
}

// Get 查询单个文档，校验归属。
func (s *documentService) Get(ctx context.Context, ownerID uint, documentID string) (*model.Document, error) {
	doc, err := s.docRepo.FindByID(documentID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return doc, nil
}

// List 查询用户的全部文档。
func (s *documentService) List(ctx context.Context, ownerID uint) ([]model.Document, error) {
	return s.docRepo.FindByOwnerID(ownerID)
}

// Delete 级联删除文档：向量索引 -> 对象存储 -> 关系库 -> 检索缓存。
// 删除顺序保证任何一步失败后不会出现"关系库没有、向量还在"的孤儿向量。
func (s *documentService) Delete(ctx context.Context, ownerID uint, documentID string) error {
	doc, err := s.docRepo.FindByID(documentID)
	if errors.Is(err, repository.ErrDocumentNotFound) {
		// 删除幂等：目标不存在视为成功
		log.Infof("[DocumentService] 文档 %s 不存在，删除视为已完成", documentID)
		return nil
	}
	if err != nil {
		return err
	}
	if doc.OwnerID != ownerID {
		return ErrNotOwner
	}

	chunks, err := s.chunkRepo.FindByDocumentID(documentID)
	if err != nil {
		return fmt.Errorf("查询文档 %s 分块失败: %w", documentID, err)
	}

	// 1. 删除向量索引中的记录，带重试；最终失败则中止，保留关系库数据
	if len(chunks) > 0 {
		ids := make([]string, 0, len(chunks))
		for _, c := range chunks {
			ids = append(ids, c.ID)
		}
		if err := s.deleteVectorsWithRetry(ctx, ids); err != nil {
			return fmt.Errorf("删除文档 %s 向量失败，级联删除中止: %w", documentID, err)
		}
		log.Infof("[DocumentService] 步骤1: 已删除文档 %s 的 %d 条向量", documentID, len(ids))
	}

	// 2. 删除对象存储中的文本，尽力而为
	objectName := path.Join(s.cfg.TextObjectDir, documentID+".txt")
	if err := s.store.DeleteFile(ctx, objectName); err != nil {
		log.Warnf("[DocumentService] 删除对象 %s 失败（忽略）: %v", objectName, err)
	}

	// 3. 单事务删除分块行与文档行
	if err := s.docRepo.DeleteWithChunks(documentID); err != nil {
		return fmt.Errorf("删除文档 %s 关系库记录失败: %w", documentID, err)
	}
	log.Infof("[DocumentService] 步骤2: 已删除文档 %s 的关系库记录", documentID)

	// 4. 清除该文档的检索缓存，尽力而为
	if err := s.retrievalCache.InvalidateDocument(ctx, documentID); err != nil {
		log.Warnf("[DocumentService] 清除文档 %s 检索缓存失败（忽略）: %v", documentID, err)
	}

	log.Infof("[DocumentService] 文档 %s 级联删除完成", documentID)
	return nil
}

// deleteVectorsWithRetry 删除向量记录，失败后退避重试。退避时长 1s、2s。
func (s *documentService) deleteVectorsWithRetry(ctx context.Context, ids []string) error {
	var lastErr error
	for attempt := 1; attempt <= vectorDeleteAttempts; attempt++ {
		if err := s.index.DeleteBatch(ctx, ids); err != nil {
			lastErr = err
			log.Warnf("[DocumentService] 删除向量第 %d/%d 次尝试失败: %v", attempt, vectorDeleteAttempts, err)
			if attempt < vectorDeleteAttempts {
				s.sleep(time.Duration(attempt) * time.Second)
			}
			continue
		}
		return nil
	}
	return lastErr
}
