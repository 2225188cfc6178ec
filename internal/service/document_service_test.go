package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gin280/doc-qa-system-sub000/internal/config"
	"github.com/gin280/doc-qa-system-sub000/internal/model"
	"github.com/gin280/doc-qa-system-sub000/internal/repository"
	"github.com/gin280/doc-qa-system-sub000/pkg/tasks"
)

// ---- 测试替身 ----

type stubDocRepo struct {
	mu        sync.Mutex
	docs      map[string]*model.Document
	failedMsg map[string]string
	deleted   []string
}

func newStubDocRepo() *stubDocRepo {
	return &stubDocRepo{docs: make(map[string]*model.Document), failedMsg: make(map[string]string)}
}

func (r *stubDocRepo) Create(doc *model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.ID] = doc
	return nil
}

func (r *stubDocRepo) FindByID(id string) (*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, repository.ErrDocumentNotFound
	}
	copied := *doc
	return &copied, nil
}

func (r *stubDocRepo) FindByOwnerID(ownerID uint) ([]model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Document
	for _, d := range r.docs {
		if d.OwnerID == ownerID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *stubDocRepo) UpdateStatus(id string, status model.DocumentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[id].Status = status
	return nil
}

func (r *stubDocRepo) MarkReady(id string, chunkCount, vectorDim int) error { return nil }

func (r *stubDocRepo) MarkFailed(id string, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if doc, ok := r.docs[id]; ok {
		doc.Status = model.StatusFailed
	}
	r.failedMsg[id] = errMsg
	return nil
}

func (r *stubDocRepo) DeleteWithChunks(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, id)
	r.deleted = append(r.deleted, id)
	return nil
}

type stubChunkRepo struct {
	chunks map[string][]*model.Chunk
}

func newStubChunkRepo() *stubChunkRepo {
	return &stubChunkRepo{chunks: make(map[string][]*model.Chunk)}
}

func (r *stubChunkRepo) BatchCreate(chunks []*model.Chunk) error { return nil }

func (r *stubChunkRepo) FindByDocumentID(documentID string) ([]*model.Chunk, error) {
	return r.chunks[documentID], nil
}

func (r *stubChunkRepo) MarkEmbedded(ids []string, modelVersion string) error { return nil }

func (r *stubChunkRepo) CountByDocumentID(documentID string) (int64, error) {
	return int64(len(r.chunks[documentID])), nil
}

func (r *stubChunkRepo) DeleteByDocumentID(documentID string) error {
	delete(r.chunks, documentID)
	return nil
}

type stubStore struct {
	mu      sync.Mutex
	objects map[string]string
	putErr  error
}

func newStubStore() *stubStore {
	return &stubStore{objects: make(map[string]string)}
}

func (s *stubStore) PutText(ctx context.Context, objectName, content string) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objectName] = content
	return nil
}

func (s *stubStore) GetText(ctx context.Context, objectName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[objectName], nil
}

func (s *stubStore) DeleteFile(ctx context.Context, objectName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, objectName)
	return nil
}

type stubProducer struct {
	mu    sync.Mutex
	tasks []tasks.DocumentProcessingTask
	err   error
}

func (p *stubProducer) ProduceDocumentTask(ctx context.Context, task tasks.DocumentProcessingTask) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks = append(p.tasks, task)
	return nil
}

func pipelineCfg() config.PipelineConfig {
	return config.PipelineConfig{TextObjectDir: "texts", ChunkSize: 1000, ChunkOverlap: 200}
}

// newDocServiceForTest 构造被测服务，sleep 替换为记录器避免真实等待。
func newDocServiceForTest(docRepo *stubDocRepo, chunkRepo *stubChunkRepo, store *stubStore, index *stubIndex, producer *stubProducer, retCache *stubRetrievalCache) (DocumentService, *[]time.Duration) {
	svc := NewDocumentService(docRepo, chunkRepo, store, index, producer, retCache, pipelineCfg())
	var sleeps []time.Duration
	svc.(*documentService).sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	return svc, &sleeps
}

func seedDocument(docRepo *stubDocRepo, chunkRepo *stubChunkRepo, id string, ownerID uint, chunkCount int) {
	docRepo.docs[id] = &model.Document{ID: id, OwnerID: ownerID, Status: model.StatusReady}
	var chunks []*model.Chunk
	for i := 0; i < chunkCount; i++ {
		chunks = append(chunks, &model.Chunk{ID: model.ChunkID(id, i), DocumentID: id, ChunkIndex: i})
	}
	chunkRepo.chunks[id] = chunks
}

// ---- 测试 ----

func TestIngestCreatesPendingDocumentAndProducesTask(t *testing.T) {
	docRepo := newStubDocRepo()
	store := newStubStore()
	producer := &stubProducer{}
	svc, _ := newDocServiceForTest(docRepo, newStubChunkRepo(), store, &stubIndex{}, producer, newStubRetrievalCache())

	doc, err := svc.Ingest(context.Background(), 7, "notes.txt", "这是文档的全部内容。")
	require.NoError(t, err)

	assert.Equal(t, model.StatusPending, doc.Status)
	assert.Equal(t, uint(7), doc.OwnerID)
	assert.Equal(t, 10, doc.ContentLength)

	// 文本已写入对象存储
	content, _ := store.GetText(context.Background(), "texts/"+doc.ID+".txt")
	assert.Equal(t, "这是文档的全部内容。", content)

	// 任务已投递，Key 与文档一致
	require.Len(t, producer.tasks, 1)
	assert.Equal(t, doc.ID, producer.tasks[0].DocumentID)
	assert.Equal(t, "texts/"+doc.ID+".txt", producer.tasks[0].ObjectName)
}

func TestIngestRejectsEmptyContent(t *testing.T) {
	svc, _ := newDocServiceForTest(newStubDocRepo(), newStubChunkRepo(), newStubStore(), &stubIndex{}, &stubProducer{}, newStubRetrievalCache())

	_, err := svc.Ingest(context.Background(), 1, "empty.txt", "   ")
	assert.Error(t, err)
}

func TestIngestMarksFailedWhenProduceFails(t *testing.T) {
	docRepo := newStubDocRepo()
	producer := &stubProducer{err: errors.New("broker unavailable")}
	svc, _ := newDocServiceForTest(docRepo, newStubChunkRepo(), newStubStore(), &stubIndex{}, producer, newStubRetrievalCache())

	_, err := svc.Ingest(context.Background(), 1, "notes.txt", "内容")
	require.Error(t, err)

	// 投递失败的文档不能停在 PENDING
	docRepo.mu.Lock()
	defer docRepo.mu.Unlock()
	for _, doc := range docRepo.docs {
		assert.Equal(t, model.StatusFailed, doc.Status)
	}
}

func TestDeleteCascadeRetriesThenSucceeds(t *testing.T) {
	docRepo := newStubDocRepo()
	chunkRepo := newStubChunkRepo()
	retCache := newStubRetrievalCache()
	// 前两次删除向量失败，第三次成功
	index := &stubIndex{deleteErrs: []error{errors.New("es timeout"), errors.New("es timeout")}}
	seedDocument(docRepo, chunkRepo, "doc-1", 1, 3)

	svc, sleeps := newDocServiceForTest(docRepo, chunkRepo, newStubStore(), index, &stubProducer{}, retCache)

	err := svc.Delete(context.Background(), 1, "doc-1")
	require.NoError(t, err)

	// 退避节奏：1s、2s
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *sleeps)
	assert.Equal(t, 3, index.deleteCalls())

	// 关系库记录与缓存都已清理
	assert.Contains(t, docRepo.deleted, "doc-1")
	assert.Contains(t, retCache.invalidated, "doc-1")
}

func TestDeleteAbortsWhenVectorDeleteKeepsFailing(t *testing.T) {
	docRepo := newStubDocRepo()
	chunkRepo := newStubChunkRepo()
	index := &stubIndex{deleteErrs: []error{errors.New("down"), errors.New("down"), errors.New("down")}}
	seedDocument(docRepo, chunkRepo, "doc-1", 1, 3)

	svc, _ := newDocServiceForTest(docRepo, chunkRepo, newStubStore(), index, &stubProducer{}, newStubRetrievalCache())

	err := svc.Delete(context.Background(), 1, "doc-1")
	require.Error(t, err)

	// 向量删不掉就不动关系库，避免孤儿向量
	assert.Equal(t, 3, index.deleteCalls())
	assert.Empty(t, docRepo.deleted)
	_, findErr := docRepo.FindByID("doc-1")
	assert.NoError(t, findErr)
}

func TestDeleteIsIdempotent(t *testing.T) {
	svc, _ := newDocServiceForTest(newStubDocRepo(), newStubChunkRepo(), newStubStore(), &stubIndex{}, &stubProducer{}, newStubRetrievalCache())

	// 目标不存在视为删除成功
	err := svc.Delete(context.Background(), 1, "missing-doc")
	assert.NoError(t, err)
}

func TestDeleteRejectsNonOwner(t *testing.T) {
	docRepo := newStubDocRepo()
	chunkRepo := newStubChunkRepo()
	seedDocument(docRepo, chunkRepo, "doc-1", 1, 2)

	svc, _ := newDocServiceForTest(docRepo, chunkRepo, newStubStore(), &stubIndex{}, &stubProducer{}, newStubRetrievalCache())

	err := svc.Delete(context.Background(), 2, "doc-1")
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestGetRejectsNonOwner(t *testing.T) {
	docRepo := newStubDocRepo()
	chunkRepo := newStubChunkRepo()
	seedDocument(docRepo, chunkRepo, "doc-1", 1, 0)

	svc, _ := newDocServiceForTest(docRepo, chunkRepo, newStubStore(), &stubIndex{}, &stubProducer{}, newStubRetrievalCache())

	_, err := svc.Get(context.Background(), 2, "doc-1")
	assert.ErrorIs(t, err, ErrNotOwner)

	doc, err := svc.Get(context.Background(), 1, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", doc.ID)
}
