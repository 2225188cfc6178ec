package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gin280/doc-qa-system-sub000/internal/config"
	"github.com/gin280/doc-qa-system-sub000/internal/model"
	"github.com/gin280/doc-qa-system-sub000/internal/repository"
	"github.com/gin280/doc-qa-system-sub000/pkg/embedding"
	"github.com/gin280/doc-qa-system-sub000/pkg/log"
	"github.com/gin280/doc-qa-system-sub000/pkg/storage"
	"github.com/gin280/doc-qa-system-sub000/pkg/tasks"
	"github.com/gin280/doc-qa-system-sub000/pkg/vectorindex"
)

// Processor 封装了文档处理的所有依赖和逻辑：
// 下载文本、分块入库、并行向量化并写入向量索引。
type Processor struct {
	store           storage.ObjectStore
	embeddingClient embedding.Client
	index           vectorindex.Index
	docRepo         repository.DocumentRepository
	chunkRepo       repository.ChunkRepository
	chunker         *Chunker
	cfg             config.PipelineConfig
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	store storage.ObjectStore,
	embeddingClient embedding.Client,
	index vectorindex.Index,
	docRepo repository.DocumentRepository,
	chunkRepo repository.ChunkRepository,
	cfg config.PipelineConfig,
) *Processor {
	return &Processor{
		store:           store,
		embeddingClient: embeddingClient,
		index:           index,
		docRepo:         docRepo,
		chunkRepo:       chunkRepo,
		chunker:         NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		cfg:             cfg,
	}
}

// Process 是文档处理的主函数。任何阶段失败都会把文档置为 FAILED 并记录错误。
func (p *Processor) Process(ctx context.Context, task tasks.DocumentProcessingTask) error {
	log.Infof("[Processor] 开始处理文档, DocumentID: %s, FileName: %s, OwnerID: %d", task.DocumentID, task.FileName, task.OwnerID)

	chunks, err := p.chunkDocument(ctx, task)
	if err != nil {
		p.markFailed(task.DocumentID, err)
		return err
	}

	if err := p.embedChunks(ctx, task, chunks); err != nil {
		// embedChunks 已经把文档置为 FAILED 并记录了失败批次
		return err
	}

	log.Infof("[Processor] 文档处理成功完成, DocumentID: %s, 分块数: %d", task.DocumentID, len(chunks))
	return nil
}

// chunkDocument 执行分块阶段：校验状态、下载文本、切块并批量入库。
// 成功后文档状态推进到 EMBEDDING。
func (p *Processor) chunkDocument(ctx context.Context, task tasks.DocumentProcessingTask) ([]*model.Chunk, error) {
	// 1. 校验文档状态
	doc, err := p.docRepo.FindByID(task.DocumentID)
	if err != nil {
		return nil, wrapError(ErrInvalidState, err, "查找文档 %s 失败", task.DocumentID)
	}
	if doc.Status != model.StatusPending && doc.Status != model.StatusParsing {
		return nil, newError(ErrInvalidState, "文档 %s 当前状态 %s 不允许分块", task.DocumentID, doc.Status)
	}
	if doc.Status == model.StatusPending {
		if err := p.docRepo.UpdateStatus(task.DocumentID, model.StatusParsing); err != nil {
			return nil, wrapError(ErrInvalidState, err, "推进文档 %s 到 PARSING 失败", task.DocumentID)
		}
	}

	// 2. 从 MinIO 下载已提取的纯文本
	log.Infof("[Processor] 步骤1: 从对象存储下载文本, Object: %s", task.ObjectName)
	textContent, err := p.store.GetText(ctx, task.ObjectName)
	if err != nil {
		return nil, wrapError(ErrEmptyContent, err, "下载文档 %s 文本失败", task.DocumentID)
	}
	if strings.TrimSpace(textContent) == "" {
		log.Warnf("[Processor] 文档 '%s' 内容为空, 处理中止", task.DocumentID)
		return nil, newError(ErrEmptyContent, "文档 %s 文本内容为空", task.DocumentID)
	}
	log.Infof("[Processor] 步骤1: 文本下载成功, 内容长度: %d 字符", utf8.RuneCountInString(textContent))

	// 3. 文本切块
	log.Infof("[Processor] 步骤2: 进行文本分块, chunkSize: %d, chunkOverlap: %d", p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	pieces := p.chunker.Split(textContent)
	log.Infof("[Processor] 步骤2: 文本分块完成, 共生成 %d 个分块", len(pieces))
	if len(pieces) == 0 {
		log.Warnf("[Processor] 未生成任何文本分块, 处理中止, DocumentID: %s", task.DocumentID)
		return nil, newError(ErrEmptyContent, "文档 %s 未生成任何文本分块", task.DocumentID)
	}

	// 4. 批量入库（重新处理前先清理既有分块，幂等）
	if err := p.chunkRepo.DeleteByDocumentID(task.DocumentID); err != nil {
		log.Warnf("[Processor] 清理文档 %s 旧分块记录失败: %v", task.DocumentID, err)
	}
	chunks := make([]*model.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, &model.Chunk{
			ID:          model.ChunkID(task.DocumentID, i),
			DocumentID:  task.DocumentID,
			ChunkIndex:  i,
			TextContent: piece,
		})
	}
	if err := p.chunkRepo.BatchCreate(chunks); err != nil {
		return nil, wrapError(ErrEmptyContent, err, "批量保存文档 %s 分块失败", task.DocumentID)
	}
	log.Infof("[Processor] 步骤3: 成功将 %d 个分块存入数据库", len(chunks))

	// 5. 推进状态到 EMBEDDING
	if err := p.docRepo.UpdateStatus(task.DocumentID, model.StatusEmbedding); err != nil {
		return nil, wrapError(ErrInvalidState, err, "推进文档 %s 到 EMBEDDING 失败", task.DocumentID)
	}
	return chunks, nil
}

// batchResult 记录单个批次的处理结果。
type batchResult struct {
	index int
	err   error
}

// embedChunks 执行向量化阶段：固定大小分批，经由有界工作池并行处理。
// 所有批次都会被尝试，单批失败不中断队列；只有全部成功文档才会进入 READY。
func (p *Processor) embedChunks(ctx context.Context, task tasks.DocumentProcessingTask, chunks []*model.Chunk) error {
	batchSize := p.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 20
	}
	concurrency := p.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 3
	}
	batchCount := (len(chunks) + batchSize - 1) / batchSize
	if concurrency > batchCount {
		concurrency = batchCount
	}
	log.Infof("[Processor] 步骤4: 开始并行向量化, 分块数: %d, 批大小: %d, 批次数: %d, 并发: %d",
		len(chunks), batchSize, batchCount, concurrency)

	// 共享工作队列：channel 保证每个批次恰好被取走一次
	jobs := make(chan int, batchCount)
	results := make(chan batchResult, batchCount)
	for w := 0; w < concurrency; w++ {
		go func() {
			for idx := range jobs {
				results <- batchResult{index: idx, err: p.processBatch(ctx, task, chunks, idx, batchSize)}
			}
		}()
	}
	for i := 0; i < batchCount; i++ {
		jobs <- i
	}
	close(jobs)

	// 批次之间不保证完成顺序，只聚合最终成败
	var failed []int
	for i := 0; i < batchCount; i++ {
		res := <-results
		if res.err != nil {
			log.Errorf("[Processor] 批次 %d 处理失败: %v", res.index+1, res.err)
			failed = append(failed, res.index+1)
		}
	}

	if len(failed) == 0 {
		if err := p.docRepo.MarkReady(task.DocumentID, len(chunks), p.embeddingClient.Dimensions()); err != nil {
			return wrapError(ErrEmbeddingFailed, err, "标记文档 %s READY 失败", task.DocumentID)
		}
		log.Infof("[Processor] 步骤4: 全部 %d 个批次向量化成功", batchCount)
		return nil
	}

	// 成功批次的向量保留在索引中，不做回滚
	sort.Ints(failed)
	nums := make([]string, 0, len(failed))
	for _, n := range failed {
		nums = append(nums, strconv.Itoa(n))
	}
	errMsg := fmt.Sprintf("向量化失败的批次: %s (共 %d/%d)", strings.Join(nums, ","), len(failed), batchCount)
	if err := p.docRepo.MarkFailed(task.DocumentID, errMsg); err != nil {
		log.Errorf("[Processor] 标记文档 %s FAILED 失败: %v", task.DocumentID, err)
	}
	return newError(ErrEmbeddingFailed, "%s", errMsg)
}

// processBatch 处理单个批次：向量化、校验维度、写入向量索引、回填向量引用。
// 调用超时视为该批次失败，不重试。
func (p *Processor) processBatch(ctx context.Context, task tasks.DocumentProcessingTask, chunks []*model.Chunk, batchIdx, batchSize int) error {
	start := batchIdx * batchSize
	end := start + batchSize
	if end > len(chunks) {
		end = len(chunks)
	}
	batch := chunks[start:end]

	texts := make([]string, 0, len(batch))
	for _, c := range batch {
		texts = append(texts, c.TextContent)
	}

	// 单批调用带独立超时，超时只取消本批次的等待
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.EmbedTimeout)
	defer cancel()
	vectors, err := p.embeddingClient.CreateEmbeddings(callCtx, texts)
	if err != nil {
		return fmt.Errorf("批次 %d 向量化失败: %w", batchIdx+1, err)
	}

	// 维度不匹配是配置缺陷，必须与瞬时失败区分，绝不重试
	dims := p.embeddingClient.Dimensions()
	for i, v := range vectors {
		if len(v) != dims {
			return newError(ErrDimensionMismatch,
				"批次 %d 第 %d 个向量维度不匹配: 期望 %d, 实际 %d", batchIdx+1, i, dims, len(v))
		}
	}

	records := make([]vectorindex.Record, 0, len(batch))
	ids := make([]string, 0, len(batch))
	for i, c := range batch {
		records = append(records, vectorindex.Record{
			ID:           c.ID,
			DocumentID:   c.DocumentID,
			ChunkIndex:   c.ChunkIndex,
			TextContent:  c.TextContent,
			Vector:       vectors[i],
			ModelVersion: p.embeddingClient.ModelVersion(),
			OwnerID:      task.OwnerID,
		})
		ids = append(ids, c.ID)
	}
	if err := p.index.UpsertBatch(ctx, records); err != nil {
		return fmt.Errorf("批次 %d 写入向量索引失败: %w", batchIdx+1, err)
	}
	if err := p.chunkRepo.MarkEmbedded(ids, p.embeddingClient.ModelVersion()); err != nil {
		return fmt.Errorf("批次 %d 回填向量引用失败: %w", batchIdx+1, err)
	}
	log.Infof("[Processor] 批次 %d/%d 向量化并索引成功 (%d 个分块)", batchIdx+1, (len(chunks)+batchSize-1)/batchSize, len(batch))
	return nil
}

// markFailed 把文档置为 FAILED 并记录错误信息。
func (p *Processor) markFailed(documentID string, cause error) {
	if err := p.docRepo.MarkFailed(documentID, cause.Error()); err != nil {
		log.Errorf("[Processor] 标记文档 %s FAILED 失败: %v", documentID, err)
	}
}
