package service

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin280/doc-qa-system-sub000/internal/cache"
	"github.com/gin280/doc-qa-system-sub000/internal/config"
	"github.com/gin280/doc-qa-system-sub000/internal/model"
	"github.com/gin280/doc-qa-system-sub000/pkg/embedding"
	"github.com/gin280/doc-qa-system-sub000/pkg/log"
	"github.com/gin280/doc-qa-system-sub000/pkg/vectorindex"
)

// maxQueryRunes 查询长度上限（rune 数）。
const maxQueryRunes = 1000

// overFetchFloor 排序前的最小候选拉取数，保证去重与阈值过滤后仍有余量。
const overFetchFloor = 10

// cacheWriteTimeout 后台缓存写入的超时时间。
const cacheWriteTimeout = 3 * time.Second

// RetrievalService 接口定义了针对单个文档的向量检索操作。
type RetrievalService interface {
	Retrieve(ctx context.Context, documentID string, ownerID uint, query string, topK int) (*model.RetrievalResult, error)
}

type retrievalService struct {
	embeddingClient embedding.Client
	embeddingCache  cache.EmbeddingCache
	retrievalCache  cache.RetrievalCache
	index           vectorindex.Index
	cfg             config.RetrievalConfig
}

// NewRetrievalService 创建一个新的 RetrievalService 实例。
func NewRetrievalService(
	embeddingClient embedding.Client,
	embeddingCache cache.EmbeddingCache,
	retrievalCache cache.RetrievalCache,
	index vectorindex.Index,
	cfg config.RetrievalConfig,
) RetrievalService {
	return &retrievalService{
		embeddingClient: embeddingClient,
		embeddingCache:  embeddingCache,
		retrievalCache:  retrievalCache,
		index:           index,
		cfg:             cfg,
	}
}

// Retrieve 在指定文档范围内检索与查询最相关的分块。
func (s *retrievalService) Retrieve(ctx context.Context, documentID string, ownerID uint, query string, topK int) (*model.RetrievalResult, error) {
	start := time.Now()

	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, &RetrievalError{Code: ErrEmptyQuery, Msg: "查询不能为空"}
	}
	if utf8.RuneCountInString(trimmed) > maxQueryRunes {
		return nil, &RetrievalError{Code: ErrQueryTooLong, Msg: "查询长度超过上限"}
	}
	if topK <= 0 {
		topK = s.cfg.TopK
	}

	// 1. 检索结果缓存
	if cached, ok := s.retrievalCache.Get(ctx, documentID, query); ok {
		log.Infof("[RetrievalService] 检索缓存命中, document: %s, query: '%s'", documentID, query)
		return cached, nil
	}

	// 2. 查询向量化（先查 Embedding 缓存，未命中再调用 provider）
	queryVector, err := s.vectorizeQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	// 3. 向量索引检索：超量拉取以容纳去重和阈值过滤
	fetchK := topK
	if fetchK < overFetchFloor {
		fetchK = overFetchFloor
	}
	hits, err := s.index.Search(ctx, queryVector, vectorindex.SearchOptions{
		TopK:     fetchK,
		MinScore: s.cfg.MinScore,
		Filter:   vectorindex.Filter{OwnerID: ownerID, DocumentID: documentID},
	})
	if err != nil {
		return nil, &RetrievalError{Code: ErrSearchFailed, Msg: "向量索引检索失败", Err: err}
	}
	log.Infof("[RetrievalService] 向量检索返回 %d 条候选, document: %s", len(hits), documentID)

	// 4. 去重、排序、截断
	ranked := rankHits(hits, topK, s.cfg.MinScore)
	if len(ranked) == 0 {
		return nil, &RetrievalError{Code: ErrNoRelevantContent, Msg: "没有找到相关内容"}
	}

	result := &model.RetrievalResult{
		Query:      query,
		Chunks:     ranked,
		TotalFound: len(hits),
		ElapsedMs:  time.Since(start).Milliseconds(),
		FromCache:  false,
	}

	// 5. 后台写入检索缓存，不阻塞响应路径
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
		defer cancel()
		s.retrievalCache.Set(bgCtx, documentID, query, result)
	}()

	return result, nil
}

// vectorizeQuery 把查询文本转换为向量，优先使用缓存。
func (s *retrievalService) vectorizeQuery(ctx context.Context, query string) ([]float32, error) {
	if vector, ok := s.embeddingCache.Get(ctx, query); ok {
		log.Infof("[RetrievalService] Embedding 缓存命中, query: '%s'", query)
		return vector, nil
	}

	vector, err := s.embeddingClient.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, &RetrievalError{Code: ErrVectorizeFailed, Msg: "查询向量化失败", Err: err}
	}

	// 后台写入 Embedding 缓存，不阻塞响应路径
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
		defer cancel()
		s.embeddingCache.Set(bgCtx, query, vector)
	}()

	return vector, nil
}

// rankHits 对原始命中做去重、阈值过滤、排序与截断。
// 去重按分块 ID 先到先得；排序按分数降序，同分按 chunkIndex 升序保持原文顺序。
func rankHits(hits []vectorindex.Hit, topK int, minScore float64) []model.RetrievedChunk {
	seen := make(map[string]struct{}, len(hits))
	chunks := make([]model.RetrievedChunk, 0, len(hits))
	for _, h := range hits {
		if h.Score < minScore {
			continue
		}
		if _, dup := seen[h.ID]; dup {
			continue
		}
		seen[h.ID] = struct{}{}
		chunks = append(chunks, model.RetrievedChunk{
			ID:          h.ID,
			ChunkIndex:  h.ChunkIndex,
			TextContent: h.TextContent,
			Score:       h.Score,
		})
	}

	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		return chunks[i].ChunkIndex < chunks[j].ChunkIndex
	})

	if len(chunks) > topK {
		chunks = chunks[:topK]
	}
	return chunks
}
