package vectorindex

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/gin280/doc-qa-system-sub000/internal/config"
	"github.com/gin280/doc-qa-system-sub000/pkg/log"
)

// ESIndex 是 Index 接口的 Elasticsearch 8 实现。
// 使用 dense_vector + cosine 相似度，按 owner_id/document_id 过滤。
type ESIndex struct {
	client    *elasticsearch.Client
	indexName string
	dims      int
}

// NewESIndex 创建 Elasticsearch 客户端并确保索引存在。
func NewESIndex(esCfg config.ElasticsearchConfig, dims int) (*ESIndex, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	idx := &ESIndex{client: client, indexName: esCfg.IndexName, dims: dims}
	if err := idx.createIndexIfNotExists(); err != nil {
		return nil, err
	}
	return idx, nil
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func (e *ESIndex) createIndexIfNotExists() error {
	res, err := e.client.Indices.Exists([]string{e.indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	// 如果 res.StatusCode 是 200，说明索引已存在
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", e.indexName)
		return nil
	}
	// 如果 res.StatusCode 是 404，说明索引不存在，需要创建
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", e.indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	// 向量维度来自 Embedding 配置，cosine 相似度
	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"document_id": { "type": "keyword" },
				"chunk_index": { "type": "integer" },
				"text_content": { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" },
				"owner_id": { "type": "long" }
			}
		}
	}`, e.dims)

	res, err = e.client.Indices.Create(
		e.indexName,
		e.client.Indices.Create.WithBody(bytes.NewReader([]byte(mapping))),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", e.indexName, err)
		return err
	}
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", e.indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", e.indexName)
	return nil
}

// bulkItemResponse 是 Bulk API 响应中单个操作的结果。
type bulkItemResponse struct {
	Index  *bulkItemDetail `json:"index"`
	Delete *bulkItemDetail `json:"delete"`
}

type bulkItemDetail struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Result string `json:"result"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

// UpsertBatch 通过 Bulk API 批量写入（或覆盖）向量记录。
func (e *ESIndex) UpsertBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, rec := range records {
		meta := map[string]map[string]string{"index": {"_index": e.indexName, "_id": rec.ID}}
		metaBytes, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("序列化 bulk 元数据失败: %w", err)
		}
		docBytes, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("序列化向量记录失败: %w", err)
		}
		buf.Write(metaBytes)
		buf.WriteByte('\n')
		buf.Write(docBytes)
		buf.WriteByte('\n')
	}

	res, err := e.client.Bulk(bytes.NewReader(buf.Bytes()),
		e.client.Bulk.WithContext(ctx),
		e.client.Bulk.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("bulk 写入请求失败: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("批量索引到 Elasticsearch 出错: %s", res.String())
		return fmt.Errorf("elasticsearch bulk 写入返回错误: %s", res.Status())
	}
	return e.checkBulkResponse(res.Body, false)
}

// DeleteBatch 通过 Bulk API 批量删除向量记录。
// 删除不存在的 ID 返回 not_found，视为成功（幂等）。
func (e *ESIndex) DeleteBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, id := range ids {
		meta := map[string]map[string]string{"delete": {"_index": e.indexName, "_id": id}}
		metaBytes, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("序列化 bulk 元数据失败: %w", err)
		}
		buf.Write(metaBytes)
		buf.WriteByte('\n')
	}

	res, err := e.client.Bulk(bytes.NewReader(buf.Bytes()),
		e.client.Bulk.WithContext(ctx),
		e.client.Bulk.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("bulk 删除请求失败: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("批量删除 Elasticsearch 向量出错: %s", res.String())
		return fmt.Errorf("elasticsearch bulk 删除返回错误: %s", res.Status())
	}
	return e.checkBulkResponse(res.Body, true)
}

// checkBulkResponse 解析 Bulk 响应，deleteOp 为 true 时忽略 not_found。
func (e *ESIndex) checkBulkResponse(body io.Reader, deleteOp bool) error {
	var parsed struct {
		Errors bool               `json:"errors"`
		Items  []bulkItemResponse `json:"items"`
	}
	if err := json.NewDecoder(body).Decode(&parsed); err != nil {
		return fmt.Errorf("解析 bulk 响应失败: %w", err)
	}
	if !parsed.Errors {
		return nil
	}
	for _, item := range parsed.Items {
		detail := item.Index
		if detail == nil {
			detail = item.Delete
		}
		if detail == nil || detail.Error == nil {
			continue
		}
		if deleteOp && detail.Status == http.StatusNotFound {
			continue
		}
		return fmt.Errorf("bulk 操作失败 (id=%s, status=%d): %s", detail.ID, detail.Status, detail.Error.Reason)
	}
	return nil
}

// Search 执行 kNN 相似度检索，结果按相似度分数降序返回。
func (e *ESIndex) Search(ctx context.Context, vector []float32, opts SearchOptions) ([]Hit, error) {
	numCandidates := opts.TopK * 10
	if numCandidates < 100 {
		numCandidates = 100
	}

	knn := map[string]interface{}{
		"field":          "vector",
		"query_vector":   vector,
		"k":              opts.TopK,
		"num_candidates": numCandidates,
	}
	filters := []map[string]interface{}{
		{"term": map[string]interface{}{"owner_id": opts.Filter.OwnerID}},
	}
	if opts.Filter.DocumentID != "" {
		filters = append(filters, map[string]interface{}{
			"term": map[string]interface{}{"document_id": opts.Filter.DocumentID},
		})
	}
	knn["filter"] = map[string]interface{}{
		"bool": map[string]interface{}{"must": filters},
	}

	esQuery := map[string]interface{}{
		"knn":  knn,
		"size": opts.TopK,
	}
	if opts.MinScore > 0 {
		esQuery["min_score"] = opts.MinScore
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("序列化 Elasticsearch 查询失败: %w", err)
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.indexName),
		e.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("Elasticsearch 返回错误, status: %s", res.Status())
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				ID     string  `json:"_id"`
				Score  float64 `json:"_score"`
				Source Record  `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("解析 Elasticsearch 响应失败: %w", err)
	}

	hits := make([]Hit, 0, len(esResponse.Hits.Hits))
	for _, h := range esResponse.Hits.Hits {
		hits = append(hits, Hit{
			ID:          h.ID,
			DocumentID:  h.Source.DocumentID,
			ChunkIndex:  h.Source.ChunkIndex,
			TextContent: h.Source.TextContent,
			Score:       h.Score,
		})
	}
	return hits, nil
}
