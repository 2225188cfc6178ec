// Package embedding provides a client for interacting with embedding models.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin280/doc-qa-system-sub000/internal/config"
	"github.com/gin280/doc-qa-system-sub000/pkg/log"
)

// ErrorCode 是 Embedding 服务错误的封闭类别。
type ErrorCode string

const (
	ErrTimeout     ErrorCode = "TIMEOUT"
	ErrRateLimited ErrorCode = "RATE_LIMITED"
	ErrQuota       ErrorCode = "QUOTA_EXCEEDED"
	ErrUpstream    ErrorCode = "UPSTREAM_ERROR"
)

// ProviderError 携带类别化的服务端错误，调用方可按 Code 分支处理。
type ProviderError struct {
	Code ErrorCode
	Msg  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider error [%s]: %s", e.Code, e.Msg)
}

// Client defines the interface for an embedding client.
type Client interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions 返回配置的向量维度，所有返回向量的长度都必须等于它。
	Dimensions() int
	// ModelVersion 返回当前使用的模型名，同时作为缓存键的命名空间。
	ModelVersion() string
}

type openAICompatibleClient struct {
	cfg    config.EmbeddingConfig
	client *http.Client
}

// NewClient creates a new embedding client based on the provider in the config.
func NewClient(cfg config.EmbeddingConfig) Client {
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *openAICompatibleClient) Dimensions() int {
	return c.cfg.Dimensions
}

func (c *openAICompatibleClient) ModelVersion() string {
	return c.cfg.Model
}

// CreateEmbedding calls the OpenAI-compatible API to get the vector for a given text.
func (c *openAICompatibleClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// CreateEmbeddings 批量向量化，返回的向量顺序与输入文本一一对应。
func (c *openAICompatibleClient) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	log.Infof("[EmbeddingClient] 开始调用 Embedding API, model: %s, batch: %d", c.cfg.Model, len(texts))
	reqBody := embeddingRequest{
		Model:      c.cfg.Model,
		Input:      texts,
		Dimensions: c.cfg.Dimensions,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/embeddings", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			log.Errorf("[EmbeddingClient] 调用 Embedding API 超时: %v", err)
			return nil, &ProviderError{Code: ErrTimeout, Msg: err.Error()}
		}
		log.Errorf("[EmbeddingClient] 调用 Embedding API 失败, error: %v", err)
		return nil, &ProviderError{Code: ErrUpstream, Msg: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Errorf("[EmbeddingClient] Embedding API 返回非 200 状态码: %s", resp.Status)
		return nil, mapStatusError(resp.StatusCode, resp.Status)
	}

	var embeddingResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		log.Errorf("[EmbeddingClient] 解析 Embedding API 响应失败, error: %v", err)
		return nil, &ProviderError{Code: ErrUpstream, Msg: "failed to decode embedding response: " + err.Error()}
	}

	if len(embeddingResp.Data) != len(texts) {
		log.Warnf("[EmbeddingClient] Embedding API 返回向量数量不匹配: 期望 %d, 实际 %d", len(texts), len(embeddingResp.Data))
		return nil, &ProviderError{Code: ErrUpstream, Msg: fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(embeddingResp.Data))}
	}

	// API 保证 index 对应输入顺序，这里按 index 归位以防乱序返回
	vectors := make([][]float32, len(texts))
	for i, d := range embeddingResp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(vectors) {
			idx = i
		}
		vectors[idx] = d.Embedding
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, &ProviderError{Code: ErrUpstream, Msg: fmt.Sprintf("received empty embedding at index %d", i)}
		}
	}

	log.Infof("[EmbeddingClient] 成功从 Embedding API 获取 %d 个向量, 维度: %d", len(vectors), len(vectors[0]))
	return vectors, nil
}

// mapStatusError 将 HTTP 状态码映射到本组件的错误类别。
func mapStatusError(statusCode int, status string) *ProviderError {
	switch statusCode {
	case http.StatusTooManyRequests:
		return &ProviderError{Code: ErrRateLimited, Msg: status}
	case http.StatusPaymentRequired, http.StatusForbidden:
		return &ProviderError{Code: ErrQuota, Msg: status}
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return &ProviderError{Code: ErrTimeout, Msg: status}
	default:
		return &ProviderError{Code: ErrUpstream, Msg: status}
	}
}
