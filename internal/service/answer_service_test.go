package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gin280/doc-qa-system-sub000/internal/config"
	"github.com/gin280/doc-qa-system-sub000/internal/model"
	"github.com/gin280/doc-qa-system-sub000/pkg/llm"
)

// ---- 测试替身 ----

type stubRetrieval struct {
	result *model.RetrievalResult
	err    error
}

func (s *stubRetrieval) Retrieve(ctx context.Context, documentID string, ownerID uint, query string, topK int) (*model.RetrievalResult, error) {
	return s.result, s.err
}

type stubLLM struct {
	mu        sync.Mutex
	messages  []llm.Message
	gen       *llm.GenerationParams
	fragments []string
	err       error
	// beforeEach 在写每个分片前调用，用于推进假时钟
	beforeEach func()
}

func (s *stubLLM) StreamChatMessages(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, writer llm.FragmentWriter) error {
	s.mu.Lock()
	s.messages = messages
	s.gen = gen
	s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	for _, f := range s.fragments {
		if s.beforeEach != nil {
			s.beforeEach()
		}
		if err := writer.WriteFragment(f); err != nil {
			return err
		}
	}
	return nil
}

type stubConvRepo struct {
	mu      sync.Mutex
	history map[string][]model.ChatMessage
	err     error
}

func newStubConvRepo() *stubConvRepo {
	return &stubConvRepo{history: make(map[string][]model.ChatMessage)}
}

func (r *stubConvRepo) GetOrCreateConversationID(ctx context.Context, ownerID uint) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "conv-1", nil
}

func (r *stubConvRepo) GetConversationHistory(ctx context.Context, conversationID string) ([]model.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.history[conversationID], nil
}

func (r *stubConvRepo) UpdateConversationHistory(ctx context.Context, conversationID string, messages []model.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history[conversationID] = messages
	return nil
}

func (r *stubConvRepo) historyLen(conversationID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.history[conversationID])
}

// collectWriter 把分片收集到切片里。
type collectWriter struct {
	fragments []string
}

func (w *collectWriter) WriteFragment(fragment string) error {
	w.fragments = append(w.fragments, fragment)
	return nil
}

// fakeClock 可手动推进的时钟。
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func answerCfg() config.AnswerConfig {
	return config.AnswerConfig{
		FirstFragmentTimeout: 5 * time.Second,
		TotalTimeout:         30 * time.Second,
		SimpleMaxTokens:      300,
		ComplexMaxTokens:     500,
		ContextBudget:        6000,
	}
}

func retrievedResult() *model.RetrievalResult {
	return &model.RetrievalResult{
		Query: "q",
		Chunks: []model.RetrievedChunk{
			{ID: "d_0", ChunkIndex: 0, TextContent: "第一段参考内容", Score: 0.9},
			{ID: "d_1", ChunkIndex: 1, TextContent: "第二段参考内容", Score: 0.8},
		},
	}
}

func newAnswerServiceForTest(retrieval RetrievalService, llmClient llm.Client, convRepo *stubConvRepo, clock *fakeClock) AnswerService {
	svc := NewAnswerService(retrieval, llmClient, convRepo, config.LLMPromptConfig{}, answerCfg())
	if clock != nil {
		svc.(*answerService).now = clock.Now
	}
	return svc
}

// ---- 测试 ----

func TestGenerateAnswerStreamsFragments(t *testing.T) {
	llmStub := &stubLLM{fragments: []string{"Go ", "是一门", "编程语言。"}}
	convRepo := newStubConvRepo()
	svc := newAnswerServiceForTest(&stubRetrieval{result: retrievedResult()}, llmStub, convRepo, nil)

	writer := &collectWriter{}
	answer, err := svc.GenerateAnswer(context.Background(), 1, "doc-1", "Go的定义", writer)
	require.NoError(t, err)

	assert.Equal(t, "Go 是一门编程语言。", answer)
	assert.Equal(t, []string{"Go ", "是一门", "编程语言。"}, writer.fragments)

	// 系统消息包含包裹标记内的检索上下文
	require.NotEmpty(t, llmStub.messages)
	system := llmStub.messages[0]
	assert.Equal(t, "system", system.Role)
	assert.Contains(t, system.Content, "<<REF>>")
	assert.Contains(t, system.Content, "第一段参考内容")
	assert.Contains(t, system.Content, "<<END>>")

	// 本轮问答后台写入对话历史
	assert.Eventually(t, func() bool {
		return convRepo.historyLen("conv-1") == 2
	}, time.Second, 10*time.Millisecond)
}

func TestGenerateAnswerSimpleQuestionTokenBudget(t *testing.T) {
	llmStub := &stubLLM{fragments: []string{"答"}}
	svc := newAnswerServiceForTest(&stubRetrieval{result: retrievedResult()}, llmStub, newStubConvRepo(), nil)

	_, err := svc.GenerateAnswer(context.Background(), 1, "doc-1", "Go的定义", &collectWriter{})
	require.NoError(t, err)
	require.NotNil(t, llmStub.gen)
	require.NotNil(t, llmStub.gen.MaxTokens)
	assert.Equal(t, 300, *llmStub.gen.MaxTokens)
}

func TestGenerateAnswerComplexQuestionTokenBudget(t *testing.T) {
	llmStub := &stubLLM{fragments: []string{"答"}}
	svc := newAnswerServiceForTest(&stubRetrieval{result: retrievedResult()}, llmStub, newStubConvRepo(), nil)

	_, err := svc.GenerateAnswer(context.Background(), 1, "doc-1", "为什么Go的并发模型和Java不同？", &collectWriter{})
	require.NoError(t, err)
	require.NotNil(t, llmStub.gen.MaxTokens)
	assert.Equal(t, 500, *llmStub.gen.MaxTokens)
}

func TestGenerateAnswerNoRelevantContentUsesPlaceholder(t *testing.T) {
	retrieval := &stubRetrieval{err: &RetrievalError{Code: ErrNoRelevantContent, Msg: "没有找到相关内容"}}
	llmStub := &stubLLM{fragments: []string{"文档中没有相关信息。"}}
	svc := newAnswerServiceForTest(retrieval, llmStub, newStubConvRepo(), nil)

	answer, err := svc.GenerateAnswer(context.Background(), 1, "doc-1", "无关问题", &collectWriter{})
	require.NoError(t, err)
	assert.Equal(t, "文档中没有相关信息。", answer)

	// 无检索结果时使用占位上下文，仍然照常生成
	assert.Contains(t, llmStub.messages[0].Content, "（本轮无检索结果）")
}

func TestGenerateAnswerPropagatesHardRetrievalError(t *testing.T) {
	retrieval := &stubRetrieval{err: &RetrievalError{Code: ErrSearchFailed, Msg: "es down"}}
	svc := newAnswerServiceForTest(retrieval, &stubLLM{}, newStubConvRepo(), nil)

	_, err := svc.GenerateAnswer(context.Background(), 1, "doc-1", "问题", &collectWriter{})
	var re *RetrievalError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrSearchFailed, re.Code)
}

func TestGenerateAnswerFirstFragmentTimeout(t *testing.T) {
	clock := newFakeClock()
	llmStub := &stubLLM{fragments: []string{"迟到的分片"}}
	// 首个分片到达前时钟已经走过 10s，超出 5s 预算
	llmStub.beforeEach = func() { clock.Advance(10 * time.Second) }
	svc := newAnswerServiceForTest(&stubRetrieval{result: retrievedResult()}, llmStub, newStubConvRepo(), clock)

	_, err := svc.GenerateAnswer(context.Background(), 1, "doc-1", "问题", &collectWriter{})
	require.Error(t, err)
	assert.True(t, IsGenerationTimeout(err))
}

func TestGenerateAnswerTotalTimeout(t *testing.T) {
	clock := newFakeClock()
	llmStub := &stubLLM{fragments: []string{"一", "二", "三"}}
	// 首片及时到达，后续分片把总时长拖过 30s 预算
	first := true
	llmStub.beforeEach = func() {
		if first {
			clock.Advance(time.Second)
			first = false
			return
		}
		clock.Advance(20 * time.Second)
	}
	svc := newAnswerServiceForTest(&stubRetrieval{result: retrievedResult()}, llmStub, newStubConvRepo(), clock)

	writer := &collectWriter{}
	_, err := svc.GenerateAnswer(context.Background(), 1, "doc-1", "问题", writer)
	require.Error(t, err)
	assert.True(t, IsGenerationTimeout(err))
	// 超时前的分片已经发出
	assert.Equal(t, []string{"一", "二"}, writer.fragments)
}

func TestGenerateAnswerMapsLLMFailure(t *testing.T) {
	llmStub := &stubLLM{err: errors.New("upstream 500")}
	svc := newAnswerServiceForTest(&stubRetrieval{result: retrievedResult()}, llmStub, newStubConvRepo(), nil)

	_, err := svc.GenerateAnswer(context.Background(), 1, "doc-1", "问题", &collectWriter{})
	var ge *GenerationError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, ErrGenerationFailed, ge.Code)
	assert.False(t, IsGenerationTimeout(err))
}

func TestClassifyComplexity(t *testing.T) {
	// 简单问题
	assert.False(t, classifyComplexity("Go的定义"))
	assert.False(t, classifyComplexity("What is Go"))

	// 分析类关键词
	assert.True(t, classifyComplexity("为什么Go更快"))
	assert.True(t, classifyComplexity("Compare Go and Rust"))

	// 列举标志词
	assert.True(t, classifyComplexity("Go有哪些并发原语"))

	// 超长问题
	assert.True(t, classifyComplexity(strings.Repeat("问", 41)))

	// 多个问号
	assert.True(t, classifyComplexity("是A？还是B？"))
	assert.False(t, classifyComplexity("是A吗？"))
}

func TestTruncateContext(t *testing.T) {
	text := strings.Repeat("甲", 100)
	assert.Equal(t, text, truncateContext(text, 100))
	assert.Equal(t, strings.Repeat("甲", 50), truncateContext(text, 50))
	assert.Equal(t, text, truncateContext(text, 0))
}
