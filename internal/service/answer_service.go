package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin280/doc-qa-system-sub000/internal/config"
	"github.com/gin280/doc-qa-system-sub000/internal/model"
	"github.com/gin280/doc-qa-system-sub000/internal/repository"
	"github.com/gin280/doc-qa-system-sub000/pkg/llm"
	"github.com/gin280/doc-qa-system-sub000/pkg/log"
)

// analyticalKeywords 触发"复杂问题"判定的关键词，命中任意一个即判复杂。
var analyticalKeywords = []string{
	"为什么", "怎么", "如何", "比较", "区别", "分析", "解释", "原因", "优缺点",
	"why", "how", "compare", "difference", "analyze", "explain",
}

// enumerationMarkers 列举类问题的标志词。
var enumerationMarkers = []string{"哪些", "列举", "分别", "list", "enumerate"}

// AnswerService 接口定义了基于检索结果的流式答案生成。
type AnswerService interface {
	// GenerateAnswer 基于文档检索回答问题，流式分片写入 writer，返回完整答案文本。
	GenerateAnswer(ctx context.Context, ownerID uint, documentID, question string, writer llm.FragmentWriter) (string, error)
}

type answerService struct {
	retrievalService RetrievalService
	llmClient        llm.Client
	convRepo         repository.ConversationRepository
	promptCfg        config.LLMPromptConfig
	cfg              config.AnswerConfig

	// now 可注入，测试中替换为假时钟
	now func() time.Time
}

// NewAnswerService 创建一个新的 AnswerService 实例。
func NewAnswerService(
	retrievalService RetrievalService,
	llmClient llm.Client,
	convRepo repository.ConversationRepository,
	promptCfg config.LLMPromptConfig,
	cfg config.AnswerConfig,
) AnswerService {
	return &answerService{
		retrievalService: retrievalService,
		llmClient:        llmClient,
		convRepo:         convRepo,
		promptCfg:        promptCfg,
		cfg:              cfg,
		now:              time.Now,
	}
}

// GenerateAnswer 先检索相关分块，再流式调用 LLM 生成答案。
// "无相关内容"不是失败：用占位上下文继续生成，让模型告知用户没有依据。
func (s *answerService) GenerateAnswer(ctx context.Context, ownerID uint, documentID, question string, writer llm.FragmentWriter) (string, error) {
	// 1. 检索相关分块
	var contextText string
	result, err := s.retrievalService.Retrieve(ctx, documentID, ownerID, question, 0)
	switch {
	case err == nil:
		contextText = s.buildContext(result.Chunks)
		log.Infof("[AnswerService] 检索到 %d 个相关分块, document: %s, fromCache: %v", len(result.Chunks), documentID, result.FromCache)
	case IsNoRelevantContent(err):
		contextText = ""
		log.Infof("[AnswerService] 未检索到相关内容, document: %s, 使用占位上下文继续生成", documentID)
	default:
		return "", err
	}

	// 2. 按问题复杂度确定 token 预算
	maxTokens := s.cfg.SimpleMaxTokens
	if classifyComplexity(question) {
		maxTokens = s.cfg.ComplexMaxTokens
	}
	log.Infof("[AnswerService] 问题复杂度判定完成, maxTokens: %d", maxTokens)

	// 3. 组装消息：系统提示 + 对话历史 + 当前问题
	messages := []llm.Message{{Role: "system", Content: s.buildSystemMessage(contextText)}}
	convID, history := s.loadHistory(ctx, ownerID)
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: "user", Content: question})

	// 4. 流式生成，叠加首分片与总时长的墙钟超时
	tw := &timeoutWriter{
		inner:        writer,
		start:        s.now(),
		firstTimeout: s.cfg.FirstFragmentTimeout,
		totalTimeout: s.cfg.TotalTimeout,
		now:          s.now,
	}
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.TotalTimeout)
	defer cancel()

	err = s.llmClient.StreamChatMessages(callCtx, messages, &llm.GenerationParams{MaxTokens: &maxTokens}, tw)
	if err != nil {
		if ge, ok := asGenerationError(err); ok {
			return "", ge
		}
		if callCtx.Err() == context.DeadlineExceeded {
			return "", &GenerationError{Code: ErrGenerationTimeout, Msg: "答案生成总时长超时", Err: err}
		}
		return "", &GenerationError{Code: ErrGenerationFailed, Msg: "答案生成失败", Err: err}
	}

	answer := tw.builder.String()

	// 5. 后台保存对话历史，不阻塞响应
	if convID != "" {
		go s.saveHistory(convID, history, question, answer)
	}

	return answer, nil
}

// loadHistory 读取对话历史，失败时退化为无历史对话。
func (s *answerService) loadHistory(ctx context.Context, ownerID uint) (string, []llm.Message) {
	convID, err := s.convRepo.GetOrCreateConversationID(ctx, ownerID)
	if err != nil {
		log.Warnf("[AnswerService] 获取对话ID失败（忽略）: %v", err)
		return "", nil
	}
	stored, err := s.convRepo.GetConversationHistory(ctx, convID)
	if err != nil {
		log.Warnf("[AnswerService] 读取对话历史失败（忽略）: %v", err)
		return convID, nil
	}
	messages := make([]llm.Message, 0, len(stored))
	for _, m := range stored {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	return convID, messages
}

// saveHistory 把本轮问答追加到对话历史。独立后台上下文，调用方不等待。
func (s *answerService) saveHistory(convID string, history []llm.Message, question, answer string) {
	bgCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ts := s.now()
	stored := make([]model.ChatMessage, 0, len(history)+2)
	for _, m := range history {
		stored = append(stored, model.ChatMessage{Role: m.Role, Content: m.Content})
	}
	stored = append(stored,
		model.ChatMessage{Role: "user", Content: question, Timestamp: ts},
		model.ChatMessage{Role: "assistant", Content: answer, Timestamp: ts},
	)
	if err := s.convRepo.UpdateConversationHistory(bgCtx, convID, stored); err != nil {
		log.Warnf("[AnswerService] 保存对话历史失败（忽略）: %v", err)
	}
}

// buildContext 把检索分块按原文顺序拼接，并按预算截断。
func (s *answerService) buildContext(chunks []model.RetrievedChunk) string {
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, c.TextContent)
	}
	return truncateContext(strings.Join(parts, "\n\n"), s.cfg.ContextBudget)
}

// buildSystemMessage 组装系统提示：回答规则 + 包裹标记内的检索上下文。
func (s *answerService) buildSystemMessage(contextText string) string {
	rules := s.promptCfg.Rules
	if rules == "" {
		rules = "你是一个严谨的文档问答助手。只依据参考内容回答问题；参考内容不足以回答时，明确告知用户文档中没有相关信息，不要编造。"
	}
	refStart := s.promptCfg.RefStart
	if refStart == "" {
		refStart = "<<REF>>"
	}
	refEnd := s.promptCfg.RefEnd
	if refEnd == "" {
		refEnd = "<<END>>"
	}
	if contextText == "" {
		contextText = s.promptCfg.NoResultText
		if contextText == "" {
			contextText = "（本轮无检索结果）"
		}
	}
	return fmt.Sprintf("%s\n\n%s\n%s\n%s", rules, refStart, contextText, refEnd)
}

// truncateContext 把上下文截断到 budget 个 rune 以内。
func truncateContext(text string, budget int) string {
	if budget <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= budget {
		return text
	}
	return string(runes[:budget])
}

// classifyComplexity 判定问题是否复杂。命中任一条件即判复杂：
// 分析类关键词、列举标志词、问题超过 40 个 rune、包含两个以上问号。
func classifyComplexity(question string) bool {
	lowered := strings.ToLower(question)
	for _, kw := range analyticalKeywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	for _, m := range enumerationMarkers {
		if strings.Contains(lowered, m) {
			return true
		}
	}
	if utf8.RuneCountInString(question) > 40 {
		return true
	}
	if strings.Count(question, "?")+strings.Count(question, "？") >= 2 {
		return true
	}
	return false
}

// timeoutWriter 包装 FragmentWriter，叠加两个墙钟约束：
// 首分片必须在 firstTimeout 内到达，全部生成必须在 totalTimeout 内完成。
// 同时把所有分片累积到 builder，供调用方取完整答案。
type timeoutWriter struct {
	inner        llm.FragmentWriter
	builder      strings.Builder
	start        time.Time
	firstTimeout time.Duration
	totalTimeout time.Duration
	now          func() time.Time
	gotFirst     bool
}

func (w *timeoutWriter) WriteFragment(fragment string) error {
	elapsed := w.now().Sub(w.start)
	if !w.gotFirst && w.firstTimeout > 0 && elapsed > w.firstTimeout {
		return &GenerationError{Code: ErrGenerationTimeout, Msg: "首个答案分片超时"}
	}
	if w.totalTimeout > 0 && elapsed > w.totalTimeout {
		return &GenerationError{Code: ErrGenerationTimeout, Msg: "答案生成总时长超时"}
	}
	w.gotFirst = true
	w.builder.WriteString(fragment)
	return w.inner.WriteFragment(fragment)
}

// asGenerationError 提取被透传回来的 GenerationError。
func asGenerationError(err error) (*GenerationError, bool) {
	ge, ok := err.(*GenerationError)
	return ge, ok
}
