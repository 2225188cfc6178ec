// Package service 包含了应用的业务逻辑层。
package service

import (
	"errors"
	"fmt"
)

// RetrievalErrorCode 是检索错误的封闭类别。
type RetrievalErrorCode string

const (
	// ErrEmptyQuery 查询为空。
	ErrEmptyQuery RetrievalErrorCode = "EMPTY_QUERY"
	// ErrQueryTooLong 查询超过长度上限。
	ErrQueryTooLong RetrievalErrorCode = "QUERY_TOO_LONG"
	// ErrVectorizeFailed 查询向量化失败（底层携带 provider 错误码）。
	ErrVectorizeFailed RetrievalErrorCode = "VECTORIZE_FAILED"
	// ErrNoRelevantContent 去重与阈值过滤后没有任何相关分块。
	// 这是一个可恢复的内容缺失信号，调用方必须与硬错误区分处理。
	ErrNoRelevantContent RetrievalErrorCode = "NO_RELEVANT_CONTENT"
	// ErrSearchFailed 向量索引检索失败。
	ErrSearchFailed RetrievalErrorCode = "SEARCH_FAILED"
)

// RetrievalError 携带类别化的检索错误。
type RetrievalError struct {
	Code RetrievalErrorCode
	Msg  string
	Err  error
}

func (e *RetrievalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("retrieval error [%s]: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("retrieval error [%s]: %s", e.Code, e.Msg)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// IsNoRelevantContent 判断错误是否是"无相关内容"信号。
func IsNoRelevantContent(err error) bool {
	var re *RetrievalError
	return errors.As(err, &re) && re.Code == ErrNoRelevantContent
}

// GenerationErrorCode 是答案生成错误的封闭类别。
type GenerationErrorCode string

const (
	// ErrGenerationTimeout 首分片或总时长超出预算。
	ErrGenerationTimeout GenerationErrorCode = "GENERATION_TIMEOUT"
	// ErrGenerationFailed 生成过程中的其他失败。
	ErrGenerationFailed GenerationErrorCode = "GENERATION_FAILED"
)

// GenerationError 携带类别化的生成错误。
type GenerationError struct {
	Code GenerationErrorCode
	Msg  string
	Err  error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation error [%s]: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("generation error [%s]: %s", e.Code, e.Msg)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// IsGenerationTimeout 判断错误是否是生成超时。
func IsGenerationTimeout(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge) && ge.Code == ErrGenerationTimeout
}
