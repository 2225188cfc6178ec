// Package pipeline 定义了文档处理的核心流程：分块与并行向量化。
package pipeline

import "fmt"

// ErrorCode 是管道错误的封闭类别，调用方按类别分支处理。
type ErrorCode string

const (
	// ErrEmptyContent 文档文本为空或没有产生任何分块。
	ErrEmptyContent ErrorCode = "EMPTY_CONTENT"
	// ErrInvalidState 文档当前状态不允许进入该处理阶段。
	ErrInvalidState ErrorCode = "INVALID_STATE"
	// ErrDimensionMismatch 返回向量维度与配置不符，属于配置缺陷，绝不重试。
	ErrDimensionMismatch ErrorCode = "DIMENSION_MISMATCH"
	// ErrEmbeddingFailed 一个或多个批次向量化失败。
	ErrEmbeddingFailed ErrorCode = "EMBEDDING_FAILED"
)

// Error 携带类别化的管道错误。
type Error struct {
	Code ErrorCode
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pipeline error [%s]: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("pipeline error [%s]: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newError 构造一个不包裹底层错误的管道错误。
func newError(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// wrapError 构造一个包裹底层错误的管道错误。
func wrapError(code ErrorCode, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}
