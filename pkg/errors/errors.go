package errors

import (
	"errors"
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode string

const (
	CodeInvalidInput   ErrorCode = "INVALID_INPUT"
	CodeNotFound       ErrorCode = "NOT_FOUND"
	CodeAlreadyExists  ErrorCode = "ALREADY_EXISTS"
	CodeUnauthorized   ErrorCode = "UNAUTHORIZED"
	CodeForbidden      ErrorCode = "FORBIDDEN"
	CodeInternal       ErrorCode = "INTERNAL_ERROR"
	CodeServiceUnavail ErrorCode = "SERVICE_UNAVAILABLE"

	// 以下错误码对应 agent 运行时对外暴露的错误分类（§7）
	CodeInvalidRequest           ErrorCode = "invalid_request"
	CodeToolNotImplemented       ErrorCode = "tool_not_implemented"
	CodeContextOverflowFatal     ErrorCode = "context_overflow_unrecoverable"
	CodeProviderRetryable        ErrorCode = "provider_retryable"
	CodeProviderFatal            ErrorCode = "provider_fatal"
	CodeToolExecutionFailure     ErrorCode = "tool_execution_failure"
	CodeServerError              ErrorCode = "server_error"
)

// AppError 应用错误
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 实现 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewInvalidInputError 创建无效输入错误
func NewInvalidInputError(message string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: message,
	}
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: message,
	}
}

// NewAlreadyExistsError 创建已存在错误
func NewAlreadyExistsError(message string) *AppError {
	return &AppError{
		Code:    CodeAlreadyExists,
		Message: message,
	}
}

// NewInternalError 创建内部错误
func NewInternalError(message string) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
	}
}

// NewInternalErrorWithCause 创建带原因的内部错误
func NewInternalErrorWithCause(message string, cause error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
		Err:     cause,
	}
}

// IsNotFound 判断是否为未找到错误
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeNotFound
	}
	return false
}

// IsInvalidInput 判断是否为无效输入错误
func IsInvalidInput(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeInvalidInput
	}
	return false
}

// NewToolNotImplementedError 创建工具未实现错误（请求了未注册的工具名）
func NewToolNotImplementedError(message string) *AppError {
	return &AppError{Code: CodeToolNotImplemented, Message: message}
}

// NewContextOverflowError 创建上下文溢出且无法恢复的错误
func NewContextOverflowError(message string, cause error) *AppError {
	return &AppError{Code: CodeContextOverflowFatal, Message: message, Err: cause}
}

// NewToolExecutionError 创建工具执行失败错误（工具本身返回的错误，而非调度错误）
func NewToolExecutionError(message string, cause error) *AppError {
	return &AppError{Code: CodeToolExecutionFailure, Message: message, Err: cause}
}

// NewProviderError 根据 LLM 错误是否可重试，映射为 provider_retryable / provider_fatal
func NewProviderError(retryable bool, message string, cause error) *AppError {
	code := CodeProviderFatal
	if retryable {
		code = CodeProviderRetryable
	}
	return &AppError{Code: code, Message: message, Err: cause}
}
