package backend

import (
	"errors"
	"fmt"
)

// Kind 错误分类
type Kind string

// 错误分类常量
const (
	KindConfiguration   Kind = "CONFIGURATION_ERROR"
	KindValidation      Kind = "VALIDATION_ERROR"
	KindUnsupportedType Kind = "UNSUPPORTED_TYPE"
	KindOperation       Kind = "OPERATION_FAILURE"
	KindMissingItem     Kind = "MISSING_ITEM"
)

// Error 表示后端操作中的错误，Code 保存引擎返回的错误码（如有）
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Code != "" {
		msg = fmt.Sprintf("[%s] %s (code=%s)", e.Kind, e.Message, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 使 errors.Is(err, ErrConfiguration) 之类的判断按分类匹配
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Code == "" && t.Kind == e.Kind
}

// 按分类匹配的哨兵错误，配合 errors.Is 使用
var (
	ErrConfiguration   = &Error{Kind: KindConfiguration}
	ErrValidation      = &Error{Kind: KindValidation}
	ErrUnsupportedType = &Error{Kind: KindUnsupportedType}
	ErrOperation       = &Error{Kind: KindOperation}
	ErrMissingItem     = &Error{Kind: KindMissingItem}
)

// ConfigError 创建配置错误
func ConfigError(msg string) error {
	return &Error{Kind: KindConfiguration, Message: msg}
}

// ValidationError 创建数据校验错误
func ValidationError(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

// UnsupportedTypeError 创建不支持类型错误
func UnsupportedTypeError(msg string, err error) error {
	return &Error{Kind: KindUnsupportedType, Message: msg, Err: err}
}

// OperationFailure 创建引擎操作失败错误
func OperationFailure(msg string, err error) error {
	return &Error{Kind: KindOperation, Message: msg, Err: err}
}

// OperationFailureCode 创建携带引擎错误码的操作失败错误
func OperationFailureCode(code, msg string, err error) error {
	return &Error{Kind: KindOperation, Code: code, Message: msg, Err: err}
}

// MissingItemError 创建未找到待处理任务错误
func MissingItemError(jobID string) error {
	return &Error{Kind: KindMissingItem, Message: fmt.Sprintf("job %q is not tracked", jobID)}
}

func isKind(err error, kind Kind) bool {
	var bErr *Error
	return err != nil && errors.As(err, &bErr) && bErr.Kind == kind
}

// IsConfigError 检查是否为配置错误
func IsConfigError(err error) bool { return isKind(err, KindConfiguration) }

// IsValidationError 检查是否为数据校验错误
func IsValidationError(err error) bool { return isKind(err, KindValidation) }

// IsUnsupportedTypeError 检查是否为不支持类型错误
func IsUnsupportedTypeError(err error) bool { return isKind(err, KindUnsupportedType) }

// IsOperationFailure 检查是否为引擎操作失败
func IsOperationFailure(err error) bool { return isKind(err, KindOperation) }

// IsMissingItemError 检查是否为未找到待处理任务错误
func IsMissingItemError(err error) bool { return isKind(err, KindMissingItem) }
