// Package errors 带错误码的采集器错误
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error 采集器错误
type Error struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	HTTPStatus int               `json:"-"`
	GRPCCode   codes.Code        `json:"-"`
	Cause      error             `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 按错误码比较
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Copy 复制错误
func (e *Error) Copy() *Error {
	c := *e
	if e.Details != nil {
		c.Details = make(map[string]string, len(e.Details))
		for k, v := range e.Details {
			c.Details[k] = v
		}
	}
	return &c
}

// WithDetail 添加单个详情
func (e *Error) WithDetail(key, value string) *Error {
	c := e.Copy()
	if c.Details == nil {
		c.Details = make(map[string]string)
	}
	c.Details[key] = value
	return c
}

// New 创建新错误
func New(code, message string) *Error {
	return NewWithStatus(code, message, http.StatusInternalServerError, codes.Internal)
}

// NewWithStatus 创建带状态码的错误
func NewWithStatus(code, message string, httpStatus int, grpcCode codes.Code) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		GRPCCode:   grpcCode,
	}
}

// Wrap 包装原因
func Wrap(err *Error, cause error) *Error {
	c := err.Copy()
	c.Cause = cause
	return c
}

// Wrapf 追加格式化信息
func Wrapf(err *Error, format string, args ...interface{}) *Error {
	c := err.Copy()
	c.Message = fmt.Sprintf("%s: %s", err.Message, fmt.Sprintf(format, args...))
	return c
}

// WrapWithCause 追加原因与信息
func WrapWithCause(err *Error, cause error, format string, args ...interface{}) *Error {
	c := Wrapf(err, format, args...)
	c.Cause = cause
	return c
}

// FromError 转换为 *Error, 未知错误归为内部错误
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(ErrInternal, err)
}

// 通用错误码
var (
	ErrInternal        = NewWithStatus("INTERNAL_ERROR", "internal error", http.StatusInternalServerError, codes.Internal)
	ErrInvalidArgument = NewWithStatus("INVALID_ARGUMENT", "invalid argument", http.StatusBadRequest, codes.InvalidArgument)
	ErrNotFound        = NewWithStatus("NOT_FOUND", "not found", http.StatusNotFound, codes.NotFound)
)

// 采集业务错误码
var (
	// 分发器
	ErrDistributorUnavailable = NewWithStatus("DISTRIBUTOR_UNAVAILABLE", "distributor request failed", http.StatusBadGateway, codes.Unavailable)
	ErrEmptyResponse          = NewWithStatus("EMPTY_RESPONSE", "distributor returned no data", http.StatusBadGateway, codes.Unavailable)

	// 数据校验
	ErrInvalidPayload = NewWithStatus("INVALID_PAYLOAD", "invalid payload", http.StatusBadRequest, codes.InvalidArgument)
	ErrInvalidCycle   = NewWithStatus("INVALID_CYCLE", "invalid cycle record", http.StatusBadRequest, codes.InvalidArgument)

	// 对账
	ErrDivergence = NewWithStatus("DIVERGENCE", "local replica diverged from distributor", http.StatusConflict, codes.FailedPrecondition)

	// 区块
	ErrBlockNotVisible = NewWithStatus("BLOCK_NOT_VISIBLE", "block not found", http.StatusNotFound, codes.NotFound)
)

// ToGRPCError 转换为 gRPC 错误
func ToGRPCError(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return status.Error(e.GRPCCode, e.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// ToHTTPStatus 获取 HTTP 状态码
func ToHTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var e *Error
	if errors.As(err, &e) && e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Is 判断错误类型
func Is(err error, target *Error) bool {
	if err == nil || target == nil {
		return false
	}
	return errors.Is(err, target)
}

// GetCode 获取错误码
func GetCode(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "UNKNOWN"
}

// IsTransient 分发器类错误, 调用方应保持位置并等待下次触发
func IsTransient(err error) bool {
	return Is(err, ErrDistributorUnavailable) || Is(err, ErrEmptyResponse)
}
