package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/shardeum/relayer-collector/pkg/errors"
)

// Response 统一响应体
type Response struct {
	Code    string      `json:"code"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Success 返回成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, &Response{Code: "OK", Data: data})
}

// Error 按错误码返回错误响应, 非业务错误归为内部错误
func Error(c *gin.Context, err error) {
	e := apperrors.FromError(err)
	resp := &Response{Code: e.Code, Message: e.Message}
	if e.HTTPStatus >= http.StatusInternalServerError {
		resp.Message = apperrors.ErrInternal.Message
	}
	c.JSON(apperrors.ToHTTPStatus(e), resp)
}

// BadRequest 返回参数错误响应
func BadRequest(c *gin.Context, message string) {
	Error(c, apperrors.Wrapf(apperrors.ErrInvalidArgument, "%s", message))
}
