package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// APIError is the error body of a failed request
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type APIResponse struct {
	Data  interface{}    `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error *APIError      `json:"error,omitempty"`
}

func Success(data interface{}, meta map[string]any) APIResponse {
	return APIResponse{Data: data, Meta: meta}
}

func Failure(status int, msg string) APIResponse {
	return APIResponse{Error: &APIError{Code: status, Message: msg}}
}

func handleError(c *gin.Context, logger *zap.Logger, err error, status int, msg string) {
	fields := []zap.Field{
		zap.String("request_id", c.GetString(requestIDKey)),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		logger.Error(msg, fields...)
	} else {
		logger.Info(msg, fields...)
	}
	c.AbortWithStatusJSON(status, Failure(status, msg+": "+err.Error()))
}

func handleSuccess(c *gin.Context, status int, data interface{}, meta map[string]any) {
	c.JSON(status, Success(data, meta))
}
