package common

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"streamex.com/pkg/logger"
)

const (
	HeaderRequestID = "X-Request-Id"
	// CtxKeyRequestID doubles as the logger trace key so request logs carry it.
	CtxKeyRequestID = logger.TraceIdKey
)

func New() string { return uuid.NewString() }

// 获取id
func RequestIDFromGin(c *gin.Context) string {
	if v, ok := c.Get(CtxKeyRequestID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
