// Package ctxmanage carries the per-request trace id through gin's context.
package ctxmanage

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const TraceIDKey = "trace_id"

// SetTraceIDOfRequest attaches a fresh trace id to the request and returns it.
func SetTraceIDOfRequest(c *gin.Context) string {
	traceId := uuid.NewString()
	c.Set(TraceIDKey, traceId)
	return traceId
}

func GetTraceIdOfRequest(c *gin.Context) string {
	traceId, ok := c.Get(TraceIDKey)
	if !ok {
		return SetTraceIDOfRequest(c)
	}
	s, ok := traceId.(string)
	if !ok || s == "" {
		return SetTraceIDOfRequest(c)
	}
	return s
}
