package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"commerce-api/internal/auth"
	"commerce-api/pkg/ctxmanage"
	"commerce-api/pkg/logkey"

	"github.com/gin-gonic/gin"
)

type Mid struct {
	keys *auth.Keys
}

func NewMid(keys *auth.Keys) (*Mid, error) {
	if keys == nil {
		return nil, errors.New("keys are nil")
	}
	return &Mid{keys: keys}, nil
}

// Authentication verifies the bearer token and stores the claims in the
// request context under auth.ClaimsKey.
func (m *Mid) Authentication() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceId := ctxmanage.GetTraceIdOfRequest(c)

		authHeader := c.Request.Header.Get("Authorization")
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			slog.Error("missing or malformed authorization header", slog.String(logkey.TraceID, traceId))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "expected Authorization header format: Bearer <token>"})
			return
		}

		claims, err := m.keys.ParseToken(parts[1])
		if err != nil {
			slog.Error("token verification failed", slog.String(logkey.TraceID, traceId), slog.Any(logkey.Error, err.Error()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		ctx := context.WithValue(c.Request.Context(), auth.ClaimsKey, claims)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// AdminOnly rejects requests whose claims do not carry the admin flag.
// Must run after Authentication.
func (m *Mid) AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := c.Request.Context().Value(auth.ClaimsKey).(auth.Claims)
		if !ok || !claims.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin privileges required"})
			return
		}
		c.Next()
	}
}

// Logger assigns a trace id to every request and logs method, path, status
// and duration on completion.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceId := ctxmanage.SetTraceIDOfRequest(c)
		start := time.Now()
		c.Next()
		slog.Info("request completed",
			slog.String(logkey.TraceID, traceId),
			slog.String(logkey.Method, c.Request.Method),
			slog.String(logkey.URL, c.Request.URL.Path),
			slog.Int(logkey.Status, c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}
