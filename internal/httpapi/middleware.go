// Package httpapi wires the bridge's gin HTTP surface: agent lifecycle,
// permission resolution, streaming asks, and the task scheduler's REST
// endpoints (spec §6).
package httpapi

import (
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	acperrors "github.com/allvegetable/acp-bridge/internal/common/errors"
)

// RequestLogger logs every request with a generated request id.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := uuid.New().String()
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()

		log.Info("request completed",
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", requestID),
		)
	}
}

// ErrorHandler renders the last gin.Error recorded on the context as
// {error, details?} with the status its AppError carries, per spec §7.
func ErrorHandler(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		writeError(c, log, err)
	}
}

// writeError renders err as the spec §6 error envelope, picking the HTTP
// status from its AppError if it has one.
func writeError(c *gin.Context, log *zap.Logger, err error) {
	if c.Writer.Written() {
		return
	}
	var appErr *acperrors.AppError
	if stderrors.As(err, &appErr) {
		log.Warn("request error", zap.String("code", appErr.Code), zap.String("message", appErr.Message), zap.Int("status", appErr.HTTPStatus))
		c.JSON(appErr.HTTPStatus, gin.H{"error": appErr.Message})
		return
	}
	log.Error("internal server error", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error", "details": err.Error()})
}

// Recovery recovers from panics in handlers and renders a 500.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered", zap.Any("panic", r), zap.String("path", c.Request.URL.Path))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}

// fail records err on the gin context for ErrorHandler to render, and
// aborts the handler chain.
func fail(c *gin.Context, err error) {
	c.Error(err)
	c.Abort()
}
