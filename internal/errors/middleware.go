// Package errors — Gin middleware translating CoreError into HTTP responses
// for the adapter HTTP surface (internal/adapter/httpadapter).
package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xianshu-virtuous/MoFox-Core/internal/logger"
)

// statusForKind maps a Kind to the HTTP status code an adapter should
// return for it.
func statusForKind(kind Kind) int {
	switch kind {
	case BadEnvelope:
		return http.StatusBadRequest
	case PermissionDenied:
		return http.StatusForbidden
	case SkipMessage:
		return http.StatusConflict
	case BufferFull:
		return http.StatusTooManyRequests
	case TransientAdapter, NoAdapterForPlatform:
		return http.StatusServiceUnavailable
	case HandlerFault, ConsolidationFault, PluginLoadFault:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ToResponse renders a CoreError as a JSON-friendly map.
func (e *CoreError) ToResponse() gin.H {
	return gin.H{
		"error":   string(e.Kind),
		"message": e.Message,
	}
}

// ErrorHandler is Gin middleware that converts the last error attached to
// the context into a CoreError-shaped JSON response.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		if ce, ok := As(err); ok {
			status := statusForKind(ce.Kind)
			if status >= 500 {
				logger.Adapter().Error().Str("kind", string(ce.Kind)).Msg(ce.Message)
			} else {
				logger.Adapter().Warn().Str("kind", string(ce.Kind)).Msg(ce.Message)
			}
			c.JSON(status, ce.ToResponse())
			return
		}

		logger.Adapter().Error().Err(err).Msg("unhandled error")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   string(HandlerFault),
			"message": "an unexpected error occurred",
		})
	}
}

// Recovery is Gin middleware that recovers from panics in handlers.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Adapter().Error().Interface("panic", r).Msg("recovered from panic")
				c.JSON(http.StatusInternalServerError, gin.H{
					"error":   string(HandlerFault),
					"message": "an unexpected error occurred",
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}

// AbortWithError aborts the request with the status/JSON body for err.
func AbortWithError(c *gin.Context, err *CoreError) {
	c.Error(err)
	c.AbortWithStatusJSON(statusForKind(err.Kind), err.ToResponse())
}
