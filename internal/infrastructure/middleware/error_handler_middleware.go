package middleware

import (
	"context"
	stderrors "errors"
	"net/http"

	"pyrite/internal/core/domain"
	"pyrite/internal/core/services"
	"pyrite/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// classify maps an error surfaced by a control handler onto an AppError.
// Session and loop sentinels get their own statuses; anything else unknown is internal.
func classify(err error) *errors.AppError {
	if appErr := errors.GetAppError(err); appErr != nil {
		return appErr
	}
	switch {
	case stderrors.Is(err, domain.ErrNotConnected):
		return errors.WrapError(err, errors.ErrCodeConflict, "not connected to a group", http.StatusConflict)
	case stderrors.Is(err, domain.ErrAcquisitionSuperseded):
		return errors.WrapError(err, errors.ErrCodeConflict, err.Error(), http.StatusConflict)
	case stderrors.Is(err, services.ErrLoopStopped):
		return errors.WrapError(err, errors.ErrCodeInternal, "session is shutting down", http.StatusServiceUnavailable)
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.WrapError(err, errors.ErrCodeInternal, "request timed out", http.StatusGatewayTimeout)
	}
	return nil
}

// ErrorHandlerMiddleware turns the last error recorded by a control handler into a JSON response.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		appErr := classify(err)
		if appErr == nil {
			logger.Errorw("unhandled error",
				"error", err.Error(),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   string(errors.ErrCodeInternal),
				"message": "Internal server error",
			})
			return
		}

		log := logger.Warnw
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			log = logger.Errorw
		}
		log("control request failed",
			"code", appErr.Code,
			"message", appErr.Message,
			"status", appErr.HTTPStatus,
			"cause", appErr.Cause,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)

		body := gin.H{
			"error":   string(appErr.Code),
			"message": appErr.Message,
		}
		if len(appErr.Context) > 0 {
			body["details"] = appErr.Context
		}
		c.JSON(appErr.HTTPStatus, body)
	}
}

// RecoveryMiddleware answers 500 when a handler panics, e.g. on a nil session.
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorw("panic in control handler",
					"panic", r,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   string(errors.ErrCodeInternal),
					"message": "Internal server error",
				})
			}
		}()

		c.Next()
	}
}
