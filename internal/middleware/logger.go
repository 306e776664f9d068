package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"tokenkeeper/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RequestLogger writes one entry per request. Query strings are not logged
// since refresh tokens may travel in form bodies of misbehaving clients.
func RequestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := requestEntry(log, c, start)
		status := c.Writer.Status()
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("Request failed")
		case status >= http.StatusBadRequest:
			entry.Warn("Request rejected")
		default:
			entry.Info("Request handled")
		}
	}
}

// ErrorLogger logs detailed error information and recovers from panics.
func ErrorLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		defer func() {
			if recovered := recover(); recovered != nil {
				err := fmt.Errorf("%v", recovered)
				requestEntry(log, c, start).
					WithError(err).
					WithField("stack", string(debug.Stack())).
					Error("Panic while handling request")

				response.Abort(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal Server Error")
				return
			}

			for _, err := range c.Errors {
				requestEntry(log, c, start).
					WithField("type", fmt.Sprintf("%v", err.Type)).
					WithError(err.Err).
					Error("Request error")
			}
		}()

		c.Next()
	}
}

func requestEntry(log logrus.FieldLogger, c *gin.Context, start time.Time) logrus.FieldLogger {
	return log.WithFields(logrus.Fields{
		"status":     c.Writer.Status(),
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
		"client_ip":  c.ClientIP(),
		"user_id":    c.GetInt64("user_id"),
		"role":       c.GetString("role"),
		"request_id": requestID(c),
		"latency":    time.Since(start).String(),
	})
}
