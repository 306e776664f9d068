package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"tokenkeeper/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// InternalTokenAuth protects operator endpoints (/metrics) with a static
// bearer token and an optional client IP allowlist. An empty token leaves
// the endpoint open, which is only accepted outside production.
func InternalTokenAuth(token string, allowedIPs []string, log logrus.FieldLogger) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedIPs))
	for _, ip := range allowedIPs {
		if ip = strings.TrimSpace(ip); ip != "" {
			allowed[ip] = true
		}
	}

	return func(c *gin.Context) {
		if len(allowed) > 0 && !allowed[c.ClientIP()] {
			internalAuthFailure(c, log, http.StatusForbidden, "ip_not_allowed")
			response.Abort(c, http.StatusForbidden, "AUTH_INVALID", "IP not allowed")
			return
		}

		if token == "" {
			c.Next()
			return
		}

		scheme, presented, ok := strings.Cut(c.GetHeader("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			internalAuthFailure(c, log, http.StatusUnauthorized, "missing_auth")
			response.Abort(c, http.StatusUnauthorized, "AUTH_MISSING", "Authorization header must be 'Bearer <token>'")
			return
		}

		if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), []byte(token)) != 1 {
			internalAuthFailure(c, log, http.StatusForbidden, "invalid_token")
			response.Abort(c, http.StatusForbidden, "AUTH_INVALID", "Invalid internal token")
			return
		}

		c.Next()
	}
}

func internalAuthFailure(c *gin.Context, log logrus.FieldLogger, status int, reason string) {
	log.WithFields(logrus.Fields{
		"status":     status,
		"reason":     reason,
		"request_id": requestID(c),
		"client_ip":  c.ClientIP(),
	}).Warn("internal_auth_rejected")
}
