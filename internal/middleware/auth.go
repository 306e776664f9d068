package middleware

import (
	"net/http"
	"strings"

	"tokenkeeper/internal/pkg/jwt"
	"tokenkeeper/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

// AccessTokenVerifier checks signature and expiry of an access token.
type AccessTokenVerifier interface {
	Verify(token string) jwt.Verification
}

// JWTAuth requires "Authorization: Bearer <access token>" and stores
// user_id, role and subject on the context.
func JWTAuth(verifier AccessTokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Abort(c, http.StatusUnauthorized, "AUTH_HEADER_MISSING", "Authorization header is required")
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			response.Abort(c, http.StatusUnauthorized, "INVALID_AUTH_FORMAT", "Authorization header must be: Bearer <token>")
			return
		}

		v := verifier.Verify(strings.TrimSpace(token))
		if !v.Valid {
			response.Abort(c, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token")
			return
		}

		c.Set("user_id", v.UserID)
		c.Set("role", v.Role)
		c.Set("subject", v.Subject)
		c.Next()
	}
}
