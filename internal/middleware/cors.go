package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
)

var defaultOrigins = []string{
	"http://localhost:3000",
	"http://localhost:3001",
	"http://localhost:5173",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:5173",
}

// CORS reflects allowed origins with credentials so browser clients can send
// refresh tokens. extra comes from CORS_ALLOWED_ORIGINS.
func CORS(extra ...string) gin.HandlerFunc {
	origins := append([]string{}, defaultOrigins...)
	for _, o := range extra {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
		},
		AllowedHeaders: []string{
			"Authorization",
			"Content-Type",
			RequestIDHeader,
		},
		ExposedHeaders:   []string{RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           int((10 * time.Minute).Seconds()),
	})

	return func(c *gin.Context) {
		corsHandler.HandlerFunc(c.Writer, c.Request)

		// Preflight ends here, before JWTAuth.
		if c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != "" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
