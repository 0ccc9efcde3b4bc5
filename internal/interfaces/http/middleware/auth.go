// Package middleware holds the gin middleware the relay's HTTP server wires
// in front of every dialect route: bearer-token auth and CORS.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Baozhi888/zai2api-go/internal/infrastructure/config"
)

// Auth gates every request behind the configured API key, accepted either
// as `Authorization: Bearer <key>` (OpenAI dialect convention) or
// `x-api-key: <key>` (Anthropic dialect convention), per spec.md §6. A
// disabled AuthConfig lets every request through.
func Auth(cfg config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled {
			c.Next()
			return
		}

		key := c.GetHeader("x-api-key")
		if key == "" {
			if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if key == "" || key != cfg.APIKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"message": "invalid or missing API key",
					"type":    "unauthorized",
				},
			})
			return
		}

		c.Next()
	}
}

// CORS builds a single cors.Handler whose AllowOriginFunc consults the live
// config.Watcher on every request, so a hot-reloaded origin list takes
// effect without a restart or rebuilding the middleware.
func CORS(watcher *config.Watcher) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			for _, allowed := range watcher.CORS().AllowedOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "x-api-key", "anthropic-version"},
		AllowCredentials: false,
	})
}
