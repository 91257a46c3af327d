package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rawblock/entropy-scorer/internal/logging"
)

// ──────────────────────────────────────────────────────────────────
// Bearer Token Authentication Middleware
//
// If an auth token is configured, all protected routes require:
//   Authorization: Bearer <token>
//
// Health is excluded; the WebSocket stream uses StreamAuth instead.
// ──────────────────────────────────────────────────────────────────

// AuthMiddleware returns a Gin middleware that validates bearer tokens.
// An empty token allows all requests (dev mode); in release mode that is
// logged loudly once at startup.
func AuthMiddleware(token string, releaseMode bool) gin.HandlerFunc {
	if token == "" && releaseMode {
		logging.L().Warnf("[Security] API_AUTH_TOKEN is not set in release mode. " +
			"All protected endpoints are publicly accessible.")
	}

	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Missing Authorization header",
				"hint":  "Use: Authorization: Bearer <API_AUTH_TOKEN>",
			})
			c.Abort()
			return
		}

		// Parse "Bearer <token>"
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid Authorization header format"})
			c.Abort()
			return
		}

		// Constant-time comparison against token enumeration.
		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(token)) != 1 {
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		c.Next()
	}
}

// canPublishKey marks a stream connection whose inbound selection
// messages are applied. Connections without it only receive broadcasts.
const canPublishKey = "stream.canPublish"

// StreamAuth guards the WebSocket upgrade. Browsers cannot set headers on
// a WebSocket handshake, so the token may also come as ?token=. A missing
// token leaves the connection read-only; a wrong one is rejected.
func StreamAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Set(canPublishKey, true)
			c.Next()
			return
		}

		presented := c.Query("token")
		if auth := c.GetHeader("Authorization"); auth != "" {
			parts := strings.SplitN(auth, " ", 2)
			if len(parts) == 2 && parts[0] == "Bearer" {
				presented = parts[1]
			}
		}
		if presented == "" {
			c.Next()
			return
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}
		c.Set(canPublishKey, true)
		c.Next()
	}
}
