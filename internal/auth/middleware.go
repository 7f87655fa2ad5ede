package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// accessTokenQuery carries the token for websocket upgrades, where browsers
// cannot set headers.
const accessTokenQuery = "access_token"

// RequireAccessToken verifies an access token and injects identity into request context.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := bearerToken(c)
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := m.Verify(tok, TokenTypeAccess, time.Now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		ctx := WithIdentity(c.Request.Context(), claims.UserID, claims.Name)
		c.Request = c.Request.WithContext(ctx)

		// Also store on gin context for handler convenience.
		c.Set("user_id", claims.UserID)
		c.Set("name", claims.Name)

		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
	if strings.HasPrefix(raw, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(raw, bearerPrefix))
	}
	if raw == "" && c.IsWebsocket() {
		return c.Query(accessTokenQuery)
	}
	return ""
}
