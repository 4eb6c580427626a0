package auth

import (
	"strings"

	"github.com/gin-gonic/gin"
)

var tokenCookies = []string{"insight-token", "insight_token", "token"}

// TokenFromRequest looks for a credential in the Authorization header, then
// the "token" query parameter, then the known cookies.
func TokenFromRequest(c *gin.Context) string {
	if token := NormalizeToken(c.GetHeader("Authorization")); token != "" {
		return token
	}
	if token := NormalizeToken(c.Query("token")); token != "" {
		return token
	}
	for _, name := range tokenCookies {
		if raw, err := c.Cookie(name); err == nil {
			if token := NormalizeToken(raw); token != "" {
				return token
			}
		}
	}
	return ""
}

// NormalizeToken trims spaces and strips an optional Bearer prefix.
func NormalizeToken(raw string) string {
	token := strings.TrimSpace(raw)
	if token == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		return strings.TrimSpace(token[7:])
	}
	return token
}
