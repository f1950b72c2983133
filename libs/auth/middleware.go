package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const ContextAccountKey = "account"

// Middleware rejects requests without a valid bearer token and stores the
// token subject under ContextAccountKey.
func Middleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractBearer(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "missing token"})
			return
		}

		claims, err := ParseJWT(token, secret)
		if err != nil || claims.Subject == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "invalid token"})
			return
		}

		c.Set(ContextAccountKey, claims.Subject)
		c.Next()
	}
}

// Subject returns the authenticated subject, if any.
func Subject(c *gin.Context) (string, bool) {
	v, ok := c.Get(ContextAccountKey)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}
