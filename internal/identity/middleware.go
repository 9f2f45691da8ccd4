package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextKey is the gin context key holding the caller Identity.
const ContextKey = "callerIdentity"

// Middleware extracts the caller identity from a Bearer token.
// Requests without a token proceed unauthenticated; RequireIdentity gates
// the routes that need a caller.
func Middleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if strings.HasPrefix(header, "Bearer ") {
			id, err := ParseToken(strings.TrimPrefix(header, "Bearer "), secret)
			if err == nil {
				c.Set(ContextKey, id)
			}
		}
		c.Next()
	}
}

// RequireIdentity rejects requests without a resolved caller identity.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextKey); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "UNAUTHENTICATED",
				"message": "Identity token required. Include 'Authorization: Bearer <token>' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects callers without the admin role.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := FromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "UNAUTHENTICATED",
				"message": "Identity token required.",
			})
			return
		}
		if !CanAdjudicate(caller) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "FORBIDDEN",
				"message": "Admin role required.",
			})
			return
		}
		c.Next()
	}
}

// FromContext returns the caller identity set by Middleware.
func FromContext(c *gin.Context) (Identity, bool) {
	v, exists := c.Get(ContextKey)
	if !exists {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}
