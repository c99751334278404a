package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	jwtsec "famly/tools/security"
)

// Context keys set for downstream handlers.
const (
	CtxUserIDKey   = "famly.userId"
	CtxIdentityKey = "famly.identity"
)

type Options struct {
	JWT jwtsec.Options
	// QueryParam carries the token for browser websockets, which cannot set
	// headers. Empty disables the fallback.
	QueryParam string
}

// TokenFrom extracts the bearer token from the Authorization header, falling
// back to the query parameter.
func TokenFrom(r *http.Request, queryParam string) string {
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
		if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
			return strings.TrimSpace(authz[7:])
		}
	}
	if queryParam != "" {
		return strings.TrimSpace(r.URL.Query().Get(queryParam))
	}
	return ""
}

// Middleware verifies the caller's JWT and stores the identity in the gin
// context. Missing or invalid tokens get 401 before any upgrade.
func Middleware(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFrom(c.Request, opts.QueryParam)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "UNAUTHORIZED", "message": "missing token"})
			return
		}
		id, err := jwtsec.Verify(opts.JWT, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "UNAUTHORIZED", "message": "invalid token"})
			return
		}
		c.Set(CtxIdentityKey, id)
		c.Set(CtxUserIDKey, id.UserID)
	}
}

// UserID returns the identity set by Middleware.
func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(CtxUserIDKey)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}
