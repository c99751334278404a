package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// OriginAllowed reports whether a browser Origin may open a socket. An empty
// allowlist accepts everything; requests without an Origin header are
// non-browser clients and always pass. Entries match the full origin
// ("https://app.famly.example") or any origin with "*".
func OriginAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 || origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	normalized := strings.ToLower(u.Scheme + "://" + u.Host)
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimRight(strings.TrimSpace(a), "/"))
		if a == "*" || a == normalized {
			return true
		}
	}
	return false
}

// Origin rejects upgrade requests from origins outside the allowlist.
func Origin(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !OriginAllowed(allowed, c.GetHeader("Origin")) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"ok": false, "error": "FORBIDDEN", "message": "origin not allowed"})
		}
	}
}
