package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// IPLimiter is a token bucket per client IP. Buckets idle longer than ttl
// are swept on access.
type IPLimiter struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*limiterEntry
	swept   time.Time
}

func NewIPLimiter(rps float64, burst int) *IPLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &IPLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		ttl:     5 * time.Minute,
		now:     time.Now,
		entries: make(map[string]*limiterEntry),
	}
}

// Allow consumes one token for ip.
func (l *IPLimiter) Allow(ip string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.swept) > l.ttl {
		for k, e := range l.entries {
			if now.Sub(e.lastAccess) > l.ttl {
				delete(l.entries, k)
			}
		}
		l.swept = now
	}

	e, ok := l.entries[ip]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.entries[ip] = e
	}
	e.lastAccess = now
	return e.limiter.AllowN(now, 1)
}

func (l *IPLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// RateLimitPerIP throttles websocket upgrades per client IP. A non-positive
// rps disables the limiter.
func RateLimitPerIP(l *IPLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil || l.rps <= 0 {
			return
		}
		if !l.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"ok": false, "error": "RATE_LIMITED", "message": "too many connection attempts"})
		}
	}
}
