package mw

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// KeyedRateLimiter stores a rate limiter per client key.
type KeyedRateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       *sync.RWMutex
	r        rate.Limit
	b        int
}

// NewKeyedRateLimiter creates a new KeyedRateLimiter.
func NewKeyedRateLimiter(r rate.Limit, b int) *KeyedRateLimiter {
	return &KeyedRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		mu:       &sync.RWMutex{},
		r:        r,
		b:        b,
	}
}

// Add creates a new rate limiter for key.
func (k *KeyedRateLimiter) Add(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	if limiter, exists := k.limiters[key]; exists {
		return limiter
	}
	limiter := rate.NewLimiter(k.r, k.b)
	k.limiters[key] = limiter
	return limiter
}

// Get returns the rate limiter for key.
func (k *KeyedRateLimiter) Get(key string) *rate.Limiter {
	k.mu.RLock()
	limiter, exists := k.limiters[key]
	k.mu.RUnlock()

	if !exists {
		return k.Add(key)
	}
	return limiter
}

// clientKey limits users by name and anonymous callers by IP.
func clientKey(c *gin.Context) string {
	if user := strings.TrimSpace(c.GetHeader(UserHeader)); user != "" {
		return "user:" + user
	}
	return "ip:" + c.ClientIP()
}

// RateLimiter is a middleware for per-client rate limiting.
func RateLimiter(r rate.Limit, b int) gin.HandlerFunc {
	limiter := NewKeyedRateLimiter(r, b)
	return func(c *gin.Context) {
		if !limiter.Get(clientKey(c)).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
