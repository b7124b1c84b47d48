// Package mw holds the gin middleware for the local HTTP surface.
package mw

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// clientLimiters tracks one token bucket per client address. Buckets idle
// for more than an hour are pruned on access so the map does not grow with
// every scanner that ever hit the port.
type clientLimiters struct {
	mu      sync.Mutex
	clients map[string]*clientEntry
	limit   rate.Limit
	burst   int

	lastPrune time.Time
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const limiterIdleTimeout = time.Hour

func newClientLimiters(limit rate.Limit, burst int) *clientLimiters {
	return &clientLimiters{
		clients:   make(map[string]*clientEntry),
		limit:     limit,
		burst:     burst,
		lastPrune: time.Now(),
	}
}

func (cl *clientLimiters) allow(ip string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	now := time.Now()
	if now.Sub(cl.lastPrune) > limiterIdleTimeout {
		for ip, e := range cl.clients {
			if now.Sub(e.lastSeen) > limiterIdleTimeout {
				delete(cl.clients, ip)
			}
		}
		cl.lastPrune = now
	}

	e, ok := cl.clients[ip]
	if !ok {
		e = &clientEntry{limiter: rate.NewLimiter(cl.limit, cl.burst)}
		cl.clients[ip] = e
	}
	e.lastSeen = now
	return e.limiter.Allow()
}

// RateLimiter limits requests per client IP. Rejected requests get a JSON
// error and a Retry-After hint.
func RateLimiter(limit rate.Limit, burst int) gin.HandlerFunc {
	limiters := newClientLimiters(limit, burst)
	return func(c *gin.Context) {
		if !limiters.allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
