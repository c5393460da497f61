package httpmiddleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// SlidingWindow is an in-memory per-client rate limiter. Exceeding the limit
// yields 429 with a retryAfter hint in seconds.
type SlidingWindow struct {
	window time.Duration
	max    int
	now    func() time.Time

	mu    sync.Mutex
	state map[string]*clientWindow
}

type clientWindow struct {
	count int
	reset time.Time
}

// NewSlidingWindow creates a limiter allowing max requests per window.
func NewSlidingWindow(window time.Duration, max int) *SlidingWindow {
	if max <= 0 {
		max = 100
	}
	return &SlidingWindow{
		window: window,
		max:    max,
		now:    time.Now,
		state:  make(map[string]*clientWindow),
	}
}

// GinMiddleware returns a gin handler enforcing per-IP limits with the
// {error, retryAfter} response shape.
func (l *SlidingWindow) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		ok, retryAfter := l.Allow(ip)
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "Too many requests",
				"retryAfter": retryAfter,
			})
			return
		}
		c.Next()
	}
}

// Allow consumes one request for key. When denied it returns the seconds
// until the window resets.
func (l *SlidingWindow) Allow(key string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.state[key]
	if !ok || now.After(w.reset) {
		l.state[key] = &clientWindow{count: 1, reset: now.Add(l.window)}
		return true, 0
	}
	if w.count >= l.max {
		retry := int(w.reset.Sub(now).Seconds() + 0.999)
		return false, retry
	}
	w.count++
	return true, 0
}
