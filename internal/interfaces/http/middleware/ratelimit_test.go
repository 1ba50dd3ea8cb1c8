package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

// frozenLimiter returns a limiter whose clock only moves when advanced
func frozenLimiter(t *testing.T, rps float64, burst int) (*RateLimiter, func(time.Duration)) {
	t.Helper()
	rl := NewRateLimiter(rps, burst)
	t.Cleanup(rl.Stop)
	var mu sync.Mutex
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	return rl, func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}
}

func TestRateLimiter(t *testing.T) {
	t.Run("burst then block", func(t *testing.T) {
		rl, _ := frozenLimiter(t, 1, 3)
		for i := 0; i < 3; i++ {
			assert.True(t, rl.Allow("client"), "request %d should be allowed", i+1)
		}
		assert.False(t, rl.Allow("client"))
	})

	t.Run("separate buckets per client", func(t *testing.T) {
		rl, _ := frozenLimiter(t, 1, 1)
		assert.True(t, rl.Allow("a"))
		assert.False(t, rl.Allow("a"))
		assert.True(t, rl.Allow("b"))
	})

	t.Run("refills over time", func(t *testing.T) {
		rl, advance := frozenLimiter(t, 2, 1)
		assert.True(t, rl.Allow("client"))
		assert.False(t, rl.Allow("client"))

		advance(500 * time.Millisecond)
		assert.True(t, rl.Allow("client"))
	})

	t.Run("remaining", func(t *testing.T) {
		rl, _ := frozenLimiter(t, 1, 5)
		assert.Equal(t, 5, rl.Remaining("fresh"))
		rl.Allow("fresh")
		rl.Allow("fresh")
		assert.Equal(t, 3, rl.Remaining("fresh"))
	})

	t.Run("idle buckets are evicted", func(t *testing.T) {
		rl, advance := frozenLimiter(t, 1, 1)
		rl.Allow("gone")
		advance(2 * time.Minute)
		rl.evictIdle()

		rl.mu.Lock()
		defer rl.mu.Unlock()
		assert.Empty(t, rl.clients)
	})

	t.Run("concurrent access is safe", func(t *testing.T) {
		rl, _ := frozenLimiter(t, 1, 100)
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			allowed int
		)
		for i := 0; i < 150; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if rl.Allow("shared") {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 100, allowed)
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		rl := NewRateLimiter(1, 1)
		rl.Stop()
		rl.Stop()
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	rl, _ := frozenLimiter(t, 1, 2)
	r := gin.New()
	r.Use(RequestID(), RateLimit(rl))
	r.POST("/runs", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	for i := 0; i < 2; i++ {
		w := serve(r, httptest.NewRequest(http.MethodPost, "/runs", nil))
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}

	w := serve(r, httptest.NewRequest(http.MethodPost, "/runs", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "ERR_RATE_LIMITED")
	assert.Contains(t, w.Body.String(), w.Header().Get(RequestIDHeader))
}

func TestRateLimitByKey(t *testing.T) {
	rl, _ := frozenLimiter(t, 1, 1)
	r := gin.New()
	r.Use(RateLimitByKey(rl, func(c *gin.Context) string { return c.GetHeader("X-Client") }))
	r.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := func(client string) int {
		rq := httptest.NewRequest(http.MethodGet, "/test", nil)
		rq.Header.Set("X-Client", client)
		return serve(r, rq).Code
	}
	assert.Equal(t, http.StatusOK, req("scheduler"))
	assert.Equal(t, http.StatusTooManyRequests, req("scheduler"))
	assert.Equal(t, http.StatusOK, req("operator"))
}
