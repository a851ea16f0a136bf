package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/v2fin/backoffice/pkg/errors"
	"github.com/v2fin/backoffice/pkg/response"
)

// RateLimit limits requests per (clientIP, path) within a fixed window. This
// is an in-memory limiter suitable for single-instance deployments; the
// login endpoints use it to slow brute forcing of either factor.
func RateLimit(maxRequests int, window time.Duration) gin.HandlerFunc {
	type counter struct {
		count     int
		windowEnd time.Time
	}

	var (
		mu   sync.Mutex
		data = make(map[string]*counter)
	)

	// Periodically drop expired counters to avoid unbounded growth.
	go func() {
		tick := time.NewTicker(window)
		defer tick.Stop()
		for range tick.C {
			now := time.Now()
			mu.Lock()
			for key, entry := range data {
				if now.After(entry.windowEnd) {
					delete(data, key)
				}
			}
			mu.Unlock()
		}
	}()

	return func(c *gin.Context) {
		if maxRequests <= 0 || window <= 0 {
			c.Next()
			return
		}

		key := c.ClientIP() + "|" + c.FullPath()
		now := time.Now()

		mu.Lock()
		entry, ok := data[key]
		if !ok || now.After(entry.windowEnd) {
			entry = &counter{windowEnd: now.Add(window)}
			data[key] = entry
		}
		entry.count++
		count := entry.count
		resetIn := time.Until(entry.windowEnd)
		mu.Unlock()

		remaining := maxRequests - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(resetIn.Seconds())))

		if count > maxRequests {
			response.Error(c, errors.ErrRateLimit)
			c.Abort()
			return
		}

		c.Next()
	}
}
