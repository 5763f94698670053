package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/csrnotify/pkg/errors"
	"github.com/charlesng35/csrnotify/pkg/response"
)

// ErrRateLimited is returned once a caller exhausts its request budget.
var ErrRateLimited = errors.New("RATE_LIMITED", "Too many requests", http.StatusTooManyRequests)

// RateLimit allows maxRequests per window for each caller and route. Authenticated callers
// are keyed by user id, anonymous ones by client IP. A non-positive limit disables it.
func RateLimit(maxRequests int, window time.Duration) gin.HandlerFunc {
	return rateLimitWithStore(maxRequests, window, newWindowStore(time.Now))
}

func rateLimitWithStore(maxRequests int, window time.Duration, store *windowStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxRequests <= 0 || window <= 0 {
			c.Next()
			return
		}

		caller := c.GetString(CtxUserIDKey)
		if caller == "" {
			caller = "ip:" + c.ClientIP()
		}
		count, resetIn := store.increment(caller+"|"+c.FullPath(), window)

		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(0, maxRequests-count)))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(resetIn.Seconds())))
		if count > maxRequests {
			response.Error(c, ErrRateLimited)
			c.Abort()
			return
		}
		c.Next()
	}
}

// windowStore keeps fixed-window counters; expired entries are swept during increments.
type windowStore struct {
	mu        sync.Mutex
	now       func() time.Time
	counters  map[string]*windowCounter
	nextSweep time.Time
}

type windowCounter struct {
	count int
	ends  time.Time
}

func newWindowStore(now func() time.Time) *windowStore {
	return &windowStore{now: now, counters: make(map[string]*windowCounter)}
}

func (s *windowStore) increment(key string, window time.Duration) (int, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.After(s.nextSweep) {
		for k, ct := range s.counters {
			if !now.Before(ct.ends) {
				delete(s.counters, k)
			}
		}
		s.nextSweep = now.Add(window)
	}

	ct, ok := s.counters[key]
	if !ok || !now.Before(ct.ends) {
		ct = &windowCounter{ends: now.Add(window)}
		s.counters[key] = ct
	}
	ct.count++
	return ct.count, ct.ends.Sub(now)
}
