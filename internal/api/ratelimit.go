package api

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// tokenBucket limits how often comparisons may be started. Each comparison
// spends provider credit, so the limit is global rather than per client.
type tokenBucket struct {
	rate       float64 // tokens per second
	burst      int
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	return &tokenBucket{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// take consumes one token. When the bucket is empty it reports how long
// until the next token is available.
func (tb *tokenBucket) take() (bool, time.Duration) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	tb.tokens += now.Sub(tb.lastRefill).Seconds() * tb.rate
	tb.lastRefill = now
	if tb.tokens > float64(tb.burst) {
		tb.tokens = float64(tb.burst)
	}

	if tb.tokens < 1.0 {
		wait := time.Duration((1.0 - tb.tokens) / tb.rate * float64(time.Second))
		return false, wait
	}
	tb.tokens -= 1.0
	return true, 0
}

// rateLimit answers 429 with a Retry-After header once the bucket is empty.
// A nil bucket disables the limit.
func rateLimit(tb *tokenBucket) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if tb == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := tb.take()
			if !ok {
				secs := int(math.Ceil(wait.Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				writeError(w, http.StatusTooManyRequests,
					fmt.Sprintf("comparison rate limit of %.2f/s exceeded; retry after %ds", tb.rate, secs))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
