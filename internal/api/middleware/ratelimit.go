package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/maumercado/task-orchestrator/internal/logger"
)

// bucket is a token-bucket limiter refilled continuously at rps.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	max        float64
	rps        float64
	lastRefill time.Time
}

func newBucket(rps int) *bucket {
	if rps <= 0 {
		rps = 1000
	}
	return &bucket{
		tokens:     float64(rps),
		max:        float64(rps),
		rps:        float64(rps),
		lastRefill: time.Now(),
	}
}

func (b *bucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.lastRefill).Seconds() * b.rps
	if b.tokens > b.max {
		b.tokens = b.max
	}
	b.lastRefill = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RateLimit enforces a single process-wide request rate.
func RateLimit(rps int) func(next http.Handler) http.Handler {
	b := newBucket(rps)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !b.allow() {
				logger.Warn().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Msg("rate limit exceeded")
				tooManyRequests(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientRateLimit enforces a per-client rate, keyed by X-Forwarded-For
// when present, falling back to the remote address. Buckets are dropped
// wholesale every few minutes rather than tracked by last access; an
// active client simply re-creates its bucket full.
func ClientRateLimit(rps int) func(next http.Handler) http.Handler {
	var (
		mu      sync.Mutex
		buckets = make(map[string]*bucket)
	)

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			mu.Lock()
			buckets = make(map[string]*bucket)
			mu.Unlock()
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := r.Header.Get("X-Forwarded-For")
			if clientID == "" {
				clientID = r.RemoteAddr
			}

			mu.Lock()
			b, ok := buckets[clientID]
			if !ok {
				b = newBucket(rps)
				buckets[clientID] = b
			}
			mu.Unlock()

			if !b.allow() {
				logger.Warn().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("client", clientID).
					Msg("client rate limit exceeded")
				tooManyRequests(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func tooManyRequests(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "1")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":"Too Many Requests","message":"rate limit exceeded"}`))
}
