package upstream

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds the token bucket settings
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimit stays under Google Drive's 10 requests/second/user quota
var DefaultRateLimit = RateLimitConfig{RequestsPerSecond: 8, BurstSize: 10}

// DefaultBackoff applies when a 429 carries no Retry-After
const DefaultBackoff = 30 * time.Second

// RateLimiter is a token bucket with a server-imposed backoff window
type RateLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	retryAt time.Time
}

// NewRateLimiter creates a limiter; a non-positive rate disables limiting
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(limit, burst)}
}

// Wait blocks until a request may be sent, honouring any backoff window
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	retryAt := r.retryAt
	r.mu.Unlock()

	if d := time.Until(retryAt); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return r.limiter.Wait(ctx)
}

// Backoff blocks all requests for d (DefaultBackoff when d <= 0)
func (r *RateLimiter) Backoff(d time.Duration) {
	if d <= 0 {
		d = DefaultBackoff
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if at := time.Now().Add(d); at.After(r.retryAt) {
		r.retryAt = at
	}
}

// Allow reports whether a request may be sent now without blocking
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	retryAt := r.retryAt
	r.mu.Unlock()

	if time.Now().Before(retryAt) {
		return false
	}
	return r.limiter.Allow()
}

// limitedCorpus waits on a RateLimiter before every call
type limitedCorpus struct {
	next    Corpus
	limiter *RateLimiter
}

// WithRateLimit wraps c so every call waits on limiter first
func WithRateLimit(c Corpus, limiter *RateLimiter) Corpus {
	if limiter == nil {
		return c
	}
	return &limitedCorpus{next: c, limiter: limiter}
}

func (l *limitedCorpus) ListFiles(ctx context.Context) ([]File, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, Unavailable("list files", err)
	}
	return l.next.ListFiles(ctx)
}

func (l *limitedCorpus) Download(ctx context.Context, id string) (*Content, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, Unavailable("download "+id, err)
	}
	return l.next.Download(ctx, id)
}
