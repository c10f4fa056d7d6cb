package security

import (
	"fmt"
	"net/http"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/juju/ratelimit"

	"github.com/JamesGuthrie/httpserve/internal/logging"
	"github.com/JamesGuthrie/httpserve/pkg/utils"
)

const defaultClients = 10000

// RateLimitConfig configures a RateLimiter.
type RateLimitConfig struct {
	// Rate refills each client's bucket at this many requests per second.
	Rate float64
	// Burst is the bucket capacity. Defaults to Rate rounded up.
	Burst int64
	// Clients bounds how many buckets are tracked. The least recently
	// seen client is forgotten first.
	Clients int
}

// RateLimiter throttles requests per client IP with token buckets.
type RateLimiter struct {
	cfg     RateLimitConfig
	buckets *lru.Cache[string, *ratelimit.Bucket]
	logger  *logging.LoggerWithFields
}

// NewRateLimiter creates a limiter. Rate must be positive.
func NewRateLimiter(cfg RateLimitConfig, logger *logging.Logger) (*RateLimiter, error) {
	if cfg.Rate <= 0 {
		return nil, fmt.Errorf("rate limit must be positive, got %v", cfg.Rate)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int64(cfg.Rate)
		if float64(cfg.Burst) < cfg.Rate {
			cfg.Burst++
		}
	}
	if cfg.Clients <= 0 {
		cfg.Clients = defaultClients
	}
	if logger == nil {
		logger = logging.NewDiscard()
	}

	buckets, err := lru.New[string, *ratelimit.Bucket](cfg.Clients)
	if err != nil {
		return nil, fmt.Errorf("create bucket table: %w", err)
	}

	return &RateLimiter{
		cfg:     cfg,
		buckets: buckets,
		logger:  logger.WithFields(map[string]interface{}{"component": "ratelimit"}),
	}, nil
}

// Allow takes a token from key's bucket and reports whether one was
// available. It never blocks.
func (l *RateLimiter) Allow(key string) bool {
	bucket, ok := l.buckets.Get(key)
	if !ok {
		bucket = ratelimit.NewBucketWithRate(l.cfg.Rate, l.cfg.Burst)
		if prev, found, _ := l.buckets.PeekOrAdd(key, bucket); found {
			bucket = prev
		}
	}
	return bucket.TakeAvailable(1) == 1
}

// Tracked is the number of clients with a live bucket.
func (l *RateLimiter) Tracked() int {
	return l.buckets.Len()
}

// Middleware answers 429 once a client's bucket is empty. Clients are keyed
// by socket address so proxy headers cannot be used to dodge the limit.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := utils.RemoteIP(r)

		if !l.Allow(ip) {
			l.logger.Warning("Client rate limited", map[string]interface{}{
				"ip":   ip,
				"path": r.URL.Path,
			})
			w.Header().Set("Retry-After", "1")
			http.Error(w, "429 too many requests", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}
