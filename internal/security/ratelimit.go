package security

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a request exceeds the rate limit.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitConfig holds configurable rate limits.
type RateLimitConfig struct {
	// RequestsPerMin bounds admin API requests per client key.
	RequestsPerMin int `yaml:"requests_per_min"`

	// MessagesPerMin bounds inbound direct messages per sender.
	MessagesPerMin int `yaml:"messages_per_min"`
}

func rateLimitConfigDefaults() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMin: 120,
		MessagesPerMin: 30,
	}
}

// Rate limit kinds.
const (
	KindRequest = "request"
	KindMessage = "message"
)

// RateLimiter implements sliding window rate limiting per (kind, key).
// Each bucket tracks timestamps of recent events within its window.
type RateLimiter struct {
	mu      sync.Mutex
	limits  map[string]int
	window  time.Duration
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	events []time.Time
}

// NewRateLimiter creates a rate limiter with the given config.
// Zero-value fields in cfg are replaced with defaults.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	defaults := rateLimitConfigDefaults()
	if cfg.RequestsPerMin <= 0 {
		cfg.RequestsPerMin = defaults.RequestsPerMin
	}
	if cfg.MessagesPerMin <= 0 {
		cfg.MessagesPerMin = defaults.MessagesPerMin
	}

	return &RateLimiter{
		limits: map[string]int{
			KindRequest: cfg.RequestsPerMin,
			KindMessage: cfg.MessagesPerMin,
		},
		window:  time.Minute,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow records one event of kind for key. It returns ErrRateLimited when
// key already used its budget in the current window. Unknown kinds are
// never limited.
func (rl *RateLimiter) Allow(kind, key string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limit, ok := rl.limits[kind]
	if !ok {
		return nil
	}

	id := kind + "\x00" + key
	b, ok := rl.buckets[id]
	if !ok {
		b = &bucket{}
		rl.buckets[id] = b
	}

	now := rl.now()
	b.evict(now.Add(-rl.window))

	if len(b.events) >= limit {
		return ErrRateLimited
	}

	b.events = append(b.events, now)
	return nil
}

// Prune drops buckets with no events in the current window.
func (rl *RateLimiter) Prune() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.window)
	for id, b := range rl.buckets {
		b.evict(cutoff)
		if len(b.events) == 0 {
			delete(rl.buckets, id)
		}
	}
}

// evict removes events older than cutoff (events are chronologically ordered).
func (b *bucket) evict(cutoff time.Time) {
	i := 0
	for i < len(b.events) && b.events[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.events = b.events[i:]
	}
}
