package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/latticeforge/coregate/pkg/apierr"
)

// Scope names the admission dimension a bucket is keyed on, per spec §4.C.
type Scope string

const (
	ScopeTenant Scope = "tenant"
	ScopeAPIKey Scope = "apiKey"
	ScopeIP     Scope = "ip"
	ScopeModel  Scope = "model"
)

// BucketConfig tunes a single (scope) class of buckets.
type BucketConfig struct {
	RatePerSecond float64
	Capacity      int
}

// Limiter is a token-bucket admission controller keyed by (scope, key).
// Buckets are created lazily on first use and never expire; callers with a
// bounded key space (tenants, api keys) are expected, consistent with the
// teacher's per-workspace RPM limiter.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	configs  map[Scope]BucketConfig
	fallback BucketConfig
}

// New creates a Limiter. configs supplies per-scope tuning; scopes absent
// from configs use fallback.
func New(configs map[Scope]BucketConfig, fallback BucketConfig) *Limiter {
	if fallback.RatePerSecond <= 0 {
		fallback.RatePerSecond = 10
	}
	if fallback.Capacity <= 0 {
		fallback.Capacity = int(fallback.RatePerSecond)
	}
	if fallback.Capacity < 1 {
		fallback.Capacity = 1
	}
	return &Limiter{
		buckets:  make(map[string]*rate.Limiter),
		configs:  configs,
		fallback: fallback,
	}
}

func bucketID(scope Scope, key string) string {
	return string(scope) + "\x00" + key
}

func (l *Limiter) bucket(scope Scope, key string) *rate.Limiter {
	id := bucketID(scope, key)

	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[id]; ok {
		return b
	}

	cfg, ok := l.configs[scope]
	if !ok {
		cfg = l.fallback
	}
	b := rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Capacity)
	l.buckets[id] = b
	return b
}

// TryAdmit attempts to consume `tokens` from the (scope, key) bucket
// immediately, returning false without blocking if insufficient tokens are
// available.
func (l *Limiter) TryAdmit(scope Scope, key string, tokens int) bool {
	return l.bucket(scope, key).AllowN(time.Now(), tokens)
}

// Wait blocks until `tokens` are admitted for (scope, key) or ctx is
// cancelled. On cancellation it returns a Cancelled error and consumes no
// tokens, per spec §4.C.
func (l *Limiter) Wait(ctx context.Context, scope Scope, key string, tokens int) error {
	b := l.bucket(scope, key)
	if err := b.WaitN(ctx, tokens); err != nil {
		// Within the burst, WaitN fails only because of ctx: it is done, or
		// its deadline falls before the tokens would be available.
		if ctx.Err() != nil || tokens <= b.Burst() {
			return apierr.New(apierr.KindCancelled, "rate limiter wait cancelled")
		}
		return apierr.New(apierr.KindRateLimited, "rate limited: "+err.Error())
	}
	return nil
}
