package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"
)

// KeyFields is the canonical set of request fields the cache key is derived
// from, per spec §4.D: modelId, the normalized prompt/messages, and the
// deterministic subset of options.
type KeyFields struct {
	ModelID         string         `json:"modelId"`
	MessagesOrPrompt any           `json:"messagesOrPrompt"`
	Temperature     *float64       `json:"temperature,omitempty"`
	TopP            *float64       `json:"topP,omitempty"`
	TopK            *int           `json:"topK,omitempty"`
	MaxTokens       *int           `json:"maxTokens,omitempty"`
	Stop            []string       `json:"stop,omitempty"`
	Seed            *int64         `json:"seed,omitempty"`
	ResponseFormat  string         `json:"responseFormat,omitempty"`
}

// DeriveKey produces the canonical cache key: a SHA-256 hex digest of the
// JSON encoding of fields, with Stop sorted first. Go's encoding/json already
// emits object keys in the order struct fields are declared, which is
// deterministic for a fixed type — KeyFields is declared in a fixed field
// order specifically so this holds without a separate canonicalization pass.
func DeriveKey(fields KeyFields) string {
	if fields.Stop != nil {
		sorted := append([]string(nil), fields.Stop...)
		sort.Strings(sorted)
		fields.Stop = sorted
	}
	b, _ := json.Marshal(fields)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// SingleFlightCache wraps a Cache backend with at-most-one-concurrent-build
// semantics per key, per spec §4.D. Concurrent GetOrBuild calls for the same
// key share one in-flight build; only the leader invokes build.
type SingleFlightCache struct {
	backend Cache
	group   singleflight.Group
}

// NewSingleFlightCache wraps backend.
func NewSingleFlightCache(backend Cache) *SingleFlightCache {
	return &SingleFlightCache{backend: backend}
}

// Result is what GetOrBuild returns: whether the value was served from
// cache, and whether the caller was the single-flight leader (built it).
type Result struct {
	Value  []byte
	Cached bool
	Leader bool
}

// GetOrBuild returns the cached value for key if present; otherwise it
// ensures exactly one concurrent caller invokes build, and every caller
// (leader and waiters) receives the built value. If ctx is cancelled while
// waiting on another goroutine's build, the wait returns ctx.Err() without
// affecting the leader's build, which proceeds to populate the cache for any
// other waiters (see spec §5: "leader cancels... next waiter promoted").
func (c *SingleFlightCache) GetOrBuild(ctx context.Context, key string, ttl time.Duration, build func(context.Context) ([]byte, error)) (Result, error) {
	if v, ok := c.backend.Get(ctx, key); ok {
		return Result{Value: v, Cached: true}, nil
	}

	type outcome struct {
		data []byte
		err  error
	}
	ch := make(chan outcome, 1)
	var built bool

	go func() {
		// The build runs detached from any single waiter's ctx so a
		// cancelling leader still lets other waiters receive a result.
		v, err, _ := c.group.Do(key, func() (any, error) {
			built = true
			data, err := build(context.Background())
			if err != nil {
				return nil, err
			}
			if ttl > 0 {
				_ = c.backend.Set(context.Background(), key, data, ttl)
			}
			return data, nil
		})
		if err != nil {
			ch <- outcome{err: err}
			return
		}
		ch <- outcome{data: v.([]byte)}
	}()

	select {
	case o := <-ch:
		if o.err != nil {
			return Result{}, o.err
		}
		return Result{Value: o.data, Cached: false, Leader: built}, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (c *SingleFlightCache) Get(ctx context.Context, key string) ([]byte, bool) {
	return c.backend.Get(ctx, key)
}

func (c *SingleFlightCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.backend.Set(ctx, key, value, ttl)
}

func (c *SingleFlightCache) Delete(ctx context.Context, key string) error {
	return c.backend.Delete(ctx, key)
}

// Invalidate is an alias for Delete matching spec.md's operation name.
func (c *SingleFlightCache) Invalidate(ctx context.Context, key string) error {
	return c.Delete(ctx, key)
}
