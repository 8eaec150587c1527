package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSingleFlightCache_OneBuildPerKey(t *testing.T) {
	ctx := context.Background()
	backend := NewLRUMemoryCache(ctx, 0)
	defer backend.Close()

	sf := NewSingleFlightCache(backend)

	var builds int64
	build := func(context.Context) ([]byte, error) {
		atomic.AddInt64(&builds, 1)
		time.Sleep(20 * time.Millisecond)
		return []byte("hello"), nil
	}

	var wg sync.WaitGroup
	results := make([]Result, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := sf.GetOrBuild(ctx, "k1", time.Minute, build)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[i] = r
		}(i)
	}
	wg.Wait()

	if atomic.LoadInt64(&builds) != 1 {
		t.Errorf("expected exactly one build for concurrent callers on the same key, got %d", builds)
	}
	for i, r := range results {
		if string(r.Value) != "hello" {
			t.Errorf("result %d: expected 'hello', got %q", i, r.Value)
		}
	}
}

func TestSingleFlightCache_HitAfterBuild(t *testing.T) {
	ctx := context.Background()
	backend := NewLRUMemoryCache(ctx, 0)
	defer backend.Close()

	sf := NewSingleFlightCache(backend)
	build := func(context.Context) ([]byte, error) { return []byte("v1"), nil }

	r1, _ := sf.GetOrBuild(ctx, "k1", time.Minute, build)
	if r1.Cached {
		t.Error("first call should not be a cache hit")
	}

	r2, _ := sf.GetOrBuild(ctx, "k1", time.Minute, build)
	if !r2.Cached {
		t.Error("second call within TTL should be a cache hit")
	}
	if string(r2.Value) != "v1" {
		t.Errorf("expected cached value v1, got %q", r2.Value)
	}
}

func TestDeriveKey_StableForEquivalentFields(t *testing.T) {
	temp := 0.0
	maxTok := 5
	k1 := DeriveKey(KeyFields{ModelID: "m1", MessagesOrPrompt: "hi", Temperature: &temp, MaxTokens: &maxTok})
	k2 := DeriveKey(KeyFields{ModelID: "m1", MessagesOrPrompt: "hi", Temperature: &temp, MaxTokens: &maxTok})
	if k1 != k2 {
		t.Error("identical fields must derive identical keys")
	}

	k3 := DeriveKey(KeyFields{ModelID: "m2", MessagesOrPrompt: "hi", Temperature: &temp, MaxTokens: &maxTok})
	if k1 == k3 {
		t.Error("differing modelId must derive different keys")
	}
}
