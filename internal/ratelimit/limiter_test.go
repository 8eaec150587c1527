package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/latticeforge/coregate/pkg/apierr"
)

func TestLimiter_TryAdmitWithinBurst(t *testing.T) {
	l := New(nil, BucketConfig{RatePerSecond: 1, Capacity: 3})
	for i := 0; i < 3; i++ {
		if !l.TryAdmit(ScopeTenant, "t1", 1) {
			t.Fatalf("admission %d should succeed within burst capacity", i)
		}
	}
	if l.TryAdmit(ScopeTenant, "t1", 1) {
		t.Error("4th admission should exceed burst capacity")
	}
}

func TestLimiter_ScopesAreIndependent(t *testing.T) {
	l := New(nil, BucketConfig{RatePerSecond: 1, Capacity: 1})
	l.TryAdmit(ScopeTenant, "t1", 1)
	if !l.TryAdmit(ScopeAPIKey, "t1", 1) {
		t.Error("same key under a different scope should have its own bucket")
	}
}

func TestLimiter_WaitCancellation(t *testing.T) {
	l := New(nil, BucketConfig{RatePerSecond: 1, Capacity: 1})
	l.TryAdmit(ScopeIP, "1.2.3.4", 1) // drain the bucket

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx, ScopeIP, "1.2.3.4", 1)
	var apiErr *apierr.Error
	if !apierr.As(err, &apiErr) || apiErr.Kind != apierr.KindCancelled {
		t.Errorf("expected Cancelled on context deadline, got %v", err)
	}
}

func TestLimiter_PerScopeConfig(t *testing.T) {
	l := New(map[Scope]BucketConfig{
		ScopeModel: {RatePerSecond: 100, Capacity: 100},
	}, BucketConfig{RatePerSecond: 1, Capacity: 1})

	for i := 0; i < 50; i++ {
		if !l.TryAdmit(ScopeModel, "m1", 1) {
			t.Fatalf("model-scoped bucket should honor its own higher capacity, failed at %d", i)
		}
	}
}
