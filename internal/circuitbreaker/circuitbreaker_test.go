package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/latticeforge/coregate/internal/clock"
	"github.com/latticeforge/coregate/pkg/apierr"
)

func TestBreaker_InitialState(t *testing.T) {
	b := New(Config{}, nil)
	if b.State("m1:complete") != Closed {
		t.Errorf("new circuit should start closed, got %v", b.State("m1:complete"))
	}
}

func TestBreaker_AllowClosedState(t *testing.T) {
	b := New(Config{}, nil)
	if !b.Allow("m1:complete") {
		t.Error("closed breaker should allow requests")
	}
}

func TestBreaker_StaysClosedBelowVolumeThreshold(t *testing.T) {
	b := New(Config{VolumeThreshold: 5, ErrorThresholdPct: 50}, nil)
	for i := 0; i < 4; i++ {
		b.RecordFailure("m1:complete")
	}
	if b.State("m1:complete") != Closed {
		t.Error("should remain closed below volume threshold regardless of failure ratio")
	}
}

func TestBreaker_OpensAfterThresholdRatio(t *testing.T) {
	b := New(Config{VolumeThreshold: 5, ErrorThresholdPct: 50}, nil)
	for i := 0; i < 5; i++ {
		b.RecordFailure("m1:complete")
	}
	if b.State("m1:complete") != Open {
		t.Errorf("should open once requestCount>=volumeThreshold and ratio>=threshold, got %v", b.State("m1:complete"))
	}
	if b.Allow("m1:complete") {
		t.Error("open breaker should reject requests before resetAfterMs elapses")
	}
}

func TestBreaker_HalfOpenAfterResetWindow(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	b := New(Config{VolumeThreshold: 2, ErrorThresholdPct: 50, ResetAfterMs: 1000}, fc)
	b.RecordFailure("m1:complete")
	b.RecordFailure("m1:complete")
	if b.State("m1:complete") != Open {
		t.Fatalf("expected open, got %v", b.State("m1:complete"))
	}

	fc.Advance(1100 * time.Millisecond)
	if !b.Allow("m1:complete") {
		t.Error("breaker should admit a single probe once resetAfterMs elapses")
	}
	if b.State("m1:complete") != HalfOpen {
		t.Errorf("expected half_open after probe admission, got %v", b.State("m1:complete"))
	}
	if b.Allow("m1:complete") {
		t.Error("second concurrent caller must be rejected while a half-open probe is in flight")
	}
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	b := New(Config{VolumeThreshold: 1, ErrorThresholdPct: 1, ResetAfterMs: 100}, fc)
	b.RecordFailure("m1:complete")
	fc.Advance(200 * time.Millisecond)
	b.Allow("m1:complete") // admits the probe, transitions to half-open
	b.RecordSuccess("m1:complete")
	if b.State("m1:complete") != Closed {
		t.Errorf("first success in half-open should close the breaker, got %v", b.State("m1:complete"))
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	b := New(Config{VolumeThreshold: 1, ErrorThresholdPct: 1, ResetAfterMs: 100}, fc)
	b.RecordFailure("m1:complete")
	fc.Advance(200 * time.Millisecond)
	b.Allow("m1:complete")
	b.RecordFailure("m1:complete")
	if b.State("m1:complete") != Open {
		t.Errorf("failure in half-open should reopen, got %v", b.State("m1:complete"))
	}
}

func TestBreaker_CallReturnsCircuitOpen(t *testing.T) {
	b := New(Config{VolumeThreshold: 1, ErrorThresholdPct: 1}, nil)
	b.RecordFailure("m1:complete")

	err := b.Call(context.Background(), "m1:complete", func(context.Context) error { return nil })
	var apiErr *apierr.Error
	if !apierr.As(err, &apiErr) || apiErr.Kind != apierr.KindCircuitOpen {
		t.Errorf("expected CircuitOpen, got %v", err)
	}
}

func TestBreaker_CallRecordsTimeout(t *testing.T) {
	b := New(Config{TimeoutMs: 10, VolumeThreshold: 1, ErrorThresholdPct: 1}, nil)
	err := b.Call(context.Background(), "m1:complete", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	var apiErr *apierr.Error
	if !apierr.As(err, &apiErr) || apiErr.Kind != apierr.KindTimeout {
		t.Errorf("expected Timeout, got %v", err)
	}
	if b.State("m1:complete") != Open {
		t.Error("the recorded timeout should have tripped the breaker")
	}
}

func TestBreaker_CallPassesThroughUnderlyingError(t *testing.T) {
	b := New(Config{}, nil)
	want := errors.New("boom")
	err := b.Call(context.Background(), "m1:complete", func(context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Errorf("expected underlying error to propagate, got %v", err)
	}
}
