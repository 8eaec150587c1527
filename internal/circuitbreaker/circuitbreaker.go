// Package circuitbreaker implements a per-(adapter, operation) failure
// isolation state machine: CLOSED -> OPEN -> HALF_OPEN -> CLOSED.
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/latticeforge/coregate/internal/clock"
	"github.com/latticeforge/coregate/pkg/apierr"
)

// State is the operational state of one breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Config tunes a breaker. ErrorThresholdPct is evaluated only once
// requestCount has reached VolumeThreshold, per spec §4.B.
type Config struct {
	TimeoutMs         int
	ErrorThresholdPct float64
	VolumeThreshold   int
	ResetAfterMs      int
}

func (c Config) withDefaults() Config {
	if c.TimeoutMs <= 0 {
		c.TimeoutMs = 30_000
	}
	if c.ErrorThresholdPct <= 0 {
		c.ErrorThresholdPct = 50
	}
	if c.VolumeThreshold <= 0 {
		c.VolumeThreshold = 5
	}
	if c.ResetAfterMs <= 0 {
		c.ResetAfterMs = 30_000
	}
	return c
}

// Event describes a breaker state transition, emitted to subscribers.
type Event struct {
	Key   string
	From  State
	To    State
	At    time.Time
}

// record is the per-(adapter,operation) circuit record (CircuitRecord in
// the data model).
type record struct {
	mu            sync.Mutex
	state         State
	failureCount  int
	successCount  int
	requestCount  int
	lastFailureAt time.Time
	nextAttemptAt time.Time
	probeInflight bool
}

// Breaker manages independent circuits keyed by "adapterID:operation". Safe
// for concurrent use.
type Breaker struct {
	mu       sync.RWMutex
	records  map[string]*record
	cfg      Config
	clock    clock.Clock
	subsMu   sync.Mutex
	subs     []chan Event
}

// New creates a Breaker with the given tuning config and clock source.
// A nil clock uses the real wall clock.
func New(cfg Config, c clock.Clock) *Breaker {
	if c == nil {
		c = clock.Real{}
	}
	return &Breaker{
		records: make(map[string]*record),
		cfg:     cfg.withDefaults(),
		clock:   c,
	}
}

// Key builds the canonical circuit key for an adapter+operation pair.
func Key(adapterID, operation string) string {
	return adapterID + ":" + operation
}

func (b *Breaker) getOrCreate(key string) *record {
	b.mu.RLock()
	r, ok := b.records[key]
	b.mu.RUnlock()
	if ok {
		return r
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok = b.records[key]; ok {
		return r
	}
	r = &record{state: Closed}
	b.records[key] = r
	return r
}

// Subscribe registers a channel that receives state-change events. The
// channel is never closed by the Breaker; callers should range over it in a
// goroutine and stop when their own context ends.
func (b *Breaker) Subscribe(buf int) <-chan Event {
	ch := make(chan Event, buf)
	b.subsMu.Lock()
	b.subs = append(b.subs, ch)
	b.subsMu.Unlock()
	return ch
}

func (b *Breaker) emit(ev Event) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// drop-oldest: make room, then try once more
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// Allow reports whether a call for key may proceed right now, performing the
// OPEN -> HALF_OPEN transition as a side effect when the reset window has
// elapsed. At most one probe is admitted in HALF_OPEN.
func (b *Breaker) Allow(key string) bool {
	r := b.getOrCreate(key)
	r.mu.Lock()
	defer r.mu.Unlock()

	now := b.clock.Now()
	switch r.state {
	case Closed:
		return true
	case Open:
		if !now.Before(r.nextAttemptAt) {
			r.state = HalfOpen
			r.probeInflight = true
			b.emit(Event{Key: key, From: Open, To: HalfOpen, At: now})
			return true
		}
		return false
	case HalfOpen:
		if r.probeInflight {
			return false
		}
		r.probeInflight = true
		return true
	}
	return true
}

// RecordSuccess reports a successful call for key.
func (b *Breaker) RecordSuccess(key string) {
	r := b.getOrCreate(key)
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requestCount++
	r.successCount++
	r.probeInflight = false

	if r.state != Closed {
		prev := r.state
		r.state = Closed
		r.failureCount = 0
		r.requestCount = 0
		r.successCount = 0
		b.emit(Event{Key: key, From: prev, To: Closed, At: b.clock.Now()})
	}
}

// RecordFailure reports a failed or timed-out call for key, tripping the
// breaker once requestCount >= VolumeThreshold and the failure ratio meets
// ErrorThresholdPct.
func (b *Breaker) RecordFailure(key string) {
	r := b.getOrCreate(key)
	r.mu.Lock()
	defer r.mu.Unlock()

	now := b.clock.Now()
	r.requestCount++
	r.failureCount++
	r.lastFailureAt = now
	r.probeInflight = false

	if r.state == HalfOpen {
		r.state = Open
		r.nextAttemptAt = now.Add(time.Duration(b.cfg.ResetAfterMs) * time.Millisecond)
		b.emit(Event{Key: key, From: HalfOpen, To: Open, At: now})
		return
	}

	if r.requestCount >= b.cfg.VolumeThreshold {
		ratio := float64(r.failureCount) / float64(r.requestCount) * 100
		if ratio >= b.cfg.ErrorThresholdPct && r.state != Open {
			r.state = Open
			r.nextAttemptAt = now.Add(time.Duration(b.cfg.ResetAfterMs) * time.Millisecond)
			b.emit(Event{Key: key, From: Closed, To: Open, At: now})
		}
	}
}

// State returns the current state for key.
func (b *Breaker) State(key string) State {
	r := b.getOrCreate(key)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// NextAttemptAt returns when an OPEN breaker becomes eligible for a probe.
// Used by the router's best-effort fallback when every candidate is OPEN.
func (b *Breaker) NextAttemptAt(key string) time.Time {
	r := b.getOrCreate(key)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextAttemptAt
}

// Call runs fn under the breaker's protection for key, applying the
// per-attempt timeout and recording the outcome. Returns apierr.KindCircuitOpen
// when the breaker is not admitting calls.
func (b *Breaker) Call(ctx context.Context, key string, fn func(context.Context) error) error {
	if !b.Allow(key) {
		return apierr.New(apierr.KindCircuitOpen, "circuit open for "+key)
	}

	timeout := time.Duration(b.cfg.TimeoutMs) * time.Millisecond
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(callCtx)
	if err == nil {
		b.RecordSuccess(key)
		return nil
	}

	if callCtx.Err() == context.DeadlineExceeded {
		b.RecordFailure(key)
		return apierr.New(apierr.KindTimeout, "attempt timed out for "+key)
	}
	if ctx.Err() == context.Canceled {
		// Caller cancellation is not a breaker-visible failure.
		return apierr.New(apierr.KindCancelled, "request cancelled")
	}
	b.RecordFailure(key)
	return err
}
