// Package registry is the authoritative Model catalog: lifecycle, capacity
// eviction, capability queries, and durable persistence, grounded on the
// ferro-labs-ai-gateway pack member's Catalog/Pricing/Capabilities shape and
// its simple name->Provider registry, generalized per spec §4.F.
package registry

import (
	"time"

	"github.com/latticeforge/coregate/internal/providers"
)

// LifecycleState is a Model's position in the registered -> loaded -> ready
// <-> degraded -> unloaded -> evicted lifecycle of spec §3.
type LifecycleState string

const (
	StateRegistered LifecycleState = "registered"
	StateLoaded     LifecycleState = "loaded"
	StateReady      LifecycleState = "ready"
	StateDegraded   LifecycleState = "degraded"
	StateUnloaded   LifecycleState = "unloaded"
	StateEvicted    LifecycleState = "evicted"
)

// Health summarizes a model's most recent health probe outcome.
type Health struct {
	Healthy   bool
	LatencyMs int64
	CheckedAt time.Time
}

// Metrics accumulates per-model usage counters the Registry exposes to
// observers; the Router and SLA plane read these via snapshot, never by
// holding a reference into the Registry's internal state.
type Metrics struct {
	RequestCount   int64
	FailureCount   int64
	TotalLatencyMs int64
	LastUsedAt     time.Time
}

// Model is the Registry's authoritative record for one adapter-servable
// model, per spec §3's data model.
type Model struct {
	ID                string
	Family            string
	Format            string
	Provider          string
	ContextWindow     int
	MaxOutput         int
	Capabilities      []string
	CostPerMTokensIn  float64
	CostPerMTokensOut float64
	// Quality and SpeedScore are static per-model tier baselines (0..1),
	// supplied at registration time by the provider catalog; the Router
	// blends them with live Health and cost data rather than measuring
	// quality/speed itself.
	Quality           float64
	SpeedScore        float64
	Health            Health
	Loaded            bool
	State             LifecycleState
	Metrics           Metrics
	CreatedAt         time.Time
}

// HasCapability reports whether the model declares cap.
func (m Model) HasCapability(cap string) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// adapterHandle is the Registry's private binding of a Model to the
// providers.Adapter that serves it, plus an in-flight reference count so
// Unload can be deferred until outstanding calls complete (spec §5's
// shared-resource policy).
type adapterHandle struct {
	adapter  providers.Adapter
	inFlight int
}
