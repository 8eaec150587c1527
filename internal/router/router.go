// Package router implements strategy-driven model selection: scoring,
// fallback-list construction, and route-decision memoization, grounded on
// the ferro-labs-ai-gateway pack member's internal/strategies family
// (Strategy interface, Fallback's ordered-target retry, LoadBalance's
// weighted-random selection) generalized to a scored candidate set.
package router

import (
	"crypto/sha256"
	"encoding/hex"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/latticeforge/coregate/internal/clock"
	"github.com/latticeforge/coregate/pkg/apierr"
)

// Strategy names a routing policy.
type Strategy string

const (
	QualityFirst    Strategy = "quality-first"
	SpeedPriority   Strategy = "speed-priority"
	CostOptimized   Strategy = "cost-optimized"
	Balanced        Strategy = "balanced"
	RoundRobin      Strategy = "round-robin"
	Random          Strategy = "random"
	CapabilityMatch Strategy = "capability-match"
)

// Weights tunes the score formula for one strategy.
type Weights struct {
	Quality float64
	Speed   float64
	Cost    float64
	Health  float64
}

// defaultWeights mirrors spec's example table; balanced spreads evenly
// across quality/speed/cost with a modest health term, capability-match
// weighs quality/health only since its selection is capability-gated
// upstream.
var defaultWeights = map[Strategy]Weights{
	QualityFirst:    {Quality: 0.8, Speed: 0.1, Cost: 0.05, Health: 0.05},
	SpeedPriority:   {Quality: 0.1, Speed: 0.8, Cost: 0.05, Health: 0.05},
	CostOptimized:   {Quality: 0.1, Speed: 0.1, Cost: 0.75, Health: 0.05},
	Balanced:        {Quality: 0.3, Speed: 0.3, Cost: 0.3, Health: 0.1},
	CapabilityMatch: {Quality: 0.6, Speed: 0.1, Cost: 0.1, Health: 0.2},
}

// Candidate is the router's view of one servable model; the registry
// package is adapted into this shape at wiring time so Router never
// imports Registry directly (spec's interface-seam redesign for the
// Router<->Registry<->Pipeline cycle).
type Candidate struct {
	ID            string
	Quality       float64 // 0..1
	SpeedScore    float64 // 0..1, higher is faster
	CostPerMToken float64 // blended input+output USD per 1M tokens
	HealthScore   float64 // 0..1
	Capabilities  []string
	InFlight      int
}

func (c Candidate) hasCapability(cap string) bool {
	for _, have := range c.Capabilities {
		if have == cap {
			return true
		}
	}
	return false
}

// CandidateSource supplies the current servable candidate set. Concrete
// wiring adapts *registry.Registry to this interface at init.
type CandidateSource interface {
	Candidates() []Candidate
}

// BreakerQuery is the seam onto the circuit breaker's per-key state, used
// for the all-open best-effort fallback. The caller's adapter translates
// its own state enum to an int and passes the matching "open" value as
// Router.openState so this package never imports circuitbreaker directly.
type BreakerQuery interface {
	State(key string) int
	NextAttemptAt(key string) time.Time
}

// Request is the subset of a pipeline request the Router needs.
type Request struct {
	ModelHint      string
	CapabilityDemand []string
	PrincipalAllowedModels map[string]bool // nil means "all allowed"
}

// Decision is the Router's output: an ordered fallback chain.
type Decision struct {
	Chain []string // model ids, primary first
}

var errNoCandidate = apierr.New(apierr.KindNotFound, "no candidate model available")

// cachedDecision is one memoized route decision.
type cachedDecision struct {
	decision  Decision
	expiresAt time.Time
}

// Router selects and orders candidate models per strategy.
type Router struct {
	source  CandidateSource
	clock   clock.Clock
	ttl     time.Duration
	openState int // circuitbreaker.Open's int value, injected to avoid an import cycle risk

	mu    sync.Mutex
	cache map[string]cachedDecision
	rrMu  sync.Mutex
	rrIdx map[string]int
}

// New creates a Router. decisionTTL memoizes route decisions for that long;
// pass 0 to disable memoization. openState should be circuitbreaker.Open
// (passed as int so this package never imports circuitbreaker, keeping the
// dependency direction Pipeline -> Router -> CandidateSource only).
func New(source CandidateSource, c clock.Clock, decisionTTL time.Duration, openState int) *Router {
	if c == nil {
		c = clock.Real{}
	}
	return &Router{
		source:    source,
		clock:     c,
		ttl:       decisionTTL,
		openState: openState,
		cache:     make(map[string]cachedDecision),
		rrIdx:     make(map[string]int),
	}
}

// InvalidateAll purges the route-decision cache. Nothing in this module
// calls it on model health transitions; cached decisions otherwise last
// until their TTL expires.
func (r *Router) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]cachedDecision)
}

// Route selects an ordered fallback chain for req under strategy.
func (r *Router) Route(strategy Strategy, req Request, breaker BreakerQuery) (Decision, error) {
	candidates := r.eligible(req)
	if len(candidates) == 0 {
		return Decision{}, errNoCandidate
	}

	cacheKey := decisionCacheKey(strategy, candidates, req.CapabilityDemand)
	if r.ttl > 0 {
		r.mu.Lock()
		if cached, ok := r.cache[cacheKey]; ok && r.clock.Now().Before(cached.expiresAt) {
			r.mu.Unlock()
			return cached.decision, nil
		}
		r.mu.Unlock()
	}

	if breaker != nil && allOpen(candidates, breaker, r.openState) {
		return r.bestEffortFallback(candidates, breaker), nil
	}

	ordered := r.order(strategy, candidates, req)

	chain := make([]string, 0, len(ordered))
	for _, c := range ordered {
		chain = append(chain, c.ID)
	}
	if req.ModelHint != "" && (req.PrincipalAllowedModels == nil || req.PrincipalAllowedModels[req.ModelHint]) {
		chain = promoteHint(chain, req.ModelHint)
	}
	decision := Decision{Chain: chain}

	if r.ttl > 0 {
		r.mu.Lock()
		r.cache[cacheKey] = cachedDecision{decision: decision, expiresAt: r.clock.Now().Add(r.ttl)}
		r.mu.Unlock()
	}
	return decision, nil
}

// eligible filters the candidate source by capability demand and principal
// allow-list.
func (r *Router) eligible(req Request) []Candidate {
	all := r.source.Candidates()
	out := make([]Candidate, 0, len(all))
	for _, c := range all {
		if req.PrincipalAllowedModels != nil && !req.PrincipalAllowedModels[c.ID] {
			continue
		}
		ok := true
		for _, cap := range req.CapabilityDemand {
			if !c.hasCapability(cap) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, c)
		}
	}
	return out
}

// order ranks candidates per strategy; round-robin and random are handled
// outside the scoring formula since they aren't attribute-weighted.
func (r *Router) order(strategy Strategy, candidates []Candidate, req Request) []Candidate {
	switch strategy {
	case RoundRobin:
		return r.roundRobinOrder(candidates)
	case Random:
		return r.randomOrder(candidates)
	default:
		w, ok := defaultWeights[strategy]
		if !ok {
			w = defaultWeights[Balanced]
		}
		return scoreOrder(candidates, w, req)
	}
}

func scoreOrder(candidates []Candidate, w Weights, req Request) []Candidate {
	maxCost := 0.0
	for _, c := range candidates {
		if c.CostPerMToken > maxCost {
			maxCost = c.CostPerMToken
		}
	}

	type scored struct {
		c     Candidate
		score float64
	}
	out := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		normCost := 0.0
		if maxCost > 0 {
			normCost = c.CostPerMToken / maxCost
		}
		capBonus := 0.0
		for _, cap := range req.CapabilityDemand {
			if c.hasCapability(cap) {
				capBonus += 0.05
			}
		}
		loadPenalty := float64(c.InFlight) * 0.01
		score := w.Quality*c.Quality + w.Speed*c.SpeedScore - w.Cost*normCost + w.Health*c.HealthScore + capBonus - loadPenalty
		out = append(out, scored{c: c, score: score})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		if out[i].c.InFlight != out[j].c.InFlight {
			return out[i].c.InFlight < out[j].c.InFlight
		}
		return out[i].c.ID < out[j].c.ID
	})

	ranked := make([]Candidate, len(out))
	for i, s := range out {
		ranked[i] = s.c
	}
	return ranked
}

// roundRobinOrder rotates the deterministic (id-sorted) candidate list by
// one position on each call, per key set.
func (r *Router) roundRobinOrder(candidates []Candidate) []Candidate {
	sorted := append([]Candidate(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	key := candidateSetKey(sorted)
	r.rrMu.Lock()
	idx := r.rrIdx[key] % len(sorted)
	r.rrIdx[key] = idx + 1
	r.rrMu.Unlock()

	return append(sorted[idx:], sorted[:idx]...)
}

// randomOrder performs a weighted-random shuffle by quality, in the manner
// of the ferro-labs LoadBalance strategy's weighted selection.
func (r *Router) randomOrder(candidates []Candidate) []Candidate {
	pool := append([]Candidate(nil), candidates...)
	out := make([]Candidate, 0, len(pool))
	for len(pool) > 0 {
		total := 0.0
		for _, c := range pool {
			w := c.Quality
			if w <= 0 {
				w = 0.01
			}
			total += w
		}
		target := rand.Float64() * total
		cumulative := 0.0
		pick := len(pool) - 1
		for i, c := range pool {
			w := c.Quality
			if w <= 0 {
				w = 0.01
			}
			cumulative += w
			if target < cumulative {
				pick = i
				break
			}
		}
		out = append(out, pool[pick])
		pool = append(pool[:pick], pool[pick+1:]...)
	}
	return out
}

// allOpen reports whether every candidate's circuit is open.
func allOpen(candidates []Candidate, breaker BreakerQuery, openState int) bool {
	for _, c := range candidates {
		if breaker.State(c.ID) != openState {
			return false
		}
	}
	return true
}

// bestEffortFallback picks the candidate nearest to its reset window and
// forces a HALF_OPEN probe attempt, per spec's all-circuits-open edge case.
func (r *Router) bestEffortFallback(candidates []Candidate, breaker BreakerQuery) Decision {
	best := candidates[0]
	bestAt := breaker.NextAttemptAt(best.ID)
	for _, c := range candidates[1:] {
		at := breaker.NextAttemptAt(c.ID)
		if at.Before(bestAt) {
			best, bestAt = c, at
		}
	}
	return Decision{Chain: []string{best.ID}}
}

func promoteHint(chain []string, hint string) []string {
	out := make([]string, 0, len(chain))
	out = append(out, hint)
	for _, id := range chain {
		if id != hint {
			out = append(out, id)
		}
	}
	return out
}

func candidateSetKey(sorted []Candidate) string {
	ids := make([]string, len(sorted))
	for i, c := range sorted {
		ids[i] = c.ID
	}
	return strings.Join(ids, ",")
}

// decisionCacheKey builds the memoization key of spec §4.H:
// (strategy, sorted candidate ids, normalized capability demand).
func decisionCacheKey(strategy Strategy, candidates []Candidate, capabilityDemand []string) string {
	sorted := append([]Candidate(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	caps := append([]string(nil), capabilityDemand...)
	sort.Strings(caps)

	h := sha256.New()
	h.Write([]byte(strategy))
	h.Write([]byte(candidateSetKey(sorted)))
	h.Write([]byte(strings.Join(caps, ",")))
	return hex.EncodeToString(h.Sum(nil))
}
