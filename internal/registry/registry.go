package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/latticeforge/coregate/internal/providers"
	"github.com/latticeforge/coregate/pkg/apierr"
)

// EventKind names a Registry lifecycle event delivered to Subscribe
// channels. No other package subscribes to them.
type EventKind string

const (
	EventRegistered EventKind = "registered"
	EventLoaded     EventKind = "loaded"
	EventDegraded   EventKind = "degraded"
	EventUnloaded   EventKind = "unloaded"
)

// Event is emitted on every lifecycle transition.
type Event struct {
	Kind    EventKind
	ModelID string
	At      time.Time
}

// Registry is the sole owner of Model objects (spec §3's ownership rule).
// All other components hold only model ids and look up through here.
type Registry struct {
	mu       sync.RWMutex
	models   map[string]*Model
	handles  map[string]*adapterHandle
	lruOrder []string // most-recently-used loaded model id at the back

	maxModels int
	store     Store

	subsMu sync.Mutex
	subs   []chan Event
}

// New creates a Registry. maxModels is the number of *loaded* models at
// which Load first evicts the least-recently-used idle one (0 means
// unbounded); when every loaded model has calls in flight, Load loads past
// it without evicting. store persists state — pass nil for an in-memory-only
// registry (acceptable for tests).
func New(maxModels int, store Store) *Registry {
	return &Registry{
		models:    make(map[string]*Model),
		handles:   make(map[string]*adapterHandle),
		maxModels: maxModels,
		store:     store,
	}
}

// Subscribe registers a channel receiving lifecycle events.
func (r *Registry) Subscribe(buf int) <-chan Event {
	ch := make(chan Event, buf)
	r.subsMu.Lock()
	r.subs = append(r.subs, ch)
	r.subsMu.Unlock()
	return ch
}

func (r *Registry) emit(ev Event) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
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

// Register adds a new Model in state "registered". Required fields {id,
// format, source(Provider)} are validated; duplicate ids are rejected.
func (r *Registry) Register(m Model) error {
	if m.ID == "" || m.Format == "" || m.Provider == "" {
		return apierr.New(apierr.KindInvalidRequest, "model registration requires id, format, and provider")
	}

	r.mu.Lock()
	if _, exists := r.models[m.ID]; exists {
		r.mu.Unlock()
		return apierr.New(apierr.KindInvalidRequest, fmt.Sprintf("model %q already registered", m.ID))
	}
	m.State = StateRegistered
	m.CreatedAt = time.Now()
	r.models[m.ID] = &m
	r.mu.Unlock()

	r.emit(Event{Kind: EventRegistered, ModelID: m.ID, At: time.Now()})
	r.persist()
	return nil
}

// Load binds adapter to modelID and transitions it to "ready", evicting the
// least-recently-used loaded model first if maxModels would be exceeded.
func (r *Registry) Load(ctx context.Context, modelID string, adapter providers.Adapter) error {
	r.mu.Lock()
	m, ok := r.models[modelID]
	if !ok {
		r.mu.Unlock()
		return apierr.New(apierr.KindNotFound, fmt.Sprintf("model %q not registered", modelID))
	}
	if m.Loaded {
		r.mu.Unlock()
		return nil
	}

	if r.maxModels > 0 && r.countLoadedLocked() >= r.maxModels {
		if victim := r.pickEvictionVictimLocked(); victim != "" {
			r.mu.Unlock()
			if err := r.Unload(ctx, victim); err != nil {
				return err
			}
			r.mu.Lock()
		}
	}

	r.handles[modelID] = &adapterHandle{adapter: adapter}
	m.Loaded = true
	m.State = StateReady
	r.touchLRULocked(modelID)
	r.mu.Unlock()

	if err := adapter.Load(ctx, modelID, nil); err != nil {
		r.mu.Lock()
		m.Loaded = false
		m.State = StateRegistered
		delete(r.handles, modelID)
		r.mu.Unlock()
		return err
	}

	r.emit(Event{Kind: EventLoaded, ModelID: modelID, At: time.Now()})
	r.persist()
	return nil
}

// countLoadedLocked must be called with r.mu held.
func (r *Registry) countLoadedLocked() int {
	n := 0
	for _, m := range r.models {
		if m.Loaded {
			n++
		}
	}
	return n
}

// pickEvictionVictimLocked returns the least-recently-used *loaded* model id
// with zero in-flight calls, or "" if none is currently evictable.
func (r *Registry) pickEvictionVictimLocked() string {
	for _, id := range r.lruOrder {
		m, ok := r.models[id]
		if !ok || !m.Loaded {
			continue
		}
		if h, ok := r.handles[id]; ok && h.inFlight > 0 {
			continue
		}
		return id
	}
	return ""
}

// touchLRULocked must be called with r.mu held.
func (r *Registry) touchLRULocked(modelID string) {
	for i, id := range r.lruOrder {
		if id == modelID {
			r.lruOrder = append(r.lruOrder[:i], r.lruOrder[i+1:]...)
			break
		}
	}
	r.lruOrder = append(r.lruOrder, modelID)
}

// Unload releases modelID's adapter binding, deferring until in-flight
// calls complete per spec §5 (polling with a short backoff — this registry
// has no async notification channel for "call finished").
func (r *Registry) Unload(ctx context.Context, modelID string) error {
	for {
		r.mu.Lock()
		h, ok := r.handles[modelID]
		if !ok {
			r.mu.Unlock()
			return nil
		}
		if h.inFlight > 0 {
			r.mu.Unlock()
			select {
			case <-ctx.Done():
				return apierr.New(apierr.KindCancelled, "unload cancelled while draining in-flight calls")
			case <-time.After(10 * time.Millisecond):
				continue
			}
		}

		adapter := h.adapter
		delete(r.handles, modelID)
		if m, ok := r.models[modelID]; ok {
			m.Loaded = false
			m.State = StateUnloaded
		}
		r.mu.Unlock()

		err := adapter.Unload(ctx, modelID)
		r.emit(Event{Kind: EventUnloaded, ModelID: modelID, At: time.Now()})
		r.persist()
		return err
	}
}

// Acquire increments modelID's in-flight call count and returns a release
// func; the Pipeline calls this around every adapter invocation so Unload
// can observe outstanding calls.
func (r *Registry) Acquire(modelID string) (func(), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[modelID]
	if !ok {
		return nil, false
	}
	h.inFlight++
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if h, ok := r.handles[modelID]; ok {
			h.inFlight--
		}
	}, true
}

// InFlight returns the number of calls currently in progress for modelID,
// for the Router's load-aware scoring; 0 for an unloaded or unknown model.
func (r *Registry) InFlight(modelID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handles[modelID]; ok {
		return h.inFlight
	}
	return 0
}

// Adapter returns the bound adapter for a loaded model.
func (r *Registry) Adapter(modelID string) (providers.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[modelID]
	if !ok {
		return nil, false
	}
	return h.adapter, true
}

// Get returns a snapshot copy of modelID's record.
func (r *Registry) Get(modelID string) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[modelID]
	if !ok {
		return Model{}, false
	}
	return *m, true
}

// Filter selects models matching pred.
type Filter func(Model) bool

// List returns snapshot copies of all models matching filter (nil = all),
// sorted by id for deterministic output.
func (r *Registry) List(filter Filter) []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Model, 0, len(r.models))
	for _, m := range r.models {
		if filter == nil || filter(*m) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetByCapability returns loaded, ready-or-degraded models advertising cap.
func (r *Registry) GetByCapability(cap string) []Model {
	return r.List(func(m Model) bool {
		return m.HasCapability(cap) && (m.State == StateReady || m.State == StateDegraded)
	})
}

// GetHealthy returns models currently in the "ready" state.
func (r *Registry) GetHealthy() []Model {
	return r.List(func(m Model) bool { return m.State == StateReady })
}

// SetDegraded flips modelID to "degraded" (still serves, de-prioritized),
// or back to "ready" when healthy resumes.
func (r *Registry) SetDegraded(modelID string, degraded bool) {
	r.mu.Lock()
	m, ok := r.models[modelID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if degraded {
		m.State = StateDegraded
	} else if m.Loaded {
		m.State = StateReady
	}
	r.mu.Unlock()

	if degraded {
		r.emit(Event{Kind: EventDegraded, ModelID: modelID, At: time.Now()})
	}
}

// RecordOutcome adds to a model's cumulative usage metrics and replaces its
// health with this outcome.
func (r *Registry) RecordOutcome(modelID string, latencyMs int64, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.models[modelID]
	if !ok {
		return
	}
	m.Metrics.RequestCount++
	m.Metrics.TotalLatencyMs += latencyMs
	m.Metrics.LastUsedAt = time.Now()
	if !success {
		m.Metrics.FailureCount++
	}
	m.Health = Health{Healthy: success, LatencyMs: latencyMs, CheckedAt: time.Now()}
}

func (r *Registry) persist() {
	if r.store == nil {
		return
	}
	snapshot := r.List(nil)
	if err := r.store.Save(snapshot); err != nil {
		// Persistence failures never fail the caller's operation; the
		// in-memory registry remains authoritative for this process.
		_ = err
	}
}

// LoadFromStore restores the registry from its durable store. Corrupted
// state is logged by the caller and the registry starts empty rather than
// failing, per spec §4.F.
func (r *Registry) LoadFromStore() error {
	if r.store == nil {
		return nil
	}
	models, err := r.store.Load()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range models {
		m := models[i]
		m.Loaded = false
		if m.State == StateReady || m.State == StateLoaded {
			m.State = StateRegistered
		}
		r.models[m.ID] = &m
	}
	return nil
}
