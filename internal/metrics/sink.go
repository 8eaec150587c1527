package metrics

import "sync"

// CounterSink increments a named counter, optionally labeled.
type CounterSink interface {
	Inc(name string, labels ...string)
}

// HistogramSink records an observation against a named histogram.
type HistogramSink interface {
	Observe(name string, v float64, labels ...string)
}

// GaugeSink sets a named gauge's current value.
type GaugeSink interface {
	Set(name string, v float64, labels ...string)
}

// Sink bundles the three generic sink interfaces Component A specifies:
// counters/histograms/gauges behind an interface other components depend
// on, so tests can supply a fake without standing up Prometheus.
type Sink interface {
	CounterSink
	HistogramSink
	GaugeSink
}

// generic adapts a *Registry's domain-specific methods to the generic Sink
// interfaces for components (circuit breaker, rate limiter, cache, router,
// tenancy, observability) that only need "a counter went up" semantics and
// don't want a dependency on the gateway-specific Registry shape.
type generic struct {
	r *Registry
}

// AsSink wraps r as a generic Sink. Names are passed through as Prometheus
// metric names registered lazily on first use.
func (r *Registry) AsSink() Sink { return &generic{r: r} }

func (g *generic) Inc(name string, labels ...string) {
	g.r.genericCounter(name, labels...).Inc()
}

func (g *generic) Observe(name string, v float64, labels ...string) {
	g.r.genericHistogram(name, labels...).Observe(v)
}

func (g *generic) Set(name string, v float64, labels ...string) {
	g.r.genericGauge(name, labels...).Set(v)
}

// NoopSink discards everything. Used by tests and components that run
// without a metrics backend configured.
type NoopSink struct{}

func (NoopSink) Inc(string, ...string)            {}
func (NoopSink) Observe(string, float64, ...string) {}
func (NoopSink) Set(string, float64, ...string)    {}

// MemorySink records every call in-process for assertions in tests.
type MemorySink struct {
	mu     sync.Mutex
	Counts map[string]float64
	Gauges map[string]float64
	Obs    map[string][]float64
}

func NewMemorySink() *MemorySink {
	return &MemorySink{
		Counts: make(map[string]float64),
		Gauges: make(map[string]float64),
		Obs:    make(map[string][]float64),
	}
}

func (m *MemorySink) Inc(name string, _ ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Counts[name]++
}

func (m *MemorySink) Observe(name string, v float64, _ ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Obs[name] = append(m.Obs[name], v)
}

func (m *MemorySink) Set(name string, v float64, _ ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Gauges[name] = v
}
