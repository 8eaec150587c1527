package tenancy

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Metric names the SLA dimensions spec §3 defines.
type Metric string

const (
	MetricUptime    Metric = "uptime"
	MetricLatency   Metric = "latency"
	MetricErrorRate Metric = "errorRate"
	MetricThroughput Metric = "throughput"
	MetricQuality   Metric = "quality"
)

// Operator compares an aggregate against an SLA target.
type Operator string

const (
	OpGTE Operator = ">="
	OpLTE Operator = "<="
	OpGT  Operator = ">"
	OpLT  Operator = "<"
)

func (o Operator) evaluate(aggregate, target float64) bool {
	switch o {
	case OpGTE:
		return aggregate >= target
	case OpLTE:
		return aggregate <= target
	case OpGT:
		return aggregate > target
	case OpLT:
		return aggregate < target
	default:
		return false
	}
}

// Severity classifies a breach by deviation magnitude.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// SLA is one service-level objective, per spec §3.
type SLA struct {
	ID       string
	Scope    string // "tenant:<id>" or "global"
	Metric   Metric
	Target   float64
	Operator Operator
	Window   time.Duration
}

// Sample is one (metric, value, timestamp) observation for a scope.
type Sample struct {
	Scope     string
	Metric    Metric
	Value     float64
	Timestamp time.Time
}

// Breach records an open or resolved SLA violation.
type Breach struct {
	ID         string
	SLAID      string
	Scope      string
	Metric     Metric
	Severity   Severity
	OpenedAt   time.Time
	ResolvedAt time.Time
	Escalated  bool
}

// alertCooldown is how long consecutive breach alerts for the same
// (scope, metric) are deduplicated.
const alertCooldown = 5 * time.Minute

// escalateAfter is how long an unresolved breach must persist before its
// severity is escalated one tier.
const escalateAfter = 15 * time.Minute

// Evaluator continuously appends samples and evaluates SLA windows,
// opening/recovering/escalating Breach entities, with ClickHouse-backed
// persistence of samples, breaches, and the audit trail — the one
// naturally time-series-shaped entity family in spec §6, and the first
// consumer of the teacher's declared-but-unused clickhouse-go dependency.
type Evaluator struct {
	mu        sync.Mutex
	slas      []SLA
	samples   map[string][]Sample // scope+metric -> samples within retention
	breaches  map[string]*Breach  // (slaID) -> current open breach, if any
	lastAlert map[string]time.Time

	conn driver.Conn
}

// NewEvaluator creates an in-memory Evaluator with no durable persistence
// (acceptable for tests); WithConn attaches a ClickHouse connection.
func NewEvaluator(slas []SLA) *Evaluator {
	return &Evaluator{
		slas:      slas,
		samples:   make(map[string][]Sample),
		breaches:  make(map[string]*Breach),
		lastAlert: make(map[string]time.Time),
	}
}

func sampleKey(scope string, metric Metric) string {
	return scope + "\x00" + string(metric)
}

// Record appends a sample and evaluates every SLA bound to its
// (scope, metric). Returns any Breach transition (opened/recovered/
// escalated) that occurred, or nil if nothing changed.
func (e *Evaluator) Record(s Sample) *Breach {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := sampleKey(s.Scope, s.Metric)
	e.samples[key] = append(e.samples[key], s)
	e.persistSample(s)

	var transition *Breach
	for _, sla := range e.slas {
		if sla.Scope != s.Scope || sla.Metric != s.Metric {
			continue
		}
		if t := e.evaluateLocked(sla, s.Timestamp); t != nil {
			transition = t
		}
	}
	return transition
}

func (e *Evaluator) evaluateLocked(sla SLA, now time.Time) *Breach {
	windowed := windowSamples(e.samples[sampleKey(sla.Scope, sla.Metric)], now, sla.Window)
	if len(windowed) == 0 {
		return nil
	}
	aggregate := avg(windowed)
	violated := !sla.Operator.evaluate(aggregate, sla.Target)

	existing, hasOpen := e.breaches[sla.ID]
	switch {
	case violated && !hasOpen:
		b := &Breach{
			ID:       sla.ID + ":" + now.Format(time.RFC3339Nano),
			SLAID:    sla.ID,
			Scope:    sla.Scope,
			Metric:   sla.Metric,
			Severity: severityFor(aggregate, sla.Target, sla.Operator),
			OpenedAt: now,
		}
		e.breaches[sla.ID] = b
		e.fanOut(b, now)
		e.persistBreach(*b)
		return b

	case violated && hasOpen:
		if !existing.Escalated && now.Sub(existing.OpenedAt) >= escalateAfter {
			existing.Escalated = true
			existing.Severity = escalate(existing.Severity)
			e.fanOut(existing, now)
			e.persistBreach(*existing)
			return existing
		}
		return nil

	case !violated && hasOpen:
		existing.ResolvedAt = now
		delete(e.breaches, sla.ID)
		e.persistBreach(*existing)
		return existing

	default:
		return nil
	}
}

// fanOut emits one alert per (scope, metric), deduped within alertCooldown.
func (e *Evaluator) fanOut(b *Breach, now time.Time) {
	key := sampleKey(b.Scope, b.Metric)
	if last, ok := e.lastAlert[key]; ok && now.Sub(last) < alertCooldown {
		return
	}
	e.lastAlert[key] = now
	e.persistAudit(fmt.Sprintf("sla_breach scope=%s metric=%s severity=%s", b.Scope, b.Metric, b.Severity))
}

func windowSamples(samples []Sample, now time.Time, window time.Duration) []Sample {
	cutoff := now.Add(-window)
	out := make([]Sample, 0, len(samples))
	for _, s := range samples {
		if !s.Timestamp.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

func avg(samples []Sample) float64 {
	sum := 0.0
	for _, s := range samples {
		sum += s.Value
	}
	return sum / float64(len(samples))
}

// Percentile returns the p-th percentile (0..100) of samples' values.
func Percentile(samples []Sample, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	vals := make([]float64, len(samples))
	for i, s := range samples {
		vals[i] = s.Value
	}
	sort.Float64s(vals)
	idx := int(math.Ceil(p/100*float64(len(vals)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(vals) {
		idx = len(vals) - 1
	}
	return vals[idx]
}

func severityFor(aggregate, target float64, op Operator) Severity {
	deviation := math.Abs(aggregate-target) / math.Max(math.Abs(target), 1e-9)
	switch {
	case deviation >= 0.5:
		return SeverityCritical
	case deviation >= 0.2:
		return SeverityMajor
	default:
		return SeverityMinor
	}
}

func escalate(s Severity) Severity {
	switch s {
	case SeverityMinor:
		return SeverityMajor
	default:
		return SeverityCritical
	}
}

func (e *Evaluator) persistSample(s Sample) {
	if e.conn == nil {
		return
	}
	_ = e.conn.Exec(context.Background(),
		`INSERT INTO metricsTimeSeries (scope, metric, value, ts) VALUES (?, ?, ?, ?)`,
		s.Scope, string(s.Metric), s.Value, s.Timestamp)
}

func (e *Evaluator) persistBreach(b Breach) {
	if e.conn == nil {
		return
	}
	_ = e.conn.Exec(context.Background(),
		`INSERT INTO breaches (id, slaId, scope, metric, severity, openedAt, resolvedAt, escalated) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.SLAID, b.Scope, string(b.Metric), string(b.Severity), b.OpenedAt, b.ResolvedAt, b.Escalated)
}

func (e *Evaluator) persistAudit(message string) {
	if e.conn == nil {
		return
	}
	_ = e.conn.Exec(context.Background(),
		`INSERT INTO audit (message, ts) VALUES (?, ?)`, message, time.Now())
}

// WithConn attaches a ClickHouse connection for durable persistence of
// samples, breaches, and the audit trail.
func (e *Evaluator) WithConn(conn driver.Conn) *Evaluator {
	e.conn = conn
	return e
}
