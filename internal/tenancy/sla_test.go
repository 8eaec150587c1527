package tenancy_test

import (
	"testing"
	"time"

	"github.com/latticeforge/coregate/internal/tenancy"
)

func TestEvaluator_RecordWithinTargetOpensNoBreach(t *testing.T) {
	now := time.Now()
	eval := tenancy.NewEvaluator([]tenancy.SLA{
		{ID: "sla-1", Scope: "tenant:a", Metric: tenancy.MetricLatency, Target: 500, Operator: tenancy.OpLTE, Window: time.Minute},
	})

	b := eval.Record(tenancy.Sample{Scope: "tenant:a", Metric: tenancy.MetricLatency, Value: 100, Timestamp: now})
	if b != nil {
		t.Fatalf("expected no breach, got %+v", b)
	}
}

func TestEvaluator_ViolationOpensBreachWithSeverity(t *testing.T) {
	now := time.Now()
	eval := tenancy.NewEvaluator([]tenancy.SLA{
		{ID: "sla-1", Scope: "tenant:a", Metric: tenancy.MetricLatency, Target: 500, Operator: tenancy.OpLTE, Window: time.Minute},
	})

	b := eval.Record(tenancy.Sample{Scope: "tenant:a", Metric: tenancy.MetricLatency, Value: 2000, Timestamp: now})
	if b == nil {
		t.Fatal("expected a breach to open")
	}
	if b.Severity == "" {
		t.Error("expected a non-empty severity")
	}
	if !b.ResolvedAt.IsZero() {
		t.Error("expected ResolvedAt to be zero while breach is open")
	}
	if !b.OpenedAt.Equal(now) {
		t.Errorf("expected OpenedAt=%v, got %v", now, b.OpenedAt)
	}
}

func TestEvaluator_RecoveryClosesBreach(t *testing.T) {
	now := time.Now()
	eval := tenancy.NewEvaluator([]tenancy.SLA{
		{ID: "sla-1", Scope: "tenant:a", Metric: tenancy.MetricLatency, Target: 500, Operator: tenancy.OpLTE, Window: time.Minute},
	})

	eval.Record(tenancy.Sample{Scope: "tenant:a", Metric: tenancy.MetricLatency, Value: 2000, Timestamp: now})

	later := now.Add(2 * time.Minute)
	recovery := eval.Record(tenancy.Sample{Scope: "tenant:a", Metric: tenancy.MetricLatency, Value: 100, Timestamp: later})
	if recovery == nil {
		t.Fatal("expected a recovery transition")
	}
	if recovery.ResolvedAt.IsZero() {
		t.Error("expected ResolvedAt to be set on recovery")
	}
}

func TestEvaluator_UnresolvedBreachEscalatesAfterDuration(t *testing.T) {
	now := time.Now()
	eval := tenancy.NewEvaluator([]tenancy.SLA{
		{ID: "sla-1", Scope: "tenant:a", Metric: tenancy.MetricErrorRate, Target: 0.01, Operator: tenancy.OpLTE, Window: time.Hour},
	})

	opened := eval.Record(tenancy.Sample{Scope: "tenant:a", Metric: tenancy.MetricErrorRate, Value: 0.5, Timestamp: now})
	if opened == nil {
		t.Fatal("expected breach to open")
	}

	// Still within the escalation window: sample keeps violating but the
	// breach should not escalate again yet.
	soon := now.Add(time.Minute)
	none := eval.Record(tenancy.Sample{Scope: "tenant:a", Metric: tenancy.MetricErrorRate, Value: 0.5, Timestamp: soon})
	if none != nil {
		t.Fatalf("expected no transition before escalation window elapses, got %+v", none)
	}

	later := now.Add(20 * time.Minute)
	escalated := eval.Record(tenancy.Sample{Scope: "tenant:a", Metric: tenancy.MetricErrorRate, Value: 0.5, Timestamp: later})
	if escalated == nil {
		t.Fatal("expected escalation transition")
	}
	if !escalated.Escalated {
		t.Error("expected Escalated=true")
	}
}

func TestPercentile_ComputesExpectedValues(t *testing.T) {
	samples := []tenancy.Sample{
		{Value: 10}, {Value: 20}, {Value: 30}, {Value: 40}, {Value: 50},
	}
	if p50 := tenancy.Percentile(samples, 50); p50 != 30 {
		t.Errorf("expected p50=30, got %v", p50)
	}
	if p100 := tenancy.Percentile(samples, 100); p100 != 50 {
		t.Errorf("expected p100=50, got %v", p100)
	}
}

func TestEvaluator_UnrelatedScopeDoesNotAffectOtherTenant(t *testing.T) {
	now := time.Now()
	eval := tenancy.NewEvaluator([]tenancy.SLA{
		{ID: "sla-a", Scope: "tenant:a", Metric: tenancy.MetricLatency, Target: 500, Operator: tenancy.OpLTE, Window: time.Minute},
		{ID: "sla-b", Scope: "tenant:b", Metric: tenancy.MetricLatency, Target: 500, Operator: tenancy.OpLTE, Window: time.Minute},
	})

	b := eval.Record(tenancy.Sample{Scope: "tenant:a", Metric: tenancy.MetricLatency, Value: 5000, Timestamp: now})
	if b == nil || b.Scope != "tenant:a" {
		t.Fatalf("expected breach scoped to tenant:a, got %+v", b)
	}

	none := eval.Record(tenancy.Sample{Scope: "tenant:b", Metric: tenancy.MetricLatency, Value: 50, Timestamp: now})
	if none != nil {
		t.Fatalf("expected tenant:b to be unaffected, got %+v", none)
	}
}
