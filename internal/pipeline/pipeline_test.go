package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/latticeforge/coregate/internal/cache"
	"github.com/latticeforge/coregate/internal/circuitbreaker"
	"github.com/latticeforge/coregate/internal/clock"
	"github.com/latticeforge/coregate/internal/providers"
	"github.com/latticeforge/coregate/internal/ratelimit"
	"github.com/latticeforge/coregate/internal/registry"
	"github.com/latticeforge/coregate/internal/router"
	"github.com/latticeforge/coregate/pkg/apierr"
)

type scriptedAdapter struct {
	name    string
	replies []func() (*providers.ProxyResponse, error)
	calls   int
}

func (a *scriptedAdapter) Name() string { return a.name }

func (a *scriptedAdapter) Request(ctx context.Context, req *providers.ProxyRequest) (*providers.ProxyResponse, error) {
	i := a.calls
	if i >= len(a.replies) {
		i = len(a.replies) - 1
	}
	a.calls++
	return a.replies[i]()
}

func (a *scriptedAdapter) HealthCheck(ctx context.Context) error { return nil }
func (a *scriptedAdapter) Load(ctx context.Context, modelID string, opts map[string]string) error {
	return nil
}
func (a *scriptedAdapter) Unload(ctx context.Context, modelID string) error { return nil }
func (a *scriptedAdapter) ListModels(ctx context.Context) ([]providers.ModelDescriptor, error) {
	return nil, nil
}
func (a *scriptedAdapter) CostOf(usage providers.Usage, modelID string) providers.Money {
	return providers.Money{USD: 0.01}
}

func ok(text string) func() (*providers.ProxyResponse, error) {
	return func() (*providers.ProxyResponse, error) {
		return &providers.ProxyResponse{Content: text, Usage: providers.Usage{InputTokens: 1, OutputTokens: 1}}, nil
	}
}

func failUpstream() func() (*providers.ProxyResponse, error) {
	return func() (*providers.ProxyResponse, error) {
		return nil, apierr.New(apierr.KindUpstream, "simulated upstream failure")
	}
}

type registrySource struct{ reg *registry.Registry }

func (s registrySource) Candidates() []router.Candidate {
	models := s.reg.GetHealthy()
	out := make([]router.Candidate, 0, len(models))
	for _, m := range models {
		out = append(out, router.Candidate{ID: m.ID, Quality: 0.5, SpeedScore: 0.5, HealthScore: 1})
	}
	return out
}

func newTestPipeline(t *testing.T, adapter *scriptedAdapter) (*Pipeline, *registry.Registry) {
	t.Helper()
	reg := registry.New(0, nil)
	if err := reg.Register(registry.Model{ID: "m1", Format: "chat", Provider: "test"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Load(context.Background(), "m1", adapter); err != nil {
		t.Fatalf("load: %v", err)
	}

	fc := clock.NewFake(time.Now())
	r := router.New(registrySource{reg}, fc, 0, int(circuitbreaker.Open))
	cb := circuitbreaker.New(circuitbreaker.Config{VolumeThreshold: 100}, fc)
	limiter := ratelimit.New(nil, ratelimit.BucketConfig{RatePerSecond: 1000, Capacity: 1000})
	sfCache := cache.NewSingleFlightCache(cache.NewLRUMemoryCache(context.Background(), 100))

	p := New(Config{BaseBackoff: time.Millisecond, StrategyTimeout: time.Second}, Deps{
		Limiter:  limiter,
		Router:   r,
		Breaker:  cb,
		Registry: reg,
		Cache:    sfCache,
		Clock:    fc,
	})
	return p, reg
}

func TestExecute_HappyPath(t *testing.T) {
	p, _ := newTestPipeline(t, &scriptedAdapter{name: "m1", replies: []func() (*providers.ProxyResponse, error){ok("hello")}})

	resp, err := p.Execute(context.Background(), Request{
		ID:      "r1",
		Prompt:  "hi",
		Options: Options{MaxTokens: 16, TimeoutMs: 5000},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "hello" || resp.ModelID != "m1" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestExecute_RejectsInvalidRequest(t *testing.T) {
	p, _ := newTestPipeline(t, &scriptedAdapter{name: "m1", replies: []func() (*providers.ProxyResponse, error){ok("x")}})

	_, err := p.Execute(context.Background(), Request{ID: "r1", Options: Options{MaxTokens: 16, TimeoutMs: 5000}})
	if err == nil {
		t.Fatal("expected validation error for request with neither prompt nor messages")
	}
}

func TestExecute_CachesTerminalSuccessAndServesHitOnSecondCall(t *testing.T) {
	adapter := &scriptedAdapter{name: "m1", replies: []func() (*providers.ProxyResponse, error){ok("cached-response")}}
	p, _ := newTestPipeline(t, adapter)

	req := Request{ID: "r1", Prompt: "same prompt", Options: Options{MaxTokens: 16, TimeoutMs: 5000}}
	first, err := p.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Cached {
		t.Error("first call should not be a cache hit")
	}

	req.ID = "r2"
	second, err := p.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.Cached || second.Text != "cached-response" {
		t.Errorf("expected second call to be served from cache, got %+v", second)
	}
	if adapter.calls != 1 {
		t.Errorf("expected adapter to be called exactly once, got %d", adapter.calls)
	}
}

func TestExecute_RetriesRetryableErrorsThenSucceeds(t *testing.T) {
	adapter := &scriptedAdapter{name: "m1", replies: []func() (*providers.ProxyResponse, error){
		failUpstream(), ok("recovered"),
	}}
	p, _ := newTestPipeline(t, adapter)

	resp, err := p.Execute(context.Background(), Request{
		ID: "r1", Prompt: "retry me", Options: Options{MaxTokens: 16, TimeoutMs: 5000},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "recovered" {
		t.Errorf("expected recovery after retry, got %+v", resp)
	}
	if adapter.calls != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", adapter.calls)
	}
}

func TestExecute_PreMiddlewareShortCircuits(t *testing.T) {
	p, _ := newTestPipeline(t, &scriptedAdapter{name: "m1", replies: []func() (*providers.ProxyResponse, error){ok("unused")}})
	p.Use(func(ctx context.Context, req *Request) (*Response, error) {
		return &Response{ID: req.ID, Text: "short-circuited", FinishReason: FinishStop}, nil
	}, nil)

	resp, err := p.Execute(context.Background(), Request{
		ID: "r1", Prompt: "hi", Options: Options{MaxTokens: 16, TimeoutMs: 5000},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "short-circuited" {
		t.Errorf("expected middleware short-circuit response, got %+v", resp)
	}
}

func TestExecute_QuotaExceededRejectsBeforeRouting(t *testing.T) {
	p, _ := newTestPipeline(t, &scriptedAdapter{name: "m1", replies: []func() (*providers.ProxyResponse, error){ok("unused")}})
	p.quota = alwaysDenyQuota{}

	_, err := p.Execute(context.Background(), Request{
		ID: "r1", TenantID: "t1", Prompt: "hi", Options: Options{MaxTokens: 16, TimeoutMs: 5000},
	})
	if err == nil {
		t.Fatal("expected quota rejection")
	}
}

type alwaysDenyQuota struct{}

func (alwaysDenyQuota) CheckQuota(tenantID, kind string) (bool, time.Duration) {
	return false, 30 * time.Second
}
