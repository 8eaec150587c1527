// Package pipeline is the central request orchestrator: validate, admit,
// quota, A/B assignment, middleware, cache probe, route, execute through
// the circuit breaker with retry/backoff/fallback, publish. Grounded on the
// teacher's proxy.Gateway dispatch flow (cache probe -> failover loop ->
// cache populate -> async log) and its requestWithFailover retry/backoff
// shape, generalized from a fixed provider map to the Router/Registry pair.
package pipeline

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
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

// QuotaChecker is the seam onto the tenancy plane's quota accounting
// (spec §4.J), consulted at stage 3.
type QuotaChecker interface {
	CheckQuota(tenantID, kind string) (ok bool, retryAfter time.Duration)
}

// ExperimentAssigner is the seam onto the tenancy plane's A/B bucketing
// (spec §4.J), consulted at stage 4.
type ExperimentAssigner interface {
	AssignVariant(tenantID, userKey string) (modelID string, active bool)
}

// Publisher receives stage-10 side effects. All of its methods are
// best-effort: the Pipeline never fails a request because a Publisher call
// failed or panicked into a swallowed error.
type Publisher interface {
	RecordUsage(tenantID, modelID string, cost providers.Money, usage providers.Usage)
	RecordLatency(modelID string, ms int64, success bool)
	RecordEvent(kind string, fields map[string]any)
}

// Config tunes retry/backoff/timeout behavior.
type Config struct {
	MaxRetries       int
	RetriesPerModel  int
	BaseBackoff      time.Duration
	StrategyTimeout  time.Duration
	CacheTTL         time.Duration
	DefaultStrategy  router.Strategy
	RateLimitTokens  int
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetriesPerModel <= 0 {
		c.RetriesPerModel = 2
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 100 * time.Millisecond
	}
	if c.StrategyTimeout <= 0 {
		c.StrategyTimeout = 30 * time.Second
	}
	if c.DefaultStrategy == "" {
		c.DefaultStrategy = router.Balanced
	}
	if c.RateLimitTokens <= 0 {
		c.RateLimitTokens = 1
	}
	return c
}

// Pipeline is the single public entry point for request execution.
type Pipeline struct {
	cfg Config

	limiter   *ratelimit.Limiter
	quota     QuotaChecker
	experiment ExperimentAssigner
	router    *router.Router
	breaker   *circuitbreaker.Breaker
	reg       *registry.Registry
	cache      *cache.SingleFlightCache
	exclusions *cache.ExclusionList
	publisher  Publisher
	clock      clock.Clock

	pre  []PreMiddleware
	post []PostMiddleware
}

// Deps bundles the Pipeline's collaborators; all fields except Limiter,
// Router, Breaker, and Registry are optional (nil-safe).
type Deps struct {
	Limiter    *ratelimit.Limiter
	Quota      QuotaChecker
	Experiment ExperimentAssigner
	Router     *router.Router
	Breaker    *circuitbreaker.Breaker
	Registry   *registry.Registry
	Cache      *cache.SingleFlightCache
	Exclusions *cache.ExclusionList
	Publisher  Publisher
	Clock      clock.Clock
}

// New creates a Pipeline.
func New(cfg Config, d Deps) *Pipeline {
	c := d.Clock
	if c == nil {
		c = clock.Real{}
	}
	return &Pipeline{
		cfg:        cfg.withDefaults(),
		limiter:    d.Limiter,
		quota:      d.Quota,
		experiment: d.Experiment,
		router:     d.Router,
		breaker:    d.Breaker,
		reg:        d.Registry,
		cache:      d.Cache,
		exclusions: d.Exclusions,
		publisher:  d.Publisher,
		clock:      c,
	}
}

// Execute runs a single non-streaming request through all eleven stages.
func (p *Pipeline) Execute(ctx context.Context, req Request) (*Response, error) {
	start := p.clock.Now()

	// 1. Validate.
	if err := req.validate(); err != nil {
		return nil, err
	}
	normalize(&req)

	// 2. Admit.
	if err := p.admit(req); err != nil {
		return nil, err
	}

	// 3. Quota.
	if p.quota != nil {
		if ok, retryAfter := p.quota.CheckQuota(req.TenantID, "requests"); !ok {
			e := apierr.New(apierr.KindQuotaExceeded, "tenant quota exceeded")
			e.RetryAfter = int(retryAfter.Seconds())
			return nil, e
		}
	}

	// 4. A/B assignment.
	if p.experiment != nil {
		if variant, active := p.experiment.AssignVariant(req.TenantID, req.UserKey); active && variant != "" {
			req.Options.ModelHint = variant
		}
	}

	// 5. Pre-middleware.
	if resp, err := p.runPre(ctx, &req); err != nil {
		return nil, err
	} else if resp != nil {
		return p.publishAndReturn(ctx, &req, resp, start)
	}

	cacheEligible := !req.Options.Stream && !p.exclusions.Matches(req.Options.ModelHint)
	strategy := p.strategy(req)

	var cacheKey string
	if cacheEligible && p.cache != nil {
		cacheKey = p.cacheKey(req)
		if v, ok := p.cache.Get(ctx, cacheKey); ok {
			var cached Response
			if json.Unmarshal(v, &cached) == nil {
				cached.Cached = true
				return p.publishAndReturn(ctx, &req, &cached, start)
			}
		}
	}

	// 7. Route.
	decision, err := p.routeDecision(req, strategy)
	if err != nil {
		return nil, err
	}

	// 8. Execute through the circuit breaker, with retry/backoff/fallback.
	resp, err := p.executeChain(ctx, &req, decision, start)
	if err != nil {
		return nil, err
	}

	// 9. Post-middleware.
	resp, err = p.runPost(ctx, &req, resp)
	if err != nil {
		return nil, err
	}

	// 10/11. Publish and return; populate cache on terminal success only.
	if cacheEligible && p.cache != nil && resp.FinishReason == FinishStop {
		if b, err := json.Marshal(resp); err == nil {
			_ = p.cache.Set(ctx, cacheKey, b, p.cfg.CacheTTL)
		}
	}
	return p.publishAndReturn(ctx, &req, resp, start)
}

func (p *Pipeline) admit(req Request) error {
	if p.limiter == nil {
		return nil
	}
	scopes := []struct {
		scope ratelimit.Scope
		key   string
	}{
		{ratelimit.ScopeTenant, req.TenantID},
		{ratelimit.ScopeAPIKey, req.Principal},
	}
	for _, s := range scopes {
		if s.key == "" {
			continue
		}
		if !p.limiter.TryAdmit(s.scope, s.key, p.cfg.RateLimitTokens) {
			return apierr.New(apierr.KindRateLimited, "rate limit exceeded for "+string(s.scope))
		}
	}
	return nil
}

func (p *Pipeline) strategy(req Request) router.Strategy {
	if req.Options.StrategyHint != "" {
		return router.Strategy(req.Options.StrategyHint)
	}
	return p.cfg.DefaultStrategy
}

func (p *Pipeline) cacheKey(req Request) string {
	var messagesOrPrompt any
	if req.Prompt != "" {
		messagesOrPrompt = req.Prompt
	} else {
		messagesOrPrompt = req.Messages
	}
	fields := cache.KeyFields{
		ModelID:          req.Options.ModelHint,
		MessagesOrPrompt: messagesOrPrompt,
		Stop:             req.Options.Stop,
		Seed:             req.Options.Seed,
		ResponseFormat:   req.Options.ResponseFormat,
	}
	if req.Options.Temperature != 0 {
		t := req.Options.Temperature
		fields.Temperature = &t
	}
	if req.Options.TopP != 0 {
		tp := req.Options.TopP
		fields.TopP = &tp
	}
	if req.Options.TopK != 0 {
		tk := req.Options.TopK
		fields.TopK = &tk
	}
	if req.Options.MaxTokens != 0 {
		mt := req.Options.MaxTokens
		fields.MaxTokens = &mt
	}
	return cache.DeriveKey(fields)
}

func (p *Pipeline) routeDecision(req Request, strategy router.Strategy) (router.Decision, error) {
	if p.router == nil {
		return router.Decision{}, apierr.New(apierr.KindInternal, "no router configured")
	}
	var breakerQuery router.BreakerQuery
	if p.breaker != nil {
		breakerQuery = breakerAdapter{p.breaker}
	}
	return p.router.Route(strategy, router.Request{
		ModelHint:        req.Options.ModelHint,
		CapabilityDemand: req.Capability,
	}, breakerQuery)
}

// breakerAdapter satisfies router.BreakerQuery without requiring the router
// package to import circuitbreaker (spec's interface-seam redesign).
type breakerAdapter struct{ b *circuitbreaker.Breaker }

func (a breakerAdapter) State(key string) int {
	return int(a.b.State(circuitbreaker.Key(key, "complete")))
}

func (a breakerAdapter) NextAttemptAt(key string) time.Time {
	return a.b.NextAttemptAt(circuitbreaker.Key(key, "complete"))
}

// executeChain walks the fallback chain, retrying each candidate with
// exponential backoff up to retriesPerModel before advancing, up to
// maxRetries total attempts, per spec §4.I stage 8.
func (p *Pipeline) executeChain(ctx context.Context, req *Request, decision router.Decision, start time.Time) (*Response, error) {
	var lastErr error
	attempts := 0
	fallbackDepth := 0

	for _, modelID := range decision.Chain {
		adapter, ok := p.reg.Adapter(modelID)
		if !ok {
			continue
		}

		for attempt := 0; attempt < p.cfg.RetriesPerModel; attempt++ {
			if attempts >= p.cfg.MaxRetries {
				return nil, p.finalFailure(lastErr)
			}
			if attempt > 0 {
				if err := p.backoff(ctx, attempt); err != nil {
					return nil, err
				}
			}
			attempts++

			timeout := p.perAttemptTimeout(req.Options.TimeoutMs)
			release, _ := p.reg.Acquire(modelID)

			var proxyResp *providers.ProxyResponse
			var callErr error
			key := circuitbreaker.Key(modelID, "complete")
			breakerErr := p.breaker.Call(ctx, key, func(cctx context.Context) error {
				cctx, cancel := context.WithTimeout(cctx, timeout)
				defer cancel()
				proxyResp, callErr = adapter.Request(cctx, toProxyRequest(req, modelID))
				return callErr
			})
			if release != nil {
				release()
			}

			if breakerErr == nil {
				latency := p.clock.Now().Sub(start).Milliseconds()
				p.reg.RecordOutcome(modelID, latency, true)
				return &Response{
					ID:            req.ID,
					RequestID:     req.ID,
					ModelID:       modelID,
					Text:          proxyResp.Content,
					Usage:         proxyResp.Usage,
					Cost:          adapter.CostOf(proxyResp.Usage, modelID),
					FinishReason:  FinishStop,
					LatencyMs:     latency,
					FallbackDepth: fallbackDepth,
				}, nil
			}

			lastErr = breakerErr
			p.reg.RecordOutcome(modelID, p.clock.Now().Sub(start).Milliseconds(), false)

			ae := apierr.Of(breakerErr)
			if !ae.Kind.Fallbackable() {
				// Auth/InvalidRequest/Safety/Cancelled: surface immediately,
				// no retry, no fallback to the next candidate.
				return nil, breakerErr
			}
			if ae.Kind.Retryable() {
				continue // same model, next attempt with backoff
			}
			break // advance to the next fallback candidate
		}
		fallbackDepth++
	}

	return nil, p.finalFailure(lastErr)
}

func (p *Pipeline) finalFailure(lastErr error) error {
	if lastErr == nil {
		return apierr.New(apierr.KindNotFound, "no candidate model could be reached")
	}
	return lastErr
}

func (p *Pipeline) perAttemptTimeout(reqTimeoutMs int) time.Duration {
	reqTimeout := time.Duration(reqTimeoutMs) * time.Millisecond
	if reqTimeout <= 0 || reqTimeout > p.cfg.StrategyTimeout {
		return p.cfg.StrategyTimeout
	}
	return reqTimeout
}

func (p *Pipeline) backoff(ctx context.Context, attempt int) error {
	delay := p.cfg.BaseBackoff * time.Duration(math.Pow(2, float64(attempt)))
	jitter := time.Duration(rand.Int63n(int64(p.cfg.BaseBackoff) + 1))
	select {
	case <-ctx.Done():
		return apierr.New(apierr.KindCancelled, "request cancelled during backoff")
	case <-time.After(delay + jitter):
		return nil
	}
}

func toProxyRequest(req *Request, modelID string) *providers.ProxyRequest {
	return &providers.ProxyRequest{
		Model:       modelID,
		Messages:    requestMessages(req),
		Stream:      req.Options.Stream,
		Temperature: req.Options.Temperature,
		MaxTokens:   req.Options.MaxTokens,
		WorkspaceID: req.TenantID,
		RequestID:   req.ID,
	}
}

func requestMessages(req *Request) []providers.Message {
	if len(req.Messages) > 0 {
		return req.Messages
	}
	return []providers.Message{{Role: "user", Content: req.Prompt}}
}

// publishAndReturn runs stage 10 (best-effort, errors swallowed) then
// returns resp.
func (p *Pipeline) publishAndReturn(ctx context.Context, req *Request, resp *Response, start time.Time) (*Response, error) {
	if resp.LatencyMs == 0 {
		resp.LatencyMs = p.clock.Now().Sub(start).Milliseconds()
	}
	if p.publisher != nil {
		func() {
			defer func() { recover() }()
			p.publisher.RecordUsage(req.TenantID, resp.ModelID, resp.Cost, resp.Usage)
			p.publisher.RecordLatency(resp.ModelID, resp.LatencyMs, resp.FinishReason == FinishStop || resp.Cached)
			p.publisher.RecordEvent("request_completed", map[string]any{
				"requestId": req.ID,
				"modelId":   resp.ModelID,
				"cached":    resp.Cached,
			})
		}()
	}
	return resp, nil
}
