package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	chdriver "github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"

	"github.com/latticeforge/coregate/internal/circuitbreaker"
	"github.com/latticeforge/coregate/internal/config"
	"github.com/latticeforge/coregate/internal/logger"
	"github.com/latticeforge/coregate/internal/observability"
	"github.com/latticeforge/coregate/internal/providers"
	"github.com/latticeforge/coregate/internal/ratelimit"
	"github.com/latticeforge/coregate/internal/registry"
	"github.com/latticeforge/coregate/internal/router"
	"github.com/latticeforge/coregate/internal/tenancy"
)

// loggingPublisher composes the observability.Publisher (metrics/traces/bus)
// with the batched async request logger, so every pipeline completion is
// both observable live and durably recorded to stdout/JSON, matching the
// teacher's split between live metrics and the logger package's own
// buffered-channel writer.
type loggingPublisher struct {
	inner *observability.Publisher
	rl    *logger.Logger
	reg   *registry.Registry
}

func (p *loggingPublisher) RecordUsage(tenantID, modelID string, cost providers.Money, usage providers.Usage) {
	p.inner.RecordUsage(tenantID, modelID, cost, usage)
}

func (p *loggingPublisher) RecordLatency(modelID string, ms int64, success bool) {
	p.inner.RecordLatency(modelID, ms, success)
	status := uint16(200)
	if !success {
		status = 500
	}
	var provider string
	if p.reg != nil {
		if m, ok := p.reg.Get(modelID); ok {
			provider = m.Provider
		}
	}
	p.rl.Log(logger.RequestLog{
		ID:        uuid.New(),
		Provider:  provider,
		Model:     modelID,
		LatencyMs: clampUint16(ms),
		Status:    status,
		CreatedAt: time.Now(),
	})
}

func (p *loggingPublisher) RecordEvent(kind string, fields map[string]any) {
	p.inner.RecordEvent(kind, fields)
}

func clampUint16(v int64) uint16 {
	if v < 0 {
		return 0
	}
	if v > 65535 {
		return 65535
	}
	return uint16(v)
}

// registryCandidateSource satisfies router.CandidateSource without the
// router package importing registry, mirroring pipeline.breakerAdapter's
// interface-seam technique for the Registry<->Router<->Pipeline cycle.
type registryCandidateSource struct {
	reg *registry.Registry
}

func (s registryCandidateSource) Candidates() []router.Candidate {
	models := s.reg.List(func(m registry.Model) bool {
		return m.State == registry.StateReady || m.State == registry.StateDegraded
	})
	out := make([]router.Candidate, 0, len(models))
	for _, m := range models {
		out = append(out, router.Candidate{
			ID:            m.ID,
			Quality:       m.Quality,
			SpeedScore:    m.SpeedScore,
			CostPerMToken: (m.CostPerMTokensIn + m.CostPerMTokensOut) / 2,
			HealthScore:   healthScore(m.Health),
			Capabilities:  m.Capabilities,
			InFlight:      s.reg.InFlight(m.ID),
		})
	}
	return out
}

func healthScore(h registry.Health) float64 {
	if h.Healthy {
		return 1.0
	}
	if h.CheckedAt.IsZero() {
		return 0.5 // never probed yet — neutral score rather than penalized
	}
	return 0.0
}

// registerCatalog registers and loads every provider's catalog models into
// reg, wrapping each configured Provider in the Adapter contract via the
// shared Catalog.
func registerCatalog(ctx context.Context, reg *registry.Registry, provs map[string]providers.Provider, apiKeys map[string]string, catalog *providers.Catalog, log *slog.Logger) error {
	if err := catalog.ValidateTemplates(ctx); err != nil {
		log.Warn("chat template validation failed", slog.String("error", err.Error()))
	}

	for name, provider := range provs {
		entry := catalog.Entry(name)
		adapter := catalog.Adapt(name, provider, apiKeys[name])

		for _, md := range entry.Models {
			pricing := entry.Pricing[md.ID]
			err := reg.Register(registry.Model{
				ID:                md.ID,
				Family:            md.Family,
				Format:            "chat",
				Provider:          name,
				ContextWindow:     md.ContextWindow,
				MaxOutput:         md.MaxOutputTokens,
				Capabilities:      md.Capabilities,
				CostPerMTokensIn:  pricing.InputPerMTokens,
				CostPerMTokensOut: pricing.OutputPerMTokens,
				Quality:           entry.Quality,
				SpeedScore:        entry.SpeedScore,
			})
			if err != nil {
				return fmt.Errorf("registering model %s: %w", md.ID, err)
			}
			if err := reg.Load(ctx, md.ID, adapter); err != nil {
				return fmt.Errorf("loading model %s: %w", md.ID, err)
			}
		}
	}
	return nil
}

// providerAPIKeys maps each configured provider name to its raw credential,
// used only to feed providers.MaskKey-based registration logging — never
// logged or stored in full.
func providerAPIKeys(cfg *config.Config) map[string]string {
	return map[string]string{
		"openai":     cfg.OpenAI.APIKey,
		"anthropic":  cfg.Anthropic.APIKey,
		"gemini":     cfg.Gemini.APIKey,
		"mistral":    cfg.Mistral.APIKey,
		"xai":        cfg.XAI.APIKey,
		"deepseek":   cfg.DeepSeek.APIKey,
		"groq":       cfg.Groq.APIKey,
		"together":   cfg.Together.APIKey,
		"perplexity": cfg.Perplexity.APIKey,
		"cerebras":   cfg.Cerebras.APIKey,
		"moonshot":   cfg.Moonshot.APIKey,
		"minimax":    cfg.MiniMax.APIKey,
		"qwen":       cfg.Qwen.APIKey,
		"nebius":     cfg.Nebius.APIKey,
		"novita":     cfg.NovitaAI.APIKey,
		"bytedance":  cfg.ByteDance.APIKey,
		"zai":        cfg.ZAI.APIKey,
		"canopywave": cfg.CanopyWave.APIKey,
		"inference":  cfg.Inference.APIKey,
		"nanogpt":    cfg.NanoGPT.APIKey,
		"vertexai":   cfg.VertexAI.Project,
		"bedrock":    cfg.Bedrock.AccessKey,
		"azure":      cfg.Azure.APIKey,
	}
}

// breakerConfig maps config.CircuitBreakerConfig onto circuitbreaker.Config.
func breakerConfig(cfg config.CircuitBreakerConfig) circuitbreaker.Config {
	return circuitbreaker.Config{
		TimeoutMs:         cfg.TimeoutMs,
		ErrorThresholdPct: cfg.ErrorThresholdPct,
		VolumeThreshold:   cfg.VolumeThreshold,
		ResetAfterMs:      cfg.ResetAfterMs,
	}
}

// rateLimiterConfigs builds the per-scope bucket configuration the new
// token-bucket ratelimit.Limiter uses, derived from RPMLimit where a
// scope-specific rate wasn't set explicitly.
func rateLimiterConfigs(cfg config.RateLimitConfig) (map[ratelimit.Scope]ratelimit.BucketConfig, ratelimit.BucketConfig) {
	fallbackRPS := float64(cfg.RPMLimit) / 60.0
	configs := map[ratelimit.Scope]ratelimit.BucketConfig{}

	if cfg.PerTenantRPS > 0 {
		burst := cfg.PerTenantBurst
		if burst <= 0 {
			burst = int(cfg.PerTenantRPS)
		}
		configs[ratelimit.ScopeTenant] = ratelimit.BucketConfig{RatePerSecond: cfg.PerTenantRPS, Capacity: burst}
	}
	if cfg.PerAPIKeyRPS > 0 {
		burst := cfg.PerAPIKeyBurst
		if burst <= 0 {
			burst = int(cfg.PerAPIKeyRPS)
		}
		configs[ratelimit.ScopeAPIKey] = ratelimit.BucketConfig{RatePerSecond: cfg.PerAPIKeyRPS, Capacity: burst}
	}

	return configs, ratelimit.BucketConfig{RatePerSecond: fallbackRPS, Capacity: int(fallbackRPS)}
}

// quotaTemplates builds the tenancy QuotaStore's per-kind limit/window
// templates from config; a kind with a non-positive limit is left
// unconfigured (CheckQuota then always allows it).
func quotaTemplates(cfg config.TenancyConfig) map[string]tenancy.Quota {
	out := map[string]tenancy.Quota{}
	if cfg.QuotaRequestsPerMinute > 0 {
		out["requests"] = tenancy.Quota{Limit: int64(cfg.QuotaRequestsPerMinute), WindowMs: int64(time.Minute / time.Millisecond)}
	}
	if cfg.QuotaTokensPerDay > 0 {
		out["tokens"] = tenancy.Quota{Limit: int64(cfg.QuotaTokensPerDay), WindowMs: int64(24 * time.Hour / time.Millisecond)}
	}
	return out
}

// connectClickHouse parses dsn and opens a ClickHouse connection for the SLA
// evaluator's durable sample/breach/audit log. Returns a nil conn (not an
// error) when dsn is empty — the evaluator runs in-memory only.
func connectClickHouse(ctx context.Context, dsn string) (chdriver.Conn, error) {
	if dsn == "" {
		return nil, nil
	}
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing clickhouse dsn: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening clickhouse connection: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("pinging clickhouse: %w", err)
	}
	return conn, nil
}
