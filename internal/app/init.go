package app

import (
	"context"
	"fmt"
	"log/slog"

	npCache "github.com/latticeforge/coregate/internal/cache"
	"github.com/latticeforge/coregate/internal/auth"
	"github.com/latticeforge/coregate/internal/circuitbreaker"
	"github.com/latticeforge/coregate/internal/httpapi"
	"github.com/latticeforge/coregate/internal/logger"
	"github.com/latticeforge/coregate/internal/metrics"
	"github.com/latticeforge/coregate/internal/observability"
	"github.com/latticeforge/coregate/internal/pipeline"
	"github.com/latticeforge/coregate/internal/providers"
	"github.com/latticeforge/coregate/internal/ratelimit"
	"github.com/latticeforge/coregate/internal/registry"
	"github.com/latticeforge/coregate/internal/router"
	"github.com/latticeforge/coregate/internal/tenancy"
)

// initInfra establishes optional external connections.
// Redis is only required when CACHE_MODE=redis or tenant quotas are enabled.
func (a *App) initInfra(ctx context.Context) error {
	if a.cfg.Cache.Mode == "redis" || a.cfg.Tenancy.QuotaRequestsPerMinute > 0 || a.cfg.Tenancy.QuotaTokensPerDay > 0 {
		if a.cfg.Redis.URL != "" {
			a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))

			rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
			if err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			a.rdb = rdb
			a.log.Info("redis connected")
		}
	}

	return nil
}

// initProviders builds the LLM provider map. At least one provider must be
// configured — this is enforced by config.Validate() before we reach here.
func (a *App) initProviders(_ context.Context) error {
	a.provs = buildProviders(a.baseCtx, a.cfg)
	if len(a.provs) == 0 {
		return fmt.Errorf("no provider API keys configured")
	}

	names := make([]string, 0, len(a.provs))
	for n := range a.provs {
		names = append(names, n)
	}
	a.log.Info("providers loaded", slog.Any("providers", names))

	return nil
}

// initServices creates the cache backend, the Prometheus metrics registry,
// and the async request logger.
func (a *App) initServices(ctx context.Context) error {
	switch a.cfg.Cache.Mode {
	case "redis":
		a.log.Info("cache backend: redis")

	case "memory":
		a.memCache = npCache.NewMemoryCache(ctx)
		a.log.Info("cache backend: memory (in-process)")

	case "none":
		a.log.Info("cache backend: disabled")

	default:
		return fmt.Errorf("unknown cache mode: %s", a.cfg.Cache.Mode)
	}

	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	rl, err := logger.New(a.baseCtx, a.log)
	if err != nil {
		return fmt.Errorf("request logger: %w", err)
	}
	a.reqLogger = rl

	return nil
}

// initRegistry builds the model registry, optionally restoring its prior
// state from SQLite, then registers and loads every configured provider's
// catalog models.
func (a *App) initRegistry(ctx context.Context) error {
	if a.cfg.Registry.StatePath != "" {
		store, err := registry.NewSQLiteStore(a.cfg.Registry.StatePath)
		if err != nil {
			return fmt.Errorf("registry store: %w", err)
		}
		a.sqliteStore = store
	}

	var store registry.Store
	if a.sqliteStore != nil {
		store = a.sqliteStore
	}
	a.reg = registry.New(a.cfg.Registry.MaxLoadedModels, store)

	if a.sqliteStore != nil {
		if err := a.reg.LoadFromStore(); err != nil {
			a.log.Warn("registry state restore failed, starting empty", slog.String("error", err.Error()))
		}
	}

	a.catalog = providers.NewCatalog(a.log)
	if err := registerCatalog(ctx, a.reg, a.provs, providerAPIKeys(a.cfg), a.catalog, a.log); err != nil {
		return fmt.Errorf("catalog registration: %w", err)
	}

	a.log.Info("registry populated", slog.Int("models", len(a.reg.List(nil))))
	return nil
}

// initRouting builds the circuit breaker and the router over the registry's
// candidate set.
func (a *App) initRouting(_ context.Context) error {
	a.breaker = circuitbreaker.New(breakerConfig(a.cfg.CircuitBreaker), nil)
	a.rtr = router.New(registryCandidateSource{reg: a.reg}, nil, a.cfg.Router.DecisionTTL, int(circuitbreaker.Open))
	return nil
}

// initTenancy wires the quota store, experiment store, and SLA evaluator.
// Quota enforcement fails open (QuotaStore handles a nil Redis client itself)
// when Redis is not configured; experiments and the SLA evaluator are
// entirely in-memory unless a ClickHouse DSN is supplied.
func (a *App) initTenancy(ctx context.Context) error {
	quotas := quotaTemplates(a.cfg.Tenancy)
	a.quotaStore = tenancy.NewQuotaStore(a.rdb, quotas)

	if a.cfg.Tenancy.ExperimentsEnabled {
		a.experimentStore = tenancy.NewExperimentStore()
	}

	evaluator := tenancy.NewEvaluator(nil)
	if a.cfg.Tenancy.ClickHouseDSN != "" {
		conn, err := connectClickHouse(ctx, a.cfg.Tenancy.ClickHouseDSN)
		if err != nil {
			a.log.Warn("clickhouse connection failed, SLA evaluator runs in-memory only", slog.String("error", err.Error()))
		} else {
			a.chConn = conn
			evaluator = evaluator.WithConn(conn)
		}
	}
	a.slaEvaluator = evaluator

	return nil
}

// initAuth wires the session/bearer/API-key authentication schemes per
// AuthConfig.Mode. When Mode is "none", authenticator stays nil and the
// httpapi middleware skips authentication entirely.
func (a *App) initAuth(ctx context.Context) error {
	if a.cfg.Auth.Mode == "none" {
		return nil
	}

	var sessions *auth.SessionManager
	secret := a.cfg.Auth.SessionSecret
	if secret == "" {
		generated, err := auth.GenerateSessionSecret()
		if err != nil {
			return fmt.Errorf("generating session secret: %w", err)
		}
		secret = generated
		a.log.Warn("AUTH_SESSION_SECRET not set; generated an ephemeral secret for this process — sessions will not survive a restart")
	}
	sm, err := auth.NewSessionManager(secret, a.cfg.Auth.SessionMaxAge)
	if err != nil {
		return fmt.Errorf("session manager: %w", err)
	}
	sessions = sm

	var bearer *auth.BearerValidator
	if a.cfg.Auth.OIDCIssuerURL != "" {
		bv, err := auth.NewBearerValidator(ctx, a.cfg.Auth.OIDCIssuerURL, a.cfg.Auth.OIDCClientID)
		if err != nil {
			a.log.Warn("OIDC bearer validator setup failed, bearer auth disabled", slog.String("error", err.Error()))
		} else {
			bearer = bv
		}
	}

	a.apiKeyStore = auth.NewMemoryKeyStore()
	usage := auth.NewUsageTracker()
	apiKeys := auth.NewAPIKeyValidator(a.apiKeyStore, usage, a.cfg.Auth.APIKeyPrefix)

	if a.cfg.Auth.BootstrapAPIKey != "" {
		a.apiKeyStore.Provision(a.cfg.Auth.BootstrapAPIKey, auth.APIKeyRecord{
			TenantID:    a.cfg.Auth.BootstrapTenantID,
			PrincipalID: a.cfg.Auth.BootstrapPrincipalID,
			Role:        a.cfg.Auth.BootstrapRole,
		})
		a.log.Info("bootstrap api key provisioned",
			slog.String("prefix", auth.MaskKeyPrefix(a.cfg.Auth.BootstrapAPIKey)),
			slog.String("role", a.cfg.Auth.BootstrapRole),
		)
	}

	a.authenticator = auth.NewAuthenticator(sessions, bearer, apiKeys)
	return nil
}

// initPipeline wires the rate limiter, cache, observability publisher, and
// the Pipeline that ties every plane together.
func (a *App) initPipeline(_ context.Context) error {
	configs, fallback := rateLimiterConfigs(a.cfg.RateLimit)
	a.limiter = ratelimit.New(configs, fallback)

	var cacheImpl npCache.Cache
	switch a.cfg.Cache.Mode {
	case "redis":
		cacheImpl = npCache.NewExactCacheFromClient(a.rdb)
	case "memory":
		cacheImpl = a.memCache
	}
	var sfCache *npCache.SingleFlightCache
	if cacheImpl != nil {
		sfCache = npCache.NewSingleFlightCache(cacheImpl)
	}

	exclusions, err := npCache.NewExclusionList(a.cfg.Cache.ExcludeExact, a.cfg.Cache.ExcludePatterns)
	if err != nil {
		return fmt.Errorf("cache exclusions: %w", err)
	}

	a.bus = observability.NewBus()
	tracer := observability.Tracer(observability.NewTracerProvider("coregate", a.version))
	a.publisher = observability.NewPublisher(a.prom.AsSink(), tracer, a.bus, a.log)
	combined := &loggingPublisher{inner: a.publisher, rl: a.reqLogger, reg: a.reg}

	var experiment pipeline.ExperimentAssigner
	if a.experimentStore != nil {
		experiment = a.experimentStore
	}

	a.pipe = pipeline.New(pipeline.Config{
		MaxRetries:      a.cfg.Failover.MaxRetries,
		StrategyTimeout: a.cfg.Failover.ProviderTimeout,
		CacheTTL:        a.cfg.Cache.TTL,
		DefaultStrategy: router.Strategy(a.cfg.Router.DefaultStrategy),
	}, pipeline.Deps{
		Limiter:    a.limiter,
		Quota:      a.quotaStore,
		Experiment: experiment,
		Router:     a.rtr,
		Breaker:    a.breaker,
		Registry:   a.reg,
		Cache:      sfCache,
		Exclusions: exclusions,
		Publisher:  combined,
	})

	return nil
}

// initHTTP builds the httpapi Server that drives the registry/router/
// pipeline/auth planes over fasthttp.
func (a *App) initHTTP(ctx context.Context) error {
	mgmt := &httpapi.ManagementRoutes{Metrics: a.prom.Handler()}
	if a.rdb != nil {
		mgmt.ReadinessProbes = append(mgmt.ReadinessProbes, redisPinger(ctx, a.rdb))
	}

	a.server = httpapi.New(
		a.pipe,
		a.reg,
		a.authenticator,
		a.cfg.Auth.Mode,
		a.cfg.CORSOrigins,
		mgmt,
		a.log,
		a.version,
	)
	return nil
}

// redactURL replaces the userinfo portion of a URL with "***" for safe logging.
// e.g. "redis://:secret@localhost:6379" → "redis://***@localhost:6379"
func redactURL(raw string) string {
	for i, c := range raw {
		if c == '@' {
			// Find the scheme end ("://") and keep only scheme + "***" + @host.
			for j := i - 1; j >= 0; j-- {
				if j+2 < len(raw) && raw[j:j+3] == "://" {
					return raw[:j+3] + "***" + raw[i:]
				}
			}
			return "***" + raw[i:]
		}
	}
	return raw
}
