// Package httpapi exposes CoreGate's /infer, /infer:stream, /models, and
// /health surface over fasthttp, grounded on the teacher's proxy.Gateway
// route table and middleware chain (internal/proxy/router.go,
// internal/proxy/middleware.go) but driving requests through the
// registry/router/pipeline/auth/tenancy planes instead of a fixed provider
// map.
package httpapi

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	fasthttprouter "github.com/fasthttp/router"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/latticeforge/coregate/internal/auth"
	"github.com/latticeforge/coregate/internal/pipeline"
	"github.com/latticeforge/coregate/internal/registry"
	"github.com/latticeforge/coregate/pkg/apierr"
)

// ManagementRoutes holds optional routes and probes registered alongside the
// inference surface, mirroring the teacher's proxy.ManagementRoutes.
type ManagementRoutes struct {
	Metrics fasthttp.RequestHandler

	// ReadinessProbes are consulted by /readiness in addition to the
	// registry's own healthy-model count; all must pass for the service to
	// report ready. A nil slice skips external dependency checks.
	ReadinessProbes []func() bool
}

// Server drives the HTTP surface through the registry/router/pipeline/auth
// planes.
type Server struct {
	pipeline      *pipeline.Pipeline
	reg           *registry.Registry
	authenticator *auth.Authenticator
	authMode      string
	corsOrigins   []string
	mgmt          *ManagementRoutes
	log           *slog.Logger
	version       string
}

// New creates a Server. authenticator may be nil only when authMode is
// "none".
func New(p *pipeline.Pipeline, reg *registry.Registry, authenticator *auth.Authenticator, authMode string, corsOrigins []string, mgmt *ManagementRoutes, log *slog.Logger, version string) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		pipeline:      p,
		reg:           reg,
		authenticator: authenticator,
		authMode:      authMode,
		corsOrigins:   corsOrigins,
		mgmt:          mgmt,
		log:           log,
		version:       version,
	}
}

// Start builds the route table and blocks serving on addr.
func (s *Server) Start(addr string) error {
	r := fasthttprouter.New()

	r.POST("/infer", s.handleInfer)
	r.POST("/infer:stream", s.handleInferStream)
	r.GET("/models", s.handleModels)
	r.GET("/health", s.handleHealth)
	r.GET("/readiness", s.handleReadiness)

	if s.mgmt != nil && s.mgmt.Metrics != nil {
		r.GET("/metrics", s.mgmt.Metrics)
	}

	handler := applyMiddleware(r.Handler,
		recovery,
		requestIDMiddleware,
		timing,
		corsHandler(s.corsOrigins),
		securityHeaders,
		authMiddleware(s.authenticator, s.authMode),
	)

	srv := &fasthttp.Server{
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	s.log.Info("httpapi listening", slog.String("addr", addr))
	return srv.ListenAndServe(addr)
}

func (s *Server) handleInfer(ctx *fasthttp.RequestCtx) {
	req, err := s.parseInferRequest(ctx, false)
	if err != nil {
		apierr.WriteJSON(ctx, apierr.Of(err))
		return
	}

	resp, err := s.pipeline.Execute(ctx, req)
	if err != nil {
		apierr.WriteJSON(ctx, apierr.Of(err))
		return
	}

	writeJSON(ctx, toInferResponse(resp))
}

// handleInferStream executes the request through the same pipeline as
// handleInfer — Pipeline has no incremental execution path of its own — and
// emits the finished result as a single SSE delta followed by "[DONE]", the
// framing the teacher's writeSSE uses for genuinely incremental
// provider streams (internal/proxy/gateway.go).
func (s *Server) handleInferStream(ctx *fasthttp.RequestCtx) {
	req, err := s.parseInferRequest(ctx, true)
	if err != nil {
		apierr.WriteJSON(ctx, apierr.Of(err))
		return
	}

	resp, err := s.pipeline.Execute(ctx, req)
	if err != nil {
		apierr.WriteJSON(ctx, apierr.Of(err))
		return
	}

	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.SetStatusCode(fasthttp.StatusOK)

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() { recover() }()

		delta := map[string]any{
			"id":      resp.ID,
			"object":  "infer.chunk",
			"created": time.Now().Unix(),
			"model":   resp.ModelID,
			"delta":   map[string]string{"content": resp.Text},
			"finish_reason": resp.FinishReason,
		}
		data, _ := json.Marshal(delta)
		fmt.Fprintf(w, "data: %s\n\n", data)
		w.Flush()

		fmt.Fprint(w, "data: [DONE]\n\n")
		w.Flush()
	})
}

func (s *Server) handleModels(ctx *fasthttp.RequestCtx) {
	models := s.reg.List(nil)
	out := make([]modelWire, 0, len(models))
	for _, m := range models {
		out = append(out, modelWire{
			ID:            m.ID,
			Family:        m.Family,
			Provider:      m.Provider,
			State:         string(m.State),
			ContextWindow: m.ContextWindow,
			MaxOutput:     m.MaxOutput,
			Capabilities:  m.Capabilities,
			Healthy:       m.Health.Healthy,
		})
	}
	writeJSON(ctx, map[string]any{"models": out})
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	healthy := 0
	total := 0
	if s.reg != nil {
		healthy = len(s.reg.GetHealthy())
		total = len(s.reg.List(nil))
	}
	writeJSON(ctx, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"models_healthy": healthy,
		"models_total":   total,
	})
}

func (s *Server) handleReadiness(ctx *fasthttp.RequestCtx) {
	ready := s.reg != nil && len(s.reg.GetHealthy()) > 0
	if s.mgmt != nil {
		for _, probe := range s.mgmt.ReadinessProbes {
			if !probe() {
				ready = false
				break
			}
		}
	}
	if ready {
		writeJSON(ctx, map[string]string{"status": "ok"})
		return
	}
	ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	writeJSON(ctx, map[string]string{"status": "unavailable"})
}

func (s *Server) parseInferRequest(ctx *fasthttp.RequestCtx, stream bool) (pipeline.Request, error) {
	var body inferRequest
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		return pipeline.Request{}, apierr.New(apierr.KindInvalidRequest, "invalid JSON: "+err.Error())
	}

	principal := principalFromCtx(ctx)
	tenantID := string(ctx.Request.Header.Peek("X-Tenant-ID"))
	principalID := ""
	if principal != nil {
		principalID = principal.ID
		if principal.TenantID != "" {
			tenantID = principal.TenantID
		}
	}

	reqID := requestIDFromCtx(ctx)
	if reqID == "" {
		reqID = uuid.New().String()
	}

	userKey := body.IdempotencyKey
	if userKey == "" {
		userKey = principalID
	}

	req := pipeline.Request{
		ID:        reqID,
		Principal: principalID,
		TenantID:  tenantID,
		UserKey:   userKey,
		Prompt:    body.Prompt,
		Messages:  body.Messages,
		Metadata:  body.Metadata,
		Capability: body.Capabilities,
		Options: pipeline.Options{
			MaxTokens:      body.MaxTokens,
			Temperature:    body.Temperature,
			TopP:           body.TopP,
			TopK:           body.TopK,
			Stop:           body.Stop,
			Seed:           body.Seed,
			Stream:         stream,
			ModelHint:      body.Model,
			StrategyHint:   body.Strategy,
			TimeoutMs:      body.TimeoutMs,
			IdempotencyKey: body.IdempotencyKey,
			ResponseFormat: body.ResponseFormat,
		},
	}
	return req, nil
}

func toInferResponse(r *pipeline.Response) inferResponse {
	return inferResponse{
		ID:           r.ID,
		Model:        r.ModelID,
		Text:         r.Text,
		FinishReason: string(r.FinishReason),
		Usage: usageWire{
			InputTokens:  r.Usage.InputTokens,
			OutputTokens: r.Usage.OutputTokens,
		},
		CostUSD:       r.Cost.USD,
		LatencyMs:     r.LatencyMs,
		Cached:        r.Cached,
		FallbackDepth: r.FallbackDepth,
	}
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, err := json.Marshal(v)
	if err != nil {
		apierr.WriteJSON(ctx, apierr.Wrap(apierr.KindInternal, "failed to encode response", err))
		return
	}
	ctx.SetBody(data)
}
