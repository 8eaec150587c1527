package providers

import (
	"context"
	"log/slog"

	"github.com/latticeforge/coregate/internal/chattemplate"
)

// CatalogEntry is the static registration data one provider contributes: the
// models it can serve, their per-1M-token pricing, and the quality/speed
// tier baseline the Router starts from before live health data adjusts it.
type CatalogEntry struct {
	Models     []ModelDescriptor
	Pricing    map[string]Pricing
	Quality    float64
	SpeedScore float64
}

// providerCatalog is the static per-provider model table. Entries are
// deliberately representative rather than exhaustive — ModelAliases already
// enumerates every model id this gateway recognizes; the registry only needs
// enough of each provider's catalog to exercise routing across providers of
// different quality/cost/speed tiers.
var providerCatalog = map[string]CatalogEntry{
	"openai": {
		Quality: 0.90, SpeedScore: 0.6,
		Models: []ModelDescriptor{
			{ID: "gpt-4o", Family: "gpt", ContextWindow: 128_000, MaxOutputTokens: 16_384, Capabilities: []string{"chat", "vision", "tools"}},
			{ID: "gpt-4o-mini", Family: "gpt", ContextWindow: 128_000, MaxOutputTokens: 16_384, Capabilities: []string{"chat", "vision", "tools"}},
			{ID: "o3-mini", Family: "gpt", ContextWindow: 200_000, MaxOutputTokens: 100_000, Capabilities: []string{"chat", "reasoning", "tools"}},
		},
		Pricing: map[string]Pricing{
			"gpt-4o":      {InputPerMTokens: 2.50, OutputPerMTokens: 10.00},
			"gpt-4o-mini": {InputPerMTokens: 0.15, OutputPerMTokens: 0.60},
			"o3-mini":     {InputPerMTokens: 1.10, OutputPerMTokens: 4.40},
		},
	},
	"anthropic": {
		Quality: 0.92, SpeedScore: 0.55,
		Models: []ModelDescriptor{
			{ID: "claude-sonnet-4-5", Family: "claude", ContextWindow: 200_000, MaxOutputTokens: 8_192, Capabilities: []string{"chat", "vision", "tools"}},
			{ID: "claude-haiku-4-5", Family: "claude", ContextWindow: 200_000, MaxOutputTokens: 8_192, Capabilities: []string{"chat", "vision", "tools"}},
		},
		Pricing: map[string]Pricing{
			"claude-sonnet-4-5": {InputPerMTokens: 3.00, OutputPerMTokens: 15.00},
			"claude-haiku-4-5":  {InputPerMTokens: 0.80, OutputPerMTokens: 4.00},
		},
	},
	"gemini": {
		Quality: 0.82, SpeedScore: 0.7,
		Models: []ModelDescriptor{
			{ID: "gemini-2.5-pro", Family: "gemini", ContextWindow: 1_000_000, MaxOutputTokens: 8_192, Capabilities: []string{"chat", "vision", "tools"}},
			{ID: "gemini-2.5-flash", Family: "gemini", ContextWindow: 1_000_000, MaxOutputTokens: 8_192, Capabilities: []string{"chat", "vision", "tools"}},
		},
		Pricing: map[string]Pricing{
			"gemini-2.5-pro":   {InputPerMTokens: 1.25, OutputPerMTokens: 10.00},
			"gemini-2.5-flash": {InputPerMTokens: 0.30, OutputPerMTokens: 2.50},
		},
	},
	"mistral": {
		Quality: 0.72, SpeedScore: 0.75,
		Models: []ModelDescriptor{
			{ID: "mistral-large-latest", Family: "mistral", ContextWindow: 128_000, MaxOutputTokens: 8_192, Capabilities: []string{"chat", "tools"}},
			{ID: "mistral-small-latest", Family: "mistral", ContextWindow: 32_000, MaxOutputTokens: 8_192, Capabilities: []string{"chat"}},
		},
		Pricing: map[string]Pricing{
			"mistral-large-latest": {InputPerMTokens: 2.00, OutputPerMTokens: 6.00},
			"mistral-small-latest": {InputPerMTokens: 0.20, OutputPerMTokens: 0.60},
		},
	},
	"azure": {
		Quality: 0.90, SpeedScore: 0.6,
		Models: []ModelDescriptor{
			{ID: "azure-gpt-4o", Family: "gpt", ContextWindow: 128_000, MaxOutputTokens: 16_384, Capabilities: []string{"chat", "vision", "tools"}},
		},
		Pricing: map[string]Pricing{"azure-gpt-4o": {InputPerMTokens: 2.50, OutputPerMTokens: 10.00}},
	},
	"bedrock": {
		Quality: 0.88, SpeedScore: 0.55,
		Models: []ModelDescriptor{
			{ID: "anthropic.claude-3-5-sonnet-20241022-v2:0", Family: "claude", ContextWindow: 200_000, MaxOutputTokens: 8_192, Capabilities: []string{"chat", "vision", "tools"}},
		},
		Pricing: map[string]Pricing{
			"anthropic.claude-3-5-sonnet-20241022-v2:0": {InputPerMTokens: 3.00, OutputPerMTokens: 15.00},
		},
	},
	"vertexai": {
		Quality: 0.82, SpeedScore: 0.7,
		Models: []ModelDescriptor{
			{ID: "vertexai-gemini-2.5-pro", Family: "gemini", ContextWindow: 1_000_000, MaxOutputTokens: 8_192, Capabilities: []string{"chat", "vision", "tools"}},
		},
		Pricing: map[string]Pricing{"vertexai-gemini-2.5-pro": {InputPerMTokens: 1.25, OutputPerMTokens: 10.00}},
	},
	"xai":        {Quality: 0.75, SpeedScore: 0.7, Models: []ModelDescriptor{{ID: "grok-3", Family: "grok", ContextWindow: 131_072, MaxOutputTokens: 8_192, Capabilities: []string{"chat", "tools"}}}, Pricing: map[string]Pricing{"grok-3": {InputPerMTokens: 3.00, OutputPerMTokens: 15.00}}},
	"deepseek":   {Quality: 0.78, SpeedScore: 0.65, Models: []ModelDescriptor{{ID: "deepseek-chat", Family: "deepseek", ContextWindow: 64_000, MaxOutputTokens: 8_192, Capabilities: []string{"chat"}}}, Pricing: map[string]Pricing{"deepseek-chat": {InputPerMTokens: 0.27, OutputPerMTokens: 1.10}}},
	"groq":       {Quality: 0.65, SpeedScore: 0.95, Models: []ModelDescriptor{{ID: "llama-3.3-70b-versatile", Family: "llama", ContextWindow: 128_000, MaxOutputTokens: 8_192, Capabilities: []string{"chat"}}}, Pricing: map[string]Pricing{"llama-3.3-70b-versatile": {InputPerMTokens: 0.59, OutputPerMTokens: 0.79}}},
	"together":   {Quality: 0.68, SpeedScore: 0.8, Models: []ModelDescriptor{{ID: "meta-llama/Llama-3.3-70B-Instruct-Turbo", Family: "llama", ContextWindow: 128_000, MaxOutputTokens: 8_192, Capabilities: []string{"chat"}}}, Pricing: map[string]Pricing{"meta-llama/Llama-3.3-70B-Instruct-Turbo": {InputPerMTokens: 0.88, OutputPerMTokens: 0.88}}},
	"perplexity": {Quality: 0.7, SpeedScore: 0.75, Models: []ModelDescriptor{{ID: "sonar-pro", Family: "default", ContextWindow: 127_072, MaxOutputTokens: 8_192, Capabilities: []string{"chat", "search"}}}, Pricing: map[string]Pricing{"sonar-pro": {InputPerMTokens: 3.00, OutputPerMTokens: 15.00}}},
	"cerebras":   {Quality: 0.65, SpeedScore: 0.98, Models: []ModelDescriptor{{ID: "llama3.3-70b", Family: "llama", ContextWindow: 128_000, MaxOutputTokens: 8_192, Capabilities: []string{"chat"}}}, Pricing: map[string]Pricing{"llama3.3-70b": {InputPerMTokens: 0.85, OutputPerMTokens: 1.20}}},
	"moonshot":   {Quality: 0.68, SpeedScore: 0.7, Models: []ModelDescriptor{{ID: "moonshot-v1-32k", Family: "default", ContextWindow: 32_000, MaxOutputTokens: 8_192, Capabilities: []string{"chat"}}}, Pricing: map[string]Pricing{"moonshot-v1-32k": {InputPerMTokens: 1.00, OutputPerMTokens: 1.00}}},
	"minimax":    {Quality: 0.65, SpeedScore: 0.7, Models: []ModelDescriptor{{ID: "MiniMax-Text-01", Family: "default", ContextWindow: 1_000_000, MaxOutputTokens: 8_192, Capabilities: []string{"chat"}}}, Pricing: map[string]Pricing{"MiniMax-Text-01": {InputPerMTokens: 0.20, OutputPerMTokens: 1.10}}},
	"qwen":       {Quality: 0.7, SpeedScore: 0.75, Models: []ModelDescriptor{{ID: "qwen-max", Family: "qwen", ContextWindow: 32_000, MaxOutputTokens: 8_192, Capabilities: []string{"chat", "tools"}}}, Pricing: map[string]Pricing{"qwen-max": {InputPerMTokens: 1.60, OutputPerMTokens: 6.40}}},
	"nebius":     {Quality: 0.65, SpeedScore: 0.8, Models: []ModelDescriptor{{ID: "meta-llama/Meta-Llama-3.3-70B-Instruct", Family: "llama", ContextWindow: 128_000, MaxOutputTokens: 8_192, Capabilities: []string{"chat"}}}, Pricing: map[string]Pricing{"meta-llama/Meta-Llama-3.3-70B-Instruct": {InputPerMTokens: 0.13, OutputPerMTokens: 0.40}}},
	"novita":     {Quality: 0.6, SpeedScore: 0.75, Models: []ModelDescriptor{{ID: "meta-llama/llama-3.3-70b-instruct", Family: "llama", ContextWindow: 128_000, MaxOutputTokens: 8_192, Capabilities: []string{"chat"}}}, Pricing: map[string]Pricing{"meta-llama/llama-3.3-70b-instruct": {InputPerMTokens: 0.39, OutputPerMTokens: 0.39}}},
	"bytedance":  {Quality: 0.65, SpeedScore: 0.7, Models: []ModelDescriptor{{ID: "doubao-1.5-pro-32k", Family: "default", ContextWindow: 32_000, MaxOutputTokens: 8_192, Capabilities: []string{"chat"}}}, Pricing: map[string]Pricing{"doubao-1.5-pro-32k": {InputPerMTokens: 0.11, OutputPerMTokens: 0.28}}},
	"zai":        {Quality: 0.65, SpeedScore: 0.7, Models: []ModelDescriptor{{ID: "glm-4-plus", Family: "default", ContextWindow: 128_000, MaxOutputTokens: 4_096, Capabilities: []string{"chat"}}}, Pricing: map[string]Pricing{"glm-4-plus": {InputPerMTokens: 0.70, OutputPerMTokens: 0.70}}},
	"inference":  {Quality: 0.6, SpeedScore: 0.7, Models: []ModelDescriptor{{ID: "inference-llama-3.1-70b", Family: "llama", ContextWindow: 128_000, MaxOutputTokens: 8_192, Capabilities: []string{"chat"}}}, Pricing: map[string]Pricing{"inference-llama-3.1-70b": {InputPerMTokens: 0.30, OutputPerMTokens: 0.30}}},
	"nanogpt":    {Quality: 0.55, SpeedScore: 0.6, Models: []ModelDescriptor{{ID: "nanogpt-gpt-4o", Family: "gpt", ContextWindow: 128_000, MaxOutputTokens: 16_384, Capabilities: []string{"chat"}}}, Pricing: map[string]Pricing{"nanogpt-gpt-4o": {InputPerMTokens: 3.00, OutputPerMTokens: 12.00}}},
	"canopywave": {Quality: 0.6, SpeedScore: 0.7, Models: []ModelDescriptor{{ID: "canopywave-default", Family: "default", ContextWindow: 32_000, MaxOutputTokens: 4_096, Capabilities: []string{"chat"}}}, Pricing: map[string]Pricing{"canopywave-default": {InputPerMTokens: 0.50, OutputPerMTokens: 1.00}}},
}

// fallbackEntry is used for a configured provider that has no explicit
// providerCatalog row (an operator-supplied openaicompat alias not in the
// static table above). It registers the provider name itself as a single
// generic model id so the registry always has something to route to.
func fallbackEntry(providerName string) CatalogEntry {
	return CatalogEntry{
		Quality: 0.5, SpeedScore: 0.5,
		Models:  []ModelDescriptor{{ID: providerName, Family: "default", ContextWindow: 32_000, MaxOutputTokens: 4_096, Capabilities: []string{"chat"}}},
		Pricing: map[string]Pricing{providerName: {InputPerMTokens: 1.00, OutputPerMTokens: 2.00}},
	}
}

// Catalog wraps configured Providers into the full Adapter contract via
// LegacyAdapter, using the static per-provider model/pricing table above.
// It also owns the chattemplate Engine that providers serving a
// single-rendered-prompt wire format (rather than a structured message
// list) delegate to, and masks credentials before they ever reach a log
// line.
type Catalog struct {
	entries  map[string]CatalogEntry
	tmpl     *chattemplate.Engine
	log      *slog.Logger
}

// NewCatalog creates a Catalog over the static provider table, with a
// chattemplate engine pre-loaded with every built-in family.
func NewCatalog(log *slog.Logger) *Catalog {
	if log == nil {
		log = slog.Default()
	}
	return &Catalog{entries: providerCatalog, tmpl: chattemplate.New(), log: log}
}

// Entry returns providerName's catalog row, or a single-model fallback row
// if the provider isn't in the static table.
func (c *Catalog) Entry(providerName string) CatalogEntry {
	if e, ok := c.entries[providerName]; ok {
		return e
	}
	return fallbackEntry(providerName)
}

// Adapt wraps provider (keyed by providerName) into the full Adapter
// contract, logging its masked credential for audit purposes.
func (c *Catalog) Adapt(providerName string, provider Provider, rawKey string) Adapter {
	entry := c.Entry(providerName)
	if rawKey != "" {
		c.log.Info("provider registered",
			slog.String("provider", providerName),
			slog.String("credential", MaskKey(rawKey)),
			slog.Int("models", len(entry.Models)),
		)
	}
	return &LegacyAdapter{Provider: provider, Models: entry.Models, Pricing: entry.Pricing}
}

// RenderPrompt delegates to the chattemplate family matching modelID,
// producing the single-string prompt an adapter without native structured
// chat support would submit upstream. CoreGate's current adapters all
// accept a Messages list directly, so this is exercised at registration
// time as a compile-time validation that every catalog model's family
// resolves to a template, and is available to a future single-prompt
// adapter without any further wiring.
func (c *Catalog) RenderPrompt(ctx context.Context, modelID string, messages []Message) (string, error) {
	family := chattemplate.DetectFamily(modelID)
	tmpl := c.tmpl.Lookup(family)
	rendered := make([]map[string]any, len(messages))
	for i, m := range messages {
		rendered[i] = map[string]any{"role": m.Role, "content": m.Content}
	}
	return tmpl.Render(rendered)
}

// ValidateTemplates renders a one-message smoke probe through every model's
// detected family, surfacing a compile/render error for any catalog entry
// before it's ever exercised by a live request.
func (c *Catalog) ValidateTemplates(ctx context.Context) error {
	probe := []Message{{Role: "user", Content: "ping"}}
	for _, entry := range c.entries {
		for _, m := range entry.Models {
			if _, err := c.RenderPrompt(ctx, m.ID, probe); err != nil {
				return err
			}
		}
	}
	return nil
}
