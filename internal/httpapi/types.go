package httpapi

import "github.com/latticeforge/coregate/internal/providers"

// inferRequest is the wire shape accepted by POST /infer and
// POST /infer:stream. Exactly one of Prompt/Messages should be set.
type inferRequest struct {
	Model          string              `json:"model"`
	Prompt         string              `json:"prompt,omitempty"`
	Messages       []providers.Message `json:"messages,omitempty"`
	MaxTokens      int                 `json:"max_tokens,omitempty"`
	Temperature    float64             `json:"temperature,omitempty"`
	TopP           float64             `json:"top_p,omitempty"`
	TopK           int                 `json:"top_k,omitempty"`
	Stop           []string            `json:"stop,omitempty"`
	Seed           *int64              `json:"seed,omitempty"`
	Strategy       string              `json:"strategy,omitempty"`
	Capabilities   []string            `json:"capabilities,omitempty"`
	IdempotencyKey string              `json:"idempotency_key,omitempty"`
	ResponseFormat string              `json:"response_format,omitempty"`
	TimeoutMs      int                 `json:"timeout_ms,omitempty"`
	Metadata       map[string]string   `json:"metadata,omitempty"`
}

// inferResponse is the wire shape returned by a completed, non-streaming
// /infer call.
type inferResponse struct {
	ID            string          `json:"id"`
	Model         string          `json:"model"`
	Text          string          `json:"text"`
	FinishReason  string          `json:"finish_reason"`
	Usage         usageWire       `json:"usage"`
	CostUSD       float64         `json:"cost_usd"`
	LatencyMs     int64           `json:"latency_ms"`
	Cached        bool            `json:"cached"`
	FallbackDepth int             `json:"fallback_depth"`
}

type usageWire struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// modelWire is one entry in the GET /models listing.
type modelWire struct {
	ID            string   `json:"id"`
	Family        string   `json:"family"`
	Provider      string   `json:"provider"`
	State         string   `json:"state"`
	ContextWindow int      `json:"context_window"`
	MaxOutput     int      `json:"max_output"`
	Capabilities  []string `json:"capabilities"`
	Healthy       bool     `json:"healthy"`
}
