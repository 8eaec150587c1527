package pipeline

import "github.com/latticeforge/coregate/internal/providers"

// Options carries the per-request generation parameters of spec §3's
// Request entity.
type Options struct {
	MaxTokens      int
	Temperature    float64
	TopP           float64
	TopK           int
	Stop           []string
	Seed           *int64
	Stream         bool
	ModelHint      string
	StrategyHint   string
	TimeoutMs      int
	IdempotencyKey string
	ResponseFormat string
}

// Request is the Pipeline's normalized entry point. Exactly one of Prompt
// and Messages must be non-empty.
type Request struct {
	ID         string
	Principal  string
	TenantID   string
	UserKey    string // stable per-user key for A/B bucketing; defaults to Principal
	Prompt     string
	Messages   []providers.Message
	Options    Options
	Metadata   map[string]string
	Capability []string // capability demand e.g. "vision", "tools"
}

// FinishReason enumerates Response.FinishReason values.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishError     FinishReason = "error"
	FinishFilter    FinishReason = "filter"
	FinishCancelled FinishReason = "cancelled"
)

// Response is the Pipeline's normalized result.
type Response struct {
	ID            string
	RequestID     string
	ModelID       string
	Text          string
	Usage         providers.Usage
	Cost          providers.Money
	FinishReason  FinishReason
	LatencyMs     int64
	Cached        bool
	FallbackDepth int
}

// StreamChunk describes one piece of an incremental response. Nothing in
// this package produces it: Execute returns only complete responses.
type StreamChunk struct {
	DeltaText string
	Done      bool
	Usage     *providers.Usage
	Err       error
}

func (r Request) validate() error {
	return validateRequest(r)
}
