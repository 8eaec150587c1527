package providers

import (
	"context"
	"strings"
)

// ModelDescriptor is the summary listModels returns for one model a
// provider can serve, per spec §4.E.
type ModelDescriptor struct {
	ID              string
	Family          string
	ContextWindow   int
	MaxOutputTokens int
	Capabilities    []string
}

// Money is cost expressed in USD, per spec §4.E (costOf returns
// money, currency=USD).
type Money struct {
	USD float64
}

// Pricing declares a model's cost per 1M tokens, resolving spec.md's Open
// Question: the source mixed per-1k and per-1M units across adapters;
// CoreGate standardizes on per-1M and every adapter declares its unit at
// registration by populating this struct (no raw per-token or per-1k
// fields exist anywhere in the new contract).
type Pricing struct {
	InputPerMTokens  float64
	OutputPerMTokens float64
}

// CostOf computes the cost of usage under p. Shared by every adapter so
// the per-1M convention can't drift between packages.
func CostOf(usage Usage, p Pricing) Money {
	in := float64(usage.InputTokens) / 1_000_000 * p.InputPerMTokens
	out := float64(usage.OutputTokens) / 1_000_000 * p.OutputPerMTokens
	return Money{USD: in + out}
}

// Adapter is the full provider contract of spec §4.E: load/unload lifecycle,
// non-stream and streaming completion, health, catalog, and cost. Every
// concrete provider package satisfies this (directly, or through the
// LegacyAdapter bridge below for packages still exposing only the older
// Provider interface).
type Adapter interface {
	Provider

	// Load binds modelID for serving, returning NotFound/Auth/Unavailable
	// style errors through apierr. Local-runtime adapters use this to page
	// weights in; HTTP-provider and cloud-SDK adapters may treat it as a
	// capability-probe no-op.
	Load(ctx context.Context, modelID string, opts map[string]string) error

	// Unload releases any resources Load acquired for modelID.
	Unload(ctx context.Context, modelID string) error

	// ListModels returns the adapter's servable model catalog.
	ListModels(ctx context.Context) ([]ModelDescriptor, error)

	// CostOf prices a usage sample for modelID in USD.
	CostOf(usage Usage, modelID string) Money
}

// LegacyAdapter adapts a plain Provider (Name/Request/HealthCheck — what
// every adapter package in this repo implements today) into the full
// Adapter contract, so the Registry and Router can depend on one interface
// while adapter packages are migrated incrementally. Load/Unload are no-ops
// (HTTP-provider and cloud-SDK adapters have nothing to page in); ListModels
// and CostOf are supplied by the caller from static tables, since the
// wrapped Provider has no notion of either.
type LegacyAdapter struct {
	Provider
	Models  []ModelDescriptor
	Pricing map[string]Pricing // modelID -> pricing
}

func (l *LegacyAdapter) Load(ctx context.Context, modelID string, opts map[string]string) error {
	return nil
}

func (l *LegacyAdapter) Unload(ctx context.Context, modelID string) error {
	return nil
}

func (l *LegacyAdapter) ListModels(ctx context.Context) ([]ModelDescriptor, error) {
	return l.Models, nil
}

func (l *LegacyAdapter) CostOf(usage Usage, modelID string) Money {
	p, ok := l.Pricing[modelID]
	if !ok {
		return Money{}
	}
	return CostOf(usage, p)
}

// MaskKey masks a credential for logs and error surfaces: first4 + *** +
// last4, per spec §4.E. Keys shorter than 9 characters are fully masked
// since a partial reveal of a short secret meaningfully narrows it.
func MaskKey(key string) string {
	if len(key) < 9 {
		return "********"
	}
	return key[:4] + "***" + key[len(key)-4:]
}

// ValidateKeyShape performs the pre-network credential shape check spec
// §4.E requires of every adapter: non-empty, no surrounding whitespace, and
// (when prefix is non-empty) the expected provider prefix.
func ValidateKeyShape(key, prefix string, minLen int) error {
	if key == "" {
		return errKeyEmpty
	}
	if strings.TrimSpace(key) != key {
		return errKeyWhitespace
	}
	if len(key) < minLen {
		return errKeyTooShort
	}
	if prefix != "" && !strings.HasPrefix(key, prefix) {
		return errKeyBadPrefix
	}
	return nil
}

var (
	errKeyEmpty      = keyShapeError("credential is empty")
	errKeyWhitespace = keyShapeError("credential has leading/trailing whitespace")
	errKeyTooShort   = keyShapeError("credential is shorter than the expected length")
	errKeyBadPrefix  = keyShapeError("credential does not match the expected provider prefix")
)

type keyShapeError string

func (e keyShapeError) Error() string { return string(e) }
