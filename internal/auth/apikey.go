package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"time"

	"github.com/latticeforge/coregate/internal/providers"
	"github.com/latticeforge/coregate/pkg/apierr"
)

// APIKeyRecord is a provisioned key as stored by KeyStore, keyed by its
// SHA-256 hash so raw key material is never persisted.
type APIKeyRecord struct {
	Hash        string
	Prefix      string
	TenantID    string
	PrincipalID string
	Role        string
	Permissions []string
	AllowedIPs  []string
	ExpiresAt   time.Time // zero means no expiry
}

// KeyStore looks up provisioned API keys by hash.
type KeyStore interface {
	Lookup(ctx context.Context, hash string) (APIKeyRecord, bool, error)
}

// APIKeyValidator authenticates provider-style API keys presented via
// Authorization: Bearer <key>, reusing providers.MaskKey/ValidateKeyShape's
// shape checks from the outbound adapter contract (§4.E) before ever hitting
// the store.
type APIKeyValidator struct {
	store  KeyStore
	usage  *UsageTracker
	prefix string // expected key prefix, e.g. "cg_"
}

// NewAPIKeyValidator creates a validator backed by store. expectedPrefix may
// be empty to skip the prefix check.
func NewAPIKeyValidator(store KeyStore, usage *UsageTracker, expectedPrefix string) *APIKeyValidator {
	return &APIKeyValidator{store: store, usage: usage, prefix: expectedPrefix}
}

// HashAPIKey returns the lookup hash for a raw key. Never log or persist the
// raw key itself; providers.MaskKey is for display purposes only.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Authenticate validates rawKey and, on success, resolves a Principal.
func (v *APIKeyValidator) Authenticate(ctx context.Context, rawKey string) (*Principal, error) {
	if err := providers.ValidateKeyShape(rawKey, v.prefix, 16); err != nil {
		return nil, apierr.New(apierr.KindAuth, "malformed api key")
	}

	hash := HashAPIKey(rawKey)
	rec, found, err := v.store.Lookup(ctx, hash)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "api key lookup failed", err)
	}
	if !found {
		return nil, apierr.New(apierr.KindAuth, "invalid api key")
	}
	if subtle.ConstantTimeCompare([]byte(rec.Hash), []byte(hash)) != 1 {
		return nil, apierr.New(apierr.KindAuth, "invalid api key")
	}
	if !rec.ExpiresAt.IsZero() && rec.ExpiresAt.Before(time.Now()) {
		return nil, apierr.New(apierr.KindAuth, "api key expired")
	}

	p := &Principal{
		ID:          rec.PrincipalID,
		TenantID:    rec.TenantID,
		Role:        rec.Role,
		Permissions: rec.Permissions,
		AllowedIPs:  rec.AllowedIPs,
		KeyID:       hash,
		KeyPrefix:   rec.Prefix,
	}
	if v.usage != nil {
		v.usage.RecordUse(p.ID, time.Now())
	}
	return p, nil
}

// ParseBearerToken extracts the token from an "Authorization: Bearer <token>"
// header value, grounded on the teacher's extractClientAPIKey/
// parseBearerToken pair in internal/proxy/gateway.go.
func ParseBearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
