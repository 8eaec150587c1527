package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/latticeforge/coregate/pkg/apierr"
)

// BearerClaims are the claims CoreGate reads from an externally-issued
// bearer JWT (SDK/workload identity tokens), verified against the issuing
// IdP's published JWKS.
type BearerClaims struct {
	Subject     string   `json:"sub"`
	TenantID    string   `json:"tenant_id"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

// BearerValidator verifies externally-issued bearer JWTs via OIDC discovery
// and JWKS verification.
type BearerValidator struct {
	verifier *oidc.IDTokenVerifier
}

// NewBearerValidator performs OIDC discovery against issuerURL and returns a
// validator that checks tokens' audience against clientID. This makes a
// network call to fetch the provider's public keys.
func NewBearerValidator(ctx context.Context, issuerURL, clientID string) (*BearerValidator, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("discovering OIDC provider %s: %w", issuerURL, err)
	}
	return &BearerValidator{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

// Validate verifies a raw (unprefixed) bearer token and extracts claims.
func (v *BearerValidator) Validate(ctx context.Context, rawToken string) (*BearerClaims, error) {
	if rawToken == "" {
		return nil, apierr.New(apierr.KindAuth, "empty bearer token")
	}

	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, apierr.New(apierr.KindAuth, "bearer token verification failed")
	}

	var claims BearerClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, apierr.New(apierr.KindAuth, "malformed bearer token claims")
	}
	if claims.Subject == "" {
		return nil, apierr.New(apierr.KindAuth, "bearer token missing sub claim")
	}
	return &claims, nil
}
