package auth

import (
	"context"
	"testing"
	"time"
)

type fakeKeyStore struct {
	records map[string]APIKeyRecord
}

func (f fakeKeyStore) Lookup(ctx context.Context, hash string) (APIKeyRecord, bool, error) {
	rec, ok := f.records[hash]
	return rec, ok, nil
}

func TestAPIKeyValidator_AuthenticatesKnownKey(t *testing.T) {
	raw := "cg_live_abcdefghijklmnop"
	store := fakeKeyStore{records: map[string]APIKeyRecord{
		HashAPIKey(raw): {
			Hash:        HashAPIKey(raw),
			Prefix:      "cg_live_",
			TenantID:    "tenant-a",
			PrincipalID: "key-1",
			Role:        RoleDeveloper,
			Permissions: []string{"models:read"},
		},
	}}
	v := NewAPIKeyValidator(store, NewUsageTracker(), "cg_")

	p, err := v.Authenticate(context.Background(), raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.TenantID != "tenant-a" || p.Role != RoleDeveloper {
		t.Errorf("unexpected principal: %+v", p)
	}
}

func TestAPIKeyValidator_RejectsUnknownKey(t *testing.T) {
	v := NewAPIKeyValidator(fakeKeyStore{records: map[string]APIKeyRecord{}}, NewUsageTracker(), "cg_")
	_, err := v.Authenticate(context.Background(), "cg_live_notregistered1")
	if err == nil {
		t.Fatal("expected error for unregistered key")
	}
}

func TestAPIKeyValidator_RejectsExpiredKey(t *testing.T) {
	raw := "cg_live_abcdefghijklmnop"
	store := fakeKeyStore{records: map[string]APIKeyRecord{
		HashAPIKey(raw): {
			Hash:      HashAPIKey(raw),
			ExpiresAt: time.Now().Add(-time.Hour),
		},
	}}
	v := NewAPIKeyValidator(store, NewUsageTracker(), "cg_")

	_, err := v.Authenticate(context.Background(), raw)
	if err == nil {
		t.Fatal("expected error for expired key")
	}
}

func TestAPIKeyValidator_RejectsMalformedShape(t *testing.T) {
	v := NewAPIKeyValidator(fakeKeyStore{records: map[string]APIKeyRecord{}}, NewUsageTracker(), "cg_")
	_, err := v.Authenticate(context.Background(), "wrong_prefix_key")
	if err == nil {
		t.Fatal("expected error for key with wrong prefix")
	}
}

func TestParseBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"Bearer abc123", "abc123"},
		{"bearer abc123", "abc123"},
		{"", ""},
		{"Basic abc123", ""},
		{"abc123", ""},
	}
	for _, tc := range cases {
		if got := ParseBearerToken(tc.header); got != tc.want {
			t.Errorf("ParseBearerToken(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}
