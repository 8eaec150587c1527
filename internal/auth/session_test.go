package auth

import (
	"strings"
	"testing"
	"time"
)

func TestSessionManager_IssueAndValidateRoundTrip(t *testing.T) {
	sm, err := NewSessionManager(strings.Repeat("s", 32), time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	token, err := sm.IssueToken(SessionClaims{
		Subject:     "user-1",
		TenantID:    "tenant-a",
		Role:        RoleDeveloper,
		Permissions: []string{"models:read"},
	})
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	claims, err := sm.ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected error validating token: %v", err)
	}
	if claims.Subject != "user-1" || claims.TenantID != "tenant-a" || claims.Role != RoleDeveloper {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestSessionManager_RejectsExpiredToken(t *testing.T) {
	sm, err := NewSessionManager(strings.Repeat("s", 32), -time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	token, err := sm.IssueToken(SessionClaims{Subject: "user-1"})
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	if _, err := sm.ValidateToken(token); err == nil {
		t.Fatal("expected expired token to fail validation")
	}
}

func TestSessionManager_RejectsTamperedToken(t *testing.T) {
	sm, err := NewSessionManager(strings.Repeat("s", 32), time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	token, err := sm.IssueToken(SessionClaims{Subject: "user-1"})
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	tampered := token[:len(token)-1] + "x"
	if _, err := sm.ValidateToken(tampered); err == nil {
		t.Fatal("expected tampered token to fail validation")
	}
}

func TestNewSessionManager_RejectsShortSecret(t *testing.T) {
	if _, err := NewSessionManager("short", time.Hour); err == nil {
		t.Fatal("expected error for secret shorter than 32 bytes")
	}
}
