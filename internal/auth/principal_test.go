package auth

import (
	"net"
	"testing"
	"time"
)

func TestPrincipal_Has_ExactMatch(t *testing.T) {
	p := &Principal{Permissions: []string{"models:read"}}
	if !p.Has("models:read") {
		t.Error("expected exact permission match")
	}
	if p.Has("models:write") {
		t.Error("expected no match for a different permission")
	}
}

func TestPrincipal_Has_SegmentWildcard(t *testing.T) {
	p := &Principal{Permissions: []string{"models:*"}}
	if !p.Has("models:read") || !p.Has("models:write") {
		t.Error("expected segment wildcard to match any models: permission")
	}
	if p.Has("routes:read") {
		t.Error("expected segment wildcard to not match a different segment")
	}
}

func TestPrincipal_Has_GlobalWildcard(t *testing.T) {
	p := &Principal{Permissions: []string{"*"}}
	if !p.Has("anything:at:all") {
		t.Error("expected global wildcard to match any permission")
	}
}

func TestPrincipal_AllowsIP_EmptyListPermitsAny(t *testing.T) {
	p := &Principal{}
	if !p.AllowsIP(net.ParseIP("203.0.113.5")) {
		t.Error("expected empty allow-list to permit any IP")
	}
}

func TestPrincipal_AllowsIP_CIDRMatch(t *testing.T) {
	p := &Principal{AllowedIPs: []string{"10.0.0.0/8"}}
	if !p.AllowsIP(net.ParseIP("10.1.2.3")) {
		t.Error("expected IP within CIDR to be allowed")
	}
	if p.AllowsIP(net.ParseIP("203.0.113.5")) {
		t.Error("expected IP outside CIDR to be denied")
	}
}

func TestPrincipal_AllowsIP_BareIPMatch(t *testing.T) {
	p := &Principal{AllowedIPs: []string{"203.0.113.5"}}
	if !p.AllowsIP(net.ParseIP("203.0.113.5")) {
		t.Error("expected exact IP match to be allowed")
	}
	if p.AllowsIP(net.ParseIP("203.0.113.6")) {
		t.Error("expected a different IP to be denied")
	}
}

func TestUsageTracker_RecordsLastUseAndCount(t *testing.T) {
	tr := NewUsageTracker()
	t1 := time.Now()
	tr.RecordUse("p1", t1)
	t2 := t1.Add(time.Second)
	tr.RecordUse("p1", t2)

	lastUsedAt, count := tr.Stats("p1")
	if count != 2 {
		t.Errorf("expected count=2, got %d", count)
	}
	if !lastUsedAt.Equal(t2) {
		t.Errorf("expected lastUsedAt=%v, got %v", t2, lastUsedAt)
	}
}

func TestUsageTracker_UnknownPrincipalReturnsZero(t *testing.T) {
	tr := NewUsageTracker()
	lastUsedAt, count := tr.Stats("unknown")
	if count != 0 || !lastUsedAt.IsZero() {
		t.Errorf("expected zero stats for unknown principal, got count=%d lastUsedAt=%v", count, lastUsedAt)
	}
}
