package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"meetinghooks/internal/config"
)

func TestVerifyDevTokens(t *testing.T) {
	v := NewVerifier(config.AuthConfig{Mode: "dev", OrgClaim: "org", RoleClaim: "role"})
	p, err := v.Verify("org_acme:Admin")
	if err != nil {
		t.Fatal(err)
	}
	if p.OrganizationID != "org_acme" || p.Role != "admin" || !p.CanWrite() {
		t.Fatalf("unexpected principal %+v", p)
	}
	for _, bad := range []string{"", "org_acme", ":admin", "org:"} {
		if _, err := v.Verify(bad); err == nil {
			t.Errorf("token %q accepted", bad)
		}
	}
}

func TestVerifyHMACTokens(t *testing.T) {
	secret := []byte("s3cret")
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	v := NewVerifier(config.AuthConfig{Mode: "hmac", HMACSecret: string(secret), OrgClaim: "org", RoleClaim: "role"})
	v.Now = func() time.Time { return now }

	tok, _ := SignHS256(secret, map[string]any{"org": "org_acme", "role": "viewer", "exp": now.Add(time.Hour).Unix()})
	p, err := v.Verify(tok)
	if err != nil {
		t.Fatal(err)
	}
	if p.OrganizationID != "org_acme" || p.CanWrite() {
		t.Fatalf("unexpected principal %+v", p)
	}

	noRole, _ := SignHS256(secret, map[string]any{"org": "org_acme"})
	if p, err := v.Verify(noRole); err != nil || p.Role != "member" {
		t.Fatalf("default role: %+v %v", p, err)
	}

	expired, _ := SignHS256(secret, map[string]any{"org": "org_acme", "exp": now.Add(-time.Second).Unix()})
	if _, err := v.Verify(expired); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expired: %v", err)
	}
	early, _ := SignHS256(secret, map[string]any{"org": "org_acme", "nbf": now.Add(time.Minute).Unix()})
	if _, err := v.Verify(early); err == nil {
		t.Fatal("token used before nbf")
	}
	forged, _ := SignHS256([]byte("other"), map[string]any{"org": "org_acme"})
	if _, err := v.Verify(forged); err == nil {
		t.Fatal("forged token accepted")
	}
	noOrg, _ := SignHS256(secret, map[string]any{"role": "admin"})
	if _, err := v.Verify(noOrg); err == nil {
		t.Fatal("token without organization accepted")
	}
	if _, err := v.Verify("a.b"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("malformed: %v", err)
	}
	if _, err := v.Verify("org_acme:admin"); err == nil {
		t.Fatal("dev token accepted in hmac mode")
	}
	parts := strings.Split(tok, ".")
	if _, err := v.Verify(parts[0] + "." + parts[1] + ".!!"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("bad signature encoding: %v", err)
	}
}
