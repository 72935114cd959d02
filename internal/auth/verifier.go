// Package auth provides bearer token verification for the management API.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"meetinghooks/internal/config"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Verifier validates bearer tokens and extracts organization/role claims.
// Supports modes: dev (token is "org:role", no verification) and hmac (HS256 JWT).
type Verifier struct {
	Mode       string
	HMACSecret []byte
	OrgClaim   string
	RoleClaim  string
	Now        func() time.Time
}

type Principal struct {
	OrganizationID string
	Role           string // admin, member, viewer
}

// CanWrite reports whether the principal may change subscriptions.
func (p Principal) CanWrite() bool { return p.Role != "viewer" }

func NewVerifier(cfg config.AuthConfig) *Verifier {
	return &Verifier{
		Mode:       strings.ToLower(cfg.Mode),
		HMACSecret: []byte(cfg.HMACSecret),
		OrgClaim:   cfg.OrgClaim,
		RoleClaim:  cfg.RoleClaim,
		Now:        time.Now,
	}
}

func (v *Verifier) Verify(token string) (Principal, error) {
	if v.Mode == "dev" {
		// token format: org:role
		org, role, ok := strings.Cut(token, ":")
		if !ok || org == "" || role == "" {
			return Principal{}, errors.New("invalid dev token; expected org:role")
		}
		return Principal{OrganizationID: org, Role: strings.ToLower(role)}, nil
	}
	if v.Mode != "hmac" {
		return Principal{}, errors.New("unsupported auth mode")
	}
	segs := strings.Split(token, ".")
	if len(segs) != 3 {
		return Principal{}, ErrInvalidToken
	}
	headerJSON, err := b64urlDecode(segs[0])
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	payloadJSON, err := b64urlDecode(segs[1])
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	sig, err := b64urlDecode(segs[2])
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	var hdr struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerJSON, &hdr); err != nil || hdr.Alg != "HS256" {
		return Principal{}, errors.New("unsupported alg for hmac")
	}
	mac := hmac.New(sha256.New, v.HMACSecret)
	mac.Write([]byte(segs[0] + "." + segs[1]))
	if !hmac.Equal(mac.Sum(nil), sig) {
		return Principal{}, errors.New("bad signature")
	}
	var claims map[string]any
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return Principal{}, ErrInvalidToken
	}
	now := v.Now().Unix()
	if exp, ok := claims["exp"].(float64); ok && int64(exp) <= now {
		return Principal{}, ErrExpiredToken
	}
	if nbf, ok := claims["nbf"].(float64); ok && int64(nbf) > now {
		return Principal{}, ErrInvalidToken
	}
	org, _ := claims[v.OrgClaim].(string)
	role, _ := claims[v.RoleClaim].(string)
	if org == "" {
		return Principal{}, errors.New("missing organization claim")
	}
	if role == "" {
		role = "member"
	}
	return Principal{OrganizationID: org, Role: strings.ToLower(role)}, nil
}

// SignHS256 issues a compact HS256 JWT for claims. Used by tooling and tests.
func SignHS256(secret []byte, claims map[string]any) (string, error) {
	hdr, _ := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	input := base64.RawURLEncoding.EncodeToString(hdr) + "." + base64.RawURLEncoding.EncodeToString(payload)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(input))
	return input + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

func b64urlDecode(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }
