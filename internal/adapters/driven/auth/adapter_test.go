package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/custodia-labs/storesync/internal/core/domain"
)

func TestNewAdapterWithCost(t *testing.T) {
	adapter := NewAdapterWithCost("test-secret", 4)
	if adapter.bcryptCost != 4 {
		t.Errorf("expected bcrypt cost 4, got %d", adapter.bcryptCost)
	}
	if string(adapter.jwtSecret) != "test-secret" {
		t.Error("expected jwt secret to be set")
	}
}

func TestHashAndVerifyPassword(t *testing.T) {
	adapter := NewAdapterWithCost("secret", 4) // Low cost for faster tests

	hash, err := adapter.HashPassword("correct horse")
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	if !strings.HasPrefix(hash, "$2") {
		t.Errorf("expected bcrypt hash, got %q", hash)
	}

	again, _ := adapter.HashPassword("correct horse")
	if hash == again {
		t.Error("expected different hashes for same password (salt)")
	}

	if !adapter.VerifyPassword("correct horse", hash) {
		t.Error("expected password verification to succeed")
	}
	if adapter.VerifyPassword("battery staple", hash) {
		t.Error("expected wrong password to fail")
	}
	if adapter.VerifyPassword("correct horse", "not-a-hash") {
		t.Error("expected malformed hash to fail")
	}
}

func validClaims() *domain.TokenClaims {
	now := time.Now()
	return &domain.TokenClaims{
		Subject:   "ops",
		Role:      domain.RoleAdmin,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(time.Hour).Unix(),
	}
}

func TestTokenRoundTrip(t *testing.T) {
	adapter := NewAdapter("secret")
	claims := validClaims()

	token, err := adapter.GenerateToken(claims)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	parsed, err := adapter.ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if parsed.Subject != "ops" || parsed.Role != domain.RoleAdmin {
		t.Errorf("unexpected claims: %+v", parsed)
	}
	if parsed.ExpiresAt != claims.ExpiresAt || parsed.IssuedAt != claims.IssuedAt {
		t.Errorf("timestamps changed: got %d/%d", parsed.IssuedAt, parsed.ExpiresAt)
	}
}

func TestParseToken_Expired(t *testing.T) {
	adapter := NewAdapter("secret")
	claims := validClaims()
	claims.IssuedAt = time.Now().Add(-2 * time.Hour).Unix()
	claims.ExpiresAt = time.Now().Add(-time.Hour).Unix()

	token, _ := adapter.GenerateToken(claims)
	if _, err := adapter.ParseToken(token); !errors.Is(err, domain.ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestParseToken_Invalid(t *testing.T) {
	adapter := NewAdapter("secret")
	good, _ := adapter.GenerateToken(validClaims())
	otherKey, _ := NewAdapter("other").GenerateToken(validClaims())

	noneAlg, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwtClaims{
		Role: domain.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	foreignIssuer, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		Role: domain.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("secret"))

	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		Role:             domain.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, Subject: "ops"},
	}).SignedString([]byte("secret"))

	tests := map[string]string{
		"garbage":        "not.a.token",
		"wrong key":      otherKey,
		"tampered":       good[:len(good)-2] + "xx",
		"none algorithm": noneAlg,
		"foreign issuer": foreignIssuer,
		"no expiry":      noExpiry,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := adapter.ParseToken(token); !errors.Is(err, domain.ErrTokenInvalid) {
				t.Errorf("expected ErrTokenInvalid, got %v", err)
			}
		})
	}
}

func TestParseToken_MissingRole(t *testing.T) {
	adapter := NewAdapter("secret")
	claims := validClaims()
	claims.Role = ""

	token, _ := adapter.GenerateToken(claims)
	if _, err := adapter.ParseToken(token); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid, got %v", err)
	}
}
