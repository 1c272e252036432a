package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/custodia-labs/storesync/internal/core/domain"
	"github.com/custodia-labs/storesync/internal/core/ports/driven/mocks"
)

func newTestAuthService() (*mocks.MockAuthAdapter, *authService) {
	authAdapter := mocks.NewMockAuthAdapter()
	svc := NewAuthService(AuthServiceConfig{
		AuthAdapter:       authAdapter,
		AdminUsername:     "ops",
		AdminPasswordHash: "password123", // Mock hasher uses plain text comparison
	}).(*authService)
	return authAdapter, svc
}

func TestAuthService_Authenticate(t *testing.T) {
	_, svc := newTestAuthService()

	tests := []struct {
		name    string
		req     domain.LoginRequest
		wantErr error
	}{
		{
			name:    "valid credentials",
			req:     domain.LoginRequest{Username: "ops", Password: "password123"},
			wantErr: nil,
		},
		{
			name:    "empty username",
			req:     domain.LoginRequest{Username: "", Password: "password123"},
			wantErr: domain.ErrInvalidInput,
		},
		{
			name:    "empty password",
			req:     domain.LoginRequest{Username: "ops", Password: ""},
			wantErr: domain.ErrInvalidInput,
		},
		{
			name:    "wrong password",
			req:     domain.LoginRequest{Username: "ops", Password: "wrong"},
			wantErr: domain.ErrInvalidCredentials,
		},
		{
			name:    "unknown user",
			req:     domain.LoginRequest{Username: "root", Password: "password123"},
			wantErr: domain.ErrInvalidCredentials,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := svc.Authenticate(context.Background(), tt.req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected error %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.Token == "" {
				t.Error("expected non-empty token")
			}
			if resp.ExpiresAt.Before(time.Now()) {
				t.Error("expected expiry in the future")
			}
		})
	}
}

func TestAuthService_AuthenticateWithoutAdmin(t *testing.T) {
	svc := NewAuthService(AuthServiceConfig{AuthAdapter: mocks.NewMockAuthAdapter()})

	_, err := svc.Authenticate(context.Background(), domain.LoginRequest{Username: "ops", Password: "x"})
	if !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthService_ValidateToken(t *testing.T) {
	authAdapter, svc := newTestAuthService()
	ctx := context.Background()

	resp, err := svc.Authenticate(ctx, domain.LoginRequest{Username: "ops", Password: "password123"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	authCtx, err := svc.ValidateToken(ctx, resp.Token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if authCtx.Subject != "ops" {
		t.Errorf("expected subject ops, got %s", authCtx.Subject)
	}
	if !authCtx.IsAdmin() {
		t.Error("expected admin role")
	}

	if _, err := svc.ValidateToken(ctx, ""); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid for empty token, got %v", err)
	}
	if _, err := svc.ValidateToken(ctx, "not-base64!"); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid for garbage, got %v", err)
	}

	expired, _ := authAdapter.GenerateToken(&domain.TokenClaims{
		Subject:   "ops",
		Role:      domain.RoleAdmin,
		ExpiresAt: time.Now().Add(-time.Minute).Unix(),
	})
	if _, err := svc.ValidateToken(ctx, expired); !errors.Is(err, domain.ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}
