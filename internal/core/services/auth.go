package services

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/custodia-labs/storesync/internal/core/domain"
	"github.com/custodia-labs/storesync/internal/core/ports/driven"
	"github.com/custodia-labs/storesync/internal/core/ports/driving"
)

// Ensure authService implements AuthService
var _ driving.AuthService = (*authService)(nil)

// AuthServiceConfig holds the single admin account and token settings.
type AuthServiceConfig struct {
	AuthAdapter       driven.AuthAdapter
	AdminUsername     string
	AdminPasswordHash string
	TokenTTL          time.Duration // default: 24h
}

// authService implements the AuthService interface
type authService struct {
	authAdapter  driven.AuthAdapter
	username     string
	passwordHash string
	tokenTTL     time.Duration
}

// NewAuthService creates a new AuthService
func NewAuthService(cfg AuthServiceConfig) driving.AuthService {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &authService{
		authAdapter:  cfg.AuthAdapter,
		username:     cfg.AdminUsername,
		passwordHash: cfg.AdminPasswordHash,
		tokenTTL:     ttl,
	}
}

// Authenticate validates the admin credentials and issues a token
func (s *authService) Authenticate(ctx context.Context, req domain.LoginRequest) (*domain.LoginResponse, error) {
	if req.Username == "" || req.Password == "" {
		return nil, domain.ErrInvalidInput
	}

	// No admin configured means token issuance is disabled
	if s.username == "" || s.passwordHash == "" {
		return nil, domain.ErrInvalidCredentials
	}

	if subtle.ConstantTimeCompare([]byte(req.Username), []byte(s.username)) != 1 {
		return nil, domain.ErrInvalidCredentials
	}
	if !s.authAdapter.VerifyPassword(req.Password, s.passwordHash) {
		return nil, domain.ErrInvalidCredentials
	}

	now := time.Now()
	expiresAt := now.Add(s.tokenTTL)
	claims := &domain.TokenClaims{
		Subject:   req.Username,
		Role:      domain.RoleAdmin,
		IssuedAt:  now.Unix(),
		ExpiresAt: expiresAt.Unix(),
	}

	token, err := s.authAdapter.GenerateToken(claims)
	if err != nil {
		return nil, err
	}

	return &domain.LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

// ValidateToken validates a JWT token and returns the auth context
func (s *authService) ValidateToken(ctx context.Context, token string) (*domain.AuthContext, error) {
	if token == "" {
		return nil, domain.ErrTokenInvalid
	}

	claims, err := s.authAdapter.ParseToken(token)
	if err != nil {
		if err == domain.ErrTokenExpired {
			return nil, err
		}
		return nil, domain.ErrTokenInvalid
	}

	if time.Now().Unix() > claims.ExpiresAt {
		return nil, domain.ErrTokenExpired
	}

	return &domain.AuthContext{
		Subject: claims.Subject,
		Role:    claims.Role,
	}, nil
}
