package domain

import (
	"fmt"
	"strings"
	"time"
)

// Tenant is a merchant whose store is mirrored locally.
type Tenant struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ShopDomain string `json:"shop_domain"`
	Active     bool   `json:"active"`

	// Credentials are decrypted on read and never serialized
	Credentials *TenantCredentials `json:"-"`

	// LastSyncedAt is bumped after every successful entity run
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TenantCredentials holds the secrets used against the upstream API.
// These are encrypted before storage and decrypted on retrieval.
type TenantCredentials struct {
	AccessToken string `json:"access_token"`
}

// CreateTenantRequest registers a new tenant
type CreateTenantRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ShopDomain  string `json:"shop_domain"`
	AccessToken string `json:"access_token"`
}

// Validate checks the request fields
func (r *CreateTenantRequest) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	if strings.ContainsAny(r.ID, " /") {
		return fmt.Errorf("%w: id must not contain spaces or slashes", ErrInvalidInput)
	}
	if strings.TrimSpace(r.ShopDomain) == "" {
		return fmt.Errorf("%w: shop_domain is required", ErrInvalidInput)
	}
	if strings.Contains(r.ShopDomain, "://") {
		return fmt.Errorf("%w: shop_domain must be a bare host", ErrInvalidInput)
	}
	if r.AccessToken == "" {
		return fmt.Errorf("%w: access_token is required", ErrInvalidInput)
	}
	return nil
}
