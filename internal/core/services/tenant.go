package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/storesync/internal/core/domain"
	"github.com/custodia-labs/storesync/internal/core/ports/driven"
	"github.com/custodia-labs/storesync/internal/core/ports/driving"
)

// Ensure tenantService implements TenantService
var _ driving.TenantService = (*tenantService)(nil)

// tenantService implements the TenantService interface.
type tenantService struct {
	tenants driven.TenantStore
	states  driven.SyncStateStore
}

// NewTenantService creates a new tenant service.
// Registration seeds one idle sync state row per entity type.
func NewTenantService(tenants driven.TenantStore, states driven.SyncStateStore) driving.TenantService {
	return &tenantService{
		tenants: tenants,
		states:  states,
	}
}

// Create registers a tenant with its upstream credentials.
func (s *tenantService) Create(ctx context.Context, req domain.CreateTenantRequest) (*domain.Tenant, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.tenants.Get(ctx, req.ID); err == nil {
		return nil, fmt.Errorf("%w: tenant %s", domain.ErrAlreadyExists, req.ID)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	now := time.Now()
	name := req.Name
	if name == "" {
		name = req.ID
	}
	tenant := &domain.Tenant{
		ID:          req.ID,
		Name:        name,
		ShopDomain:  strings.ToLower(strings.TrimSpace(req.ShopDomain)),
		Active:      true,
		Credentials: &domain.TenantCredentials{AccessToken: req.AccessToken},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.tenants.Save(ctx, tenant); err != nil {
		return nil, fmt.Errorf("save tenant: %w", err)
	}

	if _, err := s.states.ListAll(ctx, tenant.ID); err != nil {
		return nil, fmt.Errorf("seed sync state: %w", err)
	}

	return tenant, nil
}

// Get retrieves a tenant by ID.
func (s *tenantService) Get(ctx context.Context, id string) (*domain.Tenant, error) {
	return s.tenants.Get(ctx, id)
}

// List returns all tenants.
func (s *tenantService) List(ctx context.Context) ([]*domain.Tenant, error) {
	return s.tenants.List(ctx)
}

// SetActive enables or disables scheduling for a tenant.
func (s *tenantService) SetActive(ctx context.Context, id string, active bool) error {
	return s.tenants.SetActive(ctx, id, active)
}
