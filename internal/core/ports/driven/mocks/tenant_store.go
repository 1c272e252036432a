package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/storesync/internal/core/domain"
	"github.com/custodia-labs/storesync/internal/core/ports/driven"
)

var _ driven.TenantStore = (*MockTenantStore)(nil)

// MockTenantStore is a mock implementation of TenantStore for testing
type MockTenantStore struct {
	mu      sync.RWMutex
	tenants map[string]*domain.Tenant

	ListActiveFn func() ([]*domain.Tenant, error)
}

// NewMockTenantStore creates a new MockTenantStore
func NewMockTenantStore() *MockTenantStore {
	return &MockTenantStore{
		tenants: make(map[string]*domain.Tenant),
	}
}

func (m *MockTenantStore) Save(ctx context.Context, tenant *domain.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *tenant
	m.tenants[tenant.ID] = &c
	return nil
}

func (m *MockTenantStore) Get(ctx context.Context, id string) (*domain.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tenant, ok := m.tenants[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *tenant
	return &c, nil
}

func (m *MockTenantStore) List(ctx context.Context) ([]*domain.Tenant, error) {
	return m.list(false), nil
}

func (m *MockTenantStore) ListActive(ctx context.Context) ([]*domain.Tenant, error) {
	if m.ListActiveFn != nil {
		return m.ListActiveFn()
	}
	return m.list(true), nil
}

func (m *MockTenantStore) list(activeOnly bool) []*domain.Tenant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Tenant
	for _, tenant := range m.tenants {
		if activeOnly && !tenant.Active {
			continue
		}
		c := *tenant
		c.Credentials = nil
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (m *MockTenantStore) SetActive(ctx context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tenant, ok := m.tenants[id]
	if !ok {
		return domain.ErrNotFound
	}
	tenant.Active = active
	return nil
}

func (m *MockTenantStore) MarkSynced(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tenant, ok := m.tenants[id]
	if !ok {
		return domain.ErrNotFound
	}
	tenant.LastSyncedAt = &at
	return nil
}
