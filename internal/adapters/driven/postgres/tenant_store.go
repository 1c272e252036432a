package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/storesync/internal/core/domain"
	"github.com/custodia-labs/storesync/internal/core/ports/driven"
)

// Ensure TenantStore implements the interface.
var _ driven.TenantStore = (*TenantStore)(nil)

// TenantStore implements driven.TenantStore using PostgreSQL.
// Credentials are sealed before they reach the database.
type TenantStore struct {
	db     *sql.DB
	sealer *CredentialSealer
}

// NewTenantStore creates a new PostgreSQL-backed tenant store.
func NewTenantStore(db *sql.DB, sealer *CredentialSealer) *TenantStore {
	return &TenantStore{
		db:     db,
		sealer: sealer,
	}
}

// Save creates or updates a tenant. Nil credentials keep the stored blob.
func (s *TenantStore) Save(ctx context.Context, tenant *domain.Tenant) error {
	var blob []byte
	if tenant.Credentials != nil {
		var err error
		blob, err = s.sealer.Seal(tenant.ID, tenant.Credentials)
		if err != nil {
			return fmt.Errorf("seal credentials: %w", err)
		}
	}

	now := time.Now()
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = now
	}
	tenant.UpdatedAt = now

	query := `
		INSERT INTO tenants (id, name, shop_domain, active, secret_blob, last_synced_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			shop_domain = EXCLUDED.shop_domain,
			active = EXCLUDED.active,
			secret_blob = COALESCE(EXCLUDED.secret_blob, tenants.secret_blob),
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		tenant.ID,
		tenant.Name,
		tenant.ShopDomain,
		tenant.Active,
		blob,
		tenant.LastSyncedAt,
		tenant.CreatedAt,
		tenant.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save tenant: %w", err)
	}
	return nil
}

// Get retrieves a tenant by ID with opened credentials.
func (s *TenantStore) Get(ctx context.Context, id string) (*domain.Tenant, error) {
	query := `
		SELECT id, name, shop_domain, active, secret_blob, last_synced_at, created_at, updated_at
		FROM tenants
		WHERE id = $1
	`

	var tenant domain.Tenant
	var blob []byte
	var lastSyncedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&tenant.ID,
		&tenant.Name,
		&tenant.ShopDomain,
		&tenant.Active,
		&blob,
		&lastSyncedAt,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}

	if len(blob) > 0 {
		tenant.Credentials, err = s.sealer.Open(tenant.ID, blob)
		if err != nil {
			return nil, fmt.Errorf("open credentials: %w", err)
		}
	}
	tenant.LastSyncedAt = timePtr(lastSyncedAt)

	return &tenant, nil
}

// List retrieves all tenants without credentials.
func (s *TenantStore) List(ctx context.Context) ([]*domain.Tenant, error) {
	return s.list(ctx, `
		SELECT id, name, shop_domain, active, last_synced_at, created_at, updated_at
		FROM tenants
		ORDER BY id
	`)
}

// ListActive retrieves tenants eligible for scheduling.
func (s *TenantStore) ListActive(ctx context.Context) ([]*domain.Tenant, error) {
	return s.list(ctx, `
		SELECT id, name, shop_domain, active, last_synced_at, created_at, updated_at
		FROM tenants
		WHERE active
		ORDER BY id
	`)
}

func (s *TenantStore) list(ctx context.Context, query string) ([]*domain.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*domain.Tenant
	for rows.Next() {
		var tenant domain.Tenant
		var lastSyncedAt sql.NullTime
		if err := rows.Scan(
			&tenant.ID,
			&tenant.Name,
			&tenant.ShopDomain,
			&tenant.Active,
			&lastSyncedAt,
			&tenant.CreatedAt,
			&tenant.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenant.LastSyncedAt = timePtr(lastSyncedAt)
		tenants = append(tenants, &tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenants: %w", err)
	}
	return tenants, nil
}

// SetActive enables or disables a tenant.
func (s *TenantStore) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET active = $2, updated_at = NOW() WHERE id = $1`,
		id, active,
	)
	if err != nil {
		return fmt.Errorf("set tenant active: %w", err)
	}
	return expectRow(res, "set tenant active")
}

// MarkSynced records the tenant-level last successful sync.
func (s *TenantStore) MarkSynced(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET last_synced_at = $2, updated_at = NOW() WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("mark tenant synced: %w", err)
	}
	return expectRow(res, "mark tenant synced")
}
