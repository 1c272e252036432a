package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/storesync/internal/core/domain"
)

// SyncStateStore persists the per-(tenant, entity) coordination rows (PostgreSQL).
// Every method is a single atomic statement against one row, except ListAll and
// ResetAll which operate on all rows of a tenant.
type SyncStateStore interface {
	// GetOrCreate returns the row for the pair, inserting an idle row if missing.
	// Concurrent callers converge on the same row.
	GetOrCreate(ctx context.Context, tenantID string, entity domain.EntityType) (*domain.SyncState, error)

	// ListAll returns one row per known entity type for the tenant, creating missing ones.
	ListAll(ctx context.Context, tenantID string) ([]*domain.SyncState, error)

	// UpdateCursor persists the resume checkpoint. A nil cursor clears it.
	// highWaterMark only ever raises last_synced_id; nil leaves it untouched.
	UpdateCursor(ctx context.Context, tenantID string, entity domain.EntityType, cursor *string, highWaterMark *int64) error

	// UpdateMetrics adds records to the running total and sets the last-run count.
	UpdateMetrics(ctx context.Context, tenantID string, entity domain.EntityType, records int) error

	// ResetFailures clears the failure counter and last error.
	ResetFailures(ctx context.Context, tenantID string, entity domain.EntityType) error

	// ResetAll clears checkpoints, failures and stale locks for every row of the tenant.
	// Rows holding a live lock at now are left untouched. Returns rows reset.
	ResetAll(ctx context.Context, tenantID string, now time.Time) (int, error)

	// TryLock takes the lock only if the row is currently unlocked.
	TryLock(ctx context.Context, tenantID string, entity domain.EntityType, owner string, now, expiresAt time.Time) (bool, error)

	// ForceLock takes over a lock whose expiry is at or before now.
	ForceLock(ctx context.Context, tenantID string, entity domain.EntityType, owner string, now, expiresAt time.Time) (bool, error)

	// ExtendLock moves the expiry forward if owner still holds the lock.
	ExtendLock(ctx context.Context, tenantID string, entity domain.EntityType, owner string, now, expiresAt time.Time) (bool, error)

	// ReleaseCompleted unlocks the row and resets the failure counter.
	// A non-empty owner must still hold the lock, otherwise nothing changes
	// and domain.ErrLockNotHeld is returned. An empty owner releases unconditionally.
	ReleaseCompleted(ctx context.Context, tenantID string, entity domain.EntityType, owner string, now time.Time) error

	// ReleaseFailed unlocks the row, records errMsg and increments the failure counter.
	// owner follows the same rule as ReleaseCompleted.
	ReleaseFailed(ctx context.Context, tenantID string, entity domain.EntityType, owner, errMsg string, now time.Time) error
}

// SyncLogStore persists the bounded on-demand sync log.
type SyncLogStore interface {
	// Create inserts a log entry and prunes the tenant's log to keep entries.
	Create(ctx context.Context, log *domain.SyncLog, keep int) error

	// Get retrieves a log entry by ID.
	Get(ctx context.Context, id string) (*domain.SyncLog, error)

	// RecordEntityResult adds records, decrements pending and appends errMsg if set.
	// The entry is closed when pending reaches zero.
	RecordEntityResult(ctx context.Context, id string, records int, errMsg string) error

	// ListRecent returns the newest entries for a tenant.
	ListRecent(ctx context.Context, tenantID string, limit int) ([]*domain.SyncLog, error)
}

// TenantStore persists tenants with encrypted credentials.
type TenantStore interface {
	// Save creates or updates a tenant. Credentials are encrypted before storage.
	Save(ctx context.Context, tenant *domain.Tenant) error

	// Get retrieves a tenant with decrypted credentials.
	// Returns domain.ErrNotFound if the tenant doesn't exist.
	Get(ctx context.Context, id string) (*domain.Tenant, error)

	// List retrieves all tenants without credentials.
	List(ctx context.Context) ([]*domain.Tenant, error)

	// ListActive retrieves active tenants without credentials.
	ListActive(ctx context.Context) ([]*domain.Tenant, error)

	// SetActive enables or disables a tenant.
	SetActive(ctx context.Context, id string, active bool) error

	// MarkSynced sets the tenant's last successful sync marker.
	MarkSynced(ctx context.Context, id string, at time.Time) error
}
