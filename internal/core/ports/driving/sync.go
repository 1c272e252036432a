package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/storesync/internal/core/domain"
	"github.com/custodia-labs/storesync/internal/core/ports/driven"
)

// SyncService is the administrative surface over tenant syncs
type SyncService interface {
	// TriggerFullSync resets every entity of the tenant and enqueues an initial run for each
	TriggerFullSync(ctx context.Context, tenantID string) (*domain.SyncLog, error)

	// TriggerEntitySync enqueues an incremental run for one entity
	TriggerEntitySync(ctx context.Context, tenantID string, entity domain.EntityType) (*domain.Task, error)

	// GetStatus reports sync state, locks, errors and recent logs for the tenant
	GetStatus(ctx context.Context, tenantID string) (*SyncStatusReport, error)

	// ResetEntity clears the failure counter so automated syncs resume
	ResetEntity(ctx context.Context, tenantID string, entity domain.EntityType) error

	// ResetAll clears checkpoints and failures for every idle entity of the tenant
	ResetAll(ctx context.Context, tenantID string) (int, error)
}

// SyncStatusReport is the administrative view of a tenant's syncs
type SyncStatusReport struct {
	TenantID     string                 `json:"tenant_id"`
	LastSyncedAt *time.Time             `json:"last_synced_at,omitempty"`
	Entities     []*domain.EntityStatus `json:"entities"`
	RecentLogs   []*domain.SyncLog      `json:"recent_logs"`
	Queue        *driven.QueueStats     `json:"queue,omitempty"`
}

// Scheduler runs periodic sync triggers
type Scheduler interface {
	// Start begins the cron cadences
	Start(ctx context.Context) error

	// Stop stops the scheduler and waits for in-flight cycles
	Stop()

	// RunCycle evaluates every active tenant for one entity type
	RunCycle(ctx context.Context, entity domain.EntityType) (*domain.CycleResult, error)
}

// TenantService manages tenant registration
type TenantService interface {
	Create(ctx context.Context, req domain.CreateTenantRequest) (*domain.Tenant, error)
	Get(ctx context.Context, id string) (*domain.Tenant, error)
	List(ctx context.Context) ([]*domain.Tenant, error)
	SetActive(ctx context.Context, id string, active bool) error
}
