package driven

import (
	"context"

	"github.com/custodia-labs/storesync/internal/core/domain"
)

// PageSource fetches one page of an entity from the upstream commerce API.
type PageSource interface {
	// FetchPage returns the page described by req. A page with HasMore set
	// must carry a NextCursor.
	FetchPage(ctx context.Context, tenant *domain.Tenant, req domain.PageRequest) (*domain.Page, error)
}

// RecordUpserter writes one upstream record into the local store.
// Writes are idempotent on (tenant, external id).
type RecordUpserter interface {
	Upsert(ctx context.Context, tenantID string, record domain.Record) error
}

// SyncMetrics records sync observability signals.
type SyncMetrics interface {
	RunFinished(entity domain.EntityType, outcome string, records int, seconds float64)
	PageProcessed(entity domain.EntityType, records int)
	LockReclaimed(entity domain.EntityType)
	SchedulingDecision(entity domain.EntityType, decision domain.SchedulingDecision)
}
