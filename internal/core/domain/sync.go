package domain

import (
	"fmt"
	"time"
)

// SyncStatus represents the current state of an entity sync
type SyncStatus string

const (
	SyncStatusIdle      SyncStatus = "idle"
	SyncStatusRunning   SyncStatus = "running"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
)

// EntityType identifies a dataset pulled from the upstream commerce API
type EntityType string

const (
	EntityCustomers EntityType = "customers"
	EntityProducts  EntityType = "products"
	EntityOrders    EntityType = "orders"
)

// AllEntityTypes returns every synced entity type in a stable order
func AllEntityTypes() []EntityType {
	return []EntityType{EntityCustomers, EntityProducts, EntityOrders}
}

// ParseEntityType validates a raw entity name
func ParseEntityType(s string) (EntityType, error) {
	for _, e := range AllEntityTypes() {
		if string(e) == s {
			return e, nil
		}
	}
	return "", fmt.Errorf("%w: unknown entity type %q", ErrInvalidInput, s)
}

// UsesHighWaterMark reports whether the entity resumes from the highest
// synced id when no cursor is stored. Orders are always walked by cursor.
func (e EntityType) UsesHighWaterMark() bool {
	return e == EntityCustomers || e == EntityProducts
}

// SyncState is the durable coordination row for one (tenant, entity) pair.
// It carries the lease, the resume checkpoint and the failure counter.
type SyncState struct {
	TenantID   string     `json:"tenant_id"`
	EntityType EntityType `json:"entity_type"`
	Status     SyncStatus `json:"status"`

	// Lease
	IsLocked      bool       `json:"is_locked"`
	LockedAt      *time.Time `json:"locked_at,omitempty"`
	LockExpiresAt *time.Time `json:"lock_expires_at,omitempty"`
	LockOwner     string     `json:"-"`

	// Checkpoint
	LastCursor   *string `json:"last_cursor,omitempty"`
	LastSyncedID *int64  `json:"last_synced_id,omitempty"`

	// Health
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty"`
	LastStartedAt       *time.Time `json:"last_started_at,omitempty"`
	LastCompletedAt     *time.Time `json:"last_completed_at,omitempty"`
	LastFailedAt        *time.Time `json:"last_failed_at,omitempty"`

	// Metrics
	TotalRecordsSynced int64 `json:"total_records_synced"`
	LastRunRecords     int   `json:"last_run_records"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSyncState returns the initial row for a pair that has never synced
func NewSyncState(tenantID string, entity EntityType) *SyncState {
	now := time.Now()
	return &SyncState{
		TenantID:   tenantID,
		EntityType: entity,
		Status:     SyncStatusIdle,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// LockExpired reports whether a held lock has outlived its TTL at now.
// An unlocked row is never expired.
func (s *SyncState) LockExpired(now time.Time) bool {
	if !s.IsLocked || s.LockExpiresAt == nil {
		return false
	}
	return !s.LockExpiresAt.After(now)
}

// CircuitOpen reports whether automated syncs are halted for this pair
func (s *SyncState) CircuitOpen(maxFailures int) bool {
	return s.ConsecutiveFailures >= maxFailures
}

// Lease is the handle returned to the runner that acquired a lock
type Lease struct {
	TenantID   string
	EntityType EntityType
	Owner      string
	ExpiresAt  time.Time
}

// PageRequest describes where the next upstream page starts
type PageRequest struct {
	// Cursor is an opaque upstream page token. Takes precedence over SinceID.
	Cursor string
	// SinceID returns only records with an id greater than this value
	SinceID int64
	Limit   int
}

// Record is one upstream item as returned by a page fetch
type Record struct {
	ExternalID int64  `json:"external_id"`
	Raw        []byte `json:"-"`
}

// Page is one upstream page
type Page struct {
	Records    []Record
	NextCursor string
	HasMore    bool
}

// MaxExternalID returns the highest record id in the page, or nil when empty
func (p *Page) MaxExternalID() *int64 {
	if len(p.Records) == 0 {
		return nil
	}
	max := p.Records[0].ExternalID
	for _, r := range p.Records[1:] {
		if r.ExternalID > max {
			max = r.ExternalID
		}
	}
	return &max
}

// Skip reasons reported by the runner
const (
	SkipReasonLockNotAcquired = "lock_not_acquired"
	SkipReasonTenantInactive  = "tenant_inactive"
)

// RunResult represents the outcome of a single runner invocation
type RunResult struct {
	TenantID   string     `json:"tenant_id"`
	EntityType EntityType `json:"entity_type"`
	Skipped    bool       `json:"skipped"`
	Reason     string     `json:"reason,omitempty"`
	Records    int        `json:"records"`
	Pages      int        `json:"pages"`
	Error      string     `json:"error,omitempty"`
	Duration   float64    `json:"duration_seconds"`
}

// SchedulingDecision is the outcome of evaluating one pair for an automated sync
type SchedulingDecision string

const (
	DecisionEnqueued           SchedulingDecision = "enqueued"
	DecisionSkippedRunning     SchedulingDecision = "skipped_running"
	DecisionSkippedCircuitOpen SchedulingDecision = "skipped_circuit_open"
)

// CycleResult summarises one scheduler pass over all active tenants
type CycleResult struct {
	EntityType EntityType                    `json:"entity_type"`
	Decisions  map[string]SchedulingDecision `json:"decisions"`
	Errors     map[string]string             `json:"errors,omitempty"`
}

// EntityStatus is a SyncState enriched with derived health flags
type EntityStatus struct {
	*SyncState
	LockStale   bool `json:"lock_stale"`
	BreakerOpen bool `json:"circuit_open"`
}
