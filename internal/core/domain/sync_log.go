package domain

import "time"

// SyncLogStatus is the lifecycle of an on-demand sync log entry
type SyncLogStatus string

const (
	SyncLogRunning   SyncLogStatus = "running"
	SyncLogCompleted SyncLogStatus = "completed"
	SyncLogFailed    SyncLogStatus = "failed"
)

// SyncTypeFull marks a log entry covering every entity type.
// Single-entity entries use the entity name as their type.
const SyncTypeFull = "full"

// DefaultSyncLogRetention is how many entries are kept per tenant
const DefaultSyncLogRetention = 50

// SyncLog is a bounded, human-facing record of an on-demand sync.
// It carries no coordination meaning.
type SyncLog struct {
	ID               string        `json:"id"`
	TenantID         string        `json:"tenant_id"`
	SyncType         string        `json:"sync_type"`
	Status           SyncLogStatus `json:"status"`
	RecordsProcessed int64         `json:"records_processed"`
	PendingEntities  int           `json:"pending_entities"`
	ErrorMessage     string        `json:"error_message,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
}

// NewSyncLog opens a log entry awaiting reports from pending runners
func NewSyncLog(tenantID, syncType string, pending int) *SyncLog {
	return &SyncLog{
		ID:              GenerateID(),
		TenantID:        tenantID,
		SyncType:        syncType,
		Status:          SyncLogRunning,
		PendingEntities: pending,
		StartedAt:       time.Now(),
	}
}
