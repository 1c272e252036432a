package domain

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// GenerateID creates a unique random ID.
func GenerateID() string {
	return uuid.NewString()
}

// TaskType identifies the type of background task
type TaskType string

const (
	// TaskTypeSyncEntity runs one entity sync for one tenant
	TaskTypeSyncEntity TaskType = "sync_entity"
)

// TaskStatus represents the current state of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Payload keys for sync_entity tasks
const (
	PayloadEntityType = "entity_type"
	PayloadInitial    = "initial"
	PayloadSyncLogID  = "sync_log_id"
)

// DefaultMaxAttempts is how many times the queue delivers a task before giving up
const DefaultMaxAttempts = 3

// Task is the job descriptor carried by the queue
type Task struct {
	// ID is the unique identifier for this task
	ID string `json:"id"`

	// Type identifies what kind of task this is
	Type TaskType `json:"type"`

	// TenantID is the tenant this task belongs to
	TenantID string `json:"tenant_id"`

	// Payload contains task-specific data
	// For sync_entity: {"entity_type": "orders", "initial": "false", "sync_log_id": "..."}
	Payload map[string]string `json:"payload"`

	// Status is the current state of the task
	Status TaskStatus `json:"status"`

	// Priority determines processing order (higher = more urgent)
	Priority int `json:"priority"`

	// Attempts is how many times this task has been attempted
	Attempts int `json:"attempts"`

	// MaxAttempts is the maximum retry count before giving up
	MaxAttempts int `json:"max_attempts"`

	// Error contains the last error message if failed
	Error string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ScheduledFor is when the task should be processed (for delayed tasks)
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewTask creates a new task with default values
func NewTask(taskType TaskType, tenantID string, payload map[string]string) *Task {
	now := time.Now()
	return &Task{
		ID:           GenerateID(),
		Type:         taskType,
		TenantID:     tenantID,
		Payload:      payload,
		Status:       TaskStatusPending,
		MaxAttempts:  DefaultMaxAttempts,
		CreatedAt:    now,
		UpdatedAt:    now,
		ScheduledFor: now,
	}
}

// NewSyncEntityTask creates the job descriptor for one (tenant, entity) run.
// syncLogID may be empty for scheduler-originated jobs.
func NewSyncEntityTask(tenantID string, entity EntityType, initial bool, syncLogID string) *Task {
	payload := map[string]string{
		PayloadEntityType: string(entity),
		PayloadInitial:    strconv.FormatBool(initial),
	}
	if syncLogID != "" {
		payload[PayloadSyncLogID] = syncLogID
	}
	task := NewTask(TaskTypeSyncEntity, tenantID, payload)
	if initial {
		// Full resyncs jump ahead of periodic work
		task.Priority = 10
	}
	return task
}

// EntityType extracts the entity from the payload
func (t *Task) EntityType() (EntityType, error) {
	if t.Payload == nil {
		return "", ErrInvalidInput
	}
	return ParseEntityType(t.Payload[PayloadEntityType])
}

// IsInitial reports whether the job ignores any stored checkpoint
func (t *Task) IsInitial() bool {
	if t.Payload == nil {
		return false
	}
	initial, _ := strconv.ParseBool(t.Payload[PayloadInitial])
	return initial
}

// SyncLogID returns the sync log entry to report into, if any
func (t *Task) SyncLogID() string {
	if t.Payload == nil {
		return ""
	}
	return t.Payload[PayloadSyncLogID]
}

// CanRetry returns true if the task can be retried
func (t *Task) CanRetry() bool {
	return t.Attempts < t.MaxAttempts
}

// IsReady returns true if the task is ready to be processed
func (t *Task) IsReady() bool {
	return t.Status == TaskStatusPending && !time.Now().Before(t.ScheduledFor)
}

// MarkProcessing updates the task to processing state
func (t *Task) MarkProcessing() {
	now := time.Now()
	t.Status = TaskStatusProcessing
	t.StartedAt = &now
	t.UpdatedAt = now
	t.Attempts++
}

// MarkCompleted updates the task to completed state
func (t *Task) MarkCompleted() {
	now := time.Now()
	t.Status = TaskStatusCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now
	t.Error = ""
}

// MarkFailed updates the task to failed state
func (t *Task) MarkFailed(err string) {
	t.Status = TaskStatusFailed
	t.UpdatedAt = time.Now()
	t.Error = err
}

// RetryDelay is the backoff before the next attempt: 1s, 2s, 4s ... capped at 5m
func (t *Task) RetryDelay() time.Duration {
	if t.Attempts >= 9 {
		return 5 * time.Minute
	}
	backoff := time.Duration(1<<t.Attempts) * time.Second
	if backoff > 5*time.Minute {
		backoff = 5 * time.Minute
	}
	return backoff
}

// Retry resets the task for retry with exponential backoff
func (t *Task) Retry(err string) {
	now := time.Now()
	t.Status = TaskStatusPending
	t.UpdatedAt = now
	t.Error = err
	t.ScheduledFor = now.Add(t.RetryDelay())
}
