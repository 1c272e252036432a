package driven

import (
	"context"

	"github.com/custodia-labs/storesync/internal/core/domain"
)

// TaskQueue carries sync jobs from triggers to workers with at-least-once delivery.
// Implementations use Redis Streams (preferred) or Postgres (fallback).
type TaskQueue interface {
	// Enqueue adds a task to the queue for processing.
	Enqueue(ctx context.Context, task *domain.Task) error

	// EnqueueBatch adds multiple tasks to the queue.
	EnqueueBatch(ctx context.Context, tasks []*domain.Task) error

	// DequeueWithTimeout retrieves the next available task, waiting up to timeout seconds.
	// Returns nil, nil if timeout is reached with no tasks available.
	DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error)

	// Ack acknowledges successful completion of a task.
	Ack(ctx context.Context, taskID string) error

	// Nack indicates task processing failed and should be retried.
	// If max attempts are exhausted the task is moved to failed state.
	Nack(ctx context.Context, taskID string, reason string) error

	// GetTask retrieves a task by ID.
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)

	// PurgeTasks removes completed/failed tasks older than olderThan seconds.
	PurgeTasks(ctx context.Context, olderThan int) (int, error)

	// Stats returns queue statistics.
	Stats(ctx context.Context) (*QueueStats, error)

	// Ping checks if the queue backend is healthy.
	Ping(ctx context.Context) error

	// Close cleans up resources.
	Close() error
}

// QueueStats contains queue statistics
type QueueStats struct {
	PendingCount     int64 `json:"pending_count"`
	ProcessingCount  int64 `json:"processing_count"`
	CompletedCount   int64 `json:"completed_count"`
	FailedCount      int64 `json:"failed_count"`
	OldestPendingAge int64 `json:"oldest_pending_age"`
}
