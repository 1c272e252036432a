package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/storesync/internal/core/domain"
	"github.com/custodia-labs/storesync/internal/core/ports/driven"
)

// Ensure Queue implements TaskQueue
var _ driven.TaskQueue = (*Queue)(nil)

// DefaultPollInterval is how often an empty queue is re-checked while waiting
const DefaultPollInterval = 500 * time.Millisecond

// Queue implements TaskQueue on the tasks table with FOR UPDATE SKIP LOCKED.
// This is the fallback queue when Redis is not available.
type Queue struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewQueue creates a new PostgreSQL-backed task queue.
// Assumes the tasks table exists (see the postgres adapter's schema).
func NewQueue(db *sql.DB) *Queue {
	return &Queue{db: db, pollInterval: DefaultPollInterval}
}

// WithPollInterval overrides the empty-queue poll interval
func (q *Queue) WithPollInterval(d time.Duration) *Queue {
	if d > 0 {
		q.pollInterval = d
	}
	return q
}

const taskColumns = `id, type, tenant_id, payload, status, priority,
	attempts, max_attempts, error, created_at, updated_at,
	started_at, completed_at, scheduled_for`

const insertTask = `
	INSERT INTO tasks (
		id, type, tenant_id, payload, status, priority,
		attempts, max_attempts, error, created_at, updated_at, scheduled_for
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var task domain.Task
	var payload []byte
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&task.ID,
		&task.Type,
		&task.TenantID,
		&payload,
		&task.Status,
		&task.Priority,
		&task.Attempts,
		&task.MaxAttempts,
		&task.Error,
		&task.CreatedAt,
		&task.UpdatedAt,
		&startedAt,
		&completedAt,
		&task.ScheduledFor,
	)
	if err != nil {
		return nil, err
	}

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &task.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	return &task, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insert(ctx context.Context, db execer, task *domain.Task) error {
	payload, err := json.Marshal(task.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = db.ExecContext(ctx, insertTask,
		task.ID,
		string(task.Type),
		task.TenantID,
		payload,
		string(task.Status),
		task.Priority,
		task.Attempts,
		task.MaxAttempts,
		task.Error,
		task.CreatedAt,
		task.UpdatedAt,
		task.ScheduledFor,
	)
	return err
}

// Enqueue adds a task to the queue
func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) error {
	if err := insert(ctx, q.db, task); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// EnqueueBatch adds multiple tasks atomically
func (q *Queue) EnqueueBatch(ctx context.Context, tasks []*domain.Task) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, task := range tasks {
		if err := insert(ctx, tx, task); err != nil {
			return fmt.Errorf("insert task %s: %w", task.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// DequeueWithTimeout claims the next ready task, polling for up to timeout
// seconds. It returns nil, nil when nothing became ready in time.
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error) {
	deadline := time.Now().Add(time.Duration(timeout) * time.Second)
	for {
		task, err := q.claim(ctx)
		if err != nil || task != nil {
			return task, err
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, nil
		}
		if wait > q.pollInterval {
			wait = q.pollInterval
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// claim moves one ready task to processing in a single statement
func (q *Queue) claim(ctx context.Context) (*domain.Task, error) {
	query := `
		UPDATE tasks SET
			status = $1,
			started_at = NOW(),
			updated_at = NOW(),
			attempts = attempts + 1
		WHERE id = (
			SELECT id FROM tasks
			WHERE status = $2 AND scheduled_for <= NOW()
			ORDER BY priority DESC, scheduled_for ASC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + taskColumns

	task, err := scanTask(q.db.QueryRowContext(ctx, query,
		string(domain.TaskStatusProcessing),
		string(domain.TaskStatusPending),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return task, nil
}

// Ack marks a task as completed
func (q *Queue) Ack(ctx context.Context, taskID string) error {
	query := `
		UPDATE tasks
		SET status = $1, completed_at = NOW(), updated_at = NOW(), error = ''
		WHERE id = $2
	`
	res, err := q.db.ExecContext(ctx, query, string(domain.TaskStatusCompleted), taskID)
	if err != nil {
		return fmt.Errorf("ack task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Nack records the failure and reschedules the task with backoff, or marks
// it failed once its attempts are used up.
func (q *Queue) Nack(ctx context.Context, taskID string, reason string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}

	if task.CanRetry() {
		task.Retry(reason)
	} else {
		task.MarkFailed(reason)
	}

	query := `
		UPDATE tasks
		SET status = $2, error = $3, updated_at = $4, scheduled_for = $5
		WHERE id = $1
	`
	_, err = q.db.ExecContext(ctx, query,
		taskID,
		string(task.Status),
		task.Error,
		task.UpdatedAt,
		task.ScheduledFor,
	)
	if err != nil {
		return fmt.Errorf("nack task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID
func (q *Queue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	task, err := scanTask(q.db.QueryRowContext(ctx, query, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return task, nil
}

// PurgeTasks removes completed and failed tasks older than the given age
func (q *Queue) PurgeTasks(ctx context.Context, olderThanSeconds int) (int, error) {
	cutoff := time.Now().Add(-time.Duration(olderThanSeconds) * time.Second)

	query := `
		DELETE FROM tasks
		WHERE status IN ($1, $2)
		  AND updated_at < $3
	`
	res, err := q.db.ExecContext(ctx, query,
		string(domain.TaskStatusCompleted),
		string(domain.TaskStatusFailed),
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return int(n), nil
}

// Stats returns queue statistics
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := &driven.QueueStats{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}

		switch domain.TaskStatus(status) {
		case domain.TaskStatusPending:
			stats.PendingCount = count
		case domain.TaskStatusProcessing:
			stats.ProcessingCount = count
		case domain.TaskStatusCompleted:
			stats.CompletedCount = count
		case domain.TaskStatusFailed:
			stats.FailedCount = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}

	ageQuery := `
		SELECT EXTRACT(EPOCH FROM (NOW() - MIN(created_at)))::bigint
		FROM tasks
		WHERE status = $1
	`
	var age sql.NullInt64
	if err := q.db.QueryRowContext(ctx, ageQuery, string(domain.TaskStatusPending)).Scan(&age); err != nil {
		return nil, fmt.Errorf("query oldest age: %w", err)
	}
	stats.OldestPendingAge = age.Int64

	return stats, nil
}

// Ping checks database connectivity
func (q *Queue) Ping(ctx context.Context) error {
	return q.db.PingContext(ctx)
}

// Close is a no-op; the connection pool is owned by the caller
func (q *Queue) Close() error {
	return nil
}
