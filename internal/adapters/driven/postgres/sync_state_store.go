package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/custodia-labs/storesync/internal/core/domain"
	"github.com/custodia-labs/storesync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.SyncStateStore = (*SyncStateStore)(nil)

// SyncStateStore implements driven.SyncStateStore using PostgreSQL.
// Lock transitions are single conditional UPDATEs so the row itself is the mutex.
type SyncStateStore struct {
	db *sql.DB
}

// NewSyncStateStore creates a new SyncStateStore
func NewSyncStateStore(db *sql.DB) *SyncStateStore {
	return &SyncStateStore{db: db}
}

const syncStateColumns = `
	tenant_id, entity_type, status, is_locked, locked_at, lock_expires_at, lock_owner,
	last_cursor, last_synced_id, consecutive_failures, last_error,
	last_started_at, last_completed_at, last_failed_at,
	total_records_synced, last_run_records, created_at, updated_at`

func scanSyncState(row rowScanner) (*domain.SyncState, error) {
	var state domain.SyncState
	var lockedAt, expiresAt, startedAt, completedAt, failedAt sql.NullTime
	var owner, cursor, lastError sql.NullString
	var syncedID sql.NullInt64

	err := row.Scan(
		&state.TenantID,
		&state.EntityType,
		&state.Status,
		&state.IsLocked,
		&lockedAt,
		&expiresAt,
		&owner,
		&cursor,
		&syncedID,
		&state.ConsecutiveFailures,
		&lastError,
		&startedAt,
		&completedAt,
		&failedAt,
		&state.TotalRecordsSynced,
		&state.LastRunRecords,
		&state.CreatedAt,
		&state.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	state.LockedAt = timePtr(lockedAt)
	state.LockExpiresAt = timePtr(expiresAt)
	state.LockOwner = owner.String
	state.LastCursor = stringPtr(cursor)
	state.LastSyncedID = int64Ptr(syncedID)
	state.LastError = lastError.String
	state.LastStartedAt = timePtr(startedAt)
	state.LastCompletedAt = timePtr(completedAt)
	state.LastFailedAt = timePtr(failedAt)
	return &state, nil
}

// GetOrCreate inserts an idle row if missing and returns the current row
func (s *SyncStateStore) GetOrCreate(ctx context.Context, tenantID string, entity domain.EntityType) (*domain.SyncState, error) {
	insert := `
		INSERT INTO sync_states (tenant_id, entity_type, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, entity_type) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, insert, tenantID, string(entity), string(domain.SyncStatusIdle)); err != nil {
		return nil, fmt.Errorf("insert sync state: %w", err)
	}

	query := `SELECT ` + syncStateColumns + ` FROM sync_states WHERE tenant_id = $1 AND entity_type = $2`
	state, err := scanSyncState(s.db.QueryRowContext(ctx, query, tenantID, string(entity)))
	if err != nil {
		return nil, fmt.Errorf("get sync state: %w", err)
	}
	return state, nil
}

// ListAll ensures one row per entity type and returns them ordered by entity
func (s *SyncStateStore) ListAll(ctx context.Context, tenantID string) ([]*domain.SyncState, error) {
	entities := make([]string, 0, len(domain.AllEntityTypes()))
	for _, e := range domain.AllEntityTypes() {
		entities = append(entities, string(e))
	}

	insert := `
		INSERT INTO sync_states (tenant_id, entity_type, status)
		SELECT $1, e, $3 FROM unnest($2::text[]) AS e
		ON CONFLICT (tenant_id, entity_type) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, insert, tenantID, pq.Array(entities), string(domain.SyncStatusIdle)); err != nil {
		return nil, fmt.Errorf("seed sync states: %w", err)
	}

	query := `SELECT ` + syncStateColumns + ` FROM sync_states WHERE tenant_id = $1 ORDER BY entity_type`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list sync states: %w", err)
	}
	defer rows.Close()

	var states []*domain.SyncState
	for rows.Next() {
		state, err := scanSyncState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync state: %w", err)
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync states: %w", err)
	}
	return states, nil
}

// UpdateCursor persists the checkpoint. The high-water mark never moves backwards.
func (s *SyncStateStore) UpdateCursor(ctx context.Context, tenantID string, entity domain.EntityType, cursor *string, highWaterMark *int64) error {
	query := `
		UPDATE sync_states SET
			last_cursor = $3,
			last_synced_id = CASE
				WHEN $4::bigint IS NULL THEN last_synced_id
				ELSE GREATEST(COALESCE(last_synced_id, $4::bigint), $4::bigint)
			END,
			updated_at = NOW()
		WHERE tenant_id = $1 AND entity_type = $2
	`
	res, err := s.db.ExecContext(ctx, query, tenantID, string(entity), nullStringPtr(cursor), nullInt64Ptr(highWaterMark))
	if err != nil {
		return fmt.Errorf("update cursor: %w", err)
	}
	return expectRow(res, "update cursor")
}

// UpdateMetrics adds the run's records to the running total
func (s *SyncStateStore) UpdateMetrics(ctx context.Context, tenantID string, entity domain.EntityType, records int) error {
	query := `
		UPDATE sync_states SET
			total_records_synced = total_records_synced + $3,
			last_run_records = $3,
			updated_at = NOW()
		WHERE tenant_id = $1 AND entity_type = $2
	`
	res, err := s.db.ExecContext(ctx, query, tenantID, string(entity), records)
	if err != nil {
		return fmt.Errorf("update metrics: %w", err)
	}
	return expectRow(res, "update metrics")
}

// ResetFailures closes the circuit for one entity
func (s *SyncStateStore) ResetFailures(ctx context.Context, tenantID string, entity domain.EntityType) error {
	query := `
		UPDATE sync_states SET
			consecutive_failures = 0,
			last_error = NULL,
			status = CASE WHEN is_locked THEN status ELSE $3 END,
			updated_at = NOW()
		WHERE tenant_id = $1 AND entity_type = $2
	`
	res, err := s.db.ExecContext(ctx, query, tenantID, string(entity), string(domain.SyncStatusIdle))
	if err != nil {
		return fmt.Errorf("reset failures: %w", err)
	}
	return expectRow(res, "reset failures")
}

// ResetAll clears every row of the tenant that is not held by a live lock
func (s *SyncStateStore) ResetAll(ctx context.Context, tenantID string, now time.Time) (int, error) {
	query := `
		UPDATE sync_states SET
			status = $2,
			is_locked = FALSE,
			locked_at = NULL,
			lock_expires_at = NULL,
			lock_owner = NULL,
			last_cursor = NULL,
			last_synced_id = NULL,
			consecutive_failures = 0,
			last_error = NULL,
			updated_at = NOW()
		WHERE tenant_id = $1
		  AND (is_locked = FALSE OR lock_expires_at <= $3)
	`
	res, err := s.db.ExecContext(ctx, query, tenantID, string(domain.SyncStatusIdle), now)
	if err != nil {
		return 0, fmt.Errorf("reset sync states: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return int(n), nil
}

// TryLock takes an unlocked row
func (s *SyncStateStore) TryLock(ctx context.Context, tenantID string, entity domain.EntityType, owner string, now, expiresAt time.Time) (bool, error) {
	query := `
		UPDATE sync_states SET
			is_locked = TRUE,
			locked_at = $4,
			lock_expires_at = $5,
			lock_owner = $3,
			status = $6,
			last_started_at = $4,
			last_error = NULL,
			updated_at = NOW()
		WHERE tenant_id = $1 AND entity_type = $2 AND is_locked = FALSE
	`
	return s.lockTransition(ctx, "try lock", query, tenantID, string(entity), owner, now, expiresAt, string(domain.SyncStatusRunning))
}

// ForceLock takes over a row whose lock expired at or before now
func (s *SyncStateStore) ForceLock(ctx context.Context, tenantID string, entity domain.EntityType, owner string, now, expiresAt time.Time) (bool, error) {
	query := `
		UPDATE sync_states SET
			locked_at = $4,
			lock_expires_at = $5,
			lock_owner = $3,
			status = $6,
			last_started_at = $4,
			last_error = NULL,
			updated_at = NOW()
		WHERE tenant_id = $1 AND entity_type = $2
		  AND is_locked = TRUE AND lock_expires_at <= $4
	`
	return s.lockTransition(ctx, "force lock", query, tenantID, string(entity), owner, now, expiresAt, string(domain.SyncStatusRunning))
}

// ExtendLock pushes the expiry forward while owner still holds the row
func (s *SyncStateStore) ExtendLock(ctx context.Context, tenantID string, entity domain.EntityType, owner string, now, expiresAt time.Time) (bool, error) {
	query := `
		UPDATE sync_states SET
			lock_expires_at = $4,
			updated_at = NOW()
		WHERE tenant_id = $1 AND entity_type = $2
		  AND is_locked = TRUE AND lock_owner = $3
	`
	return s.lockTransition(ctx, "extend lock", query, tenantID, string(entity), owner, expiresAt)
}

// ReleaseCompleted unlocks the row after a successful run
func (s *SyncStateStore) ReleaseCompleted(ctx context.Context, tenantID string, entity domain.EntityType, owner string, now time.Time) error {
	query := `
		UPDATE sync_states SET
			is_locked = FALSE,
			locked_at = NULL,
			lock_expires_at = NULL,
			lock_owner = NULL,
			status = $3,
			consecutive_failures = 0,
			last_error = NULL,
			last_completed_at = $4,
			updated_at = NOW()
		WHERE tenant_id = $1 AND entity_type = $2
		  AND ($5::text = '' OR lock_owner = $5)
	`
	res, err := s.db.ExecContext(ctx, query, tenantID, string(entity), string(domain.SyncStatusCompleted), now, owner)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return expectOwnedRow(res, "release lock", owner)
}

// ReleaseFailed unlocks the row and counts the failure
func (s *SyncStateStore) ReleaseFailed(ctx context.Context, tenantID string, entity domain.EntityType, owner, errMsg string, now time.Time) error {
	query := `
		UPDATE sync_states SET
			is_locked = FALSE,
			locked_at = NULL,
			lock_expires_at = NULL,
			lock_owner = NULL,
			status = $3,
			consecutive_failures = consecutive_failures + 1,
			last_error = $4,
			last_failed_at = $5,
			updated_at = NOW()
		WHERE tenant_id = $1 AND entity_type = $2
		  AND ($6::text = '' OR lock_owner = $6)
	`
	res, err := s.db.ExecContext(ctx, query, tenantID, string(entity), string(domain.SyncStatusFailed), nullString(errMsg), now, owner)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return expectOwnedRow(res, "release lock", owner)
}

func (s *SyncStateStore) lockTransition(ctx context.Context, op, query string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: get rows affected: %w", op, err)
	}
	return n == 1, nil
}

// expectRow maps a zero-row update to domain.ErrNotFound
// expectOwnedRow maps a miss to domain.ErrLockNotHeld when the update was
// conditioned on an owner.
func expectOwnedRow(res sql.Result, op, owner string) error {
	err := expectRow(res, op)
	if owner != "" && errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, domain.ErrLockNotHeld)
	}
	return err
}

func expectRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: get rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return nil
}
